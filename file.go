/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ioloop

// --- FileRead ---

type fileReadParams struct {
	file     Handle
	buf      []byte
	offset   int64
	callback func(*FileReadResult)
}

// FileReadResult carries the sub-span of buf actually filled. End of file
// is represented by a zero-length result, not an error (spec.md §4.2).
type FileReadResult struct {
	op         *Operation
	n          int
	buf        []byte
	err        *Error
	reactivate bool
}

func (r *FileReadResult) IsValid() bool { return r.err == nil }
func (r *FileReadResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
func (r *FileReadResult) Bytes() []byte         { return r.buf[:r.n] }
func (r *FileReadResult) EOF() bool             { return r.err == nil && r.n == 0 }
func (r *FileReadResult) Reactivate(b bool)     { r.reactivate = b }
func (r *FileReadResult) Operation() *Operation { return r.op }

// StartFileRead arms op to read into buf from file at offset, via
// positional I/O (pread/ReadFile+OVERLAPPED offset) so it never disturbs a
// shared file cursor (SPEC_FULL.md supplement 6).
func (l *Loop) StartFileRead(op *Operation, file Handle, buf []byte, offset int64, cb func(*FileReadResult)) error {
	if len(buf) == 0 {
		return newError(KindInvalidArgument, "StartFileRead", nil)
	}
	if err := l.prepareStart(op, "StartFileRead"); err != nil {
		return err
	}
	op.variant = VariantFileRead
	op.fileRead = fileReadParams{file: file, buf: buf, offset: offset, callback: cb}
	l.queueSubmission(op)
	return nil
}

// --- FileWrite ---

type fileWriteParams struct {
	file     Handle
	buf      []byte
	offset   int64
	callback func(*FileWriteResult)
}

// FileWriteResult carries the number of bytes actually written.
type FileWriteResult struct {
	op         *Operation
	n          int
	err        *Error
	reactivate bool
}

func (r *FileWriteResult) IsValid() bool { return r.err == nil }
func (r *FileWriteResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
func (r *FileWriteResult) BytesWritten() int    { return r.n }
func (r *FileWriteResult) Reactivate(b bool)     { r.reactivate = b }
func (r *FileWriteResult) Operation() *Operation { return r.op }

// StartFileWrite arms op to write buf to file at offset via positional I/O.
func (l *Loop) StartFileWrite(op *Operation, file Handle, buf []byte, offset int64, cb func(*FileWriteResult)) error {
	if len(buf) == 0 {
		return newError(KindInvalidArgument, "StartFileWrite", nil)
	}
	if err := l.prepareStart(op, "StartFileWrite"); err != nil {
		return err
	}
	op.variant = VariantFileWrite
	op.fileWrite = fileWriteParams{file: file, buf: buf, offset: offset, callback: cb}
	l.queueSubmission(op)
	return nil
}

// --- FileClose ---

type fileCloseParams struct {
	file     Handle
	callback func(*FileCloseResult)
}

// FileCloseResult has no payload and no error kinds (spec.md §4.2).
type FileCloseResult struct {
	op         *Operation
	reactivate bool
}

func (r *FileCloseResult) IsValid() bool            { return true }
func (r *FileCloseResult) Reactivate(b bool)        { r.reactivate = b }
func (r *FileCloseResult) Operation() *Operation    { return r.op }

func (l *Loop) StartFileClose(op *Operation, file Handle, cb func(*FileCloseResult)) error {
	if err := l.prepareStart(op, "StartFileClose"); err != nil {
		return err
	}
	op.variant = VariantFileClose
	op.fileClose = fileCloseParams{file: file, callback: cb}
	l.queueSubmission(op)
	return nil
}
