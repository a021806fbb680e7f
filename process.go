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

import "os"

type processExitParams struct {
	proc     *os.Process
	callback func(*ProcessExitResult)
}

// ProcessExitResult is delivered once the watched process terminates.
type ProcessExitResult struct {
	op         *Operation
	exitCode   int
	err        *Error
	reactivate bool
}

func (r *ProcessExitResult) IsValid() bool { return r.err == nil }

func (r *ProcessExitResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// ExitCode is only meaningful when IsValid reports true.
func (r *ProcessExitResult) ExitCode() int { return r.exitCode }

func (r *ProcessExitResult) Reactivate(b bool)     { r.reactivate = b }
func (r *ProcessExitResult) Operation() *Operation { return r.op }

// StartProcessExit arms op to fire cb once proc terminates. proc must be a
// child of this process (ProcessNotChild otherwise, delivered through the
// result since waiting happens off the loop thread; see
// internal/blockpool).
func (l *Loop) StartProcessExit(op *Operation, proc *os.Process, cb func(*ProcessExitResult)) error {
	if proc == nil {
		return newError(KindInvalidArgument, "StartProcessExit", nil)
	}
	if err := l.prepareStart(op, "StartProcessExit"); err != nil {
		return err
	}
	op.variant = VariantProcessExit
	op.processExit = processExitParams{proc: proc, callback: cb}
	l.queueSubmission(op)
	return nil
}
