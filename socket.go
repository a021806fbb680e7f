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

import "net"

// --- SocketAccept ---

type socketAcceptParams struct {
	listener Handle
	family   AddressFamily
	callback func(*SocketAcceptResult)
}

// SocketAcceptResult carries the accepted client handle.
type SocketAcceptResult struct {
	op         *Operation
	client     Handle
	err        *Error
	reactivate bool
}

func (r *SocketAcceptResult) IsValid() bool { return r.err == nil }
func (r *SocketAcceptResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
func (r *SocketAcceptResult) Client() Handle          { return r.client }
func (r *SocketAcceptResult) Reactivate(b bool)       { r.reactivate = b }
func (r *SocketAcceptResult) Operation() *Operation   { return r.op }

// StartSocketAccept arms op to accept one connection on listener. On
// SocketAccept specifically, Reactivate(true) from inside cb is the normal
// way to keep accepting: the kernel adapter is permitted to reuse the same
// pre-allocated accept scratch buffer across reactivations (spec.md §9 open
// question 3, decided in DESIGN.md).
func (l *Loop) StartSocketAccept(op *Operation, listener Handle, family AddressFamily, cb func(*SocketAcceptResult)) error {
	if err := l.prepareStart(op, "StartSocketAccept"); err != nil {
		return err
	}
	op.variant = VariantSocketAccept
	op.socketAccept = socketAcceptParams{listener: listener, family: family, callback: cb}
	l.queueSubmission(op)
	return nil
}

// --- SocketConnect ---

type socketConnectParams struct {
	socket   Handle
	addr     net.Addr
	callback func(*SocketConnectResult)
}

// SocketConnectResult has no payload beyond success/failure.
type SocketConnectResult struct {
	op         *Operation
	err        *Error
	reactivate bool
}

func (r *SocketConnectResult) IsValid() bool { return r.err == nil }
func (r *SocketConnectResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
func (r *SocketConnectResult) Reactivate(b bool)     { r.reactivate = b }
func (r *SocketConnectResult) Operation() *Operation { return r.op }

// StartSocketConnect arms op to connect socket to a resolved addr. Address
// resolution is an external collaborator (spec.md §1); addr must already be
// resolved (a *net.TCPAddr, typically).
func (l *Loop) StartSocketConnect(op *Operation, socket Handle, addr net.Addr, cb func(*SocketConnectResult)) error {
	if addr == nil {
		return newError(KindInvalidArgument, "StartSocketConnect", nil)
	}
	if err := l.prepareStart(op, "StartSocketConnect"); err != nil {
		return err
	}
	op.variant = VariantSocketConnect
	op.socketConnect = socketConnectParams{socket: socket, addr: addr, callback: cb}
	l.queueSubmission(op)
	return nil
}

// --- SocketSend ---

type socketSendParams struct {
	socket   Handle
	buf      []byte
	sent     int
	callback func(*SocketSendResult)
}

// SocketSendResult has no payload beyond success/failure (spec.md §4.2).
type SocketSendResult struct {
	op         *Operation
	err        *Error
	reactivate bool
}

func (r *SocketSendResult) IsValid() bool { return r.err == nil }
func (r *SocketSendResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
func (r *SocketSendResult) Reactivate(b bool)     { r.reactivate = b }
func (r *SocketSendResult) Operation() *Operation { return r.op }

// StartSocketSend arms op to send all of buf on socket. buf must remain
// valid and unmodified until cb returns (spec.md §5 resource ownership).
func (l *Loop) StartSocketSend(op *Operation, socket Handle, buf []byte, cb func(*SocketSendResult)) error {
	if len(buf) == 0 {
		return newError(KindInvalidArgument, "StartSocketSend", nil)
	}
	if err := l.prepareStart(op, "StartSocketSend"); err != nil {
		return err
	}
	op.variant = VariantSocketSend
	op.socketSend = socketSendParams{socket: socket, buf: buf, callback: cb}
	l.queueSubmission(op)
	return nil
}

// --- SocketReceive ---

type socketReceiveParams struct {
	socket   Handle
	buf      []byte
	callback func(*SocketReceiveResult)
}

// SocketReceiveResult carries the sub-span of buf actually filled.
// A zero-length result means the peer closed the connection.
type SocketReceiveResult struct {
	op         *Operation
	n          int
	buf        []byte
	err        *Error
	reactivate bool
}

func (r *SocketReceiveResult) IsValid() bool { return r.err == nil }
func (r *SocketReceiveResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}
func (r *SocketReceiveResult) Bytes() []byte          { return r.buf[:r.n] }
func (r *SocketReceiveResult) PeerClosed() bool       { return r.err == nil && r.n == 0 }
func (r *SocketReceiveResult) Reactivate(b bool)      { r.reactivate = b }
func (r *SocketReceiveResult) Operation() *Operation  { return r.op }

// StartSocketReceive arms op to receive into buf from socket. buf must
// remain valid and must not be read/written by the caller until cb returns.
func (l *Loop) StartSocketReceive(op *Operation, socket Handle, buf []byte, cb func(*SocketReceiveResult)) error {
	if len(buf) == 0 {
		return newError(KindInvalidArgument, "StartSocketReceive", nil)
	}
	if err := l.prepareStart(op, "StartSocketReceive"); err != nil {
		return err
	}
	op.variant = VariantSocketReceive
	op.socketReceive = socketReceiveParams{socket: socket, buf: buf, callback: cb}
	l.queueSubmission(op)
	return nil
}

// --- SocketClose ---

type socketCloseParams struct {
	socket   Handle
	callback func(*SocketCloseResult)
}

// SocketCloseResult has no payload; SocketClose has no error kinds
// (spec.md §4.2).
type SocketCloseResult struct {
	op         *Operation
	reactivate bool
}

func (r *SocketCloseResult) IsValid() bool            { return true }
func (r *SocketCloseResult) Reactivate(b bool)        { r.reactivate = b }
func (r *SocketCloseResult) Operation() *Operation    { return r.op }

// StartSocketClose arms op to close socket. Most adapters complete this
// synchronously via the manual-completion queue (spec.md glossary).
func (l *Loop) StartSocketClose(op *Operation, socket Handle, cb func(*SocketCloseResult)) error {
	if err := l.prepareStart(op, "StartSocketClose"); err != nil {
		return err
	}
	op.variant = VariantSocketClose
	op.socketClose = socketCloseParams{socket: socket, callback: cb}
	l.queueSubmission(op)
	return nil
}
