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

import "github.com/cloudwego/ioloop/internal/klist"

// Variant tags the kind of asynchronous work an Operation performs. The set
// is closed: adding one is a deliberate design change, not an extension
// point, so dispatch over Variant is a plain switch, never virtual dispatch.
type Variant uint8

const (
	VariantLoopTimeout Variant = iota
	VariantLoopWakeUp
	VariantProcessExit
	VariantSocketAccept
	VariantSocketConnect
	VariantSocketSend
	VariantSocketReceive
	VariantSocketClose
	VariantFileRead
	VariantFileWrite
	VariantFileClose
	VariantNativePoll
)

func (v Variant) String() string {
	switch v {
	case VariantLoopTimeout:
		return "LoopTimeout"
	case VariantLoopWakeUp:
		return "LoopWakeUp"
	case VariantProcessExit:
		return "ProcessExit"
	case VariantSocketAccept:
		return "SocketAccept"
	case VariantSocketConnect:
		return "SocketConnect"
	case VariantSocketSend:
		return "SocketSend"
	case VariantSocketReceive:
		return "SocketReceive"
	case VariantSocketClose:
		return "SocketClose"
	case VariantFileRead:
		return "FileRead"
	case VariantFileWrite:
		return "FileWrite"
	case VariantFileClose:
		return "FileClose"
	case VariantNativePoll:
		return "NativePoll"
	default:
		return "Unknown"
	}
}

// State is the four-state operation lifecycle of spec.md §3.
type State uint8

const (
	StateFree State = iota
	StateSubmitting
	StateActive
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateSubmitting:
		return "Submitting"
	case StateActive:
		return "Active"
	case StateCancelling:
		return "Cancelling"
	default:
		return "?"
	}
}

// Handle is an opaque OS-level descriptor: a socket, file, or process
// handle. Its interpretation is platform-specific and owned entirely by the
// kernel adapter; the loop core never dereferences it.
type Handle uintptr

// AddressFamily tags the address family a SocketAccept/CreateAsyncTCPSocket
// should use. Address parsing itself is an external collaborator (spec.md
// §1); the loop only needs to know which family to ask the kernel for.
type AddressFamily uint8

const (
	AddressFamilyIPv4 AddressFamily = iota
	AddressFamilyIPv6
)

// Operation is the central, user-owned entity of the loop: a request for
// one unit of asynchronous work, tagged by Variant, carrying exactly one
// variant's parameters/result, and linked into at most one of the loop's
// intrusive lists at a time (invariant 2/3, spec.md §3).
//
// An Operation's address must not change between a successful Start and its
// final callback invocation (invariant 4): callers own the backing memory
// and must not move or reuse it while active.
type Operation struct {
	klist.Link[Operation]

	variant Variant
	state   State
	owner   *Loop

	// DebugName is an optional short identifier surfaced in logs/metrics
	// and in this Operation's String(). Never interpreted by the loop.
	DebugName string

	timeout       timeoutParams
	wakeup        wakeupParams
	processExit   processExitParams
	socketAccept  socketAcceptParams
	socketConnect socketConnectParams
	socketSend    socketSendParams
	socketReceive socketReceiveParams
	socketClose   socketCloseParams
	fileRead      fileReadParams
	fileWrite     fileWriteParams
	fileClose     fileCloseParams
	nativePoll    nativePollParams

	// adapterData is opaque, platform-specific scratch a kernel adapter
	// attaches during setup and must release by the time the operation
	// returns to StateFree (an OVERLAPPED-equivalent block, a registered
	// wait handle, a pre-allocated accept buffer, ...).
	adapterData interface{}

	reactivate bool
	pendingErr *Error
}

// State returns the operation's current lifecycle state.
func (op *Operation) State() State { return op.state }

// Variant returns which kind of asynchronous work this operation performs.
// Meaningless (and VariantLoopTimeout by zero value) before the first Start.
func (op *Operation) Variant() Variant { return op.variant }

// Owner returns the Loop currently holding this operation, or nil when Free.
func (op *Operation) Owner() *Loop { return op.owner }

func (op *Operation) String() string {
	name := op.DebugName
	if name == "" {
		name = "<unnamed>"
	}
	return name + "/" + op.variant.String() + "/" + op.state.String()
}

// deliver is the one switch-over-Variant dispatch point that turns an
// adapter-filled outcome into the right Result type and invokes the user's
// callback, per the tagged-union design note of spec.md §3: one sum type
// matched exhaustively, never per-variant virtual dispatch. Kernel adapters
// call this from Complete; LoopTimeout and LoopWakeUp never reach it, since
// those fire directly through timerScheduler/wakeupCoordinator.
//
// n is bytes transferred (Socket/File Send/Receive/Read/Write), handle is
// the accepted client (SocketAccept), exitCode is the child's exit status
// (ProcessExit); kind/cause describe a failure, or KindUnknown on success.
func (op *Operation) deliver(n int, handle Handle, exitCode int, kind Kind, cause error) {
	var errv *Error
	if kind != KindUnknown {
		errv = newError(kind, op.variant.String(), cause)
	}
	op.reactivate = false

	switch op.variant {
	case VariantProcessExit:
		res := &ProcessExitResult{op: op, exitCode: exitCode, err: errv}
		if cb := op.processExit.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantSocketAccept:
		res := &SocketAcceptResult{op: op, client: handle, err: errv}
		if cb := op.socketAccept.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantSocketConnect:
		res := &SocketConnectResult{op: op, err: errv}
		if cb := op.socketConnect.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantSocketSend:
		res := &SocketSendResult{op: op, err: errv}
		if cb := op.socketSend.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantSocketReceive:
		res := &SocketReceiveResult{op: op, n: n, buf: op.socketReceive.buf, err: errv}
		if cb := op.socketReceive.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantSocketClose:
		res := &SocketCloseResult{op: op}
		if cb := op.socketClose.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantFileRead:
		res := &FileReadResult{op: op, n: n, buf: op.fileRead.buf, err: errv}
		if cb := op.fileRead.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantFileWrite:
		res := &FileWriteResult{op: op, n: n, err: errv}
		if cb := op.fileWrite.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantFileClose:
		res := &FileCloseResult{op: op}
		if cb := op.fileClose.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	case VariantNativePoll:
		res := &NativePollResult{op: op}
		if cb := op.nativePoll.callback; cb != nil {
			cb(res)
		}
		op.reactivate = res.reactivate
	default:
		panic("ioloop: deliver called for " + op.variant.String())
	}
}
