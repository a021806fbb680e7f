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

//go:build !windows

// Shared between the reactor backends (epoll, kqueue): the outcome-of-a-
// completed-syscall holder they hand to Operation.deliver, the fd each
// variant's parameters carry, and the syscall-errno-to-Kind mapping of
// spec.md §7.
package ioloop

import "golang.org/x/sys/unix"

// pendingResult is the outcome of a syscall already performed, waiting to be
// handed to Operation.deliver from Complete.
type pendingResult struct {
	n        int
	handle   Handle
	exitCode int
	kind     Kind
	cause    error
}

func opFD(op *Operation) int {
	switch op.variant {
	case VariantSocketAccept:
		return int(op.socketAccept.listener)
	case VariantSocketConnect:
		return int(op.socketConnect.socket)
	case VariantSocketSend:
		return int(op.socketSend.socket)
	case VariantSocketReceive:
		return int(op.socketReceive.socket)
	case VariantNativePoll:
		return int(op.nativePoll.handle)
	default:
		return -1
	}
}

func classifyIOError(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case err == unix.ECONNRESET:
		return KindConnectionReset
	case err == unix.ECONNREFUSED:
		return KindConnectRefused
	case err == unix.EHOSTUNREACH, err == unix.ENETUNREACH:
		return KindHostUnreachable
	case err == unix.ENOSPC:
		return KindDiskFull
	default:
		return KindKernelSubmit
	}
}
