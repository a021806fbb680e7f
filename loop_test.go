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

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resolveLoopbackAnyPort() (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", "127.0.0.1:0")
}

func TestRunReturnsOnceTimerFires(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	var fired bool
	require.NoError(t, l.StartTimeout(&op, 10*time.Millisecond, func(res *TimeoutResult) {
		fired = true
	}))

	require.NoError(t, l.Run())
	require.True(t, fired)
	require.Equal(t, StateFree, op.State())
}

// TestStopSubmittingOperationNeverDelivers covers the Stop-before-activation
// path: an op cancelled while still Submitting must never reach the kernel
// or invoke its callback.
func TestStopSubmittingOperationNeverDelivers(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	called := false
	require.NoError(t, l.StartTimeout(&op, time.Hour, func(res *TimeoutResult) {
		called = true
	}))
	require.Equal(t, StateSubmitting, op.State())

	require.NoError(t, l.Stop(&op))
	require.Equal(t, StateFree, op.State())
	require.False(t, called)
}

// TestStopActiveTimeoutNeverInvokesCallback exercises review comment A: a
// clean cancellation of an Active operation frees it without ever calling
// its callback, not even with a KindCancelled result.
func TestStopActiveTimeoutNeverInvokesCallback(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	called := false
	require.NoError(t, l.StartTimeout(&op, time.Hour, func(res *TimeoutResult) {
		called = true
	}))

	require.NoError(t, l.StepNoWait())
	require.Equal(t, StateActive, op.State())

	require.NoError(t, l.Stop(&op))
	require.Equal(t, StateFree, op.State())
	require.False(t, called)
}

func TestStopOnFreeOperationReturnsNotActive(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	err = l.Stop(&op)
	require.ErrorIs(t, err, ErrNotActive)
}

func TestStopOnOperationOwnedByAnotherLoopReturnsWrongLoop(t *testing.T) {
	l1, err := Create()
	require.NoError(t, err)
	defer l1.Close()
	l2, err := Create()
	require.NoError(t, err)
	defer l2.Close()

	var op Operation
	require.NoError(t, l1.StartTimeout(&op, time.Hour, func(*TimeoutResult) {}))

	err = l2.Stop(&op)
	require.ErrorIs(t, err, ErrWrongLoop)

	require.NoError(t, l1.Stop(&op))
}

func TestStopTwiceReturnsAlreadyCancelling(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	addr, resolveErr := resolveLoopbackAnyPort()
	require.NoError(t, resolveErr)
	handle, _, err := l.CreateAsyncTCPListener(AddressFamilyIPv4, addr, 16)
	require.NoError(t, err)
	defer closeHandle(handle)

	var op Operation
	// No connection will ever arrive, so the accept stays Active until Stop.
	require.NoError(t, l.StartSocketAccept(&op, handle, AddressFamilyIPv4, func(*SocketAcceptResult) {}))
	require.NoError(t, l.StepNoWait())
	require.Equal(t, StateActive, op.State())

	require.NoError(t, l.Stop(&op))
	err = l.Stop(&op)
	require.ErrorIs(t, err, ErrAlreadyCancelling)

	// Resolve the cancellation before Close so the loop doesn't leak the fd.
	require.NoError(t, l.StepNoWait())
}

func TestStartOnAlreadyOwnedOperationReturnsInUse(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	require.NoError(t, l.StartTimeout(&op, time.Hour, func(*TimeoutResult) {}))

	err = l.StartTimeout(&op, time.Hour, func(*TimeoutResult) {})
	require.ErrorIs(t, err, ErrInUse)

	require.NoError(t, l.Stop(&op))
}

// TestFileReadWriteRoundTrip drives StartFileWrite then StartFileRead
// against a real temp file end to end, exercising the blockpool path
// reactor backends (epoll/kqueue) use for file I/O.
func TestFileReadWriteRoundTrip(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	path := filepath.Join(t.TempDir(), "roundtrip.txt")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	require.NoError(t, err)
	defer f.Close()

	handle := Handle(f.Fd())
	payload := []byte("hello ioloop file io")

	var writeOp Operation
	var written int
	var writeErr error
	require.NoError(t, l.StartFileWrite(&writeOp, handle, payload, 0, func(res *FileWriteResult) {
		written = res.BytesWritten()
		writeErr = res.Err()
	}))
	require.NoError(t, l.Run())
	require.NoError(t, writeErr)
	require.Equal(t, len(payload), written)

	var readOp Operation
	buf := make([]byte, len(payload))
	var readN int
	var readErr error
	require.NoError(t, l.StartFileRead(&readOp, handle, buf, 0, func(res *FileReadResult) {
		readN = len(res.Bytes())
		readErr = res.Err()
	}))
	require.NoError(t, l.Run())
	require.NoError(t, readErr)
	require.Equal(t, payload, buf[:readN])
}

func TestHasActiveWorkReflectsExternalCount(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	require.False(t, l.hasActiveWork())
	l.IncreaseExternalCount()
	require.True(t, l.hasActiveWork())
	l.DecreaseExternalCount()
	require.False(t, l.hasActiveWork())
}
