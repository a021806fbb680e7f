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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroValueOperationIsFreeAndUnowned(t *testing.T) {
	var op Operation
	require.Equal(t, StateFree, op.State())
	require.Nil(t, op.Owner())
	require.Equal(t, VariantLoopTimeout, op.Variant())
}

func TestOperationStringIncludesNameVariantAndState(t *testing.T) {
	var op Operation
	op.DebugName = "my-timer"
	op.variant = VariantLoopTimeout
	op.state = StateActive
	require.Equal(t, "my-timer/LoopTimeout/Active", op.String())
}

func TestOperationStringUsesPlaceholderForUnnamed(t *testing.T) {
	var op Operation
	op.variant = VariantSocketAccept
	op.state = StateSubmitting
	require.Equal(t, "<unnamed>/SocketAccept/Submitting", op.String())
}

func TestStateStringCoversEveryState(t *testing.T) {
	require.Equal(t, "Free", StateFree.String())
	require.Equal(t, "Submitting", StateSubmitting.String())
	require.Equal(t, "Active", StateActive.String())
	require.Equal(t, "Cancelling", StateCancelling.String())
}

func TestVariantStringCoversEveryVariant(t *testing.T) {
	variants := []Variant{
		VariantLoopTimeout, VariantLoopWakeUp, VariantProcessExit,
		VariantSocketAccept, VariantSocketConnect, VariantSocketSend,
		VariantSocketReceive, VariantSocketClose, VariantFileRead,
		VariantFileWrite, VariantFileClose, VariantNativePoll,
	}
	for _, v := range variants {
		require.NotEqual(t, "Unknown", v.String())
	}
	require.Equal(t, "Unknown", Variant(255).String())
}

func TestDeliverSocketSendInvokesCallbackWithResult(t *testing.T) {
	var op Operation
	op.variant = VariantSocketSend
	var gotErr error
	var called bool
	op.socketSend.callback = func(res *SocketSendResult) {
		called = true
		gotErr = res.Err()
	}

	op.deliver(0, 0, 0, KindUnknown, nil)

	require.True(t, called)
	require.NoError(t, gotErr)
}

func TestDeliverCarriesFailureKindAndCause(t *testing.T) {
	var op Operation
	op.variant = VariantSocketReceive
	op.socketReceive.buf = make([]byte, 16)

	var res *SocketReceiveResult
	op.socketReceive.callback = func(r *SocketReceiveResult) { res = r }

	cause := require.AnError
	op.deliver(0, 0, 0, KindConnectionReset, cause)

	require.Error(t, res.Err())
	var ioErr *Error
	require.ErrorAs(t, res.Err(), &ioErr)
	require.Equal(t, KindConnectionReset, ioErr.Kind)
	require.ErrorIs(t, ioErr.Err, cause)
}

func TestDeliverReadsReactivateFlagSetByCallback(t *testing.T) {
	var op Operation
	op.variant = VariantFileRead
	op.fileRead.buf = make([]byte, 4)
	op.fileRead.callback = func(r *FileReadResult) { r.Reactivate(true) }

	op.deliver(4, 0, 0, KindUnknown, nil)
	require.True(t, op.reactivate)
}
