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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWakeupCoordinatorDrainOnlyFiresPending(t *testing.T) {
	var wc wakeupCoordinator

	a := &Operation{}
	b := &Operation{}
	wc.add(a)
	wc.add(b)
	a.wakeup.pending.Store(true)

	var fired []*Operation
	wc.drain(func(op *Operation, res *WakeUpResult) { fired = append(fired, op) })

	require.Equal(t, []*Operation{a}, fired)
	require.False(t, a.wakeup.pending.Load())
}

func TestWakeupCoordinatorDrainSignalsEventObject(t *testing.T) {
	var wc wakeupCoordinator
	op := &Operation{}
	wc.add(op)
	op.wakeup.pending.Store(true)

	sig := &countingEvent{}
	op.wakeup.event = sig

	wc.drain(func(op *Operation, res *WakeUpResult) {})
	require.Equal(t, 1, sig.count)
}

type countingEvent struct{ count int }

func (c *countingEvent) Signal() error { c.count++; return nil }

func TestWakeFromExternalThreadOnUnstartedOperationReturnsNotActive(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	err = l.WakeFromExternalThread(&op)
	require.ErrorIs(t, err, ErrNotActive)
}

// TestWakeUpCoalescing drives several concurrent WakeFromExternalThread
// callers against the same started op and confirms they coalesce into a
// single callback invocation per drained step (spec.md §4.4).
func TestWakeUpCoalescing(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	var op Operation
	var invocations int
	done := make(chan struct{})
	require.NoError(t, l.StartWakeUp(&op, nil, func(res *WakeUpResult) {
		invocations++
		close(done)
	}))

	// One uncoalesced StepNoWait to move the op Submitting -> Active.
	require.NoError(t, l.StepNoWait())

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, l.WakeFromExternalThread(&op))
		}()
	}
	wg.Wait()
	require.NoError(t, l.StepNoWait())

	select {
	case <-done:
	default:
		t.Fatal("wake-up callback never ran")
	}
	require.Equal(t, 1, invocations)
	require.NoError(t, l.Stop(&op))
}
