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
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerSchedulerNextExpiryIsTheMinimum(t *testing.T) {
	var sched timerScheduler

	a := &Operation{timeout: timeoutParams{delay: 300 * time.Millisecond}}
	b := &Operation{timeout: timeoutParams{delay: 50 * time.Millisecond}}
	c := &Operation{timeout: timeoutParams{delay: 100 * time.Millisecond}}

	sched.arm(a, 1000)
	sched.arm(b, 1000)
	sched.arm(c, 1000)

	expiry, ok := sched.nextExpiry()
	require.True(t, ok)
	require.Equal(t, int64(1050), expiry)
	require.Equal(t, 3, sched.len())
}

func TestTimerSchedulerNextExpiryEmptyWhenNoneArmed(t *testing.T) {
	var sched timerScheduler
	_, ok := sched.nextExpiry()
	require.False(t, ok)
}

func TestTimerSchedulerDisarmRemovesOperation(t *testing.T) {
	var sched timerScheduler
	a := &Operation{timeout: timeoutParams{delay: 10 * time.Millisecond}}
	sched.arm(a, 0)
	require.Equal(t, 1, sched.len())

	sched.disarm(a)
	require.Equal(t, 0, sched.len())
	_, ok := sched.nextExpiry()
	require.False(t, ok)
}

// TestTimersFireInInsertionOrderWhenDue exercises spec.md's firing-order
// contract: timers due in the same step fire in the order they were armed,
// not sorted by expiry, when several become due together.
func TestTimersFireInInsertionOrderWhenDue(t *testing.T) {
	var sched timerScheduler

	first := &Operation{timeout: timeoutParams{delay: 10 * time.Millisecond}}
	second := &Operation{timeout: timeoutParams{delay: 5 * time.Millisecond}}
	third := &Operation{timeout: timeoutParams{delay: 1 * time.Millisecond}}

	sched.arm(first, 0)
	sched.arm(second, 0)
	sched.arm(third, 0)

	var fired []*Operation
	sched.fireDue(1000, func(op *Operation, res *TimeoutResult) {
		fired = append(fired, op)
	})

	require.Equal(t, []*Operation{first, second, third}, fired)
	require.Equal(t, 0, sched.len())
}

func TestFireDueOnlyFiresExpiredTimers(t *testing.T) {
	var sched timerScheduler

	due := &Operation{timeout: timeoutParams{delay: 10 * time.Millisecond}}
	notDue := &Operation{timeout: timeoutParams{delay: 10 * time.Second}}
	sched.arm(due, 0)
	sched.arm(notDue, 0)

	var fired []*Operation
	sched.fireDue(10, func(op *Operation, res *TimeoutResult) {
		fired = append(fired, op)
	})

	require.Equal(t, []*Operation{due}, fired)
	require.Equal(t, 1, sched.len())
	expiry, ok := sched.nextExpiry()
	require.True(t, ok)
	require.Equal(t, int64(10_000), expiry)
}
