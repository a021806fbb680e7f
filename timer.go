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

// timerScheduler tracks armed LoopTimeout operations and fires the ones due
// by a given loop_time sample (spec.md §4.3).
//
// active_timers is an unordered intrusive list; finding the minimum expiry
// is a linear scan. This is the contract the spec requires ("the contract
// is only that next_expiry returns the minimum") and is cheap in practice
// because timer counts are small; a heap can replace it later without
// changing behavior.
type timerScheduler struct {
	active klist.List[Operation, *Operation]
}

func (t *timerScheduler) arm(op *Operation, nowMS int64) {
	op.timeout.expiryMS = nowMS + op.timeout.delay.Milliseconds()
	t.active.PushBack(op)
}

func (t *timerScheduler) disarm(op *Operation) {
	t.active.Remove(op)
}

func (t *timerScheduler) len() int { return t.active.Len() }

// nextExpiry returns the earliest armed expiry, if any timer is armed.
func (t *timerScheduler) nextExpiry() (int64, bool) {
	var (
		found bool
		min   int64
	)
	t.active.Each(func(op *Operation) bool {
		if !found || op.timeout.expiryMS < min {
			min = op.timeout.expiryMS
			found = true
		}
		return true
	})
	return min, found
}

// fireDue unlinks and fires every timer whose expiry has passed `nowMS`, in
// list (insertion) order, which is the stable firing order spec.md §4.3/§5
// require for timers expired within the same step.
func (t *timerScheduler) fireDue(nowMS int64, fire func(op *Operation, result *TimeoutResult)) {
	var due []*Operation
	t.active.Each(func(op *Operation) bool {
		if op.timeout.expiryMS <= nowMS {
			due = append(due, op)
		}
		return true
	})
	for _, op := range due {
		t.active.Remove(op)
		res := &TimeoutResult{op: op}
		fire(op, res)
	}
}
