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

import "time"

type timeoutParams struct {
	delay    time.Duration
	expiryMS int64
	callback func(*TimeoutResult)
}

// TimeoutResult is delivered when an armed LoopTimeout fires.
type TimeoutResult struct {
	op         *Operation
	reactivate bool
}

// IsValid reports whether the timer fired normally. Timers have no error
// path (spec.md §4.2): it is always true.
func (r *TimeoutResult) IsValid() bool { return true }

// Reactivate requests the timer be re-armed for another `delay` from now
// instead of returning to StateFree. Equivalent to calling StartTimeout
// again with the same delay from inside the callback, but without visiting
// StateFree in between (spec.md §3 "Reactivation loops Active -> Active").
func (r *TimeoutResult) Reactivate(b bool) { r.reactivate = b }

// Operation returns the operation this result belongs to.
func (r *TimeoutResult) Operation() *Operation { return r.op }

// StartTimeout arms op to fire cb once after delay has elapsed, measured
// against the Loop's cached time sample. That sample is wall-clock time in
// milliseconds (time.Now().UnixMilli(), refreshed after each kernel wait),
// not a monotonic reading. op must be StateFree and unowned.
func (l *Loop) StartTimeout(op *Operation, delay time.Duration, cb func(*TimeoutResult)) error {
	if err := l.prepareStart(op, "StartTimeout"); err != nil {
		return err
	}
	op.variant = VariantLoopTimeout
	op.timeout = timeoutParams{delay: delay, callback: cb}
	l.queueSubmission(op)
	return nil
}
