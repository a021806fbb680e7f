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
	"sync/atomic"

	"github.com/cloudwego/ioloop/internal/klist"
)

// EventObject is an external synchronization primitive a producer thread
// can wait on to learn that a wake-up's callback has run on the loop
// thread (spec.md §4.4, cross-thread entry point 2).
type EventObject interface {
	Signal() error
}

type wakeupParams struct {
	started  atomic.Bool
	pending  atomic.Bool
	event    EventObject
	callback func(*WakeUpResult)
}

// WakeUpResult is delivered on the loop thread once per coalesced
// WakeFromExternalThread window.
type WakeUpResult struct {
	op         *Operation
	reactivate bool
}

func (r *WakeUpResult) IsValid() bool          { return true }
func (r *WakeUpResult) Reactivate(b bool)      { r.reactivate = b }
func (r *WakeUpResult) Operation() *Operation  { return r.op }

// StartWakeUp arms op to receive cross-thread wake-ups. event, if non-nil,
// is signalled after cb returns, so a producer thread can block until its
// wake-up has been observed by the loop.
func (l *Loop) StartWakeUp(op *Operation, event EventObject, cb func(*WakeUpResult)) error {
	if err := l.prepareStart(op, "StartWakeUp"); err != nil {
		return err
	}
	op.variant = VariantLoopWakeUp
	op.wakeup = wakeupParams{event: event, callback: cb}
	op.wakeup.started.Store(true)
	l.queueSubmission(op)
	return nil
}

// WakeFromExternalThread requests op's callback run on the loop thread.
// Safe to call from any goroutine, including concurrently with itself
// (spec.md §4.4): concurrent callers on the same op coalesce into a single
// callback invocation per step, and at most one of them pays for the
// platform-specific interrupt.
//
// Calling this on an op that was never successfully Started is a
// programmer error; it returns ErrNotActive rather than panicking (spec.md
// §9 open question 2, decided in DESIGN.md).
func (l *Loop) WakeFromExternalThread(op *Operation) error {
	if op.variant != VariantLoopWakeUp || !op.wakeup.started.Load() {
		return newError(KindNotActive, "WakeFromExternalThread", nil)
	}
	if !op.wakeup.pending.CompareAndSwap(false, true) {
		// Coalesced: someone else's interrupt will deliver this wake-up too.
		return nil
	}
	return l.adapter.Interrupt()
}

// wakeupCoordinator holds every Active LoopWakeUp operation belonging to a
// Loop and drains pending ones on the loop thread.
type wakeupCoordinator struct {
	active klist.List[Operation, *Operation]
}

func (w *wakeupCoordinator) add(op *Operation)    { w.active.PushBack(op) }
func (w *wakeupCoordinator) remove(op *Operation) { w.active.Remove(op) }
func (w *wakeupCoordinator) len() int             { return w.active.Len() }

// drain invokes fire for every Active wake-up whose pending flag is set,
// clearing pending and signalling its EventObject (if any) after fire
// returns, per spec.md §4.4 steps 1-3.
func (w *wakeupCoordinator) drain(fire func(op *Operation, result *WakeUpResult)) {
	w.active.Each(func(op *Operation) bool {
		if !op.wakeup.pending.Load() {
			return true
		}
		res := &WakeUpResult{op: op}
		fire(op, res)
		if op.wakeup.event != nil {
			_ = op.wakeup.event.Signal()
		}
		op.wakeup.pending.Store(false)
		return true
	})
}
