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
	"time"

	"github.com/cloudwego/ioloop/container/ring"
)

// PollMode selects how long KernelAdapter.Poll may block.
type PollMode uint8

const (
	// PollBlocking waits up to the given deadline (or indefinitely when no
	// deadline is given and there are active handles/timers).
	PollBlocking PollMode = iota
	// PollNoWait never blocks; it only drains events already queued by the
	// kernel.
	PollNoWait
)

// kernelEvent is one adapter-reported completion or readiness notification,
// already resolved to its owning Operation and a raw platform result.
type kernelEvent struct {
	op    *Operation
	valid bool
	// res carries the adapter's raw per-platform result (bytes transferred,
	// -errno, overlapped status, ...); KernelAdapter.Complete interprets it.
	res int64
}

// eventBatch is the "fixed-capacity staging area" of spec.md §3: a
// pre-allocated, reusable ring of kernelEvents plus a count of entries
// actually filled by the last Poll call. Backed directly by the teacher's
// container/ring generic fixed-capacity container (see DESIGN.md); the loop
// only ever walks it forward from index 0, but Get/Pointer give each adapter
// a stable *kernelEvent to fill in place, one malloc for the whole batch.
type eventBatch struct {
	items *ring.Ring[kernelEvent]
	n     int
}

func newEventBatch(capacity int) *eventBatch {
	return &eventBatch{items: ring.NewFromSlice(make([]kernelEvent, capacity))}
}

func (b *eventBatch) reset(n int) {
	if n > b.items.Len() {
		n = b.items.Len()
	}
	b.n = n
}

func (b *eventBatch) at(i int) *kernelEvent {
	item, _ := b.items.Get(i)
	return item.Pointer()
}

func (b *eventBatch) cap() int { return b.items.Len() }

// KernelAdapter is the platform back-end contract of spec.md §4.5. Exactly
// one adapter backs a Loop for its lifetime. Implementations translate the
// closed set of Variants into native kernel submissions (proactor: issue
// the I/O; reactor: register interest) and native events back into
// Operation completions.
type KernelAdapter interface {
	// Setup performs one-time per-operation preparation on the
	// Submitting -> Active transition (allocate scratch, populate address
	// structures). Called before every Activate, including the one a
	// reactivation requested from a completion callback triggers.
	Setup(op *Operation) error

	// Activate publishes op to the kernel so a completion can be delivered,
	// or executes it immediately and returns ErrManualCompletion to have
	// the loop drain it from the manual-completion queue instead (e.g.
	// SocketClose, which frequently completes synchronously).
	Activate(op *Operation) error

	// ValidateEvent confirms a raw event is meaningful for op, or reports
	// false to have the loop controller silently skip it (a spurious
	// readiness notification, a filtered kqueue/epoll wakeup, ...).
	ValidateEvent(op *Operation, raw int64) bool

	// Complete extracts the per-variant result payload from raw kernel
	// state and invokes op's user callback exactly once.
	//
	// wasCancelling reports whether op was in StateCancelling when this
	// event arrived. Per spec.md §4.1 step 5, a kernel event for a
	// cancelling operation is ordinarily nothing but the kernel's
	// acknowledgement that cancellation took effect before any real work
	// completed, and must not invoke the callback at all (the loop frees
	// the operation directly). The one exception is an operation that had
	// already completed concurrently with the cancel request landing
	// (spec.md §5) — Cancel could not have prevented that, so Complete
	// still delivers the real payload in that case, never a synthesized
	// cancellation result. Reactor adapters never generate a kernel event
	// purely to acknowledge a cancellation (Cancel only deregisters
	// interest), so for them any event seen while wasCancelling is always
	// the latter case.
	Complete(op *Operation, raw int64, wasCancelling bool)

	// Cancel removes op's kernel registration. It must be idempotent and
	// tolerate operations that were never Activated.
	Cancel(op *Operation)

	// Poll performs the kernel wait and fills batch with however many
	// events are ready. deadline is the absolute time to stop waiting by;
	// the zero Time means wait indefinitely. Must be interruptible by
	// Interrupt from any goroutine.
	Poll(mode PollMode, deadline time.Time, batch *eventBatch) error

	// Interrupt unblocks a concurrent Poll call from another goroutine.
	// Used by the wake-up coordinator (spec.md §4.4) to deliver the first
	// wake-up in a coalescing window.
	Interrupt() error

	// Associate binds handle to this adapter ahead of any operation on it
	// (required before I/O on proactor platforms, a validity probe on
	// reactor platforms; spec.md §9 open question, resolved in
	// SPEC_FULL.md supplement 1).
	Associate(handle Handle) error

	// Close releases all kernel state. The caller must have stopped or
	// completed every outstanding operation first.
	Close() error
}

// errManualCompletion is returned by Activate to mean "this operation has
// already produced its result; drain it from the manual-completion queue
// instead of waiting for a kernel event" (spec.md §4.5).
var errManualCompletion = newError(KindUnknown, "Activate", nil)

// ErrManualCompletion is the sentinel adapters return from Activate to
// request manual-completion draining (spec.md glossary "Manual completion").
func ErrManualCompletion() error { return errManualCompletion }

func isManualCompletion(err error) bool { return err == errManualCompletion }
