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
	"sync/atomic"
	"time"

	"github.com/cloudwego/ioloop/internal/klist"
)

const defaultBatchCapacity = 128

// Loop is the single-threaded reactor/proactor controller of spec.md §2.
// All of its methods except WakeFromExternalThread,
// IncreaseExternalCount/DecreaseExternalCount, and the manual-completion
// hand-off used by internal/blockpool must be called from the loop's own
// goroutine (the one running Run/StepOnce/StepNoWait).
type Loop struct {
	adapter KernelAdapter
	batch   *eventBatch

	submissions klist.List[Operation, *Operation]
	timers      timerScheduler
	wakeups     wakeupCoordinator

	manual      []*Operation
	manualInbox chan *Operation
	cancelling  []*Operation

	outstanding   int
	externalCount atomic.Int64
	loopTimeMS    int64

	metrics        MetricsCollector
	onBackendError func(error)

	closed bool
}

// MetricsCollector receives step and operation telemetry when a Loop is
// created with WithMetrics. ioloop/metrics implements this on top of
// prometheus/client_golang; a Loop created without one pays zero cost
// (every call site is a nil check).
type MetricsCollector interface {
	ObserveStep(d time.Duration)
	SetActiveOperations(n int)
	IncCompletions(v Variant)
	IncErrors(v Variant, k Kind)
}

// Create builds a Loop backed by the platform's default kernel adapter
// (epoll on linux unless WithLinuxBackend picks io_uring, kqueue on
// darwin/bsd, IOCP on windows).
func Create(opts ...Option) (*Loop, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &Loop{
		batch:          newEventBatch(defaultBatchCapacity),
		manualInbox:    make(chan *Operation, 256),
		metrics:        o.metrics,
		onBackendError: o.onBackendErr,
		loopTimeMS:     time.Now().UnixMilli(),
	}
	adapter, err := newPlatformAdapter(o, l.enqueueManualFromBackground)
	if err != nil {
		return nil, newError(KindKernelInit, "Create", err)
	}
	l.adapter = adapter
	return l, nil
}

// OnBackendError installs the hook invoked when a background goroutine this
// Loop owns (a blockpool worker, an adapter's wait thread) exits on an
// unexpected error instead of panicking or silently dropping it (SPEC_FULL.md
// ambient logging decision).
func (l *Loop) OnBackendError(fn func(error)) { l.onBackendError = fn }

func (l *Loop) reportBackendError(err error) {
	if l.onBackendError != nil {
		l.onBackendError(err)
	}
}

// IncreaseExternalCount marks one unit of independent kernel-facing work
// (e.g. a blockpool task) that should keep Run from returning even though no
// Operation is Active. Safe to call from any goroutine.
func (l *Loop) IncreaseExternalCount() { l.externalCount.Add(1) }

// DecreaseExternalCount releases one unit previously registered with
// IncreaseExternalCount. Safe to call from any goroutine.
func (l *Loop) DecreaseExternalCount() { l.externalCount.Add(-1) }

func (l *Loop) hasActiveWork() bool {
	return l.outstanding > 0 || l.externalCount.Load() > 0
}

// Run steps the loop until there is no active operation, armed timer,
// pending wake-up, or outstanding external unit of work left (spec.md §2).
func (l *Loop) Run() error {
	for l.hasActiveWork() {
		if err := l.step(PollBlocking); err != nil {
			return err
		}
	}
	return nil
}

// StepOnce runs exactly one iteration of the loop, blocking until the next
// timer expiry or kernel event (or indefinitely if neither is pending).
func (l *Loop) StepOnce() error { return l.step(PollBlocking) }

// StepNoWait runs exactly one iteration without blocking in the kernel wait,
// draining only events already available.
func (l *Loop) StepNoWait() error { return l.step(PollNoWait) }

// Close releases the loop's kernel adapter and background worker pool. The
// caller must have stopped or let complete every outstanding operation
// first; Close does not cancel them.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.adapter.Close()
}

// Associate binds handle to this loop's kernel adapter ahead of any
// operation on it (SPEC_FULL.md supplement 1).
func (l *Loop) Associate(handle Handle) error {
	if err := l.adapter.Associate(handle); err != nil {
		return newError(KindKernelSubmit, "Associate", err)
	}
	return nil
}

// CreateAsyncTCPSocket creates a non-blocking TCP socket of the given family
// and associates it with this loop in one step (SPEC_FULL.md supplement 2),
// rather than leaving the caller to assemble socket+setopt+associate itself.
func (l *Loop) CreateAsyncTCPSocket(family AddressFamily) (Handle, error) {
	handle, err := newAsyncTCPSocket(family)
	if err != nil {
		return 0, newError(KindInvalidArgument, "CreateAsyncTCPSocket", err)
	}
	if err := l.adapter.Associate(handle); err != nil {
		return 0, newError(KindKernelSubmit, "CreateAsyncTCPSocket", err)
	}
	return handle, nil
}

// CreateAsyncTCPListener is CreateAsyncTCPSocket plus bind(2)/listen(2),
// for the ioloopnet.ListenTCP helper (SPEC_FULL.md domain-stack supplement):
// a listening socket never issues SocketConnect, only repeated SocketAccept,
// but still needs the same family/Associate plumbing as a client socket.
// It returns the address the kernel actually bound, which differs from addr
// when addr's port is 0.
func (l *Loop) CreateAsyncTCPListener(family AddressFamily, addr *net.TCPAddr, backlog int) (Handle, *net.TCPAddr, error) {
	handle, err := l.CreateAsyncTCPSocket(family)
	if err != nil {
		return 0, nil, err
	}
	bound, err := bindAndListen(handle, addr, backlog)
	if err != nil {
		_ = closeHandle(handle)
		return 0, nil, newError(KindInvalidArgument, "CreateAsyncTCPListener", err)
	}
	return handle, bound, nil
}

// prepareStart validates the Free/unowned precondition every StartXxx
// function shares (spec.md §3 invariant 1).
func (l *Loop) prepareStart(op *Operation, opName string) error {
	if op.state != StateFree || op.owner != nil {
		return newError(KindInUse, opName, nil)
	}
	return nil
}

// queueSubmission transitions op Free -> Submitting and appends it to the
// submissions list, to be activated on the loop's next step (spec.md §3).
func (l *Loop) queueSubmission(op *Operation) {
	op.owner = l
	op.state = StateSubmitting
	l.outstanding++
	l.submissions.PushBack(op)
}

// Stop requests cancellation of an Active operation, or removes a
// Submitting one before it ever reaches the kernel. Per SPEC_FULL.md
// supplement 3, a Submitting cancellation and a clean kernel-level
// cancellation never invoke the callback; a cancellation that raced an
// already-landed completion still delivers that completion, and is resolved
// at the end of the step it was requested in.
func (l *Loop) Stop(op *Operation) error {
	if op.state == StateFree {
		return newError(KindNotActive, "Stop", nil)
	}
	if op.owner != l {
		return newError(KindWrongLoop, "Stop", nil)
	}
	switch op.state {
	case StateCancelling:
		return newError(KindAlreadyCancelling, "Stop", nil)
	case StateSubmitting:
		l.submissions.Remove(op)
		l.free(op)
		return nil
	}

	switch op.variant {
	case VariantLoopTimeout:
		l.timers.disarm(op)
		l.free(op)
		return nil
	case VariantLoopWakeUp:
		l.wakeups.remove(op)
		l.free(op)
		return nil
	}

	op.state = StateCancelling
	l.adapter.Cancel(op)
	l.cancelling = append(l.cancelling, op)
	return nil
}

// free returns op to StateFree, releasing loop ownership and adapter scratch.
func (l *Loop) free(op *Operation) {
	op.state = StateFree
	op.owner = nil
	op.adapterData = nil
	op.reactivate = false
	l.outstanding--
}

// activate performs the Submitting -> Active transition for one operation:
// timers and wake-ups are scheduled directly by the loop core, everything
// else goes through the kernel adapter.
func (l *Loop) activate(op *Operation) {
	switch op.variant {
	case VariantLoopTimeout:
		op.state = StateActive
		l.timers.arm(op, l.loopTimeMS)
		return
	case VariantLoopWakeUp:
		op.state = StateActive
		l.wakeups.add(op)
		return
	}

	if err := l.adapter.Setup(op); err != nil {
		op.deliver(0, 0, 0, KindKernelSubmit, err)
		l.free(op)
		if l.metrics != nil {
			l.metrics.IncErrors(op.variant, KindKernelSubmit)
		}
		return
	}
	op.state = StateActive
	if err := l.adapter.Activate(op); err != nil {
		if isManualCompletion(err) {
			l.manual = append(l.manual, op)
			return
		}
		op.deliver(0, 0, 0, KindKernelSubmit, err)
		l.free(op)
		if l.metrics != nil {
			l.metrics.IncErrors(op.variant, KindKernelSubmit)
		}
	}
}

// enqueueManualFromBackground hands a completed operation back to the loop
// thread from a blockpool worker goroutine and interrupts the kernel wait so
// it is picked up promptly instead of waiting for the next unrelated event.
func (l *Loop) enqueueManualFromBackground(op *Operation) {
	l.manualInbox <- op
	if err := l.adapter.Interrupt(); err != nil {
		l.reportBackendError(err)
	}
}

func (l *Loop) drainSubmissions() {
	if l.submissions.Len() == 0 {
		return
	}
	pending := make([]*Operation, 0, l.submissions.Len())
	l.submissions.Each(func(op *Operation) bool {
		pending = append(pending, op)
		return true
	})
	for _, op := range pending {
		l.submissions.Remove(op)
		l.activate(op)
	}
}

func (l *Loop) computeDeadline(mode PollMode) time.Time {
	if mode == PollNoWait {
		return time.Now()
	}
	if expiryMS, ok := l.timers.nextExpiry(); ok {
		delta := expiryMS - l.loopTimeMS
		if delta < 0 {
			delta = 0
		}
		return time.Now().Add(time.Duration(delta) * time.Millisecond)
	}
	return time.Time{}
}

func (l *Loop) processKernelEvent(ev *kernelEvent) {
	op := ev.op
	if op == nil || !ev.valid {
		return
	}
	if !l.adapter.ValidateEvent(op, ev.res) {
		return
	}
	wasCancelling := op.state == StateCancelling
	l.adapter.Complete(op, ev.res, wasCancelling)
	l.finishActive(op, wasCancelling)
}

// finishActive applies the outcome of an adapter-driven completion
// (kernel-delivered or manual): reactivation loops Active -> Active without
// visiting Free, unless the completion resolved a cancellation in flight.
func (l *Loop) finishActive(op *Operation, wasCancelling bool) {
	if l.metrics != nil {
		l.metrics.IncCompletions(op.variant)
	}
	if op.reactivate && !wasCancelling {
		op.reactivate = false
		l.activate(op)
		return
	}
	l.free(op)
}

func (l *Loop) drainManualInbox() {
	for {
		select {
		case op := <-l.manualInbox:
			l.manual = append(l.manual, op)
		default:
			return
		}
	}
}

func (l *Loop) drainManual() {
	l.drainManualInbox()
	if len(l.manual) == 0 {
		return
	}
	pending := l.manual
	l.manual = nil
	for _, op := range pending {
		wasCancelling := op.state == StateCancelling
		l.adapter.Complete(op, 0, wasCancelling)
		l.finishActive(op, wasCancelling)
	}
}

// resolveCancellations frees every operation that is still StateCancelling
// at the end of a step: no kernel or manual event ever arrived for it this
// step, so the kernel adapter never got a chance to even acknowledge the
// cancellation, let alone report a completion. Per spec.md §5 the callback
// is skipped entirely here — there is no payload to deliver, real or
// synthesized. An operation whose cancellation was overtaken by an actual
// completion instead resolves through processKernelEvent/drainManual
// (Complete delivers that completion's real result, never KindCancelled).
func (l *Loop) resolveCancellations() {
	if len(l.cancelling) == 0 {
		return
	}
	pending := l.cancelling
	l.cancelling = nil
	for _, op := range pending {
		if op.state != StateCancelling {
			continue
		}
		l.free(op)
	}
}

func (l *Loop) step(mode PollMode) error {
	var stepStart time.Time
	if l.metrics != nil {
		stepStart = time.Now()
	}

	l.drainSubmissions()
	deadline := l.computeDeadline(mode)

	l.batch.reset(0)
	if err := l.adapter.Poll(mode, deadline, l.batch); err != nil {
		l.reportBackendError(err)
		return newError(KindKernelPoll, "step", err)
	}
	l.loopTimeMS = time.Now().UnixMilli()

	l.timers.fireDue(l.loopTimeMS, func(op *Operation, res *TimeoutResult) {
		if cb := op.timeout.callback; cb != nil {
			cb(res)
		}
		if l.metrics != nil {
			l.metrics.IncCompletions(VariantLoopTimeout)
		}
		if res.reactivate {
			l.timers.arm(op, l.loopTimeMS)
			return
		}
		l.free(op)
	})

	l.wakeups.drain(func(op *Operation, res *WakeUpResult) {
		if cb := op.wakeup.callback; cb != nil {
			cb(res)
		}
		if l.metrics != nil {
			l.metrics.IncCompletions(VariantLoopWakeUp)
		}
	})

	for i := 0; i < l.batch.n; i++ {
		l.processKernelEvent(l.batch.at(i))
	}

	l.drainManual()
	l.resolveCancellations()

	if l.metrics != nil {
		l.metrics.ObserveStep(time.Since(stepStart))
		l.metrics.SetActiveOperations(l.outstanding)
	}
	return nil
}
