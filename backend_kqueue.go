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

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

// kqueueAdapter is the reactor KernelAdapter for BSD-family kernels,
// grounded on connstate/poll_bsd.go: one EVFILT_USER registration at ident 0
// used purely to interrupt a blocked kevent() call (the teacher's own
// wake-up trick, reused here for the loop's own Interrupt), and the same
// "stash a pointer in Udata, recover it without a lookup table" idiom the
// teacher uses to get from a ready kevent back to its owning fd-operator.
package ioloop

import (
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/cloudwego/ioloop/internal/blockpool"
	"golang.org/x/sys/unix"
)

type kqueueSlot struct {
	fd     int
	filter int16
	op     *Operation
	result pendingResult
}

type kqueueAdapter struct {
	kqfd int

	rawEvents []unix.Kevent_t

	pool         *blockpool.Pool
	notifyManual func(*Operation)
}

func newPlatformAdapter(o Options, notifyManual func(*Operation)) (KernelAdapter, error) {
	return newKqueueAdapter(o, notifyManual)
}

func newKqueueAdapter(o Options, notifyManual func(*Operation)) (*kqueueAdapter, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	wake := unix.Kevent_t{Ident: 0, Filter: unix.EVFILT_USER, Flags: unix.EV_ADD | unix.EV_CLEAR}
	if _, err := unix.Kevent(fd, []unix.Kevent_t{wake}, nil, nil); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("kevent(EVFILT_USER add): %w", err)
	}
	return &kqueueAdapter{
		kqfd:         fd,
		rawEvents:    make([]unix.Kevent_t, 256),
		pool:         blockpool.New(o.blockPoolOpts...),
		notifyManual: notifyManual,
	}, nil
}

func (a *kqueueAdapter) Setup(op *Operation) error {
	switch op.variant {
	case VariantFileRead, VariantFileWrite, VariantFileClose, VariantProcessExit, VariantSocketClose:
		return nil
	}
	op.adapterData = &kqueueSlot{fd: opFD(op)}
	return nil
}

func (a *kqueueAdapter) arm(op *Operation, filter int16) error {
	slot := op.adapterData.(*kqueueSlot)
	slot.op = op
	slot.filter = filter
	ev := unix.Kevent_t{
		Ident:  uint64(slot.fd),
		Filter: filter,
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_ONESHOT,
	}
	*(**kqueueSlot)(unsafe.Pointer(&ev.Udata)) = slot
	_, err := unix.Kevent(a.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func toSockaddrBSD(addr net.Addr) (unix.Sockaddr, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("ioloop: unsupported address type %T", addr)
	}
	if ip4 := tcp.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcp.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip16 := tcp.IP.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("ioloop: invalid IP %v", tcp.IP)
	}
	sa := &unix.SockaddrInet6{Port: tcp.Port}
	copy(sa.Addr[:], ip16)
	return sa, nil
}

func (a *kqueueAdapter) Activate(op *Operation) error {
	switch op.variant {
	case VariantFileRead:
		// Background work, not a manual completion: rely on the
		// notifyManual -> manualInbox channel hand-off rather than racing
		// the pool goroutine against this same step's l.manual drain.
		a.pool.Submit(func() {
			n, err := unix.Pread(int(op.fileRead.file), op.fileRead.buf, op.fileRead.offset)
			op.adapterData = &pendingResult{n: n, kind: classifyIOError(err), cause: err}
			a.notifyManual(op)
		})
		return nil
	case VariantFileWrite:
		a.pool.Submit(func() {
			n, err := unix.Pwrite(int(op.fileWrite.file), op.fileWrite.buf, op.fileWrite.offset)
			op.adapterData = &pendingResult{n: n, kind: classifyIOError(err), cause: err}
			a.notifyManual(op)
		})
		return nil
	case VariantFileClose:
		a.pool.Submit(func() {
			err := unix.Close(int(op.fileClose.file))
			op.adapterData = &pendingResult{kind: classifyIOError(err), cause: err}
			a.notifyManual(op)
		})
		return nil
	case VariantProcessExit:
		a.pool.Submit(func() {
			state, err := op.processExit.proc.Wait()
			if err != nil {
				op.adapterData = &pendingResult{kind: KindProcessNotChild, cause: err}
			} else {
				op.adapterData = &pendingResult{exitCode: state.ExitCode()}
			}
			a.notifyManual(op)
		})
		return nil
	case VariantSocketClose:
		err := unix.Close(int(op.socketClose.socket))
		op.adapterData = &pendingResult{kind: classifyIOError(err), cause: err}
		return ErrManualCompletion()
	case VariantSocketAccept, VariantSocketReceive, VariantNativePoll:
		return a.arm(op, unix.EVFILT_READ)
	case VariantSocketConnect:
		sa, err := toSockaddrBSD(op.socketConnect.addr)
		if err != nil {
			op.adapterData = &pendingResult{kind: KindInvalidArgument, cause: err}
			return ErrManualCompletion()
		}
		slot := op.adapterData.(*kqueueSlot)
		if err := unix.Connect(slot.fd, sa); err != nil && err != unix.EINPROGRESS {
			op.adapterData = &pendingResult{kind: classifyIOError(err), cause: err}
			return ErrManualCompletion()
		}
		return a.arm(op, unix.EVFILT_WRITE)
	case VariantSocketSend:
		return a.arm(op, unix.EVFILT_WRITE)
	default:
		return nil
	}
}

func (a *kqueueAdapter) ValidateEvent(op *Operation, raw int64) bool {
	if _, ok := op.adapterData.(*pendingResult); ok {
		return true
	}
	slot, ok := op.adapterData.(*kqueueSlot)
	if !ok {
		return false
	}
	switch op.variant {
	case VariantSocketAccept:
		fd, _, err := unix.Accept(slot.fd)
		if err == unix.EAGAIN {
			_ = a.arm(op, unix.EVFILT_READ)
			return false
		}
		if err == nil {
			_ = unix.SetNonblock(fd, true)
		}
		slot.result = pendingResult{handle: Handle(fd), kind: classifyIOError(err), cause: err}
		return true
	case VariantSocketConnect:
		errno, serr := unix.GetsockoptInt(slot.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		var err error
		if serr != nil {
			err = serr
		} else if errno != 0 {
			err = unix.Errno(errno)
		}
		slot.result = pendingResult{kind: classifyIOError(err), cause: err}
		return true
	case VariantSocketSend:
		n, err := unix.Write(slot.fd, op.socketSend.buf[op.socketSend.sent:])
		if n > 0 {
			op.socketSend.sent += n
		}
		if err == unix.EAGAIN || (err == nil && op.socketSend.sent < len(op.socketSend.buf)) {
			_ = a.arm(op, unix.EVFILT_WRITE)
			return false
		}
		slot.result = pendingResult{kind: classifyIOError(err), cause: err}
		return true
	case VariantSocketReceive:
		n, err := unix.Read(slot.fd, op.socketReceive.buf)
		if err == unix.EAGAIN {
			_ = a.arm(op, unix.EVFILT_READ)
			return false
		}
		slot.result = pendingResult{n: n, kind: classifyIOError(err), cause: err}
		return true
	case VariantNativePoll:
		slot.result = pendingResult{}
		return true
	default:
		return true
	}
}

// Complete always delivers. kqueue's Cancel only issues an EV_DELETE and
// never itself produces an event, so any event reaching Complete while
// wasCancelling is true is necessarily a genuine completion that raced the
// cancel request, not a cancel acknowledgement.
func (a *kqueueAdapter) Complete(op *Operation, raw int64, wasCancelling bool) {
	if pr, ok := op.adapterData.(*pendingResult); ok {
		op.deliver(pr.n, pr.handle, pr.exitCode, pr.kind, pr.cause)
		return
	}
	slot := op.adapterData.(*kqueueSlot)
	pr := slot.result
	op.deliver(pr.n, pr.handle, pr.exitCode, pr.kind, pr.cause)
}

func (a *kqueueAdapter) Cancel(op *Operation) {
	slot, ok := op.adapterData.(*kqueueSlot)
	if !ok || slot.op == nil {
		return
	}
	ev := unix.Kevent_t{Ident: uint64(slot.fd), Filter: slot.filter, Flags: unix.EV_DELETE}
	_, _ = unix.Kevent(a.kqfd, []unix.Kevent_t{ev}, nil, nil)
	slot.op = nil
}

func (a *kqueueAdapter) Poll(mode PollMode, deadline time.Time, batch *eventBatch) error {
	var ts unix.Timespec
	var tsPtr *unix.Timespec
	switch {
	case mode == PollNoWait:
		tsPtr = &ts
	case !deadline.IsZero():
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		ts = unix.NsecToTimespec(d.Nanoseconds())
		tsPtr = &ts
	}

	n, err := unix.Kevent(a.kqfd, nil, a.rawEvents, tsPtr)
	if err != nil {
		if err == unix.EINTR {
			batch.reset(0)
			return nil
		}
		return err
	}

	count := 0
	for i := 0; i < n && count < batch.cap(); i++ {
		ev := a.rawEvents[i]
		if ev.Filter == unix.EVFILT_USER && ev.Ident == 0 {
			continue
		}
		slot := *(**kqueueSlot)(unsafe.Pointer(&ev.Udata))
		if slot == nil || slot.op == nil {
			continue
		}
		e := batch.at(count)
		e.op = slot.op
		e.valid = true
		e.res = int64(ev.Flags)
		count++
	}
	batch.reset(count)
	return nil
}

func (a *kqueueAdapter) Interrupt() error {
	ev := unix.Kevent_t{Ident: 0, Filter: unix.EVFILT_USER, Fflags: unix.NOTE_TRIGGER}
	_, err := unix.Kevent(a.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (a *kqueueAdapter) Associate(handle Handle) error {
	_, err := unix.FcntlInt(uintptr(handle), unix.F_GETFL, 0)
	return err
}

func (a *kqueueAdapter) Close() error {
	a.pool.Close()
	return unix.Close(a.kqfd)
}
