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

// Package ioloopnet layers TCP connection/listener helpers and bufiox-based
// buffered I/O over the bare ioloop.Handle/Operation primitives. Addr
// resolution and socket plumbing are the "external collaborator" spec.md §1
// leaves to callers; this package is one such collaborator, not part of the
// loop core itself.
//
// Conn and Listener are callback-driven, like every other ioloop op: every
// method here must be called from the owning Loop's own goroutine, same as
// the Start* functions they wrap. There is no blocking net.Conn facade for
// the async path; WrapBlocking exists for code that genuinely wants one.
package ioloopnet

import (
	"net"

	"github.com/cloudwego/ioloop"
	"github.com/cloudwego/ioloop/bufiox"
)

// Conn pairs a connected TCP handle with the Loop driving it, and the two
// reusable Operations its Receive/Send calls reactivate across calls
// instead of allocating a fresh Operation per I/O (spec.md §3 "users are
// expected to reuse Operations", SPEC_FULL.md domain-stack supplement).
type Conn struct {
	loop   *ioloop.Loop
	handle ioloop.Handle
	local  net.Addr
	remote net.Addr

	recvOp  ioloop.Operation
	sendOp  ioloop.Operation
	closeOp ioloop.Operation

	sendBuf []byte
}

func newConn(l *ioloop.Loop, h ioloop.Handle, local, remote net.Addr) *Conn {
	return &Conn{loop: l, handle: h, local: local, remote: remote}
}

// Handle returns the raw handle backing this connection, for callers that
// need to hand it to a lower-level ioloop operation directly.
func (c *Conn) Handle() ioloop.Handle { return c.handle }

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Receive reads once into buf and hands the filled span to cb wrapped in a
// zero-copy bufiox.Reader, so a framed protocol can Peek/Skip/Next over the
// exact bytes the kernel delivered without a defensive copy. n is the
// number of bytes the reader holds; n == 0 with a nil error means the peer
// closed the connection (SocketReceiveResult.PeerClosed's condition).
func (c *Conn) Receive(buf []byte, cb func(r bufiox.Reader, n int, err error)) error {
	return c.loop.StartSocketReceive(&c.recvOp, c.handle, buf, func(res *ioloop.SocketReceiveResult) {
		if err := res.Err(); err != nil {
			cb(nil, 0, err)
			return
		}
		data := res.Bytes()
		cb(bufiox.NewBytesReader(data), len(data), nil)
	})
}

// Send builds an outgoing frame through a bufiox.Writer (Malloc/WriteBinary
// against it, same contract as any other bufiox.Writer user) and sends the
// flushed result over the connection. fill's writer must be flushed before
// returning so Send has the final byte span to hand to SocketSend.
func (c *Conn) Send(fill func(w bufiox.Writer) error, cb func(err error)) error {
	c.sendBuf = c.sendBuf[:0]
	w := bufiox.NewBytesWriter(&c.sendBuf)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(c.sendBuf) == 0 {
		cb(nil)
		return nil
	}
	return c.loop.StartSocketSend(&c.sendOp, c.handle, c.sendBuf, func(res *ioloop.SocketSendResult) {
		cb(res.Err())
	})
}

// Close issues SocketClose and reports completion through cb, which may be
// nil when the caller doesn't care when the close lands.
func (c *Conn) Close(cb func(err error)) error {
	return c.loop.StartSocketClose(&c.closeOp, c.handle, func(res *ioloop.SocketCloseResult) {
		if cb != nil {
			cb(res.Err())
		}
	})
}

// DialTCP issues an async connect and hands the caller a *Conn on success.
// raddr must already be resolved (spec.md §1); DialTCP does not call
// net.ResolveTCPAddr itself.
func DialTCP(l *ioloop.Loop, op *ioloop.Operation, family ioloop.AddressFamily, raddr *net.TCPAddr, cb func(*Conn, error)) error {
	handle, err := l.CreateAsyncTCPSocket(family)
	if err != nil {
		return err
	}
	return l.StartSocketConnect(op, handle, raddr, func(res *ioloop.SocketConnectResult) {
		if err := res.Err(); err != nil {
			cb(nil, err)
			return
		}
		cb(newConn(l, handle, nil, raddr), nil)
	})
}
