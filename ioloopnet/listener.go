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

package ioloopnet

import (
	"net"

	"github.com/cloudwego/ioloop"
)

const defaultBacklog = 1024

// Listener accepts connections on a bound, listening TCP handle. Accept
// keeps the listening Operation Active by calling Reactivate(true) from
// inside the SocketAccept callback (spec.md §9 open question 3; the normal
// way to keep accepting, per socket.go's StartSocketAccept doc comment).
type Listener struct {
	loop   *ioloop.Loop
	handle ioloop.Handle
	addr   *net.TCPAddr
	family ioloop.AddressFamily

	acceptOp ioloop.Operation
}

// ListenTCP binds and listens on addr (nil IP/zero port means "any address,
// any free port", mirroring net.ListenTCP) and returns a Listener ready for
// Accept.
func ListenTCP(l *ioloop.Loop, family ioloop.AddressFamily, addr *net.TCPAddr) (*Listener, error) {
	handle, bound, err := l.CreateAsyncTCPListener(family, addr, defaultBacklog)
	if err != nil {
		return nil, err
	}
	return &Listener{loop: l, handle: handle, addr: bound, family: family}, nil
}

func (ln *Listener) Addr() net.Addr { return ln.addr }

// Accept arms the listener to report every accepted connection to cb until
// the caller calls Close, or cb itself calls its result's Reactivate(false)
// (not exposed here; Accept always reactivates). Each accepted client is
// handed to cb as a ready-to-use *Conn.
func (ln *Listener) Accept(cb func(*Conn, error)) error {
	return ln.loop.StartSocketAccept(&ln.acceptOp, ln.handle, ln.family, func(res *ioloop.SocketAcceptResult) {
		res.Reactivate(true)
		if err := res.Err(); err != nil {
			cb(nil, err)
			return
		}
		cb(newConn(ln.loop, res.Client(), ln.addr, nil), nil)
	})
}

// Close stops accepting new connections.
func (ln *Listener) Close() error {
	return ln.loop.Stop(&ln.acceptOp)
}
