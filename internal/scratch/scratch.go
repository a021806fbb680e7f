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

// Package scratch pools the fixed-size, per-operation platform scratch a
// kernel adapter attaches while an Operation is Active: IOCP OVERLAPPED
// blocks, io_uring connectSockaddr blocks, and SocketAccept's pre-allocated peer
// address buffer. Byte buffers are pooled through bytedance/gopkg's
// size-classed mcache allocator (the teacher's own dependency); fixed-layout
// structs go through a sync.Pool keyed by type, the same size-classed-pool
// idea as the teacher's cache/mempool, minus its unsafe footer-tagging
// (these pools are typed, so there is nothing to recover a size class from).
package scratch

import (
	"sync"

	"github.com/bytedance/gopkg/lang/mcache"
)

// GetBytes returns a buffer with length size from the shared byte pool.
// Release it with PutBytes once the owning operation is done with it.
func GetBytes(size int) []byte {
	return mcache.Malloc(size)
}

// PutBytes returns buf to the shared byte pool. buf must not be used again.
func PutBytes(buf []byte) {
	mcache.Free(buf)
}

// AcceptAddrBufSize is the size of the dual-address scratch buffer Windows'
// AcceptEx and io_uring's sockaddr scratch both want: two
// sockaddr_storage-sized slots, local then remote (SPEC_FULL.md supplement
// 5: accept scratch handed out through OverlappedPool.Get is zeroed again
// on every Setup, including each SocketAccept reactivation).
const AcceptAddrBufSize = 2 * 128

// OverlappedPool pools fixed-layout per-operation platform blocks of type T
// (a Windows OVERLAPPED, an io_uring connectSockaddr, ...) so repeated
// Setup/Activate cycles on reactivated operations don't allocate.
type OverlappedPool[T any] struct {
	pool sync.Pool
}

// NewOverlappedPool creates a pool whose zero value is ready to use; New
// must return a fresh *T (mcache-style pools only ever hand out pointers so
// the kernel has a stable address to write into).
func NewOverlappedPool[T any]() *OverlappedPool[T] {
	p := &OverlappedPool[T]{}
	p.pool.New = func() interface{} {
		var v T
		return &v
	}
	return p
}

// Get returns a *T, zeroing it first so no stale adapter state leaks across
// reuse (an OVERLAPPED's Internal/InternalHigh fields in particular).
func (p *OverlappedPool[T]) Get() *T {
	v := p.pool.Get().(*T)
	var zero T
	*v = zero
	return v
}

// Put returns v to the pool.
func (p *OverlappedPool[T]) Put(v *T) {
	p.pool.Put(v)
}
