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

// Package blockpool is a bounded goroutine pool that runs the blocking
// syscalls a reactor-style kernel adapter (epoll, kqueue) cannot get an
// asynchronous kernel notification for: positional file I/O and process-exit
// waits. Proactor adapters (IOCP, io_uring) submit file I/O natively but still
// use this package for process-exit waits, and IOCP also for NativePoll.
package blockpool

import (
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Config tunes a Pool. Mirrors the teacher's gopool.Option
// value-struct-plus-defaults shape.
type Config struct {
	// MaxIdleWorkers bounds how many goroutines stay parked waiting for
	// tasks before a worker exits instead of blocking on the task channel.
	MaxIdleWorkers int
	// WorkerMaxAge bounds how long a parked worker stays alive.
	WorkerMaxAge time.Duration
	// TaskChanBuffer is the size of the pending-task queue; once full,
	// Submit falls back to an un-pooled goroutine rather than blocking the
	// loop thread.
	TaskChanBuffer int
}

// DefaultConfig returns the configuration New uses when given no Options.
func DefaultConfig() Config {
	return Config{
		MaxIdleWorkers: 256,
		WorkerMaxAge:   time.Minute,
		TaskChanBuffer: 256,
	}
}

// Option mutates a Config, applied by New.
type Option func(*Config)

// WithMaxIdleWorkers overrides Config.MaxIdleWorkers.
func WithMaxIdleWorkers(n int) Option { return func(c *Config) { c.MaxIdleWorkers = n } }

// WithWorkerMaxAge overrides Config.WorkerMaxAge.
func WithWorkerMaxAge(d time.Duration) Option { return func(c *Config) { c.WorkerMaxAge = d } }

// WithTaskChanBuffer overrides Config.TaskChanBuffer.
func WithTaskChanBuffer(n int) Option { return func(c *Config) { c.TaskChanBuffer = n } }

type task struct {
	f func()
}

// Pool runs submitted tasks on a bounded set of background goroutines.
type Pool struct {
	workers int32
	maxIdle int32
	maxage  int64 // milliseconds

	panicHandler atomic.Value // func(interface{})

	tasks     chan task
	unixMilli int64

	closed atomic.Bool
}

// New creates a Pool, applying opts over DefaultConfig.
func New(opts ...Option) *Pool {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pool{
		tasks:   make(chan task, cfg.TaskChanBuffer),
		maxage:  cfg.WorkerMaxAge.Milliseconds(),
		maxIdle: int32(cfg.MaxIdleWorkers),
	}
}

// SetPanicHandler installs a callback invoked with recover()'s result when a
// submitted task panics, instead of the task silently taking a worker down.
func (p *Pool) SetPanicHandler(f func(r interface{})) {
	p.panicHandler.Store(f)
}

// Submit runs f on a pool worker, spinning up a new one if every existing
// worker is busy, or falling back to an un-pooled goroutine if the task
// queue is momentarily full.
func (p *Pool) Submit(f func()) {
	if p.closed.Load() {
		go p.runTask(f)
		return
	}
	select {
	case p.tasks <- task{f: f}:
	default:
		go p.runTask(f)
		return
	}
	if len(p.tasks) == 0 {
		return
	}
	go p.runWorker()
}

// Close makes every later Submit run its task on an un-pooled goroutine;
// workers already running keep draining the tasks already queued.
func (p *Pool) Close() {
	p.closed.Store(true)
}

func (p *Pool) runTask(f func()) {
	defer func() {
		if r := recover(); r != nil {
			if h, ok := p.panicHandler.Load().(func(interface{})); ok && h != nil {
				h(r)
			} else {
				debug.PrintStack()
			}
		}
	}()
	f()
}

func (p *Pool) runWorker() {
	id := atomic.AddInt32(&p.workers, 1)
	defer atomic.AddInt32(&p.workers, -1)

	if id > p.maxIdle {
		for {
			select {
			case t := <-p.tasks:
				p.runTask(t.f)
			default:
				return
			}
		}
	}

	createdAt := time.Now().UnixMilli()
	for t := range p.tasks {
		p.runTask(t.f)

		now := atomic.LoadInt64(&p.unixMilli)
		if now == 0 {
			now = time.Now().UnixMilli()
			if atomic.CompareAndSwapInt64(&p.unixMilli, 0, now) {
				go p.runTicker()
			}
		}
		if now-createdAt > p.maxage {
			return
		}
	}
}

var noopTask = task{f: func() {}}

func (p *Pool) runTicker() {
	defer atomic.StoreInt64(&p.unixMilli, 0)

	d := time.Duration(p.maxage) * time.Millisecond / 100
	if d < time.Millisecond {
		d = time.Millisecond
	}

	t := time.NewTicker(d)
	defer t.Stop()

	for now := range t.C {
		if atomic.LoadInt32(&p.workers) == 0 {
			return
		}
		atomic.StoreInt64(&p.unixMilli, now.UnixMilli())
		p.tasks <- noopTask
	}
}
