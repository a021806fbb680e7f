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

import "github.com/cloudwego/ioloop/internal/blockpool"

// LinuxBackend selects which kernel adapter Create uses on linux. Every
// other platform has exactly one adapter and ignores this option.
type LinuxBackend uint8

const (
	// BackendEpoll is the default: a reactor adapter over epoll(7).
	BackendEpoll LinuxBackend = iota
	// BackendIOUring is an alternate proactor adapter built on io_uring.
	BackendIOUring
)

// Options configures a Loop at Create time. Mirrors the teacher's
// value-struct-plus-defaults pattern (internal/blockpool.Config).
type Options struct {
	linuxBackend  LinuxBackend
	metrics       MetricsCollector
	onBackendErr  func(error)
	blockPoolOpts []blockpool.Option
}

// DefaultOptions returns the configuration Create uses when given no
// options: epoll on linux, no metrics, the blockpool's own defaults.
func DefaultOptions() Options {
	return Options{linuxBackend: BackendEpoll}
}

// Option mutates an Options value. Functional options, not a builder,
// matching the teacher's configuration idiom.
type Option func(*Options)

// WithLinuxBackend picks the kernel adapter Create uses on linux.
func WithLinuxBackend(b LinuxBackend) Option {
	return func(o *Options) { o.linuxBackend = b }
}

// WithMetrics wires a MetricsCollector (ioloop/metrics.New(...) in typical
// use) into the loop. Omitting this option costs nothing at runtime.
func WithMetrics(c MetricsCollector) Option {
	return func(o *Options) { o.metrics = c }
}

// WithOnBackendError installs the backend-error hook at construction time,
// equivalent to calling Loop.OnBackendError immediately after Create.
func WithOnBackendError(fn func(error)) Option {
	return func(o *Options) { o.onBackendErr = fn }
}

// WithBlockPoolOptions forwards configuration to the internal bounded
// worker pool backing FileRead/FileWrite/FileClose/ProcessExit on reactor
// platforms, and ProcessExit (plus NativePoll on IOCP) on proactor platforms
// (see internal/blockpool).
func WithBlockPoolOptions(opts ...blockpool.Option) Option {
	return func(o *Options) { o.blockPoolOpts = append(o.blockPoolOpts, opts...) }
}
