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

//go:build linux

package ioloop

// newPlatformAdapter picks linux's default reactor adapter (epoll) or, when
// requested via WithLinuxBackend(BackendIOUring), the alternate proactor
// adapter built on io_uring.
func newPlatformAdapter(o Options, notifyManual func(*Operation)) (KernelAdapter, error) {
	if o.linuxBackend == BackendIOUring {
		return newIOUringAdapter(o, notifyManual)
	}
	return newEpollAdapter(o, notifyManual)
}
