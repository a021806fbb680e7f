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

	"github.com/cloudwego/ioloop/netx"
)

// WrapBlocking adapts a classic blocking net.Conn (typically obtained
// outside the Loop entirely, e.g. a control/admin connection dialed with
// net.Dial) into netx.Conn: bufiox-buffered Reader/Writer plus
// connstate-backed State(), the same facade a caller migrating from
// synchronous networking code already knows. It does not touch the Loop at
// all; it exists alongside the async Conn/Listener above for call sites
// that have no business going through the kernel adapter (short-lived admin
// commands, health probes) but still want ioloop's buffered I/O story.
func WrapBlocking(cn net.Conn) (netx.Conn, error) {
	return netx.Wrap(cn)
}
