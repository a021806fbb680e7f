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

package scratch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBytesReturnsRequestedLength(t *testing.T) {
	buf := GetBytes(AcceptAddrBufSize)
	defer PutBytes(buf)
	require.Len(t, buf, AcceptAddrBufSize)
}

type overlapped struct {
	Internal     uint64
	InternalHigh uint64
	scratch      [8]byte
}

func TestOverlappedPoolGetReturnsZeroedValue(t *testing.T) {
	p := NewOverlappedPool[overlapped]()

	v := p.Get()
	v.Internal = 0xdeadbeef
	v.scratch[0] = 0xff
	p.Put(v)

	v2 := p.Get()
	require.Equal(t, uint64(0), v2.Internal)
	require.Equal(t, byte(0), v2.scratch[0])
}

func TestOverlappedPoolGetNeverReturnsNil(t *testing.T) {
	p := NewOverlappedPool[overlapped]()
	require.NotNil(t, p.Get())
}
