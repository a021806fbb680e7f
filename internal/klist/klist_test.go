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

package klist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type elem struct {
	Link[elem]
	id int
}

func TestPushBackPreservesInsertionOrder(t *testing.T) {
	var l List[elem, *elem]
	a, b, c := &elem{id: 1}, &elem{id: 2}, &elem{id: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	require.Equal(t, 3, l.Len())
	var got []int
	l.Each(func(e *elem) bool {
		got = append(got, e.id)
		return true
	})
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestRemoveMiddleElement(t *testing.T) {
	var l List[elem, *elem]
	a, b, c := &elem{id: 1}, &elem{id: 2}, &elem{id: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	require.Equal(t, 2, l.Len())
	require.False(t, b.Listed())

	var got []int
	l.Each(func(e *elem) bool {
		got = append(got, e.id)
		return true
	})
	require.Equal(t, []int{1, 3}, got)
}

func TestRemoveIsNoopWhenNotLinked(t *testing.T) {
	var l List[elem, *elem]
	a := &elem{id: 1}
	l.Remove(a) // never pushed
	require.Equal(t, 0, l.Len())
}

func TestPopFrontOnEmptyListReturnsNil(t *testing.T) {
	var l List[elem, *elem]
	require.Nil(t, l.PopFront())
}

func TestPopFrontDrainsInOrder(t *testing.T) {
	var l List[elem, *elem]
	a, b := &elem{id: 1}, &elem{id: 2}
	l.PushBack(a)
	l.PushBack(b)

	require.Same(t, a, l.PopFront())
	require.Same(t, b, l.PopFront())
	require.Nil(t, l.PopFront())
	require.Equal(t, 0, l.Len())
}

func TestEachStopsEarlyWhenFalseReturned(t *testing.T) {
	var l List[elem, *elem]
	l.PushBack(&elem{id: 1})
	l.PushBack(&elem{id: 2})
	l.PushBack(&elem{id: 3})

	var visited int
	l.Each(func(e *elem) bool {
		visited++
		return e.id != 2
	})
	require.Equal(t, 2, visited)
}

func TestEachAllowsRemovingCurrentElement(t *testing.T) {
	var l List[elem, *elem]
	a, b, c := &elem{id: 1}, &elem{id: 2}, &elem{id: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Each(func(e *elem) bool {
		if e.id == 2 {
			l.Remove(e)
		}
		return true
	})

	require.Equal(t, 2, l.Len())
	var got []int
	l.Each(func(e *elem) bool {
		got = append(got, e.id)
		return true
	})
	require.Equal(t, []int{1, 3}, got)
}
