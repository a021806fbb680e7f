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

// Package klist is a generic intrusive doubly-linked list.
//
// Unlike container/list, elements are not boxed: T embeds Link[T] and the
// list only ever stores *T pointers it was given, so moving an element
// between lists (submissions -> active -> submissions, for example) never
// allocates and never changes the element's address.
package klist

// Node is implemented by *T via an embedded Link[T].
type Node[T any] interface {
	*T
	Next() *T
	SetNext(*T)
	Prev() *T
	SetPrev(*T)
	Listed() bool
	setListed(bool)
}

// Link is embedded in an element to give it intrusive list storage.
// An element carries at most one Link and so can only be a member of one
// List at a time.
type Link[T any] struct {
	next, prev *T
	listed     bool
}

func (l *Link[T]) Next() *T       { return l.next }
func (l *Link[T]) SetNext(n *T)   { l.next = n }
func (l *Link[T]) Prev() *T       { return l.prev }
func (l *Link[T]) SetPrev(p *T)   { l.prev = p }
func (l *Link[T]) Listed() bool   { return l.listed }
func (l *Link[T]) setListed(b bool) { l.listed = b }

// List is a FIFO-ordered intrusive doubly linked list of *T.
type List[T any, PT Node[T]] struct {
	head, tail *T
	length     int
}

// Len returns the number of elements currently linked.
func (l *List[T, PT]) Len() int { return l.length }

// Front returns the first element, or nil if the list is empty.
func (l *List[T, PT]) Front() *T { return l.head }

// PushBack appends v to the end of the list. v must not already be linked
// into any list.
func (l *List[T, PT]) PushBack(v *T) {
	p := PT(v)
	p.SetPrev(l.tail)
	p.SetNext(nil)
	if l.tail != nil {
		PT(l.tail).SetNext(v)
	} else {
		l.head = v
	}
	l.tail = v
	p.setListed(true)
	l.length++
}

// PopFront removes and returns the first element, or nil if the list is
// empty.
func (l *List[T, PT]) PopFront() *T {
	v := l.head
	if v == nil {
		return nil
	}
	l.Remove(v)
	return v
}

// Remove unlinks v from the list. It is a no-op if v is not currently
// linked into this list.
func (l *List[T, PT]) Remove(v *T) {
	p := PT(v)
	if !p.Listed() {
		return
	}
	prev, next := p.Prev(), p.Next()
	if prev != nil {
		PT(prev).SetNext(next)
	} else {
		l.head = next
	}
	if next != nil {
		PT(next).SetPrev(prev)
	} else {
		l.tail = prev
	}
	p.SetPrev(nil)
	p.SetNext(nil)
	p.setListed(false)
	l.length--
}

// Each calls f for every element in forward (insertion) order. f may
// Remove the current element from l, but must not remove or insert any
// other element while iterating.
func (l *List[T, PT]) Each(f func(*T) bool) {
	for n := l.head; n != nil; {
		next := PT(n).Next()
		if !f(n) {
			return
		}
		n = next
	}
}
