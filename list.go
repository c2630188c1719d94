// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package receptor

import (
	"fmt"
)

// List is a doubly linked list whose payload copies live in a Pool.
//
// With dataSize 0 a node keeps the caller's value verbatim and never owns it.
// With dataSize > 0 every pushed value must be a []byte; the node stores a
// private dataSize-byte copy allocated from the pool.
// Nodes are never freed one by one; their payload goes away with the pool.
type List struct {
	head     *ListNode
	tail     *ListNode
	size     int
	pool     *Pool
	dataSize int
}

// ListNode is one element of a List.
type ListNode struct {
	prev *ListNode
	next *ListNode
	data any
	list *List // owner, nil once erased
}

// ListIter references one node of one list. The zero value is invalid.
type ListIter struct {
	list *List
	node *ListNode
}

// NewList creates an empty list on pool.
func NewList(pool *Pool, dataSize int) (*List, error) {
	if pool == nil || dataSize < 0 {
		return nil, fmt.Errorf("%w: list pool=%v dataSize=%d", ErrInvalidArgument, pool != nil, dataSize)
	}
	return &List{pool: pool, dataSize: dataSize}, nil
}

// Len returns the number of elements.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return l.size
}

// Empty reports whether the list has no elements.
func (l *List) Empty() bool { return l.Len() == 0 }

// DataSize returns the per-node payload size, 0 for reference mode.
func (l *List) DataSize() int { return l.dataSize }

func (l *List) newNode(data any) (*ListNode, error) {
	node := &ListNode{list: l}
	if l.dataSize == 0 {
		node.data = data
		return node, nil
	}
	buf := l.pool.Alloc(l.dataSize)
	if buf == nil {
		return nil, ErrPoolDestroyed
	}
	switch v := data.(type) {
	case nil:
	case []byte:
		copy(buf, v)
	default:
		return nil, fmt.Errorf("%w: list of %d-byte payloads got %T", ErrInvalidArgument, l.dataSize, data)
	}
	node.data = buf
	return node, nil
}

// PushFront inserts data before the head.
func (l *List) PushFront(data any) error {
	if l == nil {
		return ErrInvalidArgument
	}
	node, err := l.newNode(data)
	if err != nil {
		return err
	}
	l.linkFront(node)
	return nil
}

func (l *List) linkFront(node *ListNode) {
	if l.head == nil {
		l.head, l.tail = node, node
	} else {
		node.next = l.head
		l.head.prev = node
		l.head = node
	}
	l.size++
}

// PushBack inserts data after the tail.
func (l *List) PushBack(data any) error {
	if l == nil {
		return ErrInvalidArgument
	}
	node, err := l.newNode(data)
	if err != nil {
		return err
	}
	if l.tail == nil {
		l.head, l.tail = node, node
	} else {
		node.prev = l.tail
		l.tail.next = node
		l.tail = node
	}
	l.size++
	return nil
}

// PopFront removes the head and returns its payload. When the list copies
// payloads and dst is not nil, the payload is also copied into dst.
func (l *List) PopFront(dst []byte) (any, error) {
	if l == nil || l.head == nil {
		return nil, ErrEmpty
	}
	node := l.head
	if l.head == l.tail {
		l.head, l.tail = nil, nil
	} else {
		l.head = node.next
		l.head.prev = nil
	}
	return l.release(node, dst), nil
}

// PopBack removes the tail and returns its payload, see PopFront.
func (l *List) PopBack(dst []byte) (any, error) {
	if l == nil || l.tail == nil {
		return nil, ErrEmpty
	}
	node := l.tail
	if l.head == l.tail {
		l.head, l.tail = nil, nil
	} else {
		l.tail = node.prev
		l.tail.next = nil
	}
	return l.release(node, dst), nil
}

func (l *List) release(node *ListNode, dst []byte) any {
	l.size--
	if dst != nil && l.dataSize > 0 {
		copy(dst, node.data.([]byte))
	}
	data := node.data
	node.prev, node.next, node.list = nil, nil, nil
	return data
}

// Insert places data before the node referenced by it.
func (l *List) Insert(it ListIter, data any) error {
	if l == nil || it.list != l || !it.Valid() {
		return ErrInvalidIterator
	}
	cur := it.node
	if cur == l.head {
		return l.PushFront(data)
	}
	node, err := l.newNode(data)
	if err != nil {
		return err
	}
	node.prev = cur.prev
	node.next = cur
	cur.prev.next = node
	cur.prev = node
	l.size++
	return nil
}

// Erase unlinks the node referenced by it. Other iterators stay valid.
func (l *List) Erase(it ListIter) error {
	if l == nil || it.list != l || !it.Valid() {
		return ErrInvalidIterator
	}
	node := it.node
	switch node {
	case l.head:
		_, err := l.PopFront(nil)
		return err
	case l.tail:
		_, err := l.PopBack(nil)
		return err
	}
	node.prev.next = node.next
	node.next.prev = node.prev
	l.release(node, nil)
	return nil
}

// Find returns an iterator to the first element for which
// cmp(element, data) == 0, or an invalid iterator.
func (l *List) Find(data any, cmp func(elem, data any) int) ListIter {
	if l == nil || cmp == nil {
		return ListIter{}
	}
	for it := l.Begin(); it.Valid(); it = it.Next() {
		if cmp(it.Data(), data) == 0 {
			return it
		}
	}
	return ListIter{}
}

// Clear unlinks every node. Outstanding iterators become invalid.
func (l *List) Clear() {
	if l == nil {
		return
	}
	for node := l.head; node != nil; {
		next := node.next
		node.prev, node.next, node.list = nil, nil, nil
		node = next
	}
	l.head, l.tail, l.size = nil, nil, 0
}

// Destroy is Clear; payload memory is reclaimed with the pool.
func (l *List) Destroy() {
	l.Clear()
}

// Sort is a stable merge sort over the nodes.
func (l *List) Sort(cmp func(a, b any) int) {
	if l == nil || l.size < 2 || cmp == nil {
		return
	}
	l.head = mergeSort(l.head, cmp)
	// merge only wires next, rebuild prev and find the tail.
	var prev *ListNode
	for node := l.head; node != nil; node = node.next {
		node.prev = prev
		prev = node
	}
	l.tail = prev
}

func mergeSort(head *ListNode, cmp func(a, b any) int) *ListNode {
	if head == nil || head.next == nil {
		return head
	}
	slow, fast := head, head.next
	for fast != nil && fast.next != nil {
		slow = slow.next
		fast = fast.next.next
	}
	right := slow.next
	slow.next = nil

	left := mergeSort(head, cmp)
	right = mergeSort(right, cmp)

	var dummy ListNode
	last := &dummy
	for left != nil && right != nil {
		// <= keeps equal elements in their original order
		if cmp(left.data, right.data) <= 0 {
			last.next, left = left, left.next
		} else {
			last.next, right = right, right.next
		}
		last = last.next
	}
	if left != nil {
		last.next = left
	} else {
		last.next = right
	}
	return dummy.next
}

// Begin returns an iterator to the head.
func (l *List) Begin() ListIter {
	if l == nil {
		return ListIter{}
	}
	return ListIter{list: l, node: l.head}
}

// End returns an iterator to the tail (the last element, not past it).
func (l *List) End() ListIter {
	if l == nil {
		return ListIter{}
	}
	return ListIter{list: l, node: l.tail}
}

// Next returns an iterator to the following node.
func (it ListIter) Next() ListIter {
	if it.node == nil {
		return ListIter{}
	}
	return ListIter{list: it.list, node: it.node.next}
}

// Prev returns an iterator to the preceding node.
func (it ListIter) Prev() ListIter {
	if it.node == nil {
		return ListIter{}
	}
	return ListIter{list: it.list, node: it.node.prev}
}

// Data returns the payload of the referenced node.
func (it ListIter) Data() any {
	if it.node == nil {
		return nil
	}
	return it.node.data
}

// Valid reports whether it references a live node of its list.
func (it ListIter) Valid() bool {
	return it.list != nil && it.node != nil && it.node.list == it.list
}
