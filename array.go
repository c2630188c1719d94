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
	"sort"
)

const arrayDefaultCapacity = 16

// Array is a contiguous, pool-backed sequence of fixed-size byte slots.
// It is the type-erased counterpart of a []T where the element size is given
// at creation. Growth always moves the elements into fresh pool memory; the
// old storage stays with the pool until it is destroyed.
type Array struct {
	elts   []byte
	nelts  int
	size   int
	nalloc int
	pool   *Pool
}

// NewArray creates an array of n slots (16 when n is 0) of size bytes each.
func NewArray(pool *Pool, n, size int) (*Array, error) {
	if pool == nil || size <= 0 || n < 0 {
		return nil, fmt.Errorf("%w: array pool=%v size=%d n=%d", ErrInvalidArgument, pool != nil, size, n)
	}
	if n == 0 {
		n = arrayDefaultCapacity
	}
	elts := pool.Alloc(n * size)
	if elts == nil {
		return nil, ErrPoolDestroyed
	}
	return &Array{elts: elts, size: size, nalloc: n, pool: pool}, nil
}

// Len returns the number of elements.
func (a *Array) Len() int { return a.nelts }

// Cap returns the number of allocated slots.
func (a *Array) Cap() int { return a.nalloc }

// Size returns the element size in bytes.
func (a *Array) Size() int { return a.size }

// Pool returns the owning pool.
func (a *Array) Pool() *Pool { return a.pool }

func (a *Array) slot(i int) []byte {
	off := i * a.size
	return a.elts[off : off+a.size : off+a.size]
}

// grow moves the elements into storage for at least want slots.
func (a *Array) grow(want int) bool {
	nalloc := a.nalloc
	if nalloc < arrayDefaultCapacity {
		nalloc = arrayDefaultCapacity
	}
	for nalloc < want {
		nalloc <<= 1
	}
	elts := a.pool.Alloc(nalloc * a.size)
	if elts == nil {
		return false
	}
	copy(elts, a.elts[:a.nelts*a.size])
	a.elts, a.nalloc = elts, nalloc
	return true
}

// Push appends one uninitialized slot and returns it, or nil if the array
// could not grow.
func (a *Array) Push() []byte {
	if a == nil {
		return nil
	}
	if a.nelts >= a.nalloc && !a.grow(a.nalloc*2) {
		return nil
	}
	a.nelts++
	return a.slot(a.nelts - 1)
}

// PushN appends n contiguous uninitialized slots and returns them as one slice.
func (a *Array) PushN(n int) []byte {
	if a == nil || n <= 0 {
		return nil
	}
	if a.nelts+n > a.nalloc && !a.grow(a.nelts+n) {
		return nil
	}
	off := a.nelts * a.size
	a.nelts += n
	end := a.nelts * a.size
	return a.elts[off:end:end]
}

// Pop removes the last element and returns its slot, or nil when empty.
// The slot stays valid until the next push.
func (a *Array) Pop() []byte {
	if a == nil || a.nelts == 0 {
		return nil
	}
	a.nelts--
	return a.slot(a.nelts)
}

// Get returns the slot at index i, or nil when out of range.
func (a *Array) Get(i int) []byte {
	if a == nil || i < 0 || i >= a.nelts {
		return nil
	}
	return a.slot(i)
}

// Set copies Size() bytes of value into slot i.
func (a *Array) Set(i int, value []byte) error {
	if a == nil || i < 0 || i >= a.nelts {
		return ErrOutOfRange
	}
	if len(value) < a.size {
		return fmt.Errorf("%w: value has %d bytes, element has %d", ErrInvalidArgument, len(value), a.size)
	}
	copy(a.slot(i), value)
	return nil
}

// Insert places value at index i, shifting the tail right. i may equal Len.
func (a *Array) Insert(i int, value []byte) error {
	if a == nil || i < 0 || i > a.nelts {
		return ErrOutOfRange
	}
	if len(value) < a.size {
		return fmt.Errorf("%w: value has %d bytes, element has %d", ErrInvalidArgument, len(value), a.size)
	}
	if a.Push() == nil {
		return ErrPoolDestroyed
	}
	off := i * a.size
	copy(a.elts[off+a.size:a.nelts*a.size], a.elts[off:(a.nelts-1)*a.size])
	copy(a.slot(i), value)
	return nil
}

// Delete removes the element at index i, keeping the order of the rest.
func (a *Array) Delete(i int) error {
	if a == nil || i < 0 || i >= a.nelts {
		return ErrOutOfRange
	}
	off := i * a.size
	copy(a.elts[off:], a.elts[off+a.size:a.nelts*a.size])
	a.nelts--
	return nil
}

// Clear drops all elements; the storage is kept.
func (a *Array) Clear() {
	if a != nil {
		a.nelts = 0
	}
}

// Destroy detaches the array from its storage. The memory itself is
// reclaimed with the pool.
func (a *Array) Destroy() {
	if a != nil {
		a.elts, a.nelts, a.nalloc = nil, 0, 0
	}
}

// Sort orders the elements in place with cmp, which returns a negative,
// zero or positive number like bytes.Compare.
func (a *Array) Sort(cmp func(x, y []byte) int) {
	if a == nil || a.nelts < 2 || cmp == nil {
		return
	}
	sort.Sort(&arraySorter{a: a, cmp: cmp, tmp: make([]byte, a.size)})
}

type arraySorter struct {
	a   *Array
	cmp func(x, y []byte) int
	tmp []byte
}

func (s *arraySorter) Len() int           { return s.a.nelts }
func (s *arraySorter) Less(i, j int) bool { return s.cmp(s.a.slot(i), s.a.slot(j)) < 0 }
func (s *arraySorter) Swap(i, j int) {
	x, y := s.a.slot(i), s.a.slot(j)
	copy(s.tmp, x)
	copy(x, y)
	copy(y, s.tmp)
}

// Find returns the first slot for which cmp(slot, key) == 0, or nil.
func (a *Array) Find(key []byte, cmp func(elt, key []byte) int) []byte {
	if a == nil || key == nil || cmp == nil {
		return nil
	}
	for i := 0; i < a.nelts; i++ {
		if elt := a.slot(i); cmp(elt, key) == 0 {
			return elt
		}
	}
	return nil
}

// ForEach calls fn for every element in order.
func (a *Array) ForEach(fn func(elt []byte)) {
	if a == nil || fn == nil {
		return
	}
	for i := 0; i < a.nelts; i++ {
		fn(a.slot(i))
	}
}
