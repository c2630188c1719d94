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
	"github.com/bytedance/gopkg/lang/mcache"
)

const (
	// DefaultPoolSize is the floor for a pool's first block and the size of
	// every block appended later.
	DefaultPoolSize = 16 * 1024
	// MaxAllocFromPool is the largest request served from the block chain.
	// Anything bigger bypasses the chain.
	MaxAllocFromPool = DefaultPoolSize - 1
)

// Pool is a region allocator: sub-allocations are carved sequentially from a
// chain of blocks and are only released together by Destroy.
//
// A Pool has exactly one owner and is not safe for concurrent use.
type Pool struct {
	head  *poolBlock
	tail  *poolBlock
	large [][]byte // oversized allocations, released at Destroy
	dead  bool
}

type poolBlock struct {
	buf  []byte
	last int // cursor into buf
	next *poolBlock
}

func (b *poolBlock) avail() int {
	return len(b.buf) - b.last
}

// NewPool creates a pool whose first block holds at least size bytes.
func NewPool(size int) *Pool {
	if size < DefaultPoolSize {
		size = DefaultPoolSize
	}
	blk := newPoolBlock(size)
	return &Pool{head: blk, tail: blk}
}

func newPoolBlock(size int) *poolBlock {
	return &poolBlock{buf: mcache.Malloc(size)}
}

// Alloc returns size bytes of uninitialized memory owned by the pool,
// or nil if size is not positive or the pool has been destroyed.
func (p *Pool) Alloc(size int) []byte {
	if p == nil || p.dead || size <= 0 {
		return nil
	}
	if size > MaxAllocFromPool {
		buf := mcache.Malloc(size)
		p.large = append(p.large, buf)
		return buf[:size:size]
	}
	for b := p.head; b != nil; b = b.next {
		if b.avail() >= size {
			return b.take(size)
		}
	}
	blk := newPoolBlock(DefaultPoolSize)
	p.tail.next = blk
	p.tail = blk
	return blk.take(size)
}

func (b *poolBlock) take(size int) []byte {
	start := b.last
	b.last += size
	return b.buf[start:b.last:b.last]
}

// AllocZero is Alloc followed by zeroing the returned memory.
func (p *Pool) AllocZero(size int) []byte {
	buf := p.Alloc(size)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Dup copies data into the pool.
func (p *Pool) Dup(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	buf := p.Alloc(len(data))
	copy(buf, data)
	return buf
}

// Destroy releases every block and every oversized allocation.
// Memory handed out by the pool must not be used afterwards.
func (p *Pool) Destroy() {
	if p == nil || p.dead {
		return
	}
	for b := p.head; b != nil; {
		next := b.next
		mcache.Free(b.buf)
		b.buf, b.next = nil, nil
		b = next
	}
	for i := range p.large {
		mcache.Free(p.large[i])
		p.large[i] = nil
	}
	p.head, p.tail, p.large = nil, nil, nil
	p.dead = true
}

// Destroyed reports whether Destroy has run.
func (p *Pool) Destroyed() bool {
	return p == nil || p.dead
}

// Blocks returns the number of blocks in the chain.
func (p *Pool) Blocks() (n int) {
	if p == nil {
		return 0
	}
	for b := p.head; b != nil; b = b.next {
		n++
	}
	return n
}

// LargeAllocs returns the number of live oversized allocations.
func (p *Pool) LargeAllocs() int {
	if p == nil {
		return 0
	}
	return len(p.large)
}

// Used returns the bytes handed out from the block chain.
func (p *Pool) Used() (n int) {
	if p == nil {
		return 0
	}
	for b := p.head; b != nil; b = b.next {
		n += b.last
	}
	return n
}

// Size returns the capacity of the block chain plus oversized allocations.
func (p *Pool) Size() (n int) {
	if p == nil {
		return 0
	}
	for b := p.head; b != nil; b = b.next {
		n += len(b.buf)
	}
	for _, buf := range p.large {
		n += len(buf)
	}
	return n
}
