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
	"bytes"
	"encoding/binary"
	"testing"
)

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func getU64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func TestArrayPushGrows(t *testing.T) {
	p := NewPool(0)
	defer p.Destroy()

	a, err := NewArray(p, 2, 8)
	MustNil(t, err)
	Equal(t, a.Cap(), 2)
	for i := uint64(1); i <= 3; i++ {
		slot := a.Push()
		MustTrue(t, slot != nil)
		copy(slot, u64(i*10))
	}
	Equal(t, a.Len(), 3)
	MustTrue(t, a.Cap() >= 4)
	for i := 0; i < 3; i++ {
		Equal(t, getU64(a.Get(i)), uint64(i+1)*10)
	}
	MustTrue(t, a.Get(3) == nil)
	MustTrue(t, a.Get(-1) == nil)
}

func TestArrayDefaults(t *testing.T) {
	p := NewPool(0)
	defer p.Destroy()

	a, err := NewArray(p, 0, 4)
	MustNil(t, err)
	Equal(t, a.Cap(), arrayDefaultCapacity)
	Equal(t, a.Size(), 4)
	MustTrue(t, a.Pool() == p)

	_, err = NewArray(nil, 1, 4)
	MustErr(t, err, ErrInvalidArgument)
	_, err = NewArray(p, 1, 0)
	MustErr(t, err, ErrInvalidArgument)
}

func TestArrayPushN(t *testing.T) {
	p := NewPool(0)
	defer p.Destroy()

	a, err := NewArray(p, 1, 8)
	MustNil(t, err)
	copy(a.Push(), u64(7))
	block := a.PushN(40)
	Equal(t, len(block), 40*8)
	Equal(t, a.Len(), 41)
	MustTrue(t, a.Cap() >= 41)
	Equal(t, getU64(a.Get(0)), uint64(7))
	MustTrue(t, a.PushN(0) == nil)
}

func TestArrayPopClearDestroy(t *testing.T) {
	p := NewPool(0)
	defer p.Destroy()

	a, _ := NewArray(p, 4, 8)
	MustTrue(t, a.Pop() == nil)
	copy(a.Push(), u64(1))
	copy(a.Push(), u64(2))
	Equal(t, getU64(a.Pop()), uint64(2))
	Equal(t, a.Len(), 1)

	a.Clear()
	Equal(t, a.Len(), 0)
	Equal(t, a.Cap(), 4)

	a.Destroy()
	Equal(t, a.Cap(), 0)
	// a destroyed array may be reused while its pool lives
	MustTrue(t, a.Push() != nil)
	Equal(t, a.Len(), 1)
}

func TestArrayInsertDelete(t *testing.T) {
	p := NewPool(0)
	defer p.Destroy()

	a, _ := NewArray(p, 2, 8)
	MustNil(t, a.Insert(0, u64(2)))
	MustNil(t, a.Insert(0, u64(1)))
	MustNil(t, a.Insert(2, u64(4)))
	MustNil(t, a.Insert(2, u64(3)))
	MustErr(t, a.Insert(9, u64(9)), ErrOutOfRange)
	MustErr(t, a.Insert(0, []byte{1}), ErrInvalidArgument)
	Equal(t, a.Len(), 4)
	for i := 0; i < 4; i++ {
		Equal(t, getU64(a.Get(i)), uint64(i+1))
	}

	MustNil(t, a.Delete(1))
	Equal(t, a.Len(), 3)
	Equal(t, getU64(a.Get(0)), uint64(1))
	Equal(t, getU64(a.Get(1)), uint64(3))
	Equal(t, getU64(a.Get(2)), uint64(4))
	MustErr(t, a.Delete(3), ErrOutOfRange)

	MustNil(t, a.Set(2, u64(5)))
	Equal(t, getU64(a.Get(2)), uint64(5))
	MustErr(t, a.Set(3, u64(5)), ErrOutOfRange)
}

func TestArraySortFindForEach(t *testing.T) {
	p := NewPool(0)
	defer p.Destroy()

	a, _ := NewArray(p, 0, 8)
	for _, v := range []uint64{5, 3, 9, 1, 7} {
		copy(a.Push(), u64(v))
	}
	cmp := func(x, y []byte) int {
		vx, vy := getU64(x), getU64(y)
		switch {
		case vx < vy:
			return -1
		case vx > vy:
			return 1
		}
		return 0
	}
	a.Sort(cmp)
	var got []uint64
	a.ForEach(func(elt []byte) { got = append(got, getU64(elt)) })
	Equal(t, len(got), 5)
	for i, v := range []uint64{1, 3, 5, 7, 9} {
		Equal(t, got[i], v)
	}

	MustTrue(t, bytes.Equal(a.Find(u64(7), cmp), u64(7)))
	MustTrue(t, a.Find(u64(8), cmp) == nil)
}
