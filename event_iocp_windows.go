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

//go:build windows
// +build windows

package receptor

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/windows"
)

const defaultBackendName = "iocp"

func init() {
	RegisterBackend("iocp", func() (Backend, error) { return newIOCPBackend(), nil })
}

// wakeKey is the completion key posted by Wake; handle keys start at 1.
const wakeKey = 0

type iocpEntry struct {
	fd    uintptr
	read  *Event
	write *Event
}

// iocpBackend associates handles with one completion port. A completion
// packet carries no direction, so it is handed to the read event of the
// handle, or to its write event when no read event is registered.
type iocpBackend struct {
	port    atomic.Uintptr
	nextKey uintptr
	max     int // completions drained per Process
	keys    map[uintptr]uintptr // fd -> completion key
	entries map[uintptr]*iocpEntry
}

func newIOCPBackend() *iocpBackend {
	return &iocpBackend{max: defaultMaxEvents}
}

// SetMaxEvents bounds the completions handled by one Process.
func (b *iocpBackend) SetMaxEvents(n int) {
	if n > 0 {
		b.max = n
	}
}

func (b *iocpBackend) Name() string { return "iocp" }

func (b *iocpBackend) handle() windows.Handle {
	return windows.Handle(b.port.Load())
}

func (b *iocpBackend) Init() error {
	if b.handle() != 0 {
		return nil
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return fmt.Errorf("CreateIoCompletionPort: %w", err)
	}
	b.port.Store(uintptr(port))
	b.keys = make(map[uintptr]uintptr)
	b.entries = make(map[uintptr]*iocpEntry)
	return nil
}

func (b *iocpBackend) Add(ev *Event, kind EventKind, flags uint) error {
	port := b.handle()
	if port == 0 {
		return ErrReactorState
	}
	key, ok := b.keys[ev.FD]
	if !ok {
		b.nextKey++
		key = b.nextKey
		// a handle stays associated with the port until it is closed
		if _, err := windows.CreateIoCompletionPort(windows.Handle(ev.FD), port, key, 0); err != nil {
			return fmt.Errorf("associate handle %d: %w", ev.FD, err)
		}
		b.keys[ev.FD] = key
		b.entries[key] = &iocpEntry{fd: ev.FD}
	}
	entry := b.entries[key]
	if kind == WriteEvent {
		entry.write = ev
	} else {
		entry.read = ev
	}
	ev.Write = kind == WriteEvent
	ev.Active, ev.disabled = true, false
	return nil
}

func (b *iocpBackend) Del(ev *Event, kind EventKind, flags uint) error {
	if b.handle() == 0 {
		return ErrReactorState
	}
	ev.Active, ev.Ready = false, false
	key, ok := b.keys[ev.FD]
	if !ok {
		return nil
	}
	entry := b.entries[key]
	if kind == WriteEvent && entry.write == ev {
		entry.write = nil
	} else if kind == ReadEvent && entry.read == ev {
		entry.read = nil
	}
	return nil
}

func iocpTimeout(d time.Duration) uint32 {
	switch {
	case d < 0:
		return windows.INFINITE
	case d > 0 && d < time.Millisecond:
		return 1
	}
	return uint32(d / time.Millisecond)
}

func (b *iocpBackend) Process(timeout time.Duration) error {
	port := b.handle()
	if port == 0 {
		return ErrReactorState
	}
	wait := iocpTimeout(timeout)
	for i := 0; i < b.max; i++ {
		var (
			qty uint32
			key uintptr
			ov  *windows.Overlapped
		)
		err := windows.GetQueuedCompletionStatus(port, &qty, &key, &ov, wait)
		if err != nil {
			if err == windows.Errno(windows.WAIT_TIMEOUT) {
				return nil
			}
			if ov == nil {
				return fmt.Errorf("GetQueuedCompletionStatus: %w", err)
			}
			// failed I/O still completes its event
		}
		// only the first wait may block
		wait = 0
		if key == wakeKey {
			continue
		}
		entry := b.entries[key]
		if entry == nil {
			continue
		}
		ev := entry.read
		if ev == nil {
			ev = entry.write
		}
		if ev != nil && ev.Active {
			ev.Ready = true
			ev.handle()
		}
	}
	return nil
}

func (b *iocpBackend) Wake() error {
	port := b.handle()
	if port == 0 {
		return ErrReactorState
	}
	return windows.PostQueuedCompletionStatus(port, 0, wakeKey, nil)
}

func (b *iocpBackend) Done() error {
	port := windows.Handle(b.port.Swap(0))
	if port == 0 {
		return nil
	}
	for _, entry := range b.entries {
		if entry.read != nil {
			entry.read.Active = false
		}
		if entry.write != nil {
			entry.write.Active = false
		}
	}
	b.keys, b.entries = nil, nil
	if err := windows.CloseHandle(port); err != nil {
		return fmt.Errorf("close completion port: %w", err)
	}
	return nil
}
