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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly
// +build darwin netbsd freebsd openbsd dragonfly

package receptor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const defaultBackendName = "kqueue"

func init() {
	RegisterBackend("kqueue", func() (Backend, error) { return newKqueueBackend(), nil })
}

// kqueueBackend maps read and write interests onto EVFILT_READ and
// EVFILT_WRITE filters. A pipe registered for read wakes a blocked Kevent.
type kqueueBackend struct {
	kq     int
	rfd    int          // read end of the wake pipe
	wfd    atomic.Int32 // write end used by Wake, -1 when closed
	events []unix.Kevent_t
	max    int // events fetched per wait
	reads  map[int]*Event
	writes map[int]*Event
	buf    [64]byte
}

func newKqueueBackend() *kqueueBackend {
	b := &kqueueBackend{kq: -1, rfd: -1, max: defaultMaxEvents}
	b.wfd.Store(-1)
	return b
}

// SetMaxEvents sizes the wait buffer of the next Init.
func (b *kqueueBackend) SetMaxEvents(n int) {
	if n > 0 {
		b.max = n
	}
}

func (b *kqueueBackend) Name() string { return "kqueue" }

func (b *kqueueBackend) Init() error {
	if b.kq >= 0 {
		return nil
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return fmt.Errorf("kqueue: %w", err)
	}
	unix.CloseOnExec(kq)
	var p [2]int
	if err = unix.Pipe(p[:]); err != nil {
		_ = unix.Close(kq)
		return fmt.Errorf("wake pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		_ = unix.SetNonblock(fd, true)
	}
	change := make([]unix.Kevent_t, 1)
	unix.SetKevent(&change[0], p[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err = unix.Kevent(kq, change, nil, nil); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		_ = unix.Close(kq)
		return fmt.Errorf("kevent wake pipe: %w", err)
	}
	b.kq, b.rfd = kq, p[0]
	b.wfd.Store(int32(p[1]))
	b.events = make([]unix.Kevent_t, b.max)
	b.reads = make(map[int]*Event)
	b.writes = make(map[int]*Event)
	return nil
}

func kqueueFilter(kind EventKind) int {
	if kind == WriteEvent {
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_READ
}

func (b *kqueueBackend) table(kind EventKind) map[int]*Event {
	if kind == WriteEvent {
		return b.writes
	}
	return b.reads
}

func (b *kqueueBackend) control(fd int, kind EventKind, flags int) error {
	change := make([]unix.Kevent_t, 1)
	unix.SetKevent(&change[0], fd, kqueueFilter(kind), flags)
	_, err := unix.Kevent(b.kq, change, nil, nil)
	return err
}

func (b *kqueueBackend) Add(ev *Event, kind EventKind, flags uint) error {
	if b.kq < 0 {
		return ErrReactorState
	}
	fd := int(ev.FD)
	if err := b.control(fd, kind, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return fmt.Errorf("kevent add fd=%d %s: %w", fd, kind, err)
	}
	table := b.table(kind)
	if prev := table[fd]; prev != nil && prev != ev {
		prev.Active = false
	}
	table[fd] = ev
	ev.Write = kind == WriteEvent
	ev.Active, ev.disabled = true, false
	return nil
}

func (b *kqueueBackend) Del(ev *Event, kind EventKind, flags uint) error {
	if b.kq < 0 {
		return ErrReactorState
	}
	fd := int(ev.FD)
	table := b.table(kind)
	if table[fd] != ev {
		ev.Active = false
		return nil
	}
	delete(table, fd)
	ev.Active, ev.Ready = false, false
	err := b.control(fd, kind, unix.EV_DELETE)
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("kevent delete fd=%d %s: %w", fd, kind, err)
	}
	return nil
}

func (b *kqueueBackend) toggle(ev *Event, kind EventKind, disabled bool) error {
	if b.kq < 0 {
		return ErrReactorState
	}
	fd := int(ev.FD)
	if b.table(kind)[fd] != ev {
		return fmt.Errorf("%w: fd %d has no %s event", ErrInvalidArgument, fd, kind)
	}
	flags := unix.EV_ENABLE
	if disabled {
		flags = unix.EV_DISABLE
	}
	if err := b.control(fd, kind, flags); err != nil {
		return fmt.Errorf("kevent toggle fd=%d %s: %w", fd, kind, err)
	}
	ev.disabled = disabled
	return nil
}

func (b *kqueueBackend) Enable(ev *Event, kind EventKind, flags uint) error {
	return b.toggle(ev, kind, false)
}

func (b *kqueueBackend) Disable(ev *Event, kind EventKind, flags uint) error {
	return b.toggle(ev, kind, true)
}

func (b *kqueueBackend) Process(timeout time.Duration) error {
	if b.kq < 0 {
		return ErrReactorState
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	events := b.events
	n, err := unix.Kevent(b.kq, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("kevent wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		if fd == b.rfd {
			for {
				if m, _ := unix.Read(fd, b.buf[:]); m <= 0 {
					break
				}
			}
			continue
		}
		var ev *Event
		switch events[i].Filter {
		case unix.EVFILT_READ:
			ev = b.reads[fd]
		case unix.EVFILT_WRITE:
			ev = b.writes[fd]
		}
		if ev != nil && !ev.disabled {
			ev.Ready = true
			ev.handle()
		}
	}
	return nil
}

func (b *kqueueBackend) Wake() error {
	fd := int(b.wfd.Load())
	if fd < 0 {
		return ErrReactorState
	}
	if _, err := unix.Write(fd, []byte{1}); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("wake pipe write: %w", err)
	}
	return nil
}

func (b *kqueueBackend) Done() error {
	if b.kq < 0 {
		return nil
	}
	for _, ev := range b.reads {
		ev.Active = false
	}
	for _, ev := range b.writes {
		ev.Active = false
	}
	b.reads, b.writes, b.events = nil, nil, nil
	var err error
	for _, fd := range []int{int(b.wfd.Swap(-1)), b.rfd, b.kq} {
		if e := unix.Close(fd); e != nil {
			err = multierr.Append(err, e)
		}
	}
	b.kq, b.rfd = -1, -1
	return err
}
