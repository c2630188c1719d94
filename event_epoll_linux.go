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

//go:build linux
// +build linux

package receptor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const defaultBackendName = "epoll"

func init() {
	RegisterBackend("epoll", func() (Backend, error) { return newEpollBackend(), nil })
}

const (
	epollRead  = unix.EPOLLIN | unix.EPOLLRDHUP
	epollWrite = unix.EPOLLOUT
	// readiness delivered to the read side besides EPOLLIN
	epollReadErr  = unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLRDHUP
	epollWriteErr = unix.EPOLLHUP | unix.EPOLLERR
)

// epollBackend keeps one read and one write event per descriptor and
// registers their union with the kernel.
type epollBackend struct {
	epfd   int
	wfd    atomic.Int32 // eventfd used by Wake, -1 when closed
	events []unix.EpollEvent
	max    int // events fetched per wait
	reads  map[int]*Event
	writes map[int]*Event
	kernel map[int]uint32 // interest mask the kernel currently holds
	buf    [8]byte
}

func newEpollBackend() *epollBackend {
	b := &epollBackend{epfd: -1, max: defaultMaxEvents}
	b.wfd.Store(-1)
	return b
}

// SetMaxEvents sizes the wait buffer of the next Init.
func (b *epollBackend) SetMaxEvents(n int) {
	if n > 0 {
		b.max = n
	}
}

func (b *epollBackend) Name() string { return "epoll" }

func (b *epollBackend) Init() error {
	if b.epfd >= 0 {
		return nil
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		_ = unix.Close(wfd)
		_ = unix.Close(epfd)
		return fmt.Errorf("epoll_ctl wake fd: %w", err)
	}
	b.epfd = epfd
	b.wfd.Store(int32(wfd))
	b.events = make([]unix.EpollEvent, b.max)
	b.reads = make(map[int]*Event)
	b.writes = make(map[int]*Event)
	b.kernel = make(map[int]uint32)
	return nil
}

// interest computes the mask fd should have from the enabled events.
func (b *epollBackend) interest(fd int) (mask uint32) {
	if ev := b.reads[fd]; ev != nil && !ev.disabled {
		mask |= epollRead
	}
	if ev := b.writes[fd]; ev != nil && !ev.disabled {
		mask |= epollWrite
	}
	return mask
}

// sync pushes the interest mask of fd to the kernel.
func (b *epollBackend) sync(fd int) error {
	old, want := b.kernel[fd], b.interest(fd)
	if old == want {
		return nil
	}
	var op int
	switch {
	case old == 0:
		op = unix.EPOLL_CTL_ADD
	case want == 0:
		op = unix.EPOLL_CTL_DEL
	default:
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: want, Fd: int32(fd)}
	err := unix.EpollCtl(b.epfd, op, fd, &ev)
	if op == unix.EPOLL_CTL_DEL && (errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT)) {
		// closed descriptors leave the epoll set on their own
		err = nil
	}
	if err != nil {
		return fmt.Errorf("epoll_ctl fd=%d mask=%#x: %w", fd, want, err)
	}
	if want == 0 {
		delete(b.kernel, fd)
	} else {
		b.kernel[fd] = want
	}
	return nil
}

func (b *epollBackend) table(kind EventKind) map[int]*Event {
	if kind == WriteEvent {
		return b.writes
	}
	return b.reads
}

func (b *epollBackend) Add(ev *Event, kind EventKind, flags uint) error {
	if b.epfd < 0 {
		return ErrReactorState
	}
	fd := int(ev.FD)
	table := b.table(kind)
	prev, prevDisabled := table[fd], ev.disabled
	table[fd] = ev
	ev.disabled = false
	if err := b.sync(fd); err != nil {
		if prev == nil {
			delete(table, fd)
		} else {
			table[fd] = prev
		}
		ev.disabled = prevDisabled
		return err
	}
	if prev != nil && prev != ev {
		prev.Active = false
	}
	ev.Write = kind == WriteEvent
	ev.Active = true
	return nil
}

func (b *epollBackend) Del(ev *Event, kind EventKind, flags uint) error {
	if b.epfd < 0 {
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
	return b.sync(fd)
}

func (b *epollBackend) toggle(ev *Event, kind EventKind, disabled bool) error {
	if b.epfd < 0 {
		return ErrReactorState
	}
	fd := int(ev.FD)
	if b.table(kind)[fd] != ev {
		return fmt.Errorf("%w: fd %d has no %s event", ErrInvalidArgument, fd, kind)
	}
	prev := ev.disabled
	ev.disabled = disabled
	if err := b.sync(fd); err != nil {
		ev.disabled = prev
		return err
	}
	return nil
}

func (b *epollBackend) Enable(ev *Event, kind EventKind, flags uint) error {
	return b.toggle(ev, kind, false)
}

func (b *epollBackend) Disable(ev *Event, kind EventKind, flags uint) error {
	return b.toggle(ev, kind, true)
}

func epollTimeout(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	case d < time.Millisecond:
		return 1
	}
	return int(d / time.Millisecond)
}

func (b *epollBackend) Process(timeout time.Duration) error {
	if b.epfd < 0 {
		return ErrReactorState
	}
	events := b.events
	n, err := unix.EpollWait(b.epfd, events, epollTimeout(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}
	wfd := int(b.wfd.Load())
	for i := 0; i < n; i++ {
		fd, bits := int(events[i].Fd), events[i].Events
		if fd == wfd {
			_, _ = unix.Read(wfd, b.buf[:])
			continue
		}
		if bits&(unix.EPOLLIN|epollReadErr) != 0 {
			if ev := b.reads[fd]; ev != nil && !ev.disabled {
				ev.Ready = true
				ev.handle()
			}
		}
		// the read handler may have removed the write side
		if bits&(epollWrite|epollWriteErr) != 0 {
			if ev := b.writes[fd]; ev != nil && !ev.disabled {
				ev.Ready = true
				ev.handle()
			}
		}
	}
	return nil
}

func (b *epollBackend) Wake() error {
	wfd := int(b.wfd.Load())
	if wfd < 0 {
		return ErrReactorState
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(wfd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (b *epollBackend) Done() error {
	if b.epfd < 0 {
		return nil
	}
	for _, ev := range b.reads {
		ev.Active = false
	}
	for _, ev := range b.writes {
		ev.Active = false
	}
	b.reads, b.writes, b.kernel, b.events = nil, nil, nil, nil
	var err error
	if e := unix.Close(int(b.wfd.Swap(-1))); e != nil {
		err = multierr.Append(err, fmt.Errorf("close eventfd: %w", e))
	}
	if e := unix.Close(b.epfd); e != nil {
		err = multierr.Append(err, fmt.Errorf("close epoll fd: %w", e))
	}
	b.epfd = -1
	return err
}
