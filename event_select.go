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
	"time"
)

// selectSlice is the longest the portable backend sleeps per iteration.
const selectSlice = 100 * time.Millisecond

func init() {
	RegisterBackend("select", func() (Backend, error) { return newSelectBackend(), nil })
}

// selectBackend is the portable fallback. It cannot query the OS, so it
// dispatches events whose Ready flag was raised by their owner and
// otherwise sleeps for a fixed slice or until woken.
type selectBackend struct {
	events []*Event
	wake   chan struct{}
	inited bool
}

func newSelectBackend() *selectBackend {
	return &selectBackend{wake: make(chan struct{}, 1)}
}

func (b *selectBackend) Name() string { return "select" }

func (b *selectBackend) Init() error {
	b.inited = true
	return nil
}

func (b *selectBackend) Add(ev *Event, kind EventKind, flags uint) error {
	if !b.inited {
		return ErrReactorState
	}
	ev.Write = kind == WriteEvent
	ev.disabled = false
	if !ev.Active {
		ev.Active = true
		b.events = append(b.events, ev)
	}
	return nil
}

func (b *selectBackend) Del(ev *Event, kind EventKind, flags uint) error {
	for i, e := range b.events {
		if e == ev {
			b.events = append(b.events[:i], b.events[i+1:]...)
			break
		}
	}
	ev.Active = false
	return nil
}

func (b *selectBackend) Enable(ev *Event, kind EventKind, flags uint) error {
	ev.disabled = false
	return nil
}

func (b *selectBackend) Disable(ev *Event, kind EventKind, flags uint) error {
	ev.disabled = true
	return nil
}

func (b *selectBackend) ready() []*Event {
	var ready []*Event
	for _, ev := range b.events {
		if ev.Ready && !ev.disabled {
			ready = append(ready, ev)
		}
	}
	return ready
}

func (b *selectBackend) Process(timeout time.Duration) error {
	ready := b.ready()
	if len(ready) == 0 {
		if timeout < 0 || timeout > selectSlice {
			timeout = selectSlice
		}
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			select {
			case <-timer.C:
			case <-b.wake:
				timer.Stop()
			}
		}
		ready = b.ready()
	}
	for _, ev := range ready {
		if !ev.Active {
			continue // deleted by an earlier handler
		}
		ev.handle()
		ev.Ready = false
	}
	return nil
}

func (b *selectBackend) Wake() error {
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *selectBackend) Done() error {
	for _, ev := range b.events {
		ev.Active = false
	}
	b.events = nil
	b.inited = false
	return nil
}
