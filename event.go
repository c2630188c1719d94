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
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// EventKind selects the interest an event is registered for.
type EventKind int

const (
	ReadEvent  EventKind = 1
	WriteEvent EventKind = 2
)

func (k EventKind) String() string {
	switch k {
	case ReadEvent:
		return "read"
	case WriteEvent:
		return "write"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one interest in one descriptor. It does not own Data.
type Event struct {
	FD      uintptr
	Data    any
	Handler func(ev *Event)

	Write  bool // registered for write interest
	Active bool // registered with a backend
	Ready  bool // the backend reported readiness

	disabled bool
}

func (ev *Event) handle() {
	if ev.Handler != nil {
		ev.Handler(ev)
	}
}

// Backend is a concrete I/O multiplexing strategy.
//
// Init is called once before any Add. Process runs a single
// poll-and-dispatch iteration: it blocks at most timeout (negative blocks
// until something happens), invokes the handler of every ready event on the
// calling goroutine, and returns an error only when the native wait failed
// for good. A timeout with no events is not an error.
type Backend interface {
	Name() string
	Init() error
	Add(ev *Event, kind EventKind, flags uint) error
	Del(ev *Event, kind EventKind, flags uint) error
	Process(timeout time.Duration) error
	Done() error
}

// Toggler is implemented by backends that can pause an interest without
// dropping its registration.
type Toggler interface {
	Enable(ev *Event, kind EventKind, flags uint) error
	Disable(ev *Event, kind EventKind, flags uint) error
}

// Waker is implemented by backends whose Process can be interrupted from
// another goroutine.
type Waker interface {
	Wake() error
}

// BackendOpener creates an unconfigured backend.
type BackendOpener func() (Backend, error)

var backends = struct {
	sync.RWMutex
	m map[string]BackendOpener
}{m: map[string]BackendOpener{}}

// RegisterBackend makes a backend available under name, replacing any
// previous registration with that name.
func RegisterBackend(name string, open BackendOpener) {
	if name == "" || open == nil {
		panic("receptor: RegisterBackend with empty name or nil opener")
	}
	backends.Lock()
	backends.m[name] = open
	backends.Unlock()
}

func lookupBackend(name string) (BackendOpener, bool) {
	backends.RLock()
	open, ok := backends.m[name]
	backends.RUnlock()
	return open, ok
}

// OpenBackend creates the backend registered as name. An empty name selects
// the configured default, then the platform default.
func OpenBackend(name string) (Backend, error) {
	if name == "" {
		name = defaultBackend
	}
	if name == "" {
		name = DefaultBackendName()
	}
	open, ok := lookupBackend(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return open()
}

// DefaultBackendName is the backend this platform uses when nothing is
// configured: epoll on linux, kqueue on the BSDs, iocp on windows and the
// portable select backend elsewhere.
func DefaultBackendName() string { return defaultBackendName }

// Backends returns the registered backend names in order.
func Backends() []string {
	backends.RLock()
	names := make([]string, 0, len(backends.m))
	for name := range backends.m {
		names = append(names, name)
	}
	backends.RUnlock()
	sort.Strings(names)
	return names
}

// ReactorState is the lifecycle position of a Reactor.
type ReactorState int32

const (
	Unconfigured ReactorState = iota
	Configured
	Running
	Stopped
)

func (s ReactorState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("ReactorState(%d)", int32(s))
}

// Reactor is the backend-agnostic event facade. It delegates to exactly one
// Backend at a time. Apart from Wake it must only be used from the goroutine
// that calls Process.
type Reactor struct {
	// mu orders backend and state changes against Wake. The owning
	// goroutine reads both without it.
	mu      sync.RWMutex
	backend Backend
	state   ReactorState
	timeout time.Duration
	posted  *queue.Queue
	log     *zap.Logger
}

// NewReactor creates an unconfigured reactor.
func NewReactor() *Reactor {
	return &Reactor{
		timeout: defaultEventTimeout,
		posted:  queue.New(),
		log:     logger,
	}
}

// SetLogger replaces the reactor's logger.
func (r *Reactor) SetLogger(l *zap.Logger) {
	if l != nil {
		r.log = l
	}
}

// SetTimeout bounds a single Process call, negative blocks until an event.
func (r *Reactor) SetTimeout(d time.Duration) { r.timeout = d }

// Timeout returns the Process bound.
func (r *Reactor) Timeout() time.Duration { return r.timeout }

// State returns the lifecycle state.
func (r *Reactor) State() ReactorState { return r.state }

// Backend returns the active backend, or nil.
func (r *Reactor) Backend() Backend { return r.backend }

// SetBackend replaces the active backend wholesale. A running backend that
// gets replaced is shut down first.
func (r *Reactor) SetBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.backend; old != nil && old != b && r.state == Running {
		if err := old.Done(); err != nil {
			r.log.Warn("replaced backend shutdown failed", zap.String("backend", old.Name()), zap.Error(err))
		}
		r.log.Info("event backend replaced", zap.String("old", old.Name()), zap.String("new", backendName(b)))
	}
	r.backend = b
	if b == nil {
		r.state = Unconfigured
		return
	}
	r.state = Configured
}

func backendName(b Backend) string {
	if b == nil {
		return "none"
	}
	return b.Name()
}

// Init initializes the active backend.
func (r *Reactor) Init() error {
	if r.backend == nil {
		return ErrNoBackend
	}
	if r.state == Running {
		return nil
	}
	if err := r.backend.Init(); err != nil {
		return fmt.Errorf("event backend %s init: %w", r.backend.Name(), err)
	}
	r.mu.Lock()
	r.state = Running
	r.mu.Unlock()
	r.log.Debug("event backend running", zap.String("backend", r.backend.Name()))
	return nil
}

func (r *Reactor) check() error {
	if r.backend == nil {
		return ErrNoBackend
	}
	if r.state != Running {
		return fmt.Errorf("%w: %s", ErrReactorState, r.state)
	}
	return nil
}

func checkKind(kind EventKind) error {
	if kind != ReadEvent && kind != WriteEvent {
		return fmt.Errorf("%w: event kind %d", ErrInvalidArgument, int(kind))
	}
	return nil
}

// Add registers ev for kind with the backend.
func (r *Reactor) Add(ev *Event, kind EventKind, flags uint) error {
	if err := r.check(); err != nil {
		return err
	}
	if ev == nil {
		return ErrInvalidArgument
	}
	if err := checkKind(kind); err != nil {
		return err
	}
	return r.backend.Add(ev, kind, flags)
}

// Del removes the kind interest of ev from the backend.
func (r *Reactor) Del(ev *Event, kind EventKind, flags uint) error {
	if err := r.check(); err != nil {
		return err
	}
	if ev == nil {
		return ErrInvalidArgument
	}
	if err := checkKind(kind); err != nil {
		return err
	}
	return r.backend.Del(ev, kind, flags)
}

// Enable resumes a disabled interest. Backends without Toggler report
// ErrNotSupported.
func (r *Reactor) Enable(ev *Event, kind EventKind, flags uint) error {
	if err := r.check(); err != nil {
		return err
	}
	t, ok := r.backend.(Toggler)
	if !ok {
		return fmt.Errorf("%w: %s enable", ErrNotSupported, r.backend.Name())
	}
	if ev == nil {
		return ErrInvalidArgument
	}
	return t.Enable(ev, kind, flags)
}

// Disable pauses an interest without removing it.
func (r *Reactor) Disable(ev *Event, kind EventKind, flags uint) error {
	if err := r.check(); err != nil {
		return err
	}
	t, ok := r.backend.(Toggler)
	if !ok {
		return fmt.Errorf("%w: %s disable", ErrNotSupported, r.backend.Name())
	}
	if ev == nil {
		return ErrInvalidArgument
	}
	return t.Disable(ev, kind, flags)
}

// Post queues ev to be handled after the next backend iteration.
// Posted events are handled in FIFO order.
func (r *Reactor) Post(ev *Event) {
	if ev != nil {
		r.posted.Add(ev)
	}
}

// Posted returns the number of queued events.
func (r *Reactor) Posted() int { return r.posted.Length() }

// Process runs one backend iteration, then drains posted events.
// Without a backend it fails immediately.
func (r *Reactor) Process() error {
	if err := r.check(); err != nil {
		return err
	}
	timeout := r.timeout
	if r.posted.Length() > 0 {
		timeout = 0
	}
	if err := r.backend.Process(timeout); err != nil {
		return fmt.Errorf("event backend %s process: %w", r.backend.Name(), err)
	}
	// events posted by posted handlers wait for the next iteration
	for n := r.posted.Length(); n > 0; n-- {
		r.posted.Remove().(*Event).handle()
	}
	return nil
}

// Wake interrupts a blocked Process. It is safe to call from any goroutine.
func (r *Reactor) Wake() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := r.backend
	if b == nil {
		return ErrNoBackend
	}
	if r.state != Running {
		return fmt.Errorf("%w: %s", ErrReactorState, r.state)
	}
	w, ok := b.(Waker)
	if !ok {
		return fmt.Errorf("%w: %s wake", ErrNotSupported, b.Name())
	}
	return w.Wake()
}

// Done tears the backend down.
func (r *Reactor) Done() error {
	if r.backend == nil {
		return ErrNoBackend
	}
	if r.state != Running {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Stopped
	for r.posted.Length() > 0 {
		r.posted.Remove()
	}
	if err := r.backend.Done(); err != nil {
		return fmt.Errorf("event backend %s done: %w", r.backend.Name(), err)
	}
	r.log.Debug("event backend stopped", zap.String("backend", r.backend.Name()))
	return nil
}
