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
	"encoding/binary"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
)

// Version returns the semantic version.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", versionMajor, versionMinor, versionPatch)
}

// VersionString returns the version prefixed with the product name.
func VersionString() string { return "receptor/" + Version() }

// VersionNumber packs the version as major<<16 | minor<<8 | patch.
func VersionNumber() uint32 {
	return versionMajor<<16 | versionMinor<<8 | versionPatch
}

const (
	runtimePoolSize = 16 * 1024
	// registry handles are int32 indexes into Runtime.table
	handleSize = 4
)

// Runtime owns the module registry, the last error and the runtime arena.
// Independent runtimes can coexist in one process.
type Runtime struct {
	pool  *Pool
	table []*Module // handle -> module
	order *Array    // handles in registration order

	log           *zap.Logger
	level         zap.AtomicLevel
	backend       string
	streamHandler StreamHandler

	mu         sync.Mutex
	errMsg     string
	lastStatus Status

	sigMu   sync.Mutex
	signals []*signalWatch

	initialized bool
}

// New creates a runtime and registers the builtin modules.
func New(opts ...Option) (*Runtime, error) {
	o := &options{builtin: true}
	for _, opt := range opts {
		opt.f(o)
	}
	rt := &Runtime{
		level:         zap.NewAtomicLevelAt(loggerLevel),
		backend:       o.backend,
		streamHandler: o.streamHandler,
	}
	if o.logger != nil {
		rt.log = o.logger
	} else {
		rt.log = newLogger(loggerOutput, rt.level)
	}
	if rt.streamHandler == nil {
		rt.streamHandler = EchoHandler
	}
	if rt.backend != "" {
		if _, ok := lookupBackend(rt.backend); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, rt.backend)
		}
	}

	rt.pool = NewPool(runtimePoolSize)
	order, err := NewArray(rt.pool, 10, handleSize)
	if err != nil {
		rt.pool.Destroy()
		return nil, fmt.Errorf("create module registry: %w", err)
	}
	rt.order = order
	rt.initialized = true

	signal.Ignore(syscall.SIGPIPE)

	var mods []*Module
	if o.builtin {
		mods = rt.builtinModules()
	}
	mods = append(mods, o.modules...)
	for _, m := range mods {
		if err = rt.RegisterModule(m); err != nil {
			rt.Cleanup()
			return nil, err
		}
	}
	rt.log.Debug("runtime initialized", zap.String("version", Version()), zap.Int("modules", rt.order.Len()))
	return rt, nil
}

// Cleanup releases the registry and the runtime arena. It is idempotent.
func (rt *Runtime) Cleanup() {
	if rt == nil || !rt.initialized {
		return
	}
	rt.stopSignals()
	rt.order.Destroy()
	rt.order = nil
	rt.table = nil
	rt.pool.Destroy()
	rt.initialized = false
	_ = rt.log.Sync()
}

// Initialized reports whether the runtime is usable.
func (rt *Runtime) Initialized() bool { return rt != nil && rt.initialized }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.log }

// Level returns the level of the runtime's own logger. It has no effect
// on a logger passed with WithLogger.
func (rt *Runtime) Level() zap.AtomicLevel { return rt.level }

// Pool returns the runtime arena.
func (rt *Runtime) Pool() *Pool { return rt.pool }

// SetError records a formatted message as the runtime's last error.
func (rt *Runtime) SetError(format string, args ...interface{}) {
	msg := truncateError(fmt.Sprintf(format, args...))
	rt.mu.Lock()
	rt.errMsg = msg
	rt.mu.Unlock()
}

// LastError returns the last recorded error message.
func (rt *Runtime) LastError() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.errMsg
}

// LastStatus returns the status of the last failed operation.
func (rt *Runtime) LastStatus() Status {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastStatus
}

// fail records err as the last error and returns it.
func (rt *Runtime) fail(err error) error {
	msg := truncateError(err.Error())
	rt.mu.Lock()
	rt.errMsg, rt.lastStatus = msg, StatusOf(err)
	rt.mu.Unlock()
	return err
}

func (rt *Runtime) handle(i int) int32 {
	return int32(binary.LittleEndian.Uint32(rt.order.Get(i)))
}

func (rt *Runtime) moduleAt(i int) *Module {
	return rt.table[rt.handle(i)]
}

// RegisterModule appends m to the registry. Names must be unique.
func (rt *Runtime) RegisterModule(m *Module) error {
	if m == nil || m.Name == "" {
		return rt.fail(ErrInvalidModule)
	}
	if !rt.Initialized() {
		return rt.fail(fmt.Errorf("%w: module system", ErrNotInitialized))
	}
	if rt.FindModule(m.Name) != nil {
		return rt.fail(fmt.Errorf("%w: %s", ErrModuleExists, m.Name))
	}
	slot := rt.order.Push()
	if slot == nil {
		return rt.fail(fmt.Errorf("register module %s: %w", m.Name, ErrPoolDestroyed))
	}
	binary.LittleEndian.PutUint32(slot, uint32(len(rt.table)))
	rt.table = append(rt.table, m)
	return nil
}

// FindModule returns the module registered as name, or nil.
func (rt *Runtime) FindModule(name string) *Module {
	if !rt.Initialized() || name == "" {
		return nil
	}
	for i := 0; i < rt.order.Len(); i++ {
		if m := rt.moduleAt(i); m.Name == name {
			return m
		}
	}
	return nil
}

// Modules returns the registered modules in registration order.
func (rt *Runtime) Modules() []*Module {
	if !rt.Initialized() {
		return nil
	}
	mods := make([]*Module, 0, rt.order.Len())
	for i := 0; i < rt.order.Len(); i++ {
		mods = append(mods, rt.moduleAt(i))
	}
	return mods
}

// modulesOf resolves an Array of registry handles.
func (rt *Runtime) modulesOf(handles *Array) []*Module {
	mods := make([]*Module, 0, handles.Len())
	handles.ForEach(func(elt []byte) {
		if h := int(binary.LittleEndian.Uint32(elt)); h < len(rt.table) {
			mods = append(mods, rt.table[h])
		}
	})
	return mods
}

// ModuleCount returns the number of registered modules.
func (rt *Runtime) ModuleCount() int {
	if !rt.Initialized() {
		return 0
	}
	return rt.order.Len()
}

// InitModules runs every Init hook in registration order and stops at the
// first failure.
func (rt *Runtime) InitModules(c *Cycle) error {
	_, err := rt.initModules(c)
	return err
}

// initModules returns how many modules completed Init.
func (rt *Runtime) initModules(c *Cycle) (int, error) {
	if c == nil {
		return 0, rt.fail(fmt.Errorf("%w: nil cycle", ErrInvalidArgument))
	}
	if !rt.Initialized() {
		return 0, rt.fail(fmt.Errorf("%w: module system", ErrNotInitialized))
	}
	n := rt.order.Len()
	for i := 0; i < n; i++ {
		m := rt.moduleAt(i)
		if m.Init == nil {
			continue
		}
		if err := m.Init(c); err != nil {
			return i, rt.fail(fmt.Errorf("%w %s: %w", ErrModuleInit, m.Name, err))
		}
		rt.log.Debug("module initialized", zap.String("module", m.Name))
	}
	return n, nil
}

// ExitModules runs every Exit hook in reverse registration order. A failing
// hook does not stop the others; all failures are returned together.
func (rt *Runtime) ExitModules(c *Cycle) error {
	if c == nil {
		return rt.fail(fmt.Errorf("%w: nil cycle", ErrInvalidArgument))
	}
	if !rt.Initialized() {
		return rt.fail(fmt.Errorf("%w: module system", ErrNotInitialized))
	}
	return rt.exitModules(c, rt.order.Len())
}

// exitModules exits the first n modules, last first.
func (rt *Runtime) exitModules(c *Cycle, n int) (err error) {
	for i := n - 1; i >= 0; i-- {
		m := rt.moduleAt(i)
		if m.Exit == nil {
			continue
		}
		if e := m.Exit(c); e != nil {
			e = fmt.Errorf("%w %s: %w", ErrModuleExit, m.Name, e)
			rt.log.Warn("module exit failed", zap.String("module", m.Name), zap.Error(e))
			_ = rt.fail(e)
			err = multierr.Append(err, e)
			continue
		}
		rt.log.Debug("module exited", zap.String("module", m.Name))
	}
	return err
}
