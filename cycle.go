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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"strings"
	"time"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const cyclePoolSize = 8192

// CoreConf is the core configuration derived from a ConfCtx. Its strings
// live in the cycle arena and must not be used after Cycle.Destroy.
type CoreConf struct {
	Prefix          string
	ConfFile        string
	ErrorLog        string
	Daemon          bool
	Master          bool
	WorkerProcesses int
	DebugPoints     bool
}

// Cycle is one run of the runtime: it owns an arena, the core
// configuration, the reactor and the control flags.
//
// Start, Stop, Run and Reload must be called from one goroutine.
// Terminate, Quit and RequestReload may be called from anywhere.
type Cycle struct {
	rt      *Runtime
	pool    *Pool
	confCtx *ConfCtx
	ownsCtx bool
	conf    *CoreConf
	modules *Array // registry handles captured by Start
	reactor *Reactor
	log     *zap.Logger

	running   atomic.Bool
	terminate atomic.Bool
	quit      atomic.Bool
	reload    atomic.Bool

	retired []*ConfCtx

	// module private state
	EventCtx  any
	HTTPCtx   any
	StreamCtx any
}

// NewCycle creates a stopped cycle over cc.
func (rt *Runtime) NewCycle(cc *ConfCtx) (*Cycle, error) {
	if !rt.Initialized() {
		return nil, rt.fail(fmt.Errorf("%w: cycle", ErrNotInitialized))
	}
	if cc == nil || cc.Destroyed() {
		return nil, rt.fail(fmt.Errorf("%w: configuration context", ErrInvalidArgument))
	}
	pool := NewPool(cyclePoolSize)
	modules, err := NewArray(pool, confModulesHint, handleSize)
	if err != nil {
		pool.Destroy()
		return nil, rt.fail(fmt.Errorf("create cycle modules array: %w", err))
	}
	c := &Cycle{
		rt:      rt,
		pool:    pool,
		confCtx: cc,
		modules: modules,
		reactor: NewReactor(),
		log:     rt.log,
	}
	c.reactor.SetLogger(rt.log)
	c.conf = c.deriveConf(cc)
	c.applyEventConf(cc)
	return c, nil
}

func (c *Cycle) deriveConf(cc *ConfCtx) *CoreConf {
	m := cc.mainConf()
	return &CoreConf{
		Prefix:          c.dupString(m.Prefix),
		ConfFile:        c.dupString(cc.File()),
		ErrorLog:        c.dupString(m.ErrorLog),
		Daemon:          m.Daemon,
		Master:          m.Master,
		WorkerProcesses: m.WorkerProcesses,
		DebugPoints:     m.DebugPoints,
	}
}

// dupString copies s into the cycle arena.
func (c *Cycle) dupString(s string) string {
	b := c.pool.Dup([]byte(s))
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

func (c *Cycle) applyEventConf(cc *ConfCtx) {
	if cc.IsDefined("events", "timeout_ms") {
		ms := cc.eventConf().TimeoutMS
		if ms < 0 {
			c.reactor.SetTimeout(-1)
		} else {
			c.reactor.SetTimeout(time.Duration(ms) * time.Millisecond)
		}
	} else {
		c.reactor.SetTimeout(defaultEventTimeout)
	}
}

// Runtime returns the owning runtime.
func (c *Cycle) Runtime() *Runtime { return c.rt }

// Pool returns the cycle arena.
func (c *Cycle) Pool() *Pool { return c.pool }

// ConfCtx returns the active configuration context.
func (c *Cycle) ConfCtx() *ConfCtx { return c.confCtx }

// CoreConf returns the core configuration.
func (c *Cycle) CoreConf() *CoreConf { return c.conf }

// Reactor returns the cycle's event reactor.
func (c *Cycle) Reactor() *Reactor { return c.reactor }

// Logger returns the cycle logger.
func (c *Cycle) Logger() *zap.Logger { return c.log }

// Running reports whether Start succeeded and Stop has not run.
func (c *Cycle) Running() bool { return c.running.Load() }

// Terminating reports whether termination was requested.
func (c *Cycle) Terminating() bool { return c.terminate.Load() }

// Quitting reports whether a graceful quit was requested.
func (c *Cycle) Quitting() bool { return c.quit.Load() }

// Start runs every module Init in order. If one fails, the modules that
// already initialized are exited again and the cycle stays stopped.
func (c *Cycle) Start() error {
	if c.running.Load() {
		return c.rt.fail(ErrAlreadyRunning)
	}
	c.captureModules()
	n, err := c.rt.initModules(c)
	if err != nil {
		if exitErr := c.rt.exitModules(c, n); exitErr != nil {
			err = multierr.Append(err, exitErr)
		}
		c.rt.SetError("failed to initialize modules: %v", err)
		return err
	}
	c.running.Store(true)
	c.terminate.Store(false)
	c.quit.Store(false)
	c.log.Info("receptor started", zap.String("version", Version()))
	return nil
}

// captureModules records the registry order in the cycle arena. Reload
// hooks run over this snapshot.
func (c *Cycle) captureModules() {
	c.modules.Clear()
	if !c.rt.Initialized() {
		return
	}
	for i := 0; i < c.rt.order.Len(); i++ {
		copy(c.modules.Push(), c.rt.order.Get(i))
	}
}

// Modules returns the modules captured by the last Start.
func (c *Cycle) Modules() []*Module {
	return c.rt.modulesOf(c.modules)
}

// Stop runs every module Exit in reverse order.
func (c *Cycle) Stop() error {
	if !c.running.Load() {
		return c.rt.fail(ErrNotRunning)
	}
	c.running.Store(false)
	c.terminate.Store(true)
	err := c.rt.ExitModules(c)
	c.log.Info("receptor stopped")
	return err
}

// Terminate asks Run to stop as soon as possible.
func (c *Cycle) Terminate() {
	c.terminate.Store(true)
	c.wake()
}

// Quit asks Run to stop after the current iteration.
func (c *Cycle) Quit() {
	c.quit.Store(true)
	c.wake()
}

// RequestReload asks Run to reload the configuration file.
func (c *Cycle) RequestReload() {
	c.reload.Store(true)
	c.wake()
}

func (c *Cycle) wake() {
	err := c.reactor.Wake()
	if err != nil && !errors.Is(err, ErrNoBackend) && !errors.Is(err, ErrNotSupported) && !errors.Is(err, ErrReactorState) {
		c.log.Warn("wake reactor failed", zap.Error(err))
	}
}

// Run processes events until ctx is done or termination is requested,
// then stops the cycle.
func (c *Cycle) Run(ctx context.Context) error {
	if !c.running.Load() {
		return c.rt.fail(ErrNotRunning)
	}
	stop := context.AfterFunc(ctx, c.Terminate)
	defer stop()

	for {
		c.releaseRetired()
		if c.reload.Swap(false) {
			if err := c.Reload(""); err != nil {
				c.log.Error("reload failed", zap.Error(err))
			}
		}
		if c.terminate.Load() || c.quit.Load() {
			break
		}
		if err := c.reactor.Process(); err != nil {
			err = c.rt.fail(err)
			return multierr.Append(err, c.Stop())
		}
	}
	return c.Stop()
}

// Reload parses path, or the current configuration file when path is
// empty, swaps the new context in and runs every Reload hook in order. A
// failing hook restores the previous configuration.
func (c *Cycle) Reload(path string) error {
	if path == "" {
		path = strings.Clone(c.conf.ConfFile)
	}
	c.log.Info("reloading configuration", zap.String("file", path))
	next, err := c.rt.NewConfCtx()
	if err != nil {
		return err
	}
	if path != "" {
		err = next.Load(path)
	} else {
		err = next.Parse(c.confCtx.Text())
	}
	if err != nil {
		next.Destroy()
		return err
	}

	prevCtx, prevConf, prevOwned := c.confCtx, c.conf, c.ownsCtx
	c.confCtx, c.conf, c.ownsCtx = next, c.deriveConf(next), true
	c.applyEventConf(next)

	mods := c.Modules()
	for i, m := range mods {
		if m.Reload == nil {
			continue
		}
		if err = m.Reload(c); err == nil {
			continue
		}
		err = fmt.Errorf("reload module %s: %w", m.Name, err)
		c.confCtx, c.conf, c.ownsCtx = prevCtx, prevConf, prevOwned
		c.applyEventConf(prevCtx)
		for _, done := range mods[:i] {
			if done.Reload == nil {
				continue
			}
			if e := done.Reload(c); e != nil {
				c.log.Error("restore module configuration failed", zap.String("module", done.Name), zap.Error(e))
			}
		}
		next.Destroy()
		return c.rt.fail(err)
	}
	if prevOwned {
		c.retired = append(c.retired, prevCtx)
	}
	c.log.Info("configuration reloaded", zap.String("file", path))
	return nil
}

// Retired returns how many replaced contexts wait to be released.
func (c *Cycle) Retired() int { return len(c.retired) }

// releaseRetired destroys replaced contexts. Run calls it between
// iterations, when no handler still references them.
func (c *Cycle) releaseRetired() {
	for _, cc := range c.retired {
		cc.Destroy()
	}
	c.retired = nil
}

// Destroy releases the cycle arena and every configuration context the
// cycle created. The context passed to NewCycle always stays with the
// caller.
func (c *Cycle) Destroy() {
	if c == nil || c.pool.Destroyed() {
		return
	}
	for _, cc := range c.retired {
		cc.Destroy()
	}
	c.retired = nil
	if c.ownsCtx {
		c.confCtx.Destroy()
	}
	c.modules.Destroy()
	c.pool.Destroy()
}
