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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// builtinModules returns core, event, http and stream, in that order.
func (rt *Runtime) builtinModules() []*Module {
	return []*Module{
		rt.coreModule(),
		rt.eventModule(),
		rt.httpModule(),
		rt.streamModule(),
	}
}

func (rt *Runtime) coreModule() *Module {
	base := rt.level.Level()
	apply := func(c *Cycle) {
		if c.conf.DebugPoints {
			rt.level.SetLevel(zapcore.DebugLevel)
		} else {
			rt.level.SetLevel(base)
		}
	}
	return &Module{
		Name: "core",
		Init: func(c *Cycle) error {
			apply(c)
			c.log.Info("core module init",
				zap.String("prefix", c.conf.Prefix),
				zap.Int("worker_processes", c.conf.WorkerProcesses),
				zap.Bool("daemon", c.conf.Daemon),
				zap.Bool("master", c.conf.Master))
			return nil
		},
		Exit: func(c *Cycle) error {
			c.log.Info("core module exit")
			rt.level.SetLevel(base)
			return nil
		},
		Reload: func(c *Cycle) error {
			apply(c)
			return nil
		},
	}
}

// eventBackendName picks the configured backend, then the runtime default,
// then the package default.
func (rt *Runtime) eventBackendName(c *Cycle) string {
	if use := c.confCtx.eventConf().Use; use != "" {
		return use
	}
	return rt.backend
}

type maxEventsSetter interface {
	SetMaxEvents(n int)
}

func (rt *Runtime) eventModule() *Module {
	return &Module{
		Name: "event",
		Init: func(c *Cycle) error {
			b, err := OpenBackend(rt.eventBackendName(c))
			if err != nil {
				return err
			}
			if s, ok := b.(maxEventsSetter); ok && c.confCtx.IsDefined("events", "max_events") {
				s.SetMaxEvents(c.confCtx.eventConf().MaxEvents)
			}
			c.reactor.SetBackend(b)
			if err = c.reactor.Init(); err != nil {
				c.reactor.SetBackend(nil)
				return err
			}
			c.EventCtx = b
			c.log.Info("event module init", zap.String("backend", b.Name()), zap.Duration("timeout", c.reactor.Timeout()))
			return nil
		},
		Exit: func(c *Cycle) error {
			c.log.Info("event module exit")
			if c.reactor.Backend() == nil {
				return nil
			}
			return c.reactor.Done()
		},
		Reload: func(c *Cycle) error {
			b := c.reactor.Backend()
			if b == nil {
				return nil
			}
			if want := rt.eventBackendName(c); want != "" && want != b.Name() {
				return fmt.Errorf("%w: switching event backend from %s to %s needs a restart", ErrConfig, b.Name(), want)
			}
			return nil
		},
	}
}

func (rt *Runtime) httpModule() *Module {
	return &Module{
		Name: "http",
		Init: func(c *Cycle) error {
			c.log.Info("http module init")
			return nil
		},
		Exit: func(c *Cycle) error {
			c.log.Info("http module exit")
			return nil
		},
	}
}
