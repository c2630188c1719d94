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
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	rt, err := New(opts...)
	MustNil(t, err)
	t.Cleanup(rt.Cleanup)
	return rt
}

func newTestCycle(t *testing.T, rt *Runtime, text string) *Cycle {
	t.Helper()
	cc, err := rt.NewConfCtx()
	MustNil(t, err)
	MustNil(t, cc.Parse(text))
	c, err := rt.NewCycle(cc)
	MustNil(t, err)
	t.Cleanup(func() {
		c.Destroy()
		cc.Destroy()
	})
	return c
}

func TestVersion(t *testing.T) {
	Equal(t, Version(), "1.0.0")
	Equal(t, VersionString(), "receptor/1.0.0")
	Equal(t, VersionNumber(), uint32(1<<16))
}

func TestBuiltinModules(t *testing.T) {
	rt := newTestRuntime(t)
	mods := rt.Modules()
	Equal(t, len(mods), 4)
	for i, name := range []string{"core", "event", "http", "stream"} {
		Equal(t, mods[i].Name, name)
	}
	Equal(t, rt.ModuleCount(), 4)
}

func TestRegisterModuleDuplicate(t *testing.T) {
	rt := newTestRuntime(t)
	before := rt.ModuleCount()
	err := rt.RegisterModule(&Module{Name: "core"})
	MustErr(t, err, ErrModuleExists)
	Equal(t, StatusOf(err), ERROR)
	Equal(t, rt.ModuleCount(), before)
	MustTrue(t, strings.Contains(rt.LastError(), "core"))
	Equal(t, rt.LastStatus(), ERROR)
}

func TestRegisterModuleScenario(t *testing.T) {
	rt := newTestRuntime(t, WithoutBuiltinModules())
	Equal(t, rt.ModuleCount(), 0)

	core, event := &Module{Name: "core"}, &Module{Name: "event"}
	MustNil(t, rt.RegisterModule(core))
	MustNil(t, rt.RegisterModule(event))
	MustTrue(t, rt.FindModule("event") == event)
	MustTrue(t, rt.FindModule("core") == core)
	MustTrue(t, rt.FindModule("stream") == nil)

	MustErr(t, rt.RegisterModule(&Module{Name: "core"}), ErrModuleExists)
	Equal(t, rt.ModuleCount(), 2)
}

func TestRegisterModuleInvalid(t *testing.T) {
	rt := newTestRuntime(t, WithoutBuiltinModules())
	MustErr(t, rt.RegisterModule(nil), ErrInvalidModule)
	MustErr(t, rt.RegisterModule(&Module{}), ErrInvalidModule)
	Equal(t, rt.ModuleCount(), 0)
}

func TestRegistryGrows(t *testing.T) {
	rt := newTestRuntime(t, WithoutBuiltinModules())
	for i := 0; i < 40; i++ {
		MustNil(t, rt.RegisterModule(&Module{Name: "m" + string(rune('A'+i))}))
	}
	Equal(t, rt.ModuleCount(), 40)
	mods := rt.Modules()
	Equal(t, mods[0].Name, "mA")
	Equal(t, mods[39].Name, "m"+string(rune('A'+39)))
}

func TestWithModules(t *testing.T) {
	rt := newTestRuntime(t, WithModules(&Module{Name: "extra"}))
	Equal(t, rt.ModuleCount(), 5)
	Equal(t, rt.Modules()[4].Name, "extra")

	_, err := New(WithLogger(zap.NewNop()), WithModules(&Module{Name: "core"}))
	MustErr(t, err, ErrModuleExists)

	_, err = New(WithLogger(zap.NewNop()), WithBackend("no-such-backend"))
	MustErr(t, err, ErrUnknownBackend)
}

func TestCleanup(t *testing.T) {
	rt, err := New(WithLogger(zap.NewNop()))
	MustNil(t, err)
	pool := rt.Pool()
	rt.Cleanup()
	rt.Cleanup()
	MustTrue(t, !rt.Initialized())
	MustTrue(t, pool.Destroyed())
	Equal(t, rt.ModuleCount(), 0)
	MustTrue(t, rt.FindModule("core") == nil)

	MustErr(t, rt.RegisterModule(&Module{Name: "late"}), ErrNotInitialized)
	_, err = rt.NewConfCtx()
	MustErr(t, err, ErrNotInitialized)
}

func TestInitModulesEmpty(t *testing.T) {
	rt := newTestRuntime(t, WithoutBuiltinModules())
	c := newTestCycle(t, rt, "")
	MustNil(t, rt.InitModules(c))
	MustNil(t, rt.ExitModules(c))
	MustErr(t, rt.InitModules(nil), ErrInvalidArgument)
}

func TestInitModulesFailFast(t *testing.T) {
	var trace []string
	hook := func(name string, err error) func(*Cycle) error {
		return func(*Cycle) error {
			trace = append(trace, name)
			return err
		}
	}
	boom := errors.New("boom")
	rt := newTestRuntime(t, WithoutBuiltinModules(), WithModules(
		&Module{Name: "a", Init: hook("init a", nil), Exit: hook("exit a", nil)},
		&Module{Name: "b", Init: hook("init b", boom), Exit: hook("exit b", nil)},
		&Module{Name: "c", Init: hook("init c", nil), Exit: hook("exit c", nil)},
	))
	c := newTestCycle(t, rt, "")

	err := rt.InitModules(c)
	MustErr(t, err, ErrModuleInit)
	MustErr(t, err, boom)
	MustTrue(t, strings.Contains(rt.LastError(), "b"))
	Equal(t, strings.Join(trace, ","), "init a,init b")

	// Start exits what already initialized
	trace = nil
	MustErr(t, c.Start(), boom)
	MustTrue(t, !c.Running())
	Equal(t, strings.Join(trace, ","), "init a,init b,exit a")
}

func TestExitModulesReverseAggregate(t *testing.T) {
	var trace []string
	exit := func(name string, fail bool) func(*Cycle) error {
		return func(*Cycle) error {
			trace = append(trace, name)
			if fail {
				return errors.New(name + " failed")
			}
			return nil
		}
	}
	rt := newTestRuntime(t, WithoutBuiltinModules(), WithModules(
		&Module{Name: "a", Exit: exit("a", true)},
		&Module{Name: "b", Exit: exit("b", false)},
		&Module{Name: "c", Exit: exit("c", true)},
	))
	c := newTestCycle(t, rt, "")
	err := rt.ExitModules(c)
	Equal(t, strings.Join(trace, ","), "c,b,a")
	MustErr(t, err, ErrModuleExit)
	Equal(t, len(multierr.Errors(err)), 2)
	// the last failure is the one recorded
	MustTrue(t, strings.Contains(rt.LastError(), "a failed"))
}

func TestSetError(t *testing.T) {
	rt := newTestRuntime(t)
	rt.SetError("module %s: %d", "x", 42)
	Equal(t, rt.LastError(), "module x: 42")
	rt.SetError("%s", strings.Repeat("e", 3*maxErrorStr))
	Equal(t, len(rt.LastError()), maxErrorStr-1)
}
