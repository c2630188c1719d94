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
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

const selectConf = `
[events]
use = "select"
timeout_ms = 10
`

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not stop")
	}
	return nil
}

func TestCycleStartStop(t *testing.T) {
	var inits, exits int
	rt := newTestRuntime(t, WithoutBuiltinModules(), WithModules(&Module{
		Name: "counter",
		Init: func(*Cycle) error { inits++; return nil },
		Exit: func(*Cycle) error { exits++; return nil },
	}))
	c := newTestCycle(t, rt, "worker_processes = 3\n")
	Equal(t, c.CoreConf().WorkerProcesses, 3)
	MustTrue(t, c.Runtime() == rt)
	MustTrue(t, !c.Running())

	MustNil(t, c.Start())
	MustTrue(t, c.Running())
	MustTrue(t, !c.Terminating())
	MustErr(t, c.Start(), ErrAlreadyRunning)
	Equal(t, inits, 1)

	MustNil(t, c.Stop())
	MustTrue(t, !c.Running())
	MustTrue(t, c.Terminating())
	Equal(t, exits, 1)
	MustErr(t, c.Stop(), ErrNotRunning)
	MustErr(t, c.Run(context.Background()), ErrNotRunning)
}

func TestCycleEventTimeout(t *testing.T) {
	rt := newTestRuntime(t, WithoutBuiltinModules())
	Equal(t, newTestCycle(t, rt, selectConf).Reactor().Timeout(), 10*time.Millisecond)
	Equal(t, newTestCycle(t, rt, "[events]\ntimeout_ms = -5\n").Reactor().Timeout(), time.Duration(-1))
	Equal(t, newTestCycle(t, rt, "").Reactor().Timeout(), defaultEventTimeout)
}

func TestCycleBuiltinEvent(t *testing.T) {
	rt := newTestRuntime(t)
	c := newTestCycle(t, rt, selectConf)
	MustNil(t, c.Start())
	b, ok := c.EventCtx.(Backend)
	MustTrue(t, ok)
	Equal(t, b.Name(), "select")
	Equal(t, c.Reactor().State(), Running)
	Equal(t, len(c.StreamAddrs()), 0)

	MustNil(t, c.Stop())
	Equal(t, c.Reactor().State(), Stopped)
	MustTrue(t, c.EventCtx != nil)
	MustTrue(t, c.StreamCtx == nil)
}

func TestCycleRunCancel(t *testing.T) {
	rt := newTestRuntime(t)
	c := newTestCycle(t, rt, selectConf)
	MustNil(t, c.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	MustNil(t, waitRun(t, done))
	MustTrue(t, !c.Running())
}

func TestCycleRunTerminate(t *testing.T) {
	rt := newTestRuntime(t, WithBackend("select"))
	c := newTestCycle(t, rt, "[events]\ntimeout_ms = -1\n")
	MustNil(t, c.Start())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	c.Terminate()
	MustNil(t, waitRun(t, done))
	MustTrue(t, c.Terminating())
}

func TestCycleRunQuit(t *testing.T) {
	rt := newTestRuntime(t)
	c := newTestCycle(t, rt, selectConf)
	MustNil(t, c.Start())
	c.Quit()
	MustTrue(t, c.Quitting())
	MustNil(t, c.Run(context.Background()))
	MustTrue(t, !c.Running())
}

func TestCycleRunPosted(t *testing.T) {
	rt := newTestRuntime(t)
	c := newTestCycle(t, rt, selectConf)
	MustNil(t, c.Start())
	ev := &Event{Handler: func(*Event) { c.Terminate() }}
	c.Reactor().Post(ev)
	MustNil(t, c.Run(context.Background()))
}

func TestCycleDebugPoints(t *testing.T) {
	rt, err := New(WithBackend("select"))
	MustNil(t, err)
	defer rt.Cleanup()
	base := rt.Level().Level()
	MustTrue(t, base != zapcore.DebugLevel)

	c := newTestCycle(t, rt, "debug_points = true\n")
	MustNil(t, c.Start())
	Equal(t, rt.Level().Level(), zapcore.DebugLevel)
	MustNil(t, c.Stop())
	Equal(t, rt.Level().Level(), base)
}

func TestCycleReload(t *testing.T) {
	guard := &Module{
		Name: "guard",
		Reload: func(c *Cycle) error {
			if c.CoreConf().WorkerProcesses == 8 {
				return errors.New("eight workers refused")
			}
			return nil
		},
	}
	rt := newTestRuntime(t, WithBackend("select"), WithModules(guard))
	path := filepath.Join(t.TempDir(), "receptor.toml")
	write := func(text string) {
		MustNil(t, os.WriteFile(path, []byte(text), 0o644))
	}
	write("worker_processes = 1\n")

	cc, err := rt.NewConfCtx()
	MustNil(t, err)
	MustNil(t, cc.Load(path))
	c, err := rt.NewCycle(cc)
	MustNil(t, err)
	defer func() {
		c.Destroy()
		cc.Destroy()
	}()
	Equal(t, c.CoreConf().ConfFile, path)
	MustNil(t, c.Start())

	write("worker_processes = 4\n[events]\ntimeout_ms = 25\n")
	MustNil(t, c.Reload(""))
	Equal(t, c.CoreConf().WorkerProcesses, 4)
	Equal(t, c.Reactor().Timeout(), 25*time.Millisecond)
	// the caller's context is replaced but never retired
	Equal(t, c.Retired(), 0)
	MustTrue(t, c.ConfCtx() != cc)
	MustTrue(t, !cc.Destroyed())

	write("worker_processes = 8\n")
	current := c.ConfCtx()
	err = c.Reload("")
	MustTrue(t, err != nil)
	Equal(t, c.CoreConf().WorkerProcesses, 4)
	Equal(t, c.Reactor().Timeout(), 25*time.Millisecond)
	MustTrue(t, c.ConfCtx() == current)
	Equal(t, c.Retired(), 0)

	write("worker_processes = \n")
	MustErr(t, c.Reload(""), ErrConfig)
	MustTrue(t, c.ConfCtx() == current)

	MustNil(t, c.Stop())
}

func TestCycleReloadBackendChange(t *testing.T) {
	rt := newTestRuntime(t, WithBackend("select"))
	c := newTestCycle(t, rt, "")
	MustNil(t, c.Start())
	defer c.Stop()

	path := filepath.Join(t.TempDir(), "receptor.toml")
	MustNil(t, os.WriteFile(path, []byte(selectConf), 0o644))
	MustNil(t, c.Reload(path))

	MustNil(t, os.WriteFile(path, []byte("[events]\nuse = \"fake\"\n"), 0o644))
	RegisterBackend("fake", func() (Backend, error) { return newFakeBackend("fake"), nil })
	MustErr(t, c.Reload(path), ErrConfig)
	Equal(t, c.Reactor().Backend().Name(), "select")
}

func TestCycleReloadReleasesOwnedContexts(t *testing.T) {
	rt := newTestRuntime(t, WithoutBuiltinModules())
	cc, err := rt.NewConfCtx()
	MustNil(t, err)
	MustNil(t, cc.Parse("worker_processes = 2\n"))
	c, err := rt.NewCycle(cc)
	MustNil(t, err)
	MustNil(t, c.Start())

	MustNil(t, c.Reload(""))
	Equal(t, c.Retired(), 0)
	first := c.ConfCtx()
	MustTrue(t, first != cc)
	Equal(t, c.CoreConf().WorkerProcesses, 2)

	MustNil(t, c.Reload(""))
	Equal(t, c.Retired(), 1)
	MustTrue(t, !first.Destroyed())

	// Run releases retired contexts before its first iteration, then
	// fails on the missing backend and stops the cycle
	MustErr(t, c.Run(context.Background()), ErrNoBackend)
	Equal(t, c.Retired(), 0)
	MustTrue(t, first.Destroyed())
	MustTrue(t, !cc.Destroyed())
	MustTrue(t, !c.Running())

	cc.Destroy()
	second := c.ConfCtx()
	c.Destroy()
	MustTrue(t, cc.Destroyed())
	MustTrue(t, second.Destroyed())
}

func TestCycleReloadDuringRun(t *testing.T) {
	rt := newTestRuntime(t)
	cc, err := rt.NewConfCtx()
	MustNil(t, err)
	MustNil(t, cc.Parse(selectConf))
	c, err := rt.NewCycle(cc)
	MustNil(t, err)
	MustNil(t, c.Start())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	c.RequestReload()
	time.Sleep(50 * time.Millisecond)
	c.RequestReload()
	time.Sleep(50 * time.Millisecond)
	c.Terminate()
	MustNil(t, waitRun(t, done))

	MustTrue(t, c.ConfCtx() != cc)
	MustTrue(t, !cc.Destroyed())
	c.Destroy()
	cc.Destroy()
}

func TestCyclePoolOwnsCoreConf(t *testing.T) {
	rt := newTestRuntime(t)
	c := newTestCycle(t, rt, "prefix = \"/srv/receptor\"\nworker_processes = 3\n"+selectConf)
	MustNil(t, c.Start())
	defer c.Stop()

	MustTrue(t, c.Pool().Used() > 0)
	Equal(t, c.CoreConf().Prefix, "/srv/receptor")
	Equal(t, c.CoreConf().WorkerProcesses, 3)

	mods := c.Modules()
	Equal(t, len(mods), 4)
	Equal(t, mods[0].Name, "core")
	Equal(t, mods[3].Name, "stream")

	used := c.Pool().Used()
	MustNil(t, c.Reload(""))
	MustTrue(t, c.Pool().Used() > used)
	Equal(t, c.CoreConf().Prefix, "/srv/receptor")
}
