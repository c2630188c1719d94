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
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/cloudwego/receptor/internal/runner"
)

type signalWatch struct {
	sig  os.Signal
	ch   chan os.Signal
	done chan struct{}
}

// AddSignal calls handler every time sig arrives. Handlers run on a
// background task, so they must only use the thread-safe Cycle requests
// (Terminate, Quit, RequestReload).
func (rt *Runtime) AddSignal(sig os.Signal, handler func(os.Signal)) error {
	if !rt.Initialized() {
		return rt.fail(fmt.Errorf("%w: signals", ErrNotInitialized))
	}
	if sig == nil || handler == nil {
		return rt.fail(fmt.Errorf("%w: signal handler", ErrInvalidArgument))
	}
	w := &signalWatch{sig: sig, ch: make(chan os.Signal, 1), done: make(chan struct{})}
	signal.Notify(w.ch, sig)

	rt.sigMu.Lock()
	rt.signals = append(rt.signals, w)
	rt.sigMu.Unlock()

	log := rt.log
	runner.RunTask(context.Background(), func() {
		for {
			select {
			case s := <-w.ch:
				log.Debug("signal received", zap.Stringer("signal", s))
				handler(s)
			case <-w.done:
				return
			}
		}
	})
	return nil
}

func (rt *Runtime) stopSignals() {
	rt.sigMu.Lock()
	watches := rt.signals
	rt.signals = nil
	rt.sigMu.Unlock()
	for _, w := range watches {
		signal.Stop(w.ch)
		close(w.done)
	}
}
