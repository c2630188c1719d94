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
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const echoConf = `
[events]
use = "epoll"
timeout_ms = 10

[stream]
listen = ["127.0.0.1:0"]
`

func startEcho(t *testing.T, opts ...Option) (*Cycle, <-chan error, context.CancelFunc) {
	t.Helper()
	rt := newTestRuntime(t, opts...)
	c := newTestCycle(t, rt, echoConf)
	MustNil(t, c.Start())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return c, done, cancel
}

func TestStreamEcho(t *testing.T) {
	c, done, cancel := startEcho(t)
	addrs := c.StreamAddrs()
	Equal(t, len(addrs), 1)

	conn, err := net.DialTimeout("tcp", addrs[0], time.Second)
	MustNil(t, err)
	MustNil(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	msg := []byte("hello receptor")
	_, err = conn.Write(msg)
	MustNil(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	MustNil(t, err)
	Equal(t, string(buf), string(msg))

	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte(i)
	}
	go func() { _, _ = conn.Write(big) }()
	got := make([]byte, len(big))
	_, err = io.ReadFull(conn, got)
	MustNil(t, err)
	for i := range got {
		if got[i] != big[i] {
			t.Fatalf("echo mismatch at %d", i)
		}
	}
	MustNil(t, conn.Close())

	cancel()
	MustNil(t, waitRun(t, done))
	Equal(t, c.StreamConns(), 0)
}

func TestStreamHandler(t *testing.T) {
	upper := func(sc *StreamConn, data []byte) {
		out := sc.Pool.Dup(data)
		for i, b := range out {
			if 'a' <= b && b <= 'z' {
				out[i] = b - 'a' + 'A'
			}
		}
		_, _ = sc.Write(out)
	}
	c, done, cancel := startEcho(t, WithStreamHandler(upper))
	defer func() {
		cancel()
		MustNil(t, waitRun(t, done))
	}()

	conn, err := net.DialTimeout("tcp", c.StreamAddrs()[0], time.Second)
	MustNil(t, err)
	defer conn.Close()
	MustNil(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write([]byte("abc"))
	MustNil(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(conn, buf)
	MustNil(t, err)
	Equal(t, string(buf), "ABC")
}

func TestStreamReloadListeners(t *testing.T) {
	rt := newTestRuntime(t)
	path := filepath.Join(t.TempDir(), "receptor.toml")
	MustNil(t, os.WriteFile(path, []byte(echoConf), 0o644))
	cc, err := rt.NewConfCtx()
	MustNil(t, err)
	MustNil(t, cc.Load(path))
	c, err := rt.NewCycle(cc)
	MustNil(t, err)
	defer func() {
		c.Destroy()
		cc.Destroy()
	}()
	MustNil(t, c.Start())
	defer c.Stop()
	first := c.StreamAddrs()
	Equal(t, len(first), 1)

	// the configured entry is kept, the new one is opened
	MustNil(t, os.WriteFile(path, []byte("[stream]\nlisten = [\"127.0.0.1:0\", \"0.0.0.0:0\"]\n"), 0o644))
	MustNil(t, c.Reload(""))
	addrs := c.StreamAddrs()
	Equal(t, len(addrs), 2)
	Equal(t, addrs[0], first[0])

	MustNil(t, os.WriteFile(path, []byte("[stream]\nlisten = [\"bad\"]\n"), 0o644))
	MustErr(t, c.Reload(""), ErrConfig)
	Equal(t, len(c.StreamAddrs()), 2)

	MustNil(t, os.WriteFile(path, []byte("[events]\nuse = \"epoll\"\n"), 0o644))
	MustNil(t, c.Reload(""))
	Equal(t, len(c.StreamAddrs()), 0)

	_, err = net.DialTimeout("tcp", first[0], 200*time.Millisecond)
	MustTrue(t, err != nil)
}
