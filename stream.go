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
	"net"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	streamConnPoolSize = 4096
	streamReadSize     = 4096
)

// StreamHandler receives the bytes read from a stream connection. data is
// only valid during the call.
type StreamHandler func(c *StreamConn, data []byte)

// EchoHandler writes every byte it receives back to the peer.
func EchoHandler(c *StreamConn, data []byte) {
	if _, err := c.Write(data); err != nil {
		_ = c.Close()
	}
}

type listenAddr struct {
	network string // tcp or vsock
	addr    string
	port    uint32
}

// parseListen accepts host:port for TCP and vsock:port for AF_VSOCK on the
// local context id.
func parseListen(s string) (listenAddr, error) {
	if rest, ok := strings.CutPrefix(s, "vsock:"); ok {
		port, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return listenAddr{}, fmt.Errorf("%w: stream.listen %q: bad vsock port", ErrConfig, s)
		}
		return listenAddr{network: "vsock", addr: s, port: uint32(port)}, nil
	}
	_, p, err := net.SplitHostPort(s)
	if err != nil {
		return listenAddr{}, fmt.Errorf("%w: stream.listen %q: %v", ErrConfig, s, err)
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return listenAddr{}, fmt.Errorf("%w: stream.listen %q: bad port", ErrConfig, s)
	}
	return listenAddr{network: "tcp", addr: s, port: uint32(port)}, nil
}

// streamServer is the stream module state kept in Cycle.StreamCtx.
type streamServer struct {
	c         *Cycle
	handler   StreamHandler
	backlog   int
	listeners map[string]*streamListener
	order     []string // listen entries in configuration order
	conns     map[*StreamConn]struct{}
}

func newStreamServer(c *Cycle, h StreamHandler, backlog int) *streamServer {
	return &streamServer{
		c:         c,
		handler:   h,
		backlog:   backlog,
		listeners: make(map[string]*streamListener),
		conns:     make(map[*StreamConn]struct{}),
	}
}

func (s *streamServer) listenAll(addrs []string) error {
	for _, addr := range addrs {
		if _, ok := s.listeners[addr]; ok {
			continue
		}
		if err := s.listen(addr); err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		s.order = append(s.order, addr)
		s.c.log.Info("stream listening", zap.String("addr", addr))
	}
	return nil
}

func (s *streamServer) closeAll() (err error) {
	for sc := range s.conns {
		err = multierr.Append(err, sc.Close())
	}
	for _, addr := range s.order {
		err = multierr.Append(err, s.unlisten(addr))
	}
	s.order = nil
	return err
}

// sync closes the listeners that are no longer configured and opens the
// new ones. Established connections are kept.
func (s *streamServer) sync(addrs []string) error {
	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}
	kept := s.order[:0]
	var err error
	for _, addr := range s.order {
		if want[addr] {
			kept = append(kept, addr)
			continue
		}
		err = multierr.Append(err, s.unlisten(addr))
		s.c.log.Info("stream listener closed", zap.String("addr", addr))
	}
	s.order = kept
	return multierr.Append(err, s.listenAll(addrs))
}

// StreamAddrs returns the bound addresses of the stream listeners.
func (c *Cycle) StreamAddrs() []string {
	s, ok := c.StreamCtx.(*streamServer)
	if !ok || s == nil {
		return nil
	}
	addrs := make([]string, 0, len(s.order))
	for _, addr := range s.order {
		addrs = append(addrs, s.listeners[addr].String())
	}
	return addrs
}

// StreamConns returns the number of open stream connections.
func (c *Cycle) StreamConns() int {
	if s, ok := c.StreamCtx.(*streamServer); ok && s != nil {
		return len(s.conns)
	}
	return 0
}

func (rt *Runtime) streamModule() *Module {
	return &Module{
		Name: "stream",
		Init: func(c *Cycle) error {
			conf := c.confCtx.streamConf()
			s := newStreamServer(c, rt.streamHandler, conf.Backlog)
			if err := s.listenAll(conf.Listen); err != nil {
				_ = s.closeAll()
				return err
			}
			c.StreamCtx = s
			c.log.Info("stream module init", zap.Int("listeners", len(s.order)))
			return nil
		},
		Exit: func(c *Cycle) error {
			s, ok := c.StreamCtx.(*streamServer)
			c.StreamCtx = nil
			c.log.Info("stream module exit")
			if !ok || s == nil {
				return nil
			}
			return s.closeAll()
		},
		Reload: func(c *Cycle) error {
			s, ok := c.StreamCtx.(*streamServer)
			if !ok || s == nil {
				return nil
			}
			return s.sync(c.confCtx.streamConf().Listen)
		},
	}
}
