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

//go:build !linux
// +build !linux

package receptor

import (
	"fmt"
	"net"
	"runtime"
)

type streamListener struct{}

func (l *streamListener) String() string { return "" }

// StreamConn is an accepted stream connection. Stream listeners are only
// available on linux.
type StreamConn struct {
	Pool *Pool
	Data any
}

// RemoteAddr returns the peer address.
func (sc *StreamConn) RemoteAddr() string { return "" }

// Write always fails on this platform.
func (sc *StreamConn) Write(p []byte) (int, error) { return 0, net.ErrClosed }

// Close releases the connection Pool.
func (sc *StreamConn) Close() error {
	sc.Pool.Destroy()
	return nil
}

func (s *streamServer) listen(addr string) error {
	return fmt.Errorf("%w: stream listeners on %s", ErrNotSupported, runtime.GOOS)
}

func (s *streamServer) unlisten(addr string) error {
	delete(s.listeners, addr)
	return nil
}
