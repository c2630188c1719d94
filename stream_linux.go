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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/mdlayher/socket"
	"github.com/mdlayher/vsock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// acceptTimeout bounds an accept that lost the race for a pending
// connection, so the reactor goroutine never parks for long.
const acceptTimeout = 5 * time.Millisecond

type streamListener struct {
	s    *streamServer
	addr listenAddr
	sock *socket.Conn
	ev   Event
}

func (l *streamListener) String() string {
	if l == nil {
		return ""
	}
	if sa, err := l.sock.Getsockname(); err == nil {
		return sockaddrString(sa)
	}
	return l.addr.addr
}

// StreamConn is an accepted stream connection. It owns a Pool that lives
// as long as the connection.
type StreamConn struct {
	Pool *Pool
	Data any

	s       *streamServer
	sock    *socket.Conn
	fd      int
	remote  unix.Sockaddr
	buf     []byte
	rev     Event
	wev     Event
	pending []byte
	closed  bool
}

func rawFD(c *socket.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err = rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

func tcpSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrVM:
		return (&vsock.Addr{ContextID: sa.CID, Port: sa.Port}).String()
	}
	return fmt.Sprintf("%T", sa)
}

func (s *streamServer) listen(addr string) error {
	la, err := parseListen(addr)
	if err != nil {
		return err
	}
	var (
		sock *socket.Conn
		sa   unix.Sockaddr
	)
	switch la.network {
	case "vsock":
		cid, err := vsock.ContextID()
		if err != nil {
			return fmt.Errorf("vsock context id: %w", err)
		}
		sa = &unix.SockaddrVM{CID: cid, Port: la.port}
		if sock, err = socket.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0, "vsock", nil); err != nil {
			return err
		}
	default:
		tcp, err := net.ResolveTCPAddr("tcp", la.addr)
		if err != nil {
			return err
		}
		var family int
		family, sa = tcpSockaddr(tcp)
		if sock, err = socket.Socket(family, unix.SOCK_STREAM, 0, "tcp", nil); err != nil {
			return err
		}
		if err = sock.SetsockoptInt(unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = sock.Close()
			return err
		}
	}
	if err = sock.Bind(sa); err != nil {
		_ = sock.Close()
		return err
	}
	if err = sock.Listen(s.backlog); err != nil {
		_ = sock.Close()
		return err
	}
	fd, err := rawFD(sock)
	if err != nil {
		_ = sock.Close()
		return err
	}
	l := &streamListener{s: s, addr: la, sock: sock}
	l.ev = Event{FD: uintptr(fd), Data: l, Handler: l.onAccept}
	if err = s.c.reactor.Add(&l.ev, ReadEvent, 0); err != nil {
		_ = sock.Close()
		return err
	}
	s.listeners[addr] = l
	return nil
}

func (s *streamServer) unlisten(addr string) error {
	l, ok := s.listeners[addr]
	if !ok {
		return nil
	}
	delete(s.listeners, addr)
	var err error
	if l.ev.Active && s.c.reactor.State() == Running {
		err = s.c.reactor.Del(&l.ev, ReadEvent, 0)
	}
	return multierr.Append(err, l.sock.Close())
}

func (l *streamListener) onAccept(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), acceptTimeout)
	conn, rsa, err := l.sock.Accept(ctx, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	cancel()
	ev.Ready = false
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, unix.EAGAIN) {
			l.s.c.log.Warn("stream accept failed", zap.String("addr", l.addr.addr), zap.Error(err))
		}
		return
	}
	if err = l.s.open(conn, rsa); err != nil {
		l.s.c.log.Warn("stream connection setup failed", zap.Error(err))
	}
}

func (s *streamServer) open(conn *socket.Conn, rsa unix.Sockaddr) error {
	fd, err := rawFD(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	sc := &StreamConn{
		Pool:   NewPool(streamConnPoolSize),
		s:      s,
		sock:   conn,
		fd:     fd,
		remote: rsa,
	}
	sc.buf = sc.Pool.Alloc(streamReadSize)
	sc.rev = Event{FD: uintptr(fd), Data: sc, Handler: sc.onRead}
	sc.wev = Event{FD: uintptr(fd), Data: sc, Handler: sc.onWrite}
	if err = s.c.reactor.Add(&sc.rev, ReadEvent, 0); err != nil {
		sc.Pool.Destroy()
		_ = conn.Close()
		return err
	}
	s.conns[sc] = struct{}{}
	s.c.log.Debug("stream connection accepted", zap.String("remote", sc.RemoteAddr()))
	return nil
}

// RemoteAddr returns the peer address.
func (sc *StreamConn) RemoteAddr() string {
	if sc.remote == nil {
		return ""
	}
	return sockaddrString(sc.remote)
}

func (sc *StreamConn) onRead(ev *Event) {
	n, err := unix.Read(sc.fd, sc.buf)
	switch {
	case n > 0:
		sc.s.handler(sc, sc.buf[:n])
	case err == unix.EAGAIN || err == unix.EINTR:
		ev.Ready = false
	case err != nil:
		sc.s.c.log.Debug("stream read failed", zap.String("remote", sc.RemoteAddr()), zap.Error(err))
		_ = sc.Close()
	default:
		// peer closed
		_ = sc.Close()
	}
}

func (sc *StreamConn) onWrite(ev *Event) {
	if sc.closed {
		return
	}
	n, err := unix.Write(sc.fd, sc.pending)
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		_ = sc.Close()
		return
	}
	if n > 0 {
		sc.pending = sc.pending[n:]
	}
	if len(sc.pending) == 0 {
		sc.pending = nil
		ev.Ready = false
		_ = sc.s.c.reactor.Del(&sc.wev, WriteEvent, 0)
	}
}

// Write sends p, queueing whatever the socket does not take right away.
// It never blocks.
func (sc *StreamConn) Write(p []byte) (int, error) {
	if sc.closed {
		return 0, net.ErrClosed
	}
	if len(sc.pending) > 0 {
		sc.pending = append(sc.pending, p...)
		return len(p), nil
	}
	n, err := unix.Write(sc.fd, p)
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	if n < len(p) {
		sc.pending = append(sc.pending, p[n:]...)
		if err = sc.s.c.reactor.Add(&sc.wev, WriteEvent, 0); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

// Close unregisters and closes the connection and releases its Pool.
func (sc *StreamConn) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	r := sc.s.c.reactor
	if r.State() == Running {
		if sc.rev.Active {
			_ = r.Del(&sc.rev, ReadEvent, 0)
		}
		if sc.wev.Active {
			_ = r.Del(&sc.wev, WriteEvent, 0)
		}
	}
	delete(sc.s.conns, sc)
	err := sc.sock.Close()
	sc.Pool.Destroy()
	sc.buf, sc.pending = nil, nil
	return err
}
