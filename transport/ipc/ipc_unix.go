// +build linux

// Copyright 2018 The Mangos Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ipc

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

// Peer credential options, readable from the stream.Stream Accept/Dial
// produces. SO_PEERCRED is Linux-specific, which is why this file
// carries the "linux" build tag instead of a broader POSIX one --
// other POSIX targets would need getpeereid instead, which this file
// does not implement.
const (
	OptionPeerPID = "peer-pid"
	OptionPeerUID = "peer-uid"
	OptionPeerGID = "peer-gid"
)

func newDialer(path string) (stream.Dialer, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, errors.ErrAddrInvalid
	}
	return &unixDialer{addr: addr}, nil
}

func newListener(path, url string) (stream.Listener, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, errors.ErrAddrInvalid
	}
	return &unixListener{addr: addr, url: url}, nil
}

type unixDialer struct {
	addr *net.UnixAddr
}

func (d *unixDialer) Dial(a *aio.AIO) {
	go func() {
		conn, err := net.DialUnix("unix", nil, d.addr)
		if err != nil {
			a.Finish(errors.ErrConnRefused, 0)
			return
		}
		a.SetOutputs(newUnixStream(conn))
		a.Finish(nil, 0)
	}()
}

func (d *unixDialer) Close() error { return nil }

func (d *unixDialer) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (d *unixDialer) SetOption(string, interface{}) error   { return errors.ErrBadOption }

type unixListener struct {
	mu     sync.Mutex
	addr   *net.UnixAddr
	url    string
	ln     *net.UnixListener
	closed bool
}

func (l *unixListener) Listen() error {
	ln, err := net.ListenUnix("unix", l.addr)
	if err != nil {
		return errors.ErrAddrInUse
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

func (l *unixListener) Accept(a *aio.AIO) {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		a.Finish(errors.ErrClosed, 0)
		return
	}
	go func() {
		conn, err := ln.AcceptUnix()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				a.Finish(errors.ErrClosed, 0)
				return
			}
			a.Finish(transport.ClassifyAcceptError(err), 0)
			return
		}
		a.SetOutputs(newUnixStream(conn))
		a.Finish(nil, 0)
	}()
}

func (l *unixListener) Close() error {
	l.mu.Lock()
	l.closed = true
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (l *unixListener) Address() string { return l.url }

func (l *unixListener) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (l *unixListener) SetOption(string, interface{}) error   { return errors.ErrBadOption }

// unixStream wraps transport.NetStream to additionally answer the
// peer-pid/peer-uid/peer-gid options via SO_PEERCRED, read once at
// connection time since credentials can't change over the socket's
// lifetime.
type unixStream struct {
	transport.NetStream
	pid int32
	uid uint32
	gid uint32
	ok  bool
}

func newUnixStream(conn *net.UnixConn) *unixStream {
	s := &unixStream{NetStream: transport.NetStream{Conn: conn}}
	if raw, err := conn.SyscallConn(); err == nil {
		raw.Control(func(fd uintptr) {
			if cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED); err == nil {
				s.pid, s.uid, s.gid = cred.Pid, cred.Uid, cred.Gid
				s.ok = true
			}
		})
	}
	return s
}

func (s *unixStream) GetOption(name string) (interface{}, error) {
	if s.ok {
		switch name {
		case OptionPeerPID:
			return s.pid, nil
		case OptionPeerUID:
			return s.uid, nil
		case OptionPeerGID:
			return s.gid, nil
		}
	}
	return s.NetStream.GetOption(name)
}
