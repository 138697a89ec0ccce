// Copyright 2014 The Mangos Authors
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

// Package tcp implements the tcp:// transport.
package tcp

import (
	"net"
	"sync"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

const scheme = "tcp"

func init() {
	transport.Register(&tcpTran{})
}

type tcpTran struct{}

func (*tcpTran) Scheme() string { return scheme }

func (t *tcpTran) NewDialer(url string, proto uint16) (stream.Dialer, error) {
	addr, err := resolve(url)
	if err != nil {
		return nil, err
	}
	return &tcpDialer{addr: addr}, nil
}

func (t *tcpTran) NewListener(url string, proto uint16) (stream.Listener, error) {
	addr, err := resolve(url)
	if err != nil {
		return nil, err
	}
	return &tcpListener{addr: addr, url: url}, nil
}

func resolve(raw string) (*net.TCPAddr, error) {
	host, err := transport.ValidateHostURL(raw, scheme)
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveTCPAddr(scheme, host)
	if err != nil {
		return nil, errors.ErrAddrInvalid
	}
	return addr, nil
}

type tcpDialer struct {
	addr *net.TCPAddr
}

// Dial connects on its own goroutine, per the stream.Dialer contract.
// The caller has already armed a's cancel hook (closing this dialer)
// before calling Dial, but net.DialTCP has no cancel handle of its
// own short of a context; a connect attempt against an unreachable
// host still fails on its own via the OS's connect timeout, so this
// is a bounded, if coarse, wait -- context-based cancellation would
// need a context.Context plumbed into stream.Dialer, which spec.md §1
// keeps out of this layer.
func (d *tcpDialer) Dial(a *aio.AIO) {
	go func() {
		conn, err := net.DialTCP(scheme, nil, d.addr)
		if err != nil {
			a.Finish(errors.ErrConnRefused, 0)
			return
		}
		conn.SetLinger(-1)
		a.SetOutputs(transport.NetStream{Conn: conn})
		a.Finish(nil, 0)
	}()
}

func (d *tcpDialer) Close() error { return nil }

func (d *tcpDialer) GetOption(name string) (interface{}, error) {
	return nil, errors.ErrBadOption
}

func (d *tcpDialer) SetOption(name string, v interface{}) error {
	return errors.ErrBadOption
}

type tcpListener struct {
	mu     sync.Mutex
	addr   *net.TCPAddr
	url    string
	ln     *net.TCPListener
	closed bool
}

func (l *tcpListener) Listen() error {
	ln, err := net.ListenTCP(scheme, l.addr)
	if err != nil {
		return errors.ErrAddrInUse
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

func (l *tcpListener) Accept(a *aio.AIO) {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		a.Finish(errors.ErrClosed, 0)
		return
	}
	go func() {
		conn, err := ln.AcceptTCP()
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
		conn.SetLinger(-1)
		a.SetOutputs(transport.NetStream{Conn: conn})
		a.Finish(nil, 0)
	}()
}

func (l *tcpListener) Close() error {
	l.mu.Lock()
	l.closed = true
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (l *tcpListener) Address() string { return l.url }

func (l *tcpListener) GetOption(name string) (interface{}, error) {
	return nil, errors.ErrBadOption
}

func (l *tcpListener) SetOption(name string, v interface{}) error {
	return errors.ErrBadOption
}
