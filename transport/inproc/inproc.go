// Copyright 2015 The Mangos Authors
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

// Package inproc implements the inproc:// transport: dialers and
// listeners that never leave the process, matched up purely by
// address string.
package inproc

import (
	"net"
	"strings"
	"sync"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

const scheme = "inproc"

func init() {
	transport.Register(&inprocTran{})
}

// registry tracks which addresses have an active listener, a
// package-level address-to-listener map with a plain channel-based
// rendezvous in place of a condition variable, since a dialer only
// ever needs to wake once rather than loop-wait on one.
var registry = struct {
	mu   sync.Mutex
	byAd map[string]*inprocListener
}{byAd: make(map[string]*inprocListener)}

type inprocTran struct{}

func (*inprocTran) Scheme() string { return scheme }

func (t *inprocTran) NewDialer(url string, proto uint16) (stream.Dialer, error) {
	addr, err := resolve(url)
	if err != nil {
		return nil, err
	}
	return &inprocDialer{addr: addr}, nil
}

func (t *inprocTran) NewListener(url string, proto uint16) (stream.Listener, error) {
	addr, err := resolve(url)
	if err != nil {
		return nil, err
	}
	return &inprocListener{addr: addr, url: url, acceptq: make(chan net.Conn)}, nil
}

func (*inprocTran) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (*inprocTran) SetOption(string, interface{}) error   { return errors.ErrBadOption }

func resolve(url string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(url, prefix) {
		return "", errors.ErrAddrInvalid
	}
	return url[len(prefix):], nil
}

type inprocDialer struct {
	addr string
}

// Dial looks up the listener registered at addr and hands it one half
// of a net.Pipe(), keeping the other half for itself -- net.Pipe gives
// us a synchronous in-memory net.Conn for free, so the rest of the
// engine (framing, handshake, AIO queues) never has to know the bytes
// never touched a socket.
func (d *inprocDialer) Dial(a *aio.AIO) {
	go func() {
		registry.mu.Lock()
		l, ok := registry.byAd[d.addr]
		registry.mu.Unlock()
		if !ok {
			a.Finish(errors.ErrConnRefused, 0)
			return
		}
		c1, c2 := net.Pipe()
		select {
		case l.acceptq <- c2:
			a.SetOutputs(transport.NetStream{Conn: c1})
			a.Finish(nil, 0)
		case <-l.closeq:
			c1.Close()
			c2.Close()
			a.Finish(errors.ErrConnRefused, 0)
		}
	}()
}

func (d *inprocDialer) Close() error { return nil }

func (d *inprocDialer) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (d *inprocDialer) SetOption(string, interface{}) error   { return errors.ErrBadOption }

type inprocListener struct {
	mu      sync.Mutex
	addr    string
	url     string
	acceptq chan net.Conn
	closeq  chan struct{}
	closed  bool
}

func (l *inprocListener) Listen() error {
	l.closeq = make(chan struct{})
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.byAd[l.addr]; ok {
		return errors.ErrAddrInUse
	}
	registry.byAd[l.addr] = l
	return nil
}

func (l *inprocListener) Accept(a *aio.AIO) {
	go func() {
		select {
		case conn := <-l.acceptq:
			a.SetOutputs(transport.NetStream{Conn: conn})
			a.Finish(nil, 0)
		case <-l.closeq:
			a.Finish(errors.ErrClosed, 0)
		}
	}()
}

func (l *inprocListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	registry.mu.Lock()
	if registry.byAd[l.addr] == l {
		delete(registry.byAd, l.addr)
	}
	registry.mu.Unlock()

	close(l.closeq)
	return nil
}

func (l *inprocListener) Address() string { return l.url }

func (l *inprocListener) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (l *inprocListener) SetOption(string, interface{}) error   { return errors.ErrBadOption }
