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

// Package tlstcp implements the tls+tcp:// transport.
package tlstcp

import (
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"net"
	"sync"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

const scheme = "tls+tcp"

func init() {
	transport.Register(&tlsTran{})
}

// tlsTran carries the *tls.Config every dialer/listener it produces
// will use; it is set once via SetOption(stream.OptionTLSConfig, ...)
// before Start, matching tls.go's single-config-per-transport shape.
type tlsTran struct {
	mu     sync.Mutex
	config *tls.Config
}

func (*tlsTran) Scheme() string { return scheme }

func (t *tlsTran) NewDialer(url string, proto uint16) (stream.Dialer, error) {
	addr, err := resolve(url)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	cfg := t.config
	t.mu.Unlock()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &tlsDialer{addr: addr, config: cfg}, nil
}

func (t *tlsTran) NewListener(url string, proto uint16) (stream.Listener, error) {
	addr, err := resolve(url)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	cfg := t.config
	t.mu.Unlock()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &tlsListener{addr: addr, url: url, config: cfg}, nil
}

func (t *tlsTran) GetOption(name string) (interface{}, error) {
	if name == stream.OptionTLSConfig {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.config, nil
	}
	return nil, errors.ErrBadOption
}

// SetOption takes a single option, a *tls.Config. TLS 1.2 is forced as
// the floor, consistent with tls.go's original hardening.
func (t *tlsTran) SetOption(name string, v interface{}) error {
	if name != stream.OptionTLSConfig {
		return errors.ErrBadOption
	}
	cfg, ok := v.(*tls.Config)
	if !ok {
		return errors.ErrBadValue
	}
	if cfg.MinVersion < tls.VersionTLS12 {
		cfg.MinVersion = tls.VersionTLS12
	}
	t.mu.Lock()
	t.config = cfg
	t.mu.Unlock()
	return nil
}

func resolve(raw string) (*net.TCPAddr, error) {
	host, err := transport.ValidateHostURL(raw, scheme)
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveTCPAddr("tcp", host)
	if err != nil {
		return nil, errors.ErrAddrInvalid
	}
	return addr, nil
}

type tlsDialer struct {
	addr   *net.TCPAddr
	config *tls.Config
}

// Dial connects the raw TCP socket and layers a client TLS handshake
// on top, both on the goroutine so the caller's Dial call returns
// immediately per the stream.Dialer contract.
func (d *tlsDialer) Dial(a *aio.AIO) {
	go func() {
		tconn, err := net.DialTCP("tcp", nil, d.addr)
		if err != nil {
			a.Finish(errors.ErrConnRefused, 0)
			return
		}
		tconn.SetLinger(-1)
		cfg := d.config
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			// tls.Client refuses to verify without a name to check.
			cfg = cfg.Clone()
			cfg.ServerName = d.addr.IP.String()
		}
		conn := tls.Client(tconn, cfg)
		if err := conn.Handshake(); err != nil {
			conn.Close()
			a.Finish(classifyHandshakeErr(err), 0)
			return
		}
		a.SetOutputs(transport.NetStream{Conn: conn})
		a.Finish(nil, 0)
	}()
}

func (d *tlsDialer) Close() error { return nil }

func (d *tlsDialer) GetOption(name string) (interface{}, error) {
	if name == stream.OptionTLSConfig {
		return d.config, nil
	}
	return nil, errors.ErrBadOption
}

func (d *tlsDialer) SetOption(name string, v interface{}) error {
	if name != stream.OptionTLSConfig {
		return errors.ErrBadOption
	}
	cfg, ok := v.(*tls.Config)
	if !ok {
		return errors.ErrBadValue
	}
	d.config = cfg
	return nil
}

type tlsListener struct {
	mu     sync.Mutex
	addr   *net.TCPAddr
	url    string
	config *tls.Config
	ln     *net.TCPListener
	closed bool
}

func (l *tlsListener) Listen() error {
	ln, err := net.ListenTCP("tcp", l.addr)
	if err != nil {
		return errors.ErrAddrInUse
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

// Accept takes a raw connection off the listener and completes the
// server-side TLS handshake before handing the stream back, both
// still within the goroutine so a slow or hostile peer's handshake
// can't block the accept loop's caller.
func (l *tlsListener) Accept(a *aio.AIO) {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		a.Finish(errors.ErrClosed, 0)
		return
	}
	go func() {
		tconn, err := ln.AcceptTCP()
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
		tconn.SetLinger(-1)
		conn := tls.Server(tconn, l.config)
		if err := conn.Handshake(); err != nil {
			conn.Close()
			a.Finish(classifyHandshakeErr(err), 0)
			return
		}
		a.SetOutputs(transport.NetStream{Conn: conn})
		a.Finish(nil, 0)
	}()
}

func (l *tlsListener) Close() error {
	l.mu.Lock()
	l.closed = true
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (l *tlsListener) Address() string { return l.url }

func (l *tlsListener) GetOption(name string) (interface{}, error) {
	if name == stream.OptionTLSConfig {
		return l.config, nil
	}
	return nil, errors.ErrBadOption
}

func (l *tlsListener) SetOption(name string, v interface{}) error {
	if name != stream.OptionTLSConfig {
		return errors.ErrBadOption
	}
	cfg, ok := v.(*tls.Config)
	if !ok {
		return errors.ErrBadValue
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return nil
}

// classifyHandshakeErr maps a TLS handshake failure to peer-auth when
// the peer's certificate fails verification (unknown authority or
// hostname mismatch, including when crypto/tls wraps them), to timeout
// for a network timeout, and to crypto for everything else. It never
// reports closed.
func classifyHandshakeErr(err error) error {
	var uae x509.UnknownAuthorityError
	if stderrors.As(err, &uae) {
		return errors.ErrPeerAuth
	}
	var he x509.HostnameError
	if stderrors.As(err, &he) {
		return errors.ErrPeerAuth
	}
	if _, ok := err.(tls.RecordHeaderError); ok {
		return errors.ErrCrypto
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errors.ErrTimeout
	}
	return errors.ErrCrypto
}
