// Copyright 2016 The Mangos Authors
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

// Package ws implements the ws:// transport: a byte stream carried
// over WebSocket binary frames instead of a raw socket. Each Send AIO
// the pipe engine issues becomes one WriteMessage call, but a sender's
// frame (length prefix plus header plus body, all coalesced into one
// Send) does not line up with the two separate Recv calls the receiver
// issues for the same data -- one for the length prefix, one for the
// body. wsStream bridges that mismatch by buffering whatever a
// ReadMessage call returns and serving Recv calls out of that buffer
// until it is drained, only issuing another ReadMessage once it is.
package ws

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

const scheme = "ws"

// OptionCheckOrigin controls whether a Listener's websocket.Upgrader
// enforces the browser Origin-header same-origin policy (true, the
// gorilla/websocket default) or accepts any origin (false).
const OptionCheckOrigin = "ws-check-origin"

func init() {
	transport.Register(&wsTran{})
}

type wsTran struct{}

func (*wsTran) Scheme() string { return scheme }

func (t *wsTran) NewDialer(url string, proto uint16) (stream.Dialer, error) {
	return &wsDialer{url: url, proto: proto}, nil
}

func (t *wsTran) NewListener(url string, proto uint16) (stream.Listener, error) {
	return newListener(url, proto)
}

func (*wsTran) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (*wsTran) SetOption(string, interface{}) error    { return errors.ErrBadOption }

// NewDialer and NewListener are exported so transport/wss can register
// the wss:// scheme against the same websocket machinery -- gorilla's
// Dialer and our wsListener both already switch on the ws/wss URL
// prefix themselves, so wss needs no code of its own beyond the
// scheme registration.
func NewDialer(url string, proto uint16) (stream.Dialer, error) {
	return (&wsTran{}).NewDialer(url, proto)
}

func NewListener(url string, proto uint16) (stream.Listener, error) {
	return (&wsTran{}).NewListener(url, proto)
}

type wsDialer struct {
	mu     sync.Mutex
	url    string
	proto  uint16
	config *tls.Config
}

func (d *wsDialer) Dial(a *aio.AIO) {
	go func() {
		d.mu.Lock()
		cfg := d.config
		d.mu.Unlock()
		wd := &websocket.Dialer{TLSClientConfig: cfg}
		conn, _, err := wd.Dial(d.url, nil)
		if err != nil {
			a.Finish(errors.ErrConnRefused, 0)
			return
		}
		a.SetOutputs(&wsStream{conn: conn})
		a.Finish(nil, 0)
	}()
}

func (d *wsDialer) Close() error { return nil }

func (d *wsDialer) GetOption(name string) (interface{}, error) {
	if name == stream.OptionTLSConfig {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.config, nil
	}
	return nil, errors.ErrBadOption
}

func (d *wsDialer) SetOption(name string, v interface{}) error {
	if name != stream.OptionTLSConfig {
		return errors.ErrBadOption
	}
	cfg, ok := v.(*tls.Config)
	if !ok {
		return errors.ErrBadValue
	}
	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()
	return nil
}

// wsListener runs its own http.Server over a net.Listener it binds
// itself (mirroring ws.go's "we listen separately so we can deal with
// address-in-use ourselves" approach), upgrading every request on
// url.Path to a websocket and feeding the result to acceptq.
type wsListener struct {
	mu          sync.Mutex
	addr        *url.URL
	raw         string
	secure      bool
	config      *tls.Config
	checkOrigin bool
	upgrader    websocket.Upgrader
	ln          net.Listener
	srv         *http.Server
	acceptq     chan *websocket.Conn
	closeq      chan struct{}
	started     bool
	closed      bool
}

func newListener(raw string, proto uint16) (stream.Listener, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, errors.ErrAddrInvalid
	}
	if u.Path == "" {
		u.Path = "/"
	}
	l := &wsListener{
		addr:        u,
		raw:         raw,
		secure:      strings.HasPrefix(raw, "wss://"),
		checkOrigin: true,
		acceptq:     make(chan *websocket.Conn),
		closeq:      make(chan struct{}),
	}
	return l, nil
}

func (l *wsListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.secure && (l.config == nil || len(l.config.Certificates) == 0) {
		return errors.ErrBadValue
	}

	taddr, err := net.ResolveTCPAddr("tcp", l.addr.Host)
	if err != nil {
		return errors.ErrAddrInvalid
	}
	tln, err := net.ListenTCP("tcp", taddr)
	if err != nil {
		return errors.ErrAddrInUse
	}
	if l.secure {
		l.ln = tls.NewListener(tln, l.config)
	} else {
		l.ln = tln
	}

	if !l.checkOrigin {
		l.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	mux := http.NewServeMux()
	mux.HandleFunc(l.addr.Path, l.handle)
	l.srv = &http.Server{Handler: mux}
	l.started = true
	go l.srv.Serve(l.ln)
	return nil
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.acceptq <- conn:
	case <-l.closeq:
		conn.Close()
	}
}

func (l *wsListener) Accept(a *aio.AIO) {
	go func() {
		select {
		case conn := <-l.acceptq:
			a.SetOutputs(&wsStream{conn: conn})
			a.Finish(nil, 0)
		case <-l.closeq:
			a.Finish(errors.ErrClosed, 0)
		}
	}()
}

func (l *wsListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ln := l.ln
	l.mu.Unlock()
	close(l.closeq)
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (l *wsListener) Address() string { return l.raw }

func (l *wsListener) GetOption(name string) (interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch name {
	case stream.OptionTLSConfig:
		return l.config, nil
	case OptionCheckOrigin:
		return l.checkOrigin, nil
	}
	return nil, errors.ErrBadOption
}

func (l *wsListener) SetOption(name string, v interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch name {
	case stream.OptionTLSConfig:
		cfg, ok := v.(*tls.Config)
		if !ok {
			return errors.ErrBadValue
		}
		l.config = cfg
		return nil
	case OptionCheckOrigin:
		b, ok := v.(bool)
		if !ok {
			return errors.ErrBadValue
		}
		l.checkOrigin = b
		return nil
	}
	return errors.ErrBadOption
}

// wsStream adapts a *websocket.Conn to stream.Stream: one Send call
// writes one binary frame carrying everything the pipe engine handed
// it (length prefix, header, body) in a single WriteMessage. Recv is
// stream-oriented rather than message-oriented, though: the engine
// issues one Recv for the 8-byte length prefix and a second for the
// body, both smaller than the frame gorilla/websocket hands back from
// one ReadMessage. rdBuf holds whatever a ReadMessage call produced
// that a Recv call hasn't consumed yet, so the second Recv is served
// from it instead of blocking on the next frame.
type wsStream struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	rdBuf []byte
}

func (s *wsStream) Send(a *aio.AIO) {
	iov := a.IOV()
	n := 0
	for _, v := range iov {
		n += len(v.Buf)
	}
	buf := make([]byte, 0, n)
	for _, v := range iov {
		buf = append(buf, v.Buf...)
	}
	go func() {
		err := s.conn.WriteMessage(websocket.BinaryMessage, buf)
		if err != nil {
			a.Finish(errors.ErrClosed, 0)
			return
		}
		a.Finish(nil, len(buf))
	}()
}

func (s *wsStream) Recv(a *aio.AIO) {
	iov := a.IOV()
	if len(iov) == 0 {
		a.Finish(nil, 0)
		return
	}
	go func() {
		s.mu.Lock()
		buf := s.rdBuf
		s.mu.Unlock()
		if len(buf) == 0 {
			_, body, err := s.conn.ReadMessage()
			if err != nil {
				a.Finish(errors.ErrClosed, 0)
				return
			}
			buf = body
		}
		n := copy(iov[0].Buf, buf)
		s.mu.Lock()
		s.rdBuf = buf[n:]
		s.mu.Unlock()
		a.Finish(nil, n)
	}()
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

func (s *wsStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *wsStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *wsStream) GetOption(name string) (interface{}, error) {
	switch name {
	case stream.OptionLocalAddr:
		return s.conn.LocalAddr(), nil
	case stream.OptionRemoteAddr:
		return s.conn.RemoteAddr(), nil
	}
	return nil, errors.ErrBadOption
}

func (s *wsStream) SetOption(string, interface{}) error { return errors.ErrBadOption }
