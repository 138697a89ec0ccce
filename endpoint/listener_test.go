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

package endpoint

import (
	"net"
	"sync"
	"testing"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/pipe"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

// fakeListenTran is a stream.Listener/transport.Transport double whose
// Accept hands back one half of a net.Pipe() pair pushed onto acceptq,
// or ErrClosed once closed.
type fakeListenTran struct {
	mu      sync.Mutex
	closed  bool
	acceptq chan net.Conn
	closeq  chan struct{}
}

func newFakeListenTran() *fakeListenTran {
	return &fakeListenTran{acceptq: make(chan net.Conn), closeq: make(chan struct{})}
}

func (t *fakeListenTran) Scheme() string { return "fake" }
func (t *fakeListenTran) NewDialer(string, uint16) (stream.Dialer, error) {
	return nil, errors.ErrNotSupported
}
func (t *fakeListenTran) NewListener(string, uint16) (stream.Listener, error) {
	return t, nil
}

func (t *fakeListenTran) Listen() error { return nil }

func (t *fakeListenTran) Accept(a *aio.AIO) {
	go func() {
		select {
		case conn := <-t.acceptq:
			a.SetOutputs(transport.NetStream{Conn: conn})
			a.Finish(nil, 0)
		case <-t.closeq:
			a.Finish(errors.ErrClosed, 0)
		}
	}()
}

func (t *fakeListenTran) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.closeq)
	return nil
}

func (t *fakeListenTran) Address() string                        { return "fake://x" }
func (t *fakeListenTran) GetOption(string) (interface{}, error)  { return nil, errors.ErrBadOption }
func (t *fakeListenTran) SetOption(string, interface{}) error    { return errors.ErrBadOption }

// pushConn feeds one half of a net.Pipe() to the listener's accept
// loop and negotiates the other half so the resulting pipe completes
// its handshake.
func (t *fakeListenTran) pushConn(proto uint16) {
	c1, c2 := net.Pipe()
	go negotiatePeer(c2, proto)
	t.acceptq <- c1
}

func TestListenerAcceptAndNextPipe(t *testing.T) {
	tran := newFakeListenTran()
	l, err := NewListener(tran, "fake://x", 3, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()

	go tran.pushConn(9)

	done := make(chan struct{})
	a := aio.New(func(*aio.AIO) { close(done) })
	l.NextPipe(a)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NextPipe never completed")
	}
	if err, _ := a.Result(); err != nil {
		t.Fatalf("NextPipe err = %v", err)
	}
	p, ok := a.Output(0).(*pipe.Pipe)
	if !ok || p == nil {
		t.Fatalf("Output(0) = %v, want *pipe.Pipe", a.Output(0))
	}
	if p.RemoteProtocol() != 9 {
		t.Fatalf("remote proto = %d, want 9", p.RemoteProtocol())
	}
}

func TestListenerDoubleStart(t *testing.T) {
	tran := newFakeListenTran()
	l, err := NewListener(tran, "fake://x", 1, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()
	if err := l.Start(); err != errors.ErrInvalidState {
		t.Fatalf("second Start = %v, want ErrInvalidState", err)
	}
}

func TestListenerNextPipeBusy(t *testing.T) {
	tran := newFakeListenTran()
	l, err := NewListener(tran, "fake://x", 1, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()

	a1 := aio.New(func(*aio.AIO) {})
	l.NextPipe(a1)

	busyDone := make(chan error, 1)
	a2 := aio.New(func(a *aio.AIO) { err, _ := a.Result(); busyDone <- err })
	l.NextPipe(a2)

	select {
	case err := <-busyDone:
		if err != errors.ErrBusy {
			t.Fatalf("second NextPipe err = %v, want ErrBusy", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second NextPipe never completed")
	}
}

func TestListenerCloseFinishesPendingRequest(t *testing.T) {
	tran := newFakeListenTran()
	l, err := NewListener(tran, "fake://x", 1, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	closeDone := make(chan error, 1)
	a := aio.New(func(a *aio.AIO) { err, _ := a.Result(); closeDone <- err })
	l.NextPipe(a)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-closeDone:
		if err != errors.ErrClosed {
			t.Fatalf("NextPipe err after Close = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("NextPipe never completed after Close")
	}
}
