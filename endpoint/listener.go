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
	"sync"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/pipe"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

// acceptCooloff is how long the accept loop pauses after a transient
// resource error (out of memory, out of file descriptors) before
// retrying, so a momentarily exhausted process doesn't spin a core
// calling accept in a tight loop.
const acceptCooloff = 10 * time.Millisecond

// Listener owns a bound address: it accepts connections continuously,
// negotiates each one, and hands finished pipes to whoever is waiting
// via NextPipe.
type Listener struct {
	mu   sync.Mutex
	l    stream.Listener
	tran transport.Transport

	proto  uint16
	rcvmax uint64

	closed  bool
	started bool

	negopipes map[*pipe.Pipe]struct{}
	waitpipes map[*pipe.Pipe]struct{}
	refcount  int

	acceptAIO *aio.AIO
	useraio   *aio.AIO
}

// NewListener constructs a Listener bound to addr using tran.
func NewListener(tran transport.Transport, addr string, proto uint16, rcvmax uint64) (*Listener, error) {
	l, err := tran.NewListener(addr, proto)
	if err != nil {
		return nil, err
	}
	ep := &Listener{
		l:         l,
		tran:      tran,
		proto:     proto,
		rcvmax:    rcvmax,
		negopipes: map[*pipe.Pipe]struct{}{},
		waitpipes: map[*pipe.Pipe]struct{}{},
	}
	ep.acceptAIO = aio.New(ep.acceptDone)
	return ep, nil
}

// GetOption/SetOption behave as Dialer's, but there is no reconnect
// backoff to configure; unrecognized names pass through to the
// underlying stream.Listener.
func (l *Listener) GetOption(name string) (interface{}, error) {
	return l.l.GetOption(name)
}

func (l *Listener) SetOption(name string, v interface{}) error {
	return l.l.SetOption(name, v)
}

// Address returns the address this listener is bound to.
func (l *Listener) Address() string {
	return l.l.Address()
}

// Start binds (if not already) and begins the accept loop.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.ErrInvalidState
	}
	if l.closed {
		l.mu.Unlock()
		return errors.ErrClosed
	}
	l.started = true
	l.mu.Unlock()

	if err := l.l.Listen(); err != nil {
		l.mu.Lock()
		l.started = false
		l.mu.Unlock()
		return err
	}
	l.acceptNext()
	return nil
}

// NextPipe submits a request for the next negotiated inbound pipe.
// Only one request may be outstanding at a time; a second concurrent
// call fails with ErrBusy. On success a.Output(0) is the *pipe.Pipe.
func (l *Listener) NextPipe(a *aio.AIO) {
	if err := a.Begin(); err != nil {
		a.FinishSync(err, 0)
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		a.FinishSync(errors.ErrClosed, 0)
		return
	}
	if l.useraio != nil {
		l.mu.Unlock()
		a.FinishSync(errors.ErrBusy, 0)
		return
	}
	l.useraio = a
	l.mu.Unlock()
	a.Schedule(l.cancelNextPipe, a)
	l.match()
}

func (l *Listener) cancelNextPipe(a *aio.AIO, arg interface{}, err error) {
	l.mu.Lock()
	if l.useraio == arg.(*aio.AIO) {
		l.useraio = nil
	}
	l.mu.Unlock()
	a.FinishSync(err, 0)
}

// Release tells the listener that a pipe previously handed out via
// NextPipe has died, dropping its refcount.
func (l *Listener) Release(p *pipe.Pipe) {
	l.mu.Lock()
	l.refcount--
	l.mu.Unlock()
	p.Reap()
}

// Close stops accepting and reaps any pipe this listener still owns
// (negotiating or waiting for pickup). Pipes already handed out via
// NextPipe belong to the caller.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.ErrClosed
	}
	l.closed = true
	ua := l.useraio
	l.useraio = nil
	pipes := make([]*pipe.Pipe, 0, len(l.negopipes)+len(l.waitpipes))
	for p := range l.negopipes {
		pipes = append(pipes, p)
	}
	for p := range l.waitpipes {
		pipes = append(pipes, p)
	}
	l.mu.Unlock()

	if ua != nil {
		ua.FinishSync(errors.ErrClosed, 0)
	}
	for _, p := range pipes {
		p.Reap()
	}
	l.acceptAIO.Abort(errors.ErrClosed)
	return l.l.Close()
}

func (l *Listener) acceptNext() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.acceptAIO.Begin(); err != nil {
		l.acceptDone(l.acceptAIO)
		return
	}
	l.acceptAIO.Schedule(l.abortAccept, nil)
	l.l.Accept(l.acceptAIO)
}

// abortAccept is the acceptAIO cancel hook: closing the listener is
// the only way to interrupt a blocked Accept.
func (l *Listener) abortAccept(a *aio.AIO, arg interface{}, err error) {
	l.l.Close()
}

func (l *Listener) acceptDone(a *aio.AIO) {
	err, _ := a.Result()
	if err == nil {
		s := a.Output(0).(stream.Stream)
		p := pipe.New(s, l.proto, l.rcvmax)
		l.mu.Lock()
		l.refcount++
		l.negopipes[p] = struct{}{}
		l.mu.Unlock()
		p.Negotiate(func(err error) { l.onNegotiated(p, err) })
		l.acceptNext()
		return
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed || err == errors.ErrClosed {
		return
	}

	switch err {
	case errors.ErrNoMemory, errors.ErrNoFiles:
		time.AfterFunc(acceptCooloff, l.acceptNext)
	default:
		l.acceptNext()
	}
}

func (l *Listener) onNegotiated(p *pipe.Pipe, err error) {
	l.mu.Lock()
	delete(l.negopipes, p)
	if err != nil {
		l.refcount--
		l.mu.Unlock()
		p.Reap()
		return
	}
	l.waitpipes[p] = struct{}{}
	l.mu.Unlock()
	l.match()
}

func (l *Listener) match() {
	l.mu.Lock()
	if l.useraio == nil || len(l.waitpipes) == 0 {
		l.mu.Unlock()
		return
	}
	var p *pipe.Pipe
	for k := range l.waitpipes {
		p = k
		break
	}
	delete(l.waitpipes, p)
	a := l.useraio
	l.useraio = nil
	l.mu.Unlock()

	a.SetOutputs(p)
	a.Finish(nil, 0)
}
