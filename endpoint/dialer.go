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
	"math/rand"
	"sync"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/pipe"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

// Default reconnect backoff bounds, used when SetOption has not set
// OptionReconnectMinTime/OptionReconnectMaxTime.
const (
	defaultReconnectMinTime = 100 * time.Millisecond
	defaultReconnectMaxTime = 0 // 0 disables growth: always reconnTime
)

// Dialer owns one outbound address: it repeatedly connects, runs the
// handshake on each resulting stream, and hands negotiated pipes to
// whoever is waiting via NextPipe. A failed or lost connection is
// retried after OptionReconnectMinTime; only when
// OptionReconnectMaxTime is set does that delay grow, by a jittered
// exponential factor, up to the max.
type Dialer struct {
	mu   sync.Mutex
	addr string
	d    stream.Dialer
	tran transport.Transport

	proto  uint16
	rcvmax uint64

	closed  bool
	dialing bool
	active  bool

	reconnTime    time.Duration
	reconnMinTime time.Duration
	reconnMaxTime time.Duration
	redialer      *time.Timer

	negopipes map[*pipe.Pipe]struct{}
	waitpipes map[*pipe.Pipe]struct{}
	refcount  int

	connAIO *aio.AIO
	useraio *aio.AIO
}

// NewDialer constructs a Dialer for addr using tran, identifying
// itself during handshakes with proto and enforcing rcvmax on inbound
// frames (0 = unbounded).
func NewDialer(tran transport.Transport, addr string, proto uint16, rcvmax uint64) (*Dialer, error) {
	d, err := tran.NewDialer(addr, proto)
	if err != nil {
		return nil, err
	}
	ep := &Dialer{
		addr:          addr,
		d:             d,
		tran:          tran,
		proto:         proto,
		rcvmax:        rcvmax,
		reconnMinTime: defaultReconnectMinTime,
		reconnMaxTime: defaultReconnectMaxTime,
		negopipes:     map[*pipe.Pipe]struct{}{},
		waitpipes:     map[*pipe.Pipe]struct{}{},
	}
	ep.connAIO = aio.New(ep.dialDone)
	return ep, nil
}

// GetOption reads a dialer-local option, falling through to the
// underlying stream.Dialer for transport-specific names.
func (d *Dialer) GetOption(name string) (interface{}, error) {
	switch name {
	case OptionReconnectMinTime:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.reconnMinTime, nil
	case OptionReconnectMaxTime:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.reconnMaxTime, nil
	}
	return d.d.GetOption(name)
}

// SetOption sets a dialer-local option, falling through to the
// underlying stream.Dialer for transport-specific names.
func (d *Dialer) SetOption(name string, v interface{}) error {
	switch name {
	case OptionReconnectMinTime:
		t, ok := v.(time.Duration)
		if !ok {
			return errors.ErrBadValue
		}
		d.mu.Lock()
		d.reconnMinTime = t
		d.mu.Unlock()
		return nil
	case OptionReconnectMaxTime:
		t, ok := v.(time.Duration)
		if !ok {
			return errors.ErrBadValue
		}
		d.mu.Lock()
		d.reconnMaxTime = t
		d.mu.Unlock()
		return nil
	}
	return d.d.SetOption(name, v)
}

// Start begins dialing asynchronously: it returns immediately, and
// connection attempts (plus reconnects) proceed in the background
// until Close.
func (d *Dialer) Start() error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return errors.ErrAddrInUse
	}
	if d.closed {
		d.mu.Unlock()
		return errors.ErrClosed
	}
	d.active = true
	d.reconnTime = d.reconnMinTime
	d.mu.Unlock()

	d.dial()
	return nil
}

// NextPipe submits a request for the next negotiated pipe this dialer
// produces. Only one request may be outstanding at a time; a second
// concurrent call fails with ErrBusy. On success a.Output(0) is the
// *pipe.Pipe.
func (d *Dialer) NextPipe(a *aio.AIO) {
	if err := a.Begin(); err != nil {
		a.FinishSync(err, 0)
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		a.FinishSync(errors.ErrClosed, 0)
		return
	}
	if d.useraio != nil {
		d.mu.Unlock()
		a.FinishSync(errors.ErrBusy, 0)
		return
	}
	d.useraio = a
	d.mu.Unlock()
	a.Schedule(d.cancelNextPipe, a)
	d.match()
}

func (d *Dialer) cancelNextPipe(a *aio.AIO, arg interface{}, err error) {
	d.mu.Lock()
	if d.useraio == arg.(*aio.AIO) {
		d.useraio = nil
	}
	d.mu.Unlock()
	a.FinishSync(err, 0)
}

// Release tells the dialer that a pipe previously handed out via
// NextPipe has died, so its refcount can be dropped and (since the
// dialer always wants to be connected) a fresh redial kicked off.
func (d *Dialer) Release(p *pipe.Pipe) {
	d.mu.Lock()
	d.refcount--
	d.mu.Unlock()
	p.Reap()
	d.pipeClosed()
}

// Close stops dialing and reaps any pipe this dialer still owns
// (negotiating or waiting for pickup). Pipes already handed out via
// NextPipe belong to the caller and are unaffected.
func (d *Dialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.ErrClosed
	}
	d.closed = true
	if d.redialer != nil {
		d.redialer.Stop()
	}
	ua := d.useraio
	d.useraio = nil
	pipes := make([]*pipe.Pipe, 0, len(d.negopipes)+len(d.waitpipes))
	for p := range d.negopipes {
		pipes = append(pipes, p)
	}
	for p := range d.waitpipes {
		pipes = append(pipes, p)
	}
	d.mu.Unlock()

	if ua != nil {
		ua.FinishSync(errors.ErrClosed, 0)
	}
	for _, p := range pipes {
		p.Reap()
	}
	d.connAIO.Abort(errors.ErrClosed)
	return d.d.Close()
}

func (d *Dialer) dial() {
	d.mu.Lock()
	if d.dialing || d.closed {
		d.mu.Unlock()
		return
	}
	if d.redialer != nil {
		d.redialer.Stop()
	}
	d.dialing = true
	d.mu.Unlock()

	if err := d.connAIO.Begin(); err != nil {
		d.dialDone(d.connAIO)
		return
	}
	d.connAIO.Schedule(d.abortDial, nil)
	d.d.Dial(d.connAIO)
}

// abortDial is the connAIO cancel hook: the only way to interrupt an
// in-flight Dial is to close the stream.Dialer out from under it.
func (d *Dialer) abortDial(a *aio.AIO, arg interface{}, err error) {
	d.d.Close()
}

func (d *Dialer) dialDone(a *aio.AIO) {
	err, _ := a.Result()
	d.mu.Lock()
	d.dialing = false
	d.mu.Unlock()

	if err == nil {
		s := a.Output(0).(stream.Stream)
		p := pipe.New(s, d.proto, d.rcvmax)
		d.mu.Lock()
		d.refcount++
		d.negopipes[p] = struct{}{}
		d.mu.Unlock()
		p.Negotiate(func(err error) { d.onNegotiated(p, err) })
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || err == errors.ErrClosed {
		return
	}
	d.scheduleRedialLocked()
}

// scheduleRedialLocked arms the backoff timer. Caller holds d.mu.
func (d *Dialer) scheduleRedialLocked() {
	rtime := d.reconnTime
	if d.reconnMaxTime != 0 {
		const minfact, maxfact = 1.1, 1.5
		actfact := rand.Float64()*(maxfact-minfact) + minfact
		d.reconnTime = time.Duration(actfact * float64(d.reconnTime))
		if d.reconnTime > d.reconnMaxTime {
			d.reconnTime = d.reconnMaxTime
		}
	}
	d.redialer = time.AfterFunc(rtime, d.dial)
}

// pipeClosed is invoked once a negotiated pipe is later lost (Release)
// or a pipe's handshake fails. Like a failed dial, this sleeps
// reconnTime before retrying, so a peer that accepts and then
// immediately rejects us can't spin the CPU.
func (d *Dialer) pipeClosed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.scheduleRedialLocked()
}

func (d *Dialer) onNegotiated(p *pipe.Pipe, err error) {
	d.mu.Lock()
	delete(d.negopipes, p)
	if err != nil {
		d.refcount--
		d.mu.Unlock()
		p.Reap()
		d.pipeClosed()
		return
	}
	// A full SP handshake means the peer is genuinely speaking our
	// protocol; reset the backoff to its floor.
	d.reconnTime = d.reconnMinTime
	d.waitpipes[p] = struct{}{}
	d.mu.Unlock()
	d.match()
}

func (d *Dialer) match() {
	d.mu.Lock()
	if d.useraio == nil || len(d.waitpipes) == 0 {
		d.mu.Unlock()
		return
	}
	var p *pipe.Pipe
	for k := range d.waitpipes {
		p = k
		break
	}
	delete(d.waitpipes, p)
	a := d.useraio
	d.useraio = nil
	d.mu.Unlock()

	a.SetOutputs(p)
	a.Finish(nil, 0)
}
