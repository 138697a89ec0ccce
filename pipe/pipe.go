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

// Package pipe implements the per-connection state machine that turns
// an opaque byte stream into a length-prefixed, handshaken, framed
// messenger: the SP handshake, the send/receive queues, and the
// bookkeeping that lets it be closed and reaped safely out from under
// concurrent callbacks.
package pipe

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/internal/reap"
	"nanomsg.org/go/sptransport/log"
	"nanomsg.org/go/sptransport/message"
	"nanomsg.org/go/sptransport/stream"
)

// negotiateTimeout is the handshake deadline. It is not user-tunable
// (spec.md §4.D.1/§5).
const negotiateTimeout = 10 * time.Second

type sendReq struct {
	a   *aio.AIO
	msg *message.Message
}

// Pipe is one end of an established, handshaken connection: it owns
// the byte stream, runs the SP handshake, and multiplexes user
// send/recv AIOs over it as length-prefixed frames.
type Pipe struct {
	mu sync.Mutex

	s      stream.Stream
	lproto uint16
	rproto uint16
	rcvmax uint64

	closed bool
	reaped bool
	errs   int

	sendAIO *aio.AIO
	recvAIO *aio.AIO

	negSendAIO  *aio.AIO
	negRecvAIO  *aio.AIO
	negSendDone bool
	negRecvDone bool
	negFinished bool

	sendq []sendReq
	recvq []*aio.AIO

	txHeader [8]byte
	rxHeader [8]byte
	rxMsg    *message.Message

	onNegotiate func(err error)
	onReap      func(*Pipe)

	opWG sync.WaitGroup
}

// New wraps s in a Pipe that will identify itself with lproto during
// the handshake. rcvmax is the receive-size ceiling to enforce once
// the pipe is carrying frames; 0 means unbounded.
func New(s stream.Stream, lproto uint16, rcvmax uint64) *Pipe {
	p := &Pipe{s: s, lproto: lproto, rcvmax: rcvmax}
	p.sendAIO = aio.New(p.sendDone)
	p.recvAIO = aio.New(p.recvDone)
	p.negSendAIO = aio.New(p.negSendDoneCB)
	p.negRecvAIO = aio.New(p.negRecvDoneCB)
	return p
}

// SetOnReap installs the callback run (on the reap worker, exactly
// once) when this pipe is fully reaped. The endpoints in this module
// do not use it; they adjust their pipe refcount themselves.
func (p *Pipe) SetOnReap(fn func(*Pipe)) {
	p.mu.Lock()
	p.onReap = fn
	p.mu.Unlock()
}

// LocalProtocol returns the local SP protocol id used in the handshake.
func (p *Pipe) LocalProtocol() uint16 { return p.lproto }

// RemoteProtocol returns the peer's SP protocol id, valid once
// Negotiate's callback has reported success.
func (p *Pipe) RemoteProtocol() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rproto
}

// SetRecvMax sets the receive-size ceiling. 0 means unbounded.
func (p *Pipe) SetRecvMax(n uint64) {
	p.mu.Lock()
	p.rcvmax = n
	p.mu.Unlock()
}

// GetOption reads a stream-level option through to the underlying
// stream (remote-addr, local-addr, and whatever transport-specific
// names that stream answers, such as ipc's peer credentials). No
// transport in this module answers keep-alive or no-delay.
func (p *Pipe) GetOption(name string) (interface{}, error) {
	return p.s.GetOption(name)
}

// RemoteAddr identifies the peer, mainly for logging (spec.md §4.D.3's
// oversize-message warning names the peer address).
func (p *Pipe) RemoteAddr() net.Addr {
	return p.s.RemoteAddr()
}

// ---------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------

// Negotiate performs the SP handshake and invokes cb exactly once with
// nil on success or a classified error on failure. On failure the pipe
// closes itself; it does not reap itself, which is left to the caller
// (the endpoints reap a pipe whose handshake failed).
//
// The two halves of the handshake record -- sending our own and
// reading the peer's -- run concurrently rather than send-then-recv:
// posting both Send and Recv against the stream up front is the only
// way a synchronous, unbuffered duplex (inproc's net.Pipe, in
// particular) can ever complete a handshake, since both peers write
// their record at the same time and neither has a reader posted yet
// if the phases are serialized.
func (p *Pipe) Negotiate(cb func(err error)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb(errors.ErrClosed)
		return
	}
	p.onNegotiate = cb
	p.txHeader = [8]byte{0, 'S', 'P', 0, byte(p.lproto >> 8), byte(p.lproto), 0, 0}
	deadline := time.Now().Add(negotiateTimeout)
	p.negSendAIO.SetDeadline(deadline)
	p.negRecvAIO.SetDeadline(deadline)
	p.mu.Unlock()

	p.negSendStart()
	p.negRecvStart()
}

func (p *Pipe) negSendStart() {
	if err := p.negSendAIO.Begin(); err != nil {
		p.negFail(err)
		return
	}
	p.negSendAIO.SetIOV([]aio.IOV{{Buf: p.txHeader[:]}})
	if err := p.negSendAIO.Schedule(p.abortStream, nil); err != nil {
		p.negFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Send(p.negSendAIO)
}

func (p *Pipe) negSendResume() {
	if err := p.negSendAIO.Begin(); err != nil {
		p.negFail(err)
		return
	}
	if err := p.negSendAIO.Schedule(p.abortStream, nil); err != nil {
		p.negFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Send(p.negSendAIO)
}

func (p *Pipe) negRecvStart() {
	if err := p.negRecvAIO.Begin(); err != nil {
		p.negFail(err)
		return
	}
	p.negRecvAIO.SetIOV([]aio.IOV{{Buf: p.rxHeader[:]}})
	if err := p.negRecvAIO.Schedule(p.abortStream, nil); err != nil {
		p.negFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Recv(p.negRecvAIO)
}

func (p *Pipe) negRecvResume() {
	if err := p.negRecvAIO.Begin(); err != nil {
		p.negFail(err)
		return
	}
	if err := p.negRecvAIO.Schedule(p.abortStream, nil); err != nil {
		p.negFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Recv(p.negRecvAIO)
}

func (p *Pipe) negSendDoneCB(a *aio.AIO) {
	defer p.opWG.Done()
	err, n := a.Result()
	if err != nil {
		if err == errors.ErrClosed {
			err = errors.ErrConnShutdown
		}
		p.negFail(err)
		return
	}
	a.IOVAdvance(n)
	if a.IOVCount() > 0 {
		p.negSendResume()
		return
	}
	p.mu.Lock()
	p.negSendDone = true
	rxDone := p.negRecvDone
	p.mu.Unlock()
	if rxDone {
		p.negComplete()
	}
}

func (p *Pipe) negRecvDoneCB(a *aio.AIO) {
	defer p.opWG.Done()
	err, n := a.Result()
	if err != nil {
		if err == errors.ErrClosed {
			err = errors.ErrConnShutdown
		}
		p.negFail(err)
		return
	}
	a.IOVAdvance(n)
	if a.IOVCount() > 0 {
		p.negRecvResume()
		return
	}
	p.mu.Lock()
	p.negRecvDone = true
	txDone := p.negSendDone
	p.mu.Unlock()
	if txDone {
		p.negComplete()
	}
}

// negComplete runs once both handshake halves have finished; it is
// only ever reached with both negSendDone and negRecvDone true.
func (p *Pipe) negComplete() {
	if p.rxHeader[0] != 0 || p.rxHeader[1] != 'S' || p.rxHeader[2] != 'P' ||
		p.rxHeader[3] != 0 || p.rxHeader[6] != 0 || p.rxHeader[7] != 0 {
		p.negFail(errors.ErrProtocol)
		return
	}
	p.mu.Lock()
	if p.negFinished {
		p.mu.Unlock()
		return
	}
	p.negFinished = true
	p.rproto = uint16(p.rxHeader[4])<<8 | uint16(p.rxHeader[5])
	cb := p.onNegotiate
	p.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

// negFail reports err to the negotiate callback exactly once, however
// many ways the two concurrent handshake halves find to fail: closing
// the pipe here unblocks whichever half (if any) is still in flight,
// whose own completion callback will call negFail again and be
// ignored once negFinished is set.
func (p *Pipe) negFail(err error) {
	p.Close()
	p.mu.Lock()
	if p.negFinished {
		p.mu.Unlock()
		return
	}
	p.negFinished = true
	cb := p.onNegotiate
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// ---------------------------------------------------------------
// Send path
// ---------------------------------------------------------------

// Send enqueues a message for transmission. a completes with the
// number of bytes sent on success, or a classified error.
func (p *Pipe) Send(a *aio.AIO, msg *message.Message) {
	if err := a.Begin(); err != nil {
		a.FinishSync(err, 0)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		a.FinishSync(errors.ErrClosed, 0)
		return
	}
	p.sendq = append(p.sendq, sendReq{a: a, msg: msg})
	isHead := len(p.sendq) == 1
	p.mu.Unlock()

	a.Schedule(p.sendCancel, a)
	if isHead {
		p.sendStart()
	}
}

func (p *Pipe) sendCancel(a *aio.AIO, arg interface{}, err error) {
	ua := arg.(*aio.AIO)
	p.mu.Lock()
	if len(p.sendq) > 0 && p.sendq[0].a == ua {
		p.mu.Unlock()
		// on the wire (or about to be): abort the tx AIO; its
		// completion drives sendDone, which reports err to ua.
		p.sendAIO.Abort(err)
		return
	}
	for i, r := range p.sendq {
		if r.a == ua {
			p.sendq = append(p.sendq[:i], p.sendq[i+1:]...)
			p.mu.Unlock()
			ua.FinishSync(err, 0)
			return
		}
	}
	p.mu.Unlock()
}

func (p *Pipe) sendStart() {
	p.mu.Lock()
	if p.closed || len(p.sendq) == 0 {
		p.mu.Unlock()
		return
	}
	head := p.sendq[0]
	p.mu.Unlock()

	l := head.msg.Len()
	binary.BigEndian.PutUint64(p.txHeader[:], l)
	iov := make([]aio.IOV, 0, 3)
	iov = append(iov, aio.IOV{Buf: p.txHeader[:]})
	if len(head.msg.Header) > 0 {
		iov = append(iov, aio.IOV{Buf: head.msg.Header})
	}
	if len(head.msg.Body) > 0 {
		iov = append(iov, aio.IOV{Buf: head.msg.Body})
	}

	if err := p.sendAIO.Begin(); err != nil {
		p.sendFail(err)
		return
	}
	p.sendAIO.SetIOV(iov)
	if err := p.sendAIO.Schedule(p.abortStream, nil); err != nil {
		p.sendFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Send(p.sendAIO)
}

func (p *Pipe) sendResume() {
	if err := p.sendAIO.Begin(); err != nil {
		p.sendFail(err)
		return
	}
	if err := p.sendAIO.Schedule(p.abortStream, nil); err != nil {
		p.sendFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Send(p.sendAIO)
}

func (p *Pipe) sendDone(a *aio.AIO) {
	defer p.opWG.Done()
	err, n := a.Result()
	if err != nil {
		p.sendFail(err)
		return
	}
	a.IOVAdvance(n)
	if a.IOVCount() > 0 {
		p.sendResume()
		return
	}

	p.mu.Lock()
	if len(p.sendq) == 0 {
		p.mu.Unlock()
		return
	}
	head := p.sendq[0]
	p.sendq = p.sendq[1:]
	more := len(p.sendq) > 0
	p.mu.Unlock()

	n64 := head.msg.Len()
	head.msg.Free()
	head.a.Finish(nil, int(n64))

	if more {
		p.sendStart()
	}
}

func (p *Pipe) sendFail(err error) {
	p.mu.Lock()
	p.errs++
	if len(p.sendq) == 0 {
		p.mu.Unlock()
		return
	}
	head := p.sendq[0]
	p.sendq = p.sendq[1:]
	p.mu.Unlock()

	head.a.Finish(err, 0)
	// Per spec.md §4.D.2/§9: do not arm the next queued send. The
	// protocol layer above is expected to observe the error and close
	// the pipe; the remaining queue drains via that close path.
}

// ---------------------------------------------------------------
// Receive path
// ---------------------------------------------------------------

// Recv enqueues a receive request. On success a's outputs carry the
// received *message.Message and a finishes with its byte length.
func (p *Pipe) Recv(a *aio.AIO) {
	if err := a.Begin(); err != nil {
		a.FinishSync(err, 0)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		a.FinishSync(errors.ErrClosed, 0)
		return
	}
	p.recvq = append(p.recvq, a)
	isHead := len(p.recvq) == 1
	p.mu.Unlock()

	a.Schedule(p.recvCancel, a)
	if isHead {
		p.recvStart()
	}
}

func (p *Pipe) recvCancel(a *aio.AIO, arg interface{}, err error) {
	ua := arg.(*aio.AIO)
	p.mu.Lock()
	if len(p.recvq) > 0 && p.recvq[0] == ua {
		p.mu.Unlock()
		p.recvAIO.Abort(err)
		return
	}
	for i, q := range p.recvq {
		if q == ua {
			p.recvq = append(p.recvq[:i], p.recvq[i+1:]...)
			p.mu.Unlock()
			ua.FinishSync(err, 0)
			return
		}
	}
	p.mu.Unlock()
}

func (p *Pipe) recvStart() {
	p.mu.Lock()
	if p.closed || len(p.recvq) == 0 {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.recvAIO.Begin(); err != nil {
		p.recvFail(err)
		return
	}
	p.recvAIO.SetIOV([]aio.IOV{{Buf: p.rxHeader[:]}})
	if err := p.recvAIO.Schedule(p.abortStream, nil); err != nil {
		p.recvFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Recv(p.recvAIO)
}

func (p *Pipe) recvResume() {
	if err := p.recvAIO.Begin(); err != nil {
		p.recvFail(err)
		return
	}
	if err := p.recvAIO.Schedule(p.abortStream, nil); err != nil {
		p.recvFail(err)
		return
	}
	p.opWG.Add(1)
	p.s.Recv(p.recvAIO)
}

func (p *Pipe) recvDone(a *aio.AIO) {
	defer p.opWG.Done()
	err, n := a.Result()
	if err != nil {
		p.recvFail(err)
		return
	}
	a.IOVAdvance(n)
	if a.IOVCount() > 0 {
		p.recvResume()
		return
	}

	p.mu.Lock()
	msg := p.rxMsg
	p.mu.Unlock()

	if msg == nil {
		// The length header just completed.
		l := binary.BigEndian.Uint64(p.rxHeader[:])
		p.mu.Lock()
		max := p.rcvmax
		p.mu.Unlock()
		if max > 0 && l > max {
			log.Warnf("oversize message", "peer", p.s.RemoteAddr(), "length", l, "max", max)
			p.recvFail(errors.ErrMsgTooBig)
			return
		}
		if l == 0 {
			p.deliverRecv(message.New(0))
			return
		}
		m := message.New(int(l))
		p.mu.Lock()
		p.rxMsg = m
		p.mu.Unlock()
		if err := p.recvAIO.Begin(); err != nil {
			p.recvFail(err)
			return
		}
		p.recvAIO.SetIOV([]aio.IOV{{Buf: m.Body}})
		if err := p.recvAIO.Schedule(p.abortStream, nil); err != nil {
			p.recvFail(err)
			return
		}
		p.opWG.Add(1)
		p.s.Recv(p.recvAIO)
		return
	}

	// The body just completed.
	p.mu.Lock()
	p.rxMsg = nil
	p.mu.Unlock()
	p.deliverRecv(msg)
}

func (p *Pipe) deliverRecv(msg *message.Message) {
	p.mu.Lock()
	if len(p.recvq) == 0 {
		p.mu.Unlock()
		msg.Free()
		return
	}
	head := p.recvq[0]
	p.recvq = p.recvq[1:]
	more := len(p.recvq) > 0
	p.mu.Unlock()

	head.SetOutputs(msg)
	head.Finish(nil, len(msg.Header)+len(msg.Body))

	if more {
		p.recvStart()
	}
}

func (p *Pipe) recvFail(err error) {
	p.mu.Lock()
	if p.rxMsg != nil {
		p.rxMsg.Free()
		p.rxMsg = nil
	}
	if len(p.recvq) == 0 {
		p.mu.Unlock()
		if err == errors.ErrMsgTooBig {
			p.Close()
		}
		return
	}
	head := p.recvq[0]
	p.recvq = p.recvq[1:]
	p.mu.Unlock()

	head.Finish(err, 0)
	if err == errors.ErrMsgTooBig {
		p.Close()
	}
	// Otherwise (stream error), do not re-arm; the caller is expected
	// to close the pipe once it observes the failure.
}

// ---------------------------------------------------------------
// Close / stop / reap
// ---------------------------------------------------------------

// Close idempotently closes the underlying stream, which unblocks any
// outstanding stream-level send/recv with a closed error and drives it
// through the normal failure paths above.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.s.Close()
}

// Stop waits for any AIO callback already in flight on this pipe's
// internal send/recv/negotiate AIOs to finish running.
func (p *Pipe) Stop() {
	p.opWG.Wait()
}

// Reap schedules this pipe for deferred destruction. It is safe to
// call more than once; only the first call has effect.
func (p *Pipe) Reap() {
	p.mu.Lock()
	if p.reaped {
		p.mu.Unlock()
		return
	}
	p.reaped = true
	onReap := p.onReap
	p.mu.Unlock()

	reap.Default.Schedule(func() {
		p.Close()
		p.Stop()
		if onReap != nil {
			onReap(p)
		}
	})
}

// abortStream is the cancellation hook installed on every internal
// AIO (negotiate/send/recv). There is no way to interrupt a single
// in-flight Send/Recv on a shared stream short of closing it, so a
// cancelled or timed-out internal operation tears down the whole
// pipe; the resulting ErrClosed from the stream drives the normal
// failure paths above.
func (p *Pipe) abortStream(a *aio.AIO, arg interface{}, err error) {
	p.s.Close()
}
