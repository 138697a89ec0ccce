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

// Package stream defines the uniform byte-stream contract every
// transport exposes to the pipe engine. It is deliberately narrow: a
// transport need only move bytes and honor AIO cancellation, and knows
// nothing about framing, handshakes, or message boundaries.
package stream

import (
	"net"

	"nanomsg.org/go/sptransport/aio"
)

// Recognized option names, mirroring spec.md §6. Every Stream should
// answer GetOption for remote-addr/local-addr. OptionKeepAlive and
// OptionNoDelay are named here, but no transport in this module
// answers them: its streams report ErrBadOption for both.
const (
	OptionRemoteAddr = "remote-addr"
	OptionLocalAddr  = "local-addr"
	OptionKeepAlive  = "keep-alive"
	OptionNoDelay    = "no-delay"
	OptionTLSConfig  = "tls-config"
)

// Stream is the byte-oriented transport a pipe is layered on: send,
// recv, close, option get/set. Send and Recv must each be safe against
// concurrent use by independent directions (one send in flight and one
// recv in flight at the same time) but need not tolerate two concurrent
// sends, or two concurrent recvs -- the pipe engine enforces that by
// construction (at most one outstanding stream send/recv per pipe).
//
// The caller (the pipe engine) has already called a.Begin() and
// a.Schedule() before handing the AIO to Send/Recv -- the schedule's
// cancel hook closes the stream, since that is the only portable way
// to interrupt a blocked read or write. Send and Recv must return
// immediately: they inspect a.IOV(), then perform the actual transfer
// attempt on their own goroutine (net.Conn's Read/Write block) and
// call a.Finish with the number of bytes actually moved once it
// returns. Partial I/O is permitted -- fill as many bytes as possible
// and finish with that count; the caller re-arms with the remaining
// iov via a.IOVAdvance.
type Stream interface {
	Send(a *aio.AIO)
	Recv(a *aio.AIO)

	// Close is idempotent. Any AIO with a Send/Recv outstanding at the
	// time of Close must complete with errors.ErrClosed.
	Close() error

	// LocalAddr and RemoteAddr describe the two ends of the stream.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	GetOption(name string) (interface{}, error)
	SetOption(name string, value interface{}) error
}

// Dialer produces a Stream by connecting to a remote listener. Dial is
// itself AIO-driven for the same reason Send/Recv are: connection
// establishment (including TLS handshakes) can block for an arbitrary
// time and must be cancellable. As with Send/Recv, the caller has
// already called a.Begin()/a.Schedule() (whose cancel hook closes the
// Dialer) before calling Dial.
//
// On success the implementation calls a.SetOutputs(stream) before
// finishing.
type Dialer interface {
	Dial(a *aio.AIO)
	Close() error
	GetOption(name string) (interface{}, error)
	SetOption(name string, value interface{}) error
}

// Listener produces Streams by accepting inbound connections. Listen
// binds/listens synchronously (matching spec.md §4.E.1 -- resolution
// and bind are simple enough not to warrant their own AIO); Accept is
// AIO-driven so the endpoint engine can cancel a pending accept, again
// with the caller having already called a.Begin()/a.Schedule().
//
// On success Accept's AIO carries the accepted stream via SetOutputs.
type Listener interface {
	Listen() error
	Accept(a *aio.AIO)
	Close() error
	Address() string
	GetOption(name string) (interface{}, error)
	SetOption(name string, value interface{}) error
}
