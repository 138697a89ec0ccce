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

package transport

import (
	stderrors "errors"
	"net"
	"syscall"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
)

// NetStream adapts any net.Conn (TCP, TLS, a Unix socket, a Windows
// named pipe) to the stream.Stream contract. It is exported so
// transport/tcp, transport/tlstcp, and the posix half of transport/ipc
// can all share it instead of reimplementing the same Send/Recv
// goroutine dance three times.
type NetStream struct {
	Conn net.Conn
}

// Send performs one Write per non-empty iov entry on its own goroutine,
// stopping at the first error, and reports the transferred byte count
// (or a classified error) through a.
func (n NetStream) Send(a *aio.AIO) {
	iov := a.IOV()
	go func() {
		var written int
		var err error
		for _, v := range iov {
			if len(v.Buf) == 0 {
				continue
			}
			var c int
			c, err = n.Conn.Write(v.Buf)
			written += c
			if err != nil {
				break
			}
		}
		a.Finish(classify(err), written)
	}()
}

// Recv performs one Read attempt on its own goroutine.
func (n NetStream) Recv(a *aio.AIO) {
	iov := a.IOV()
	if len(iov) == 0 {
		a.Finish(nil, 0)
		return
	}
	buf := iov[0].Buf
	go func() {
		c, err := n.Conn.Read(buf)
		a.Finish(classify(err), c)
	}()
}

// Close is idempotent: net.Conn.Close already tolerates repeat calls.
// A repeat call returns the conn's already-closed error unchanged.
func (n NetStream) Close() error {
	return n.Conn.Close()
}

func (n NetStream) LocalAddr() net.Addr  { return n.Conn.LocalAddr() }
func (n NetStream) RemoteAddr() net.Addr { return n.Conn.RemoteAddr() }

// GetOption answers the common stream-level options every net.Conn
// backed transport supports; transport-specific options (ipc's peer
// credentials) are handled by that transport's own wrapper type.
// Keep-alive and no-delay are not answered: tcp and tls+tcp use
// NetStream unwrapped.
func (n NetStream) GetOption(name string) (interface{}, error) {
	switch name {
	case stream.OptionLocalAddr:
		return n.Conn.LocalAddr(), nil
	case stream.OptionRemoteAddr:
		return n.Conn.RemoteAddr(), nil
	}
	return nil, errors.ErrBadOption
}

// SetOption has nothing to offer generically; transports that wrap
// NetStream override this for their own option set.
func (n NetStream) SetOption(name string, v interface{}) error {
	return errors.ErrBadOption
}

// classify maps a net.Conn I/O error into the engine's closed
// error-kind set. Every transport funnels its errors through this so
// the pipe engine only ever sees the vocabulary from spec.md §6/§7.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errors.ErrTimeout
	}
	return errors.ErrClosed
}

// ClassifyAcceptError maps an Accept-time error to either ErrNoMemory
// or ErrNoFiles when the OS reports resource exhaustion (EMFILE,
// ENFILE, ENOMEM), and ErrConnShutdown otherwise. The endpoint
// listener's accept loop uses this distinction to decide whether to
// cool off before retrying (spec.md §3/§4.E.2).
func ClassifyAcceptError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, syscall.EMFILE), stderrors.Is(err, syscall.ENFILE):
		return errors.ErrNoFiles
	case stderrors.Is(err, syscall.ENOMEM):
		return errors.ErrNoMemory
	}
	return errors.ErrConnShutdown
}
