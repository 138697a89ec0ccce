// +build windows

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

package ipc

import (
	"net"
	"sync"

	"github.com/Microsoft/go-winio"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

// Windows named-pipe-specific listener options, set before Listen is
// called.
const (
	OptionSecurityDescriptor = "win-ipc-security-descriptor"
	OptionInputBufferSize    = "win-ipc-input-buffer-size"
	OptionOutputBufferSize   = "win-ipc-output-buffer-size"
)

func newDialer(path string) (stream.Dialer, error) {
	return &winDialer{path: path}, nil
}

func newListener(path, url string) (stream.Listener, error) {
	return &winListener{
		path:       path,
		url:        url,
		inputSize:  4096,
		outputSize: 4096,
	}, nil
}

type winDialer struct {
	path string
}

func (d *winDialer) Dial(a *aio.AIO) {
	go func() {
		conn, err := winio.DialPipe(`\\.\pipe\`+d.path, nil)
		if err != nil {
			a.Finish(errors.ErrConnRefused, 0)
			return
		}
		a.SetOutputs(transport.NetStream{Conn: conn})
		a.Finish(nil, 0)
	}()
}

func (d *winDialer) Close() error { return nil }

func (d *winDialer) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (d *winDialer) SetOption(string, interface{}) error   { return errors.ErrBadOption }

type winListener struct {
	mu                       sync.Mutex
	path, url                string
	secDescriptor            string
	inputSize, outputSize    int32
	ln                       net.Listener
	closed                   bool
}

func (l *winListener) Listen() error {
	cfg := &winio.PipeConfig{
		InputBufferSize:    l.inputSize,
		OutputBufferSize:   l.outputSize,
		SecurityDescriptor: l.secDescriptor,
		MessageMode:        false,
	}
	ln, err := winio.ListenPipe(`\\.\pipe\`+l.path, cfg)
	if err != nil {
		return errors.ErrAddrInUse
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

func (l *winListener) Accept(a *aio.AIO) {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		a.Finish(errors.ErrClosed, 0)
		return
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				a.Finish(errors.ErrClosed, 0)
				return
			}
			a.Finish(errors.ErrConnShutdown, 0)
			return
		}
		a.SetOutputs(transport.NetStream{Conn: conn})
		a.Finish(nil, 0)
	}()
}

func (l *winListener) Close() error {
	l.mu.Lock()
	l.closed = true
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (l *winListener) Address() string { return l.url }

func (l *winListener) GetOption(name string) (interface{}, error) {
	switch name {
	case OptionSecurityDescriptor:
		return l.secDescriptor, nil
	case OptionInputBufferSize:
		return l.inputSize, nil
	case OptionOutputBufferSize:
		return l.outputSize, nil
	}
	return nil, errors.ErrBadOption
}

func (l *winListener) SetOption(name string, v interface{}) error {
	switch name {
	case OptionSecurityDescriptor:
		s, ok := v.(string)
		if !ok {
			return errors.ErrBadValue
		}
		l.secDescriptor = s
		return nil
	case OptionInputBufferSize:
		n, ok := v.(int32)
		if !ok {
			return errors.ErrBadValue
		}
		l.inputSize = n
		return nil
	case OptionOutputBufferSize:
		n, ok := v.(int32)
		if !ok {
			return errors.ErrBadValue
		}
		l.outputSize = n
		return nil
	}
	return errors.ErrBadOption
}
