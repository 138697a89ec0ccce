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

// Package wss implements the wss:// transport: websocket over TLS. It
// registers its own scheme but otherwise delegates entirely to
// transport/ws, which already distinguishes ws/wss by URL prefix.
package wss

import (
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
	"nanomsg.org/go/sptransport/transport/ws"
)

func init() {
	transport.Register(&wssTran{})
}

type wssTran struct{}

func (*wssTran) Scheme() string { return "wss" }

func (*wssTran) NewDialer(url string, proto uint16) (stream.Dialer, error) {
	return ws.NewDialer(url, proto)
}

func (*wssTran) NewListener(url string, proto uint16) (stream.Listener, error) {
	return ws.NewListener(url, proto)
}

func (*wssTran) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (*wssTran) SetOption(string, interface{}) error   { return errors.ErrBadOption }
