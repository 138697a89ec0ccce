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

// Package ipc implements the ipc:// transport: UNIX domain sockets on
// Linux, Windows named pipes on Windows. The platform split lives in
// ipc_unix.go/ipc_windows.go; this file only holds the scheme
// registration and address parsing both sides share.
package ipc

import (
	"strings"

	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
	"nanomsg.org/go/sptransport/transport"
)

const scheme = "ipc"

func init() {
	transport.Register(&ipcTran{})
}

type ipcTran struct{}

func (*ipcTran) Scheme() string { return scheme }

func (t *ipcTran) NewDialer(url string, proto uint16) (stream.Dialer, error) {
	path, err := resolve(url)
	if err != nil {
		return nil, err
	}
	return newDialer(path)
}

func (t *ipcTran) NewListener(url string, proto uint16) (stream.Listener, error) {
	path, err := resolve(url)
	if err != nil {
		return nil, err
	}
	return newListener(path, url)
}

func (*ipcTran) GetOption(string) (interface{}, error) { return nil, errors.ErrBadOption }
func (*ipcTran) SetOption(string, interface{}) error    { return errors.ErrBadOption }

func resolve(url string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(url, prefix) {
		return "", errors.ErrAddrInvalid
	}
	return url[len(prefix):], nil
}
