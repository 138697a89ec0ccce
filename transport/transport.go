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

// Package transport binds concrete stream implementations (tcp, tlstcp,
// inproc, ipc, ws, wss, ...) to the URL scheme used to select them, and
// is the component that the socket-transport binding layer (SPEC_FULL
// §2.1) consults when an endpoint is created for a given URL.
//
// Registration is process-wide: each transport package registers
// itself from an init() function, the same "startup hook that makes a
// transport scheme discoverable by URL scheme" spec.md §9 calls for.
package transport

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
)

// Transport is what a byte-stream provider implements to plug into the
// engine. Proto is the owning socket's 16-bit SP protocol id, needed by
// dialers/listeners that must hand it to the pipe handshake.
type Transport interface {
	// Scheme returns the URL scheme this transport answers to, without
	// the "://" separator, e.g. "tcp", "tls+tcp", "ws", "ipc".
	Scheme() string

	NewDialer(url string, proto uint16) (stream.Dialer, error)
	NewListener(url string, proto uint16) (stream.Listener, error)
}

var (
	mu    sync.RWMutex
	table = map[string]Transport{}
)

// Register adds t to the process-wide table, keyed by its scheme. A
// later Register call for the same scheme replaces the earlier one.
func Register(t Transport) {
	mu.Lock()
	table[t.Scheme()] = t
	mu.Unlock()
}

// Lookup finds the Transport registered for url's scheme. It returns
// nil if no transport has registered that scheme.
func Lookup(url string) Transport {
	scheme := SchemeOf(url)
	mu.RLock()
	defer mu.RUnlock()
	return table[scheme]
}

// SchemeOf extracts the scheme portion of a URL of the form
// "scheme://rest", without the "://". Returns "" if url has no scheme
// separator.
func SchemeOf(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i]
	}
	return ""
}

// ValidateHostURL parses raw as a "scheme://host:port" dialer/listener
// address and rejects anything beyond that: a non-empty path (other
// than "/"), a fragment, userinfo, an empty host, or a zero port. It
// returns the host:port pair on success, suitable for
// net.ResolveTCPAddr or similar.
//
// This only fits transports whose entire address is a network host --
// tcp, tls+tcp. Transports whose address is itself an opaque path
// (ipc's filesystem path, inproc's registry key) or that legitimately
// route on path (ws/wss) parse their own URL instead.
func ValidateHostURL(raw, scheme string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != scheme {
		return "", errors.ErrAddrInvalid
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", errors.ErrAddrInvalid
	}
	if u.Path != "" && u.Path != "/" {
		return "", errors.ErrAddrInvalid
	}
	if u.Host == "" {
		return "", errors.ErrAddrInvalid
	}
	_, port, err := net.SplitHostPort(u.Host)
	if err != nil || port == "0" {
		return "", errors.ErrAddrInvalid
	}
	return u.Host, nil
}
