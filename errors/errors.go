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

// Package errors defines the closed set of error kinds surfaced by the
// transport engine (dialer/listener/pipe/AIO). It is safe to import
// using ".", so that short names can be used without concern about
// unrelated namespace pollution.
package errors

// err is a simple string-backed error, same approach the rest of the
// ecosystem pack uses for sentinel errors. All values below share this
// one type, so callers classify a failure by comparing it against them
// (== or Is), without needing to compare error strings.
type err string

func (e err) Error() string {
	return string(e)
}

// Temporary reports whether the operation that produced this error
// might succeed if retried, per the closed kind set in the engine's
// wire-level contract.
func (e err) Temporary() bool {
	switch e {
	case ErrAgain, ErrTimeout, ErrNoMemory, ErrNoFiles, ErrBusy:
		return true
	}
	return false
}

// Timeout reports whether this error represents a deadline expiring.
func (e err) Timeout() bool {
	return e == ErrTimeout
}

// Predefined error values. This is the complete set of kinds the core
// transport engine surfaces upward; no other error value ever crosses
// the AIO/pipe/endpoint boundary (stream-level errors are always
// translated into one of these before being handed to a user AIO).
const (
	// ErrTimeout is returned when a deadline set on an AIO expires
	// before the operation completes.
	ErrTimeout = err("timed out")

	// ErrAgain is returned for a non-blocking operation that has no
	// data or capacity available right now.
	ErrAgain = err("resource temporarily unavailable")

	// ErrClosed is returned when an operation is attempted against a
	// pipe or endpoint that has already been closed, or when the
	// underlying stream reports closure during steady-state data flow.
	ErrClosed = err("object closed")

	// ErrConnShutdown is the handshake-time equivalent of ErrClosed: the
	// peer went away before the SP handshake completed.
	ErrConnShutdown = err("connection shut down")

	// ErrConnRefused is returned by a dialer when the peer actively
	// refused the connection attempt.
	ErrConnRefused = err("connection refused")

	// ErrAddrInUse is returned when a listener cannot bind because the
	// address is already in use.
	ErrAddrInUse = err("address in use")

	// ErrAddrInvalid is returned for a URL that fails validation (bad
	// path, fragment, userinfo, query, host, or port).
	ErrAddrInvalid = err("invalid address")

	// ErrProtocol is returned when the SP handshake header fails
	// validation, or a frame is malformed.
	ErrProtocol = err("protocol error")

	// ErrPeerAuth is returned when a secure transport rejects the
	// peer's identity (e.g. TLS certificate verification failure).
	ErrPeerAuth = err("peer authentication failed")

	// ErrCrypto is returned for a cryptographic failure below the
	// peer-authentication layer (e.g. a TLS handshake alert).
	ErrCrypto = err("cryptographic error")

	// ErrMsgTooBig is returned when an inbound message's declared
	// length exceeds the pipe's receive-size ceiling.
	ErrMsgTooBig = err("message is too large")

	// ErrNoMemory is returned when the accept loop (or any I/O
	// primitive) fails due to memory exhaustion.
	ErrNoMemory = err("insufficient memory")

	// ErrNoFiles is returned when the accept loop fails due to file
	// descriptor exhaustion.
	ErrNoFiles = err("too many open files")

	// ErrNotFound is returned for operations against a handle that has
	// already been finalized.
	ErrNotFound = err("not found")

	// ErrBusy is returned when a second user connect/accept AIO is
	// submitted while one is already outstanding on the same endpoint.
	ErrBusy = err("resource busy")

	// ErrBadType is the kind for an option value of the wrong Go type.
	// No option setter in this module returns it: they report a
	// wrong-typed value as ErrBadValue.
	ErrBadType = err("incorrect type for option value")

	// ErrNotSupported is returned for an unrecognized URL scheme.
	ErrNotSupported = err("not supported")

	// ErrInvalidState is returned for an operation that is not legal in
	// the object's current state (e.g. starting an already-started
	// listener).
	ErrInvalidState = err("invalid state")

	// ErrBadOption is returned for an unrecognized option name.
	ErrBadOption = err("invalid or unsupported option")

	// ErrBadValue is returned for a recognized option given a value of
	// the wrong Go type or one that fails validation.
	ErrBadValue = err("invalid option value")

	// ErrCanceled is returned to a user AIO whose operation was
	// explicitly aborted rather than completing or timing out.
	ErrCanceled = err("operation canceled")

	// ErrGarbled is returned when a received message cannot be
	// interpreted (used by higher layers; the core engine itself
	// never returns this directly but reserves it for frame-adjacent
	// decoding failures transports may report).
	ErrGarbled = err("message garbled")
)
