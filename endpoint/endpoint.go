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

// Package endpoint implements component E: the dialer and listener
// engines that sit above a single pipe. A Dialer repeatedly connects
// and negotiates, retrying failures with backoff; a Listener accepts
// and negotiates concurrently, retrying transient accept errors after
// a short cool-off. Both hand finished pipes to a caller-supplied AIO
// one at a time, enforcing the "only one request outstanding" rule
// with ErrBusy.
//
// Endpoints track every pipe they still own across three implicit
// states -- negotiating, waiting for pickup, and handed off -- via the
// negopipes/waitpipes maps plus a refcount that also includes pipes
// already handed off (busy) so a caller's Release keeps the count
// accurate without the endpoint needing to track busy pipes by
// identity.
package endpoint

// Dialer/Listener-local option names, read/written via
// GetOption/SetOption. Transport-specific option names (keep-alive,
// tls-config, ...) are passed through to the underlying
// stream.Dialer/stream.Listener unchanged.
const (
	// OptionReconnectMinTime is the initial (and, with no max set, only)
	// delay between a failed dial/lost pipe and the next attempt.
	OptionReconnectMinTime = "reconnect-min-time"

	// OptionReconnectMaxTime caps the exponential backoff applied to
	// OptionReconnectMinTime. 0 (the default) disables growth.
	OptionReconnectMaxTime = "reconnect-max-time"
)
