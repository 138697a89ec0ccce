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

// Package all registers every transport this module ships with a
// single blank import, for callers who want dialer/listener addresses
// resolved by scheme without listing each transport package by hand.
package all

import (
	_ "nanomsg.org/go/sptransport/transport/inproc"
	_ "nanomsg.org/go/sptransport/transport/ipc"
	_ "nanomsg.org/go/sptransport/transport/tcp"
	_ "nanomsg.org/go/sptransport/transport/tlstcp"
	_ "nanomsg.org/go/sptransport/transport/ws"
	_ "nanomsg.org/go/sptransport/transport/wss"
)
