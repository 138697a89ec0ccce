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

// Package message defines the payload type exchanged over a pipe. The
// core transport engine never inspects Header or Body; splitting them
// is purely a convenience for protocol layers built on top of it.
package message

import "sync"

// Message holds the payload carried across one pipe frame. Header and
// Body are logically concatenated on the wire; the split only matters
// to whatever protocol layer sits above the engine.
type Message struct {
	Header []byte
	Body   []byte

	bodyBuf []byte // underlying storage, retained across Free/pool reuse
	pooled  bool
}

// pool recycles the backing array for message bodies, avoiding an
// allocation per inbound frame on the common path of small messages.
var pool = sync.Pool{
	New: func() interface{} {
		return &Message{}
	},
}

// New allocates a Message whose Body has length sz. Messages of every
// size are served from the pool; the caller must call Free when done with
// the message (or let the pipe engine do so) to return it.
func New(sz int) *Message {
	m := pool.Get().(*Message)
	m.pooled = true
	if cap(m.bodyBuf) < sz {
		m.bodyBuf = make([]byte, sz)
	}
	m.Body = m.bodyBuf[:sz]
	m.Header = m.Header[:0]
	return m
}

// Free releases a Message's storage back to the pool. Calling Free
// more than once, or on a Message not obtained from New, is safe but
// only the pooled case is actually recycled.
func (m *Message) Free() {
	if m == nil || !m.pooled {
		return
	}
	m.pooled = false
	m.Body = nil
	m.Header = nil
	pool.Put(m)
}

// Len returns the wire length of the message: len(Header)+len(Body).
func (m *Message) Len() uint64 {
	return uint64(len(m.Header) + len(m.Body))
}
