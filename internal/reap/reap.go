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

// Package reap implements a deferred-destruction queue. Pipes and
// endpoints sometimes need to join or stop AIOs from within a callback
// that is itself running on behalf of one of those AIOs -- doing that
// synchronously would deadlock. Instead the object schedules itself
// onto the reap list, and a worker goroutine runs its finalizer outside
// of any callback stack frame.
package reap

import "sync"

// Node is a single pending finalization. Callers embed or reference
// one of these rather than allocating a channel or goroutine per
// teardown, which keeps reap cheap even under heavy churn.
type Node struct {
	fn   func()
	next *Node
}

// List is a singly-linked, mutex-guarded queue of pending finalizers,
// drained by a single worker goroutine. The zero value is usable after
// a call to Start.
type List struct {
	mu      sync.Mutex
	cond    sync.Cond
	head    *Node
	tail    *Node
	closed  bool
	started bool
}

// Start launches the worker goroutine that drains the list. It is safe
// to call more than once; only the first call has effect.
func (l *List) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.cond.L = &l.mu
	l.mu.Unlock()
	go l.worker()
}

// Schedule queues fn to run on the reap worker goroutine, outside the
// caller's stack. fn must not block indefinitely; it is expected to be
// a finalizer (close remaining resources, drop a refcount, possibly
// schedule another object's reap).
func (l *List) Schedule(fn func()) {
	n := &Node{fn: fn}
	l.mu.Lock()
	if l.tail == nil {
		l.head = n
	} else {
		l.tail.next = n
	}
	l.tail = n
	l.cond.Signal()
	l.mu.Unlock()
}

// Close stops the worker after draining any finalizers already queued.
// Schedule must not be called after Close returns.
func (l *List) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
}

func (l *List) worker() {
	for {
		l.mu.Lock()
		for l.head == nil && !l.closed {
			l.cond.Wait()
		}
		n := l.head
		if n != nil {
			l.head = n.next
			if l.head == nil {
				l.tail = nil
			}
		}
		closed := l.closed
		l.mu.Unlock()

		if n != nil {
			n.fn()
			continue
		}
		if closed {
			return
		}
	}
}

// Default is a process-wide reap list started at package init. Most
// callers (pipe, endpoint) share this single worker rather than
// spinning up one per object.
var Default = &List{}

func init() {
	Default.Start()
}
