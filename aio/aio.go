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

// Package aio implements the asynchronous I/O primitive that every pipe
// and endpoint operation is built on: a cancellable unit of in-flight
// work carrying a scatter/gather buffer list, a deadline, and a
// completion callback.
//
// An AIO moves through the state machine IDLE -> BEGUN -> SCHEDULED ->
// (COMPLETING) -> IDLE. Cancellation is only meaningful once the AIO is
// SCHEDULED; a cancel requested in IDLE or BEGUN is recorded and either
// rejects a later Begin/Schedule call or races harmlessly with
// whichever side calls Finish first.
package aio

import (
	"sync"
	"time"

	"nanomsg.org/go/sptransport/errors"
)

// IOV is one entry of a scatter/gather buffer list.
type IOV struct {
	Buf []byte
}

// CancelFunc is the hook installed by Schedule. It is invoked at most
// once, with the AIO and the error the cancellation carries (timeout or
// a caller-supplied reason). The hook's job is to nudge whatever is
// holding the AIO (a stream send/recv, a dial, an accept) to unwind and
// call Finish/FinishSync.
type CancelFunc func(a *AIO, arg interface{}, err error)

// AIO is one unit of in-flight asynchronous work.
type AIO struct {
	mu sync.Mutex

	cb func(*AIO)

	cancelFn  CancelFunc
	cancelArg interface{}

	began     bool
	scheduled bool
	hookFired bool

	abortErr error // queued cancellation, set by Abort
	err      error // final result, valid after Finish/FinishSync
	n        int

	iovs    []IOV
	outputs []interface{}

	deadline time.Time
	timer    *time.Timer

	// udata is free for the owner (pipe, endpoint) to stash a single
	// back-reference without a type assertion dance at call sites.
	udata interface{}
}

// New allocates an AIO whose completion invokes cb. cb may be nil, in
// which case Finish/FinishSync simply record the result for a later
// Result() call (used by synchronous callers that poll rather than
// register a callback).
func New(cb func(*AIO)) *AIO {
	return &AIO{cb: cb}
}

// SetUserData stashes a caller-defined back-reference on the AIO (e.g.
// the pipe or endpoint that owns it).
func (a *AIO) SetUserData(v interface{}) {
	a.mu.Lock()
	a.udata = v
	a.mu.Unlock()
}

// UserData returns the back-reference set by SetUserData.
func (a *AIO) UserData() interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.udata
}

// Begin marks the AIO as the producer's work-in-progress. It fails with
// the queued cancellation error if the AIO was aborted before the
// caller got around to submitting it, and with ErrInvalidState if the
// AIO is already in flight.
func (a *AIO) Begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abortErr != nil {
		return a.abortErr
	}
	if a.began {
		return errors.ErrInvalidState
	}
	a.began = true
	a.scheduled = false
	a.hookFired = false
	a.err = nil
	a.n = 0
	a.outputs = nil
	a.cancelFn = nil
	a.cancelArg = nil
	return nil
}

// Schedule installs the cancellation hook for the in-flight operation
// and arms the deadline timer, if one was set with SetTimeout. If a
// cancellation was already requested (Abort called while the AIO was
// still IDLE/BEGUN), Schedule returns that error immediately so the
// caller can skip the submission entirely.
func (a *AIO) Schedule(cancel CancelFunc, arg interface{}) error {
	a.mu.Lock()
	if a.abortErr != nil {
		err := a.abortErr
		a.mu.Unlock()
		return err
	}
	a.cancelFn = cancel
	a.cancelArg = arg
	a.scheduled = true
	a.hookFired = false

	var d time.Duration
	armTimer := !a.deadline.IsZero()
	if armTimer {
		d = time.Until(a.deadline)
		if d < 0 {
			d = 0
		}
	}
	a.mu.Unlock()

	if armTimer {
		timer := time.AfterFunc(d, func() { a.Abort(errors.ErrTimeout) })
		a.mu.Lock()
		if a.timer != nil {
			a.timer.Stop()
		}
		a.timer = timer
		a.mu.Unlock()
	}
	return nil
}

// SetIOV sets the scatter/gather buffer list for the operation.
func (a *AIO) SetIOV(iov []IOV) {
	a.mu.Lock()
	a.iovs = iov
	a.mu.Unlock()
}

// SetTimeout arms an implicit absolute deadline d from now. A zero or
// negative duration clears any deadline.
func (a *AIO) SetTimeout(d time.Duration) {
	a.mu.Lock()
	if d <= 0 {
		a.deadline = time.Time{}
	} else {
		a.deadline = time.Now().Add(d)
	}
	a.mu.Unlock()
}

// SetDeadline arms an explicit absolute deadline.
func (a *AIO) SetDeadline(t time.Time) {
	a.mu.Lock()
	a.deadline = t
	a.mu.Unlock()
}

// SetOutputs stashes the typed result slots a completed operation
// produced (e.g. the accepted stream, the negotiated peer protocol).
func (a *AIO) SetOutputs(outs ...interface{}) {
	a.mu.Lock()
	a.outputs = outs
	a.mu.Unlock()
}

// Output returns the i'th output slot, or nil if it doesn't exist.
func (a *AIO) Output(i int) interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.outputs) {
		return nil
	}
	return a.outputs[i]
}

// Abort requests cancellation of the in-flight operation. It is
// idempotent: only the first call's error is queued, and the
// cancellation hook (if one has been scheduled) fires at most once.
func (a *AIO) Abort(err error) {
	a.mu.Lock()
	if a.abortErr == nil {
		a.abortErr = err
	}
	if !a.scheduled || a.hookFired {
		a.mu.Unlock()
		return
	}
	a.hookFired = true
	fn := a.cancelFn
	arg := a.cancelArg
	a.mu.Unlock()

	if fn != nil {
		fn(a, arg, err)
	}
}

// IOVAdvance consumes n bytes from the front of the iov list in place,
// so frame handlers can resubmit a partial I/O without reallocating.
func (a *AIO) IOVAdvance(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for n > 0 && len(a.iovs) > 0 {
		if n < len(a.iovs[0].Buf) {
			a.iovs[0].Buf = a.iovs[0].Buf[n:]
			return
		}
		n -= len(a.iovs[0].Buf)
		a.iovs = a.iovs[1:]
	}
}

// IOVCount returns the total number of bytes remaining across all iov
// entries.
func (a *AIO) IOVCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, v := range a.iovs {
		n += len(v.Buf)
	}
	return n
}

// IOV returns the current scatter/gather list. Callers must not retain
// the slice past the next IOVAdvance/SetIOV call.
func (a *AIO) IOV() []IOV {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.iovs
}

func (a *AIO) complete(err error, n int) {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.err = err
	a.n = n
	a.began = false
	a.scheduled = false
	a.abortErr = nil
	cb := a.cb
	a.mu.Unlock()

	if cb != nil {
		cb(a)
	}
}

// Finish completes the AIO exactly once per submission and hands the
// callback to a new goroutine, so the completing I/O thread is never
// blocked running application code.
func (a *AIO) Finish(err error, n int) {
	go a.complete(err, n)
}

// FinishSync completes the AIO synchronously, running the callback on
// the calling goroutine. Use this only when the caller is already
// running on a dedicated worker and wants to avoid an extra hop.
func (a *AIO) FinishSync(err error, n int) {
	a.complete(err, n)
}

// Result returns the outcome of the most recently completed operation.
func (a *AIO) Result() (error, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err, a.n
}
