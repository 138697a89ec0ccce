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

package aio

import (
	"sync"
	"testing"
	"time"

	"nanomsg.org/go/sptransport/errors"
)

func TestBeginFinish(t *testing.T) {
	done := make(chan struct{})
	var gotErr error
	var gotN int
	a := New(func(a *AIO) {
		gotErr, gotN = a.Result()
		close(done)
	})
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	a.Finish(nil, 42)
	<-done
	if gotErr != nil || gotN != 42 {
		t.Fatalf("got (%v, %d), want (nil, 42)", gotErr, gotN)
	}
}

func TestBeginTwiceFails(t *testing.T) {
	a := New(nil)
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := a.Begin(); err != errors.ErrInvalidState {
		t.Fatalf("second Begin = %v, want ErrInvalidState", err)
	}
}

func TestReuseAfterFinish(t *testing.T) {
	a := New(nil)
	for i := 0; i < 3; i++ {
		if err := a.Begin(); err != nil {
			t.Fatalf("Begin[%d]: %v", i, err)
		}
		a.FinishSync(nil, i)
		if err, n := a.Result(); err != nil || n != i {
			t.Fatalf("Result[%d] = (%v, %d)", i, err, n)
		}
	}
}

func TestScheduleQueuedCancel(t *testing.T) {
	a := New(nil)
	if err := a.Begin(); err != nil {
		t.Fatal(err)
	}
	a.Abort(errors.ErrCanceled)
	// A cancel requested before Schedule installs a hook must be
	// returned immediately, and the hook must never fire.
	fired := false
	err := a.Schedule(func(a *AIO, arg interface{}, err error) {
		fired = true
	}, nil)
	if err != errors.ErrCanceled {
		t.Fatalf("Schedule = %v, want ErrCanceled", err)
	}
	if fired {
		t.Fatal("cancel hook fired despite queued cancellation")
	}
}

func TestAbortInvokesHookOnce(t *testing.T) {
	a := New(nil)
	if err := a.Begin(); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	calls := 0
	err := a.Schedule(func(a *AIO, arg interface{}, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		a.Finish(err, 0)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.Abort(errors.ErrCanceled)
	a.Abort(errors.ErrCanceled) // idempotent, must not fire again
	a.Abort(errors.ErrTimeout)  // second distinct error, still ignored

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("cancel hook invoked %d times, want 1", calls)
	}
}

func TestTimeoutFiresCancelHook(t *testing.T) {
	a := New(nil)
	if err := a.Begin(); err != nil {
		t.Fatal(err)
	}
	a.SetTimeout(10 * time.Millisecond)
	done := make(chan error, 1)
	err := a.Schedule(func(a *AIO, arg interface{}, err error) {
		a.FinishSync(err, 0)
		done <- err
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-done:
		if e != errors.ErrTimeout {
			t.Fatalf("cancel error = %v, want ErrTimeout", e)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout never fired")
	}
	if e, _ := a.Result(); e != errors.ErrTimeout {
		t.Fatalf("Result error = %v, want ErrTimeout", e)
	}
}

func TestIOVAdvance(t *testing.T) {
	a := New(nil)
	a.SetIOV([]IOV{{Buf: []byte("hello")}, {Buf: []byte("world")}})
	if n := a.IOVCount(); n != 10 {
		t.Fatalf("IOVCount = %d, want 10", n)
	}
	a.IOVAdvance(3)
	if got := string(a.IOV()[0].Buf); got != "lo" {
		t.Fatalf("first iov after advance(3) = %q, want %q", got, "lo")
	}
	a.IOVAdvance(2)
	if len(a.IOV()) != 1 || string(a.IOV()[0].Buf) != "world" {
		t.Fatalf("iov after advance(5 total) = %+v", a.IOV())
	}
	a.IOVAdvance(5)
	if n := a.IOVCount(); n != 0 {
		t.Fatalf("IOVCount after full advance = %d, want 0", n)
	}
}
