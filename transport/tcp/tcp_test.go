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

package tcp

import (
	"testing"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
)

var tran = &tcpTran{}

func TestTCPListenAndAccept(t *testing.T) {
	addr := "tcp://127.0.0.1:3333"
	l, err := tran.NewListener(addr, 1)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	acceptDone := make(chan error, 1)
	aa := aio.New(func(a *aio.AIO) { err, _ := a.Result(); acceptDone <- err })
	l.Accept(aa)

	d, err := tran.NewDialer(addr, 2)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	dialDone := make(chan error, 1)
	da := aio.New(func(a *aio.AIO) { err, _ := a.Result(); dialDone <- err })
	d.Dial(da)

	select {
	case err := <-dialDone:
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}
	select {
	case err := <-acceptDone:
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}
}

func TestTCPDuplicateListen(t *testing.T) {
	addr := "tcp://127.0.0.1:3334"
	l1, err := tran.NewListener(addr, 1)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l1.Close()
	if err := l1.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	l2, err := tran.NewListener(addr, 1)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l2.Close()
	if err := l2.Listen(); err != errors.ErrAddrInUse {
		t.Fatalf("second Listen = %v, want ErrAddrInUse", err)
	}
}

func TestTCPConnRefused(t *testing.T) {
	addr := "tcp://127.0.0.1:19" // port 19 is chargen, rarely in use
	d, err := tran.NewDialer(addr, 1)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	done := make(chan error, 1)
	a := aio.New(func(a *aio.AIO) { err, _ := a.Result(); done <- err })
	d.Dial(a)

	select {
	case err := <-done:
		if err != errors.ErrConnRefused {
			t.Fatalf("Dial err = %v, want ErrConnRefused", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}
}

func TestTCPBadAddr(t *testing.T) {
	if _, err := tran.NewDialer("tcp://not-an-address", 1); err != errors.ErrAddrInvalid {
		t.Fatalf("NewDialer err = %v, want ErrAddrInvalid", err)
	}
	if _, err := tran.NewListener("udp://127.0.0.1:1", 1); err != errors.ErrAddrInvalid {
		t.Fatalf("NewListener err = %v, want ErrAddrInvalid", err)
	}
}
