// +build linux

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

package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
)

func tempAddr(t *testing.T) string {
	t.Helper()
	return "ipc://" + filepath.Join(os.TempDir(), fmt.Sprintf("sptransport-test-%d.sock", os.Getpid()))
}

func TestIpcDialAcceptAndPeerCreds(t *testing.T) {
	tran := &ipcTran{}
	addr := tempAddr(t)

	l, err := tran.NewListener(addr, 1)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	acceptDone := make(chan error, 1)
	aa := aio.New(func(a *aio.AIO) {
		err, _ := a.Result()
		acceptDone <- err
	})
	aa.Begin()
	aa.Schedule(nil, nil)
	l.Accept(aa)

	d, err := tran.NewDialer(addr, 1)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	dialDone := make(chan error, 1)
	da := aio.New(func(a *aio.AIO) {
		err, _ := a.Result()
		dialDone <- err
	})
	da.Begin()
	da.Schedule(nil, nil)
	d.Dial(da)

	select {
	case err := <-dialDone:
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}
	select {
	case err := <-acceptDone:
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}

	us, ok := aa.Output(0).(*unixStream)
	if !ok {
		t.Fatalf("accepted stream is %T, want *unixStream", aa.Output(0))
	}
	pid, err := us.GetOption(OptionPeerPID)
	if err != nil {
		t.Fatalf("GetOption peer-pid: %v", err)
	}
	if pid.(int32) != int32(os.Getpid()) {
		t.Fatalf("peer pid = %v, want %d", pid, os.Getpid())
	}
}

func TestIpcConnRefused(t *testing.T) {
	tran := &ipcTran{}
	d, err := tran.NewDialer("ipc:///tmp/sptransport-nonexistent.sock", 1)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	done := make(chan error, 1)
	a := aio.New(func(a *aio.AIO) {
		err, _ := a.Result()
		done <- err
	})
	a.Begin()
	a.Schedule(nil, nil)
	d.Dial(a)
	select {
	case err := <-done:
		if err != errors.ErrConnRefused {
			t.Fatalf("err = %v, want ErrConnRefused", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}
}
