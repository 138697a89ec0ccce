// Copyright 2016 The Mangos Authors
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

	. "github.com/smartystreets/goconvey/convey"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/stream"
)

// dialAndAccept blocks until the pair of streams from one dial/accept
// against addr are both ready.
func dialAndAccept(addr string) (stream.Stream, stream.Stream) {
	l, err := tran.NewListener(addr, 1)
	if err != nil {
		panic(err)
	}
	if err := l.Listen(); err != nil {
		panic(err)
	}
	defer l.Close()

	acceptc := make(chan stream.Stream, 1)
	aa := aio.New(func(a *aio.AIO) { acceptc <- a.Output(0).(stream.Stream) })
	l.Accept(aa)

	d, err := tran.NewDialer(addr, 2)
	if err != nil {
		panic(err)
	}
	dialc := make(chan stream.Stream, 1)
	da := aio.New(func(a *aio.AIO) { dialc <- a.Output(0).(stream.Stream) })
	d.Dial(da)

	return <-dialc, <-acceptc
}

func TestTCPSendRecvConvey(t *testing.T) {
	Convey("Given a dialed and accepted TCP stream pair", t, func() {
		addr := "tcp://127.0.0.1:3335"
		client, server := dialAndAccept(addr)
		Reset(func() {
			client.Close()
			server.Close()
		})

		Convey("A send on one side arrives on the other", func() {
			payload := []byte("REQUEST_MESSAGE")
			sendDone := make(chan error, 1)
			sa := aio.New(func(a *aio.AIO) { err, _ := a.Result(); sendDone <- err })
			sa.SetIOV([]aio.IOV{{Buf: payload}})
			client.Send(sa)

			buf := make([]byte, len(payload))
			recvDone := make(chan error, 1)
			ra := aio.New(func(a *aio.AIO) { err, _ := a.Result(); recvDone <- err })
			ra.SetIOV([]aio.IOV{{Buf: buf}})
			server.Recv(ra)

			var sendErr, recvErr error
			select {
			case sendErr = <-sendDone:
			case <-time.After(2 * time.Second):
				t.Fatal("send never completed")
			}
			select {
			case recvErr = <-recvDone:
			case <-time.After(2 * time.Second):
				t.Fatal("recv never completed")
			}

			So(sendErr, ShouldBeNil)
			So(recvErr, ShouldBeNil)
			So(buf, ShouldResemble, payload)
		})

		Convey("Closing one side reports errors on further recv attempts", func() {
			client.Close()

			buf := make([]byte, 1)
			recvDone := make(chan error, 1)
			ra := aio.New(func(a *aio.AIO) { err, _ := a.Result(); recvDone <- err })
			ra.SetIOV([]aio.IOV{{Buf: buf}})
			server.Recv(ra)

			select {
			case err := <-recvDone:
				So(err, ShouldNotBeNil)
			case <-time.After(2 * time.Second):
				t.Fatal("recv never completed")
			}
		})
	})
}
