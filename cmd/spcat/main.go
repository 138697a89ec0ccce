// Copyright 2014 Garrett D'Amore
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

// spcat drives the raw pipe/endpoint engine directly: no protocol
// layer sits above it, so there is no push/pull/req/rep socket type to
// choose. It dials or listens for exactly one pipe, sends the --data or
// --file payload on it (once, or every --interval seconds), and prints
// each received frame to stdout in the chosen format. It exists
// to exercise the engine end to end outside of tests.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/droundy/goopt"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/endpoint"
	"nanomsg.org/go/sptransport/message"
	"nanomsg.org/go/sptransport/pipe"
	_ "nanomsg.org/go/sptransport/transport/all"
	"nanomsg.org/go/sptransport/transport"
)

var verbose int
var dialAddr string
var listenAddr string
var recvTimeout int
var sendTimeout int
var sendInterval int
var sendDelay int
var sendData []byte
var printFormat string
var protoNum int

func addDial(addr string) error {
	if dialAddr != "" || listenAddr != "" {
		return errors.New("only one of --connect or --listen may be given")
	}
	dialAddr = addr
	return nil
}

func addListen(addr string) error {
	if dialAddr != "" || listenAddr != "" {
		return errors.New("only one of --connect or --listen may be given")
	}
	listenAddr = addr
	return nil
}

func setSendData(data string) error {
	if sendData != nil {
		return errors.New("data or file already set")
	}
	sendData = []byte(data)
	return nil
}

func setSendFile(path string) error {
	if sendData != nil {
		return errors.New("data or file already set")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sendData, err = ioutil.ReadAll(f)
	return err
}

func setFormat(f string) error {
	if len(printFormat) > 0 {
		return errors.New("output format already set")
	}
	switch f {
	case "raw", "ascii", "quoted", "msgpack":
	default:
		return errors.New("invalid format type")
	}
	printFormat = f
	return nil
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func init() {
	goopt.NoArg([]string{"--verbose", "-v"}, "Increase verbosity",
		func() error { verbose++; return nil })
	goopt.NoArg([]string{"--silent", "-q"}, "Decrease verbosity",
		func() error { verbose--; return nil })

	goopt.ReqArg([]string{"--proto"}, "NUM", "SP protocol number to present during negotiation (default 0)",
		func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil {
				return errors.New("value not an integer")
			}
			protoNum = n
			return nil
		})
	goopt.ReqArg([]string{"--connect", "-c"}, "ADDR", "Dial ADDR for a single raw pipe", addDial)
	goopt.ReqArg([]string{"--listen", "-l"}, "ADDR", "Listen on ADDR for a single raw pipe", addListen)

	goopt.ReqArg([]string{"--recv-timeout"}, "SEC", "Set receive timeout",
		func(to string) error {
			var err error
			recvTimeout, err = strconv.Atoi(to)
			if err != nil {
				return errors.New("value not an integer")
			}
			return nil
		})
	goopt.ReqArg([]string{"--send-timeout"}, "SEC", "Set send timeout",
		func(to string) error {
			var err error
			if sendTimeout, err = strconv.Atoi(to); err != nil {
				return errors.New("value not an integer")
			}
			return nil
		})
	goopt.ReqArg([]string{"--send-delay", "-d"}, "SEC", "Set initial send delay",
		func(to string) error {
			var err error
			if sendDelay, err = strconv.Atoi(to); err != nil {
				return errors.New("value not an integer")
			}
			return nil
		})

	goopt.NoArg([]string{"--raw"}, "Raw output, no delimiters",
		func() error { return setFormat("raw") })
	goopt.NoArg([]string{"--ascii", "-A"}, "ASCII output, one per line",
		func() error { return setFormat("ascii") })
	goopt.NoArg([]string{"--quoted", "-Q"}, "Quoted output, one per line",
		func() error { return setFormat("quoted") })
	goopt.NoArg([]string{"--msgpack"}, "Msgpacked binary output (see msgpack.org)",
		func() error { return setFormat("msgpack") })

	goopt.ReqArg([]string{"--interval", "-i"}, "SEC", "Send DATA every SEC seconds",
		func(to string) error {
			var err error
			if sendInterval, err = strconv.Atoi(to); err != nil {
				return errors.New("value not an integer")
			}
			return nil
		})
	goopt.ReqArg([]string{"--data", "-D"}, "DATA", "Data to send", setSendData)
	goopt.ReqArg([]string{"--file", "-F"}, "FILE", "Send contents of FILE", setSendFile)

	goopt.Description = func() string {
		return `spcat is a command-line interface to dial or listen for a single
raw pipe and shuttle length-prefixed frames to and from it. It speaks no
protocol of its own -- it is the framing the core transport engine itself
uses, with no socket type layered on top.`
	}
	goopt.Author = "Garrett D'Amore"
	goopt.Suite = "sptransport"
	goopt.Summary = "command line interface to the raw transport engine"
}

func printMsg(msg *message.Message) {
	bw := bufio.NewWriter(os.Stdout)
	body := msg.Body
	switch printFormat {
	case "", "no":
		return
	case "raw":
		bw.Write(body)
	case "ascii":
		for i := 0; i < len(body); i++ {
			if strconv.IsPrint(rune(body[i])) {
				bw.WriteByte(body[i])
			} else {
				bw.WriteByte('.')
			}
		}
		bw.WriteString("\n")
	case "quoted":
		for i := 0; i < len(body); i++ {
			switch body[i] {
			case '\n':
				bw.WriteString("\\n")
			case '\r':
				bw.WriteString("\\r")
			case '\\':
				bw.WriteString("\\\\")
			case '"':
				bw.WriteString("\\\"")
			default:
				if strconv.IsPrint(rune(body[i])) {
					bw.WriteByte(body[i])
				} else {
					bw.WriteString(fmt.Sprintf("\\x%02x", body[i]))
				}
			}
		}
		bw.WriteString("\n")
	case "msgpack":
		enc := make([]byte, 5)
		switch {
		case len(body) < 256:
			enc = enc[:2]
			enc[0] = 0xc4
			enc[1] = byte(len(body))
		case len(body) < 65536:
			enc = enc[:3]
			enc[0] = 0xc5
			binary.BigEndian.PutUint16(enc[1:], uint16(len(body)))
		default:
			enc = enc[:5]
			enc[0] = 0xc6
			binary.BigEndian.PutUint32(enc[1:], uint32(len(body)))
		}
		bw.Write(enc)
		bw.Write(body)
	}
	bw.Flush()
}

// recvLoop reads frames off p until it errors or recvTimeout elapses,
// printing each with printMsg.
func recvLoop(p *pipe.Pipe, done chan struct{}) {
	defer close(done)
	for {
		waitc := make(chan struct{})
		a := aio.New(func(*aio.AIO) { close(waitc) })
		if recvTimeout > 0 {
			a.SetTimeout(time.Duration(recvTimeout) * time.Second)
		}
		p.Recv(a)
		<-waitc
		err, _ := a.Result()
		switch err {
		case nil:
		default:
			return
		}
		msg := a.Output(0).(*message.Message)
		printMsg(msg)
		msg.Free()
	}
}

// sendLoop writes sendData to p once, or repeatedly every sendInterval
// seconds if set.
func sendLoop(p *pipe.Pipe, done chan struct{}) {
	defer close(done)
	if sendData == nil {
		fatalf("No data to send!")
	}
	for {
		msg := message.New(len(sendData))
		copy(msg.Body, sendData)

		waitc := make(chan struct{})
		a := aio.New(func(*aio.AIO) { close(waitc) })
		if sendTimeout > 0 {
			a.SetTimeout(time.Duration(sendTimeout) * time.Second)
		}
		p.Send(a, msg)
		<-waitc
		if err, _ := a.Result(); err != nil {
			fatalf("Send failed: %v", err)
		}

		if sendInterval > 0 {
			time.Sleep(time.Duration(sendInterval) * time.Second)
		} else {
			break
		}
	}
}

// obtainPipe either dials addr or binds and accepts one connection,
// returning the single negotiated pipe once it is ready.
func obtainPipe() *pipe.Pipe {
	if dialAddr != "" {
		tran := transport.Lookup(dialAddr)
		if tran == nil {
			fatalf("No transport registered for %s", dialAddr)
		}
		d, err := endpoint.NewDialer(tran, dialAddr, uint16(protoNum), 0)
		if err != nil {
			fatalf("NewDialer(%s): %v", dialAddr, err)
		}
		if err := d.Start(); err != nil {
			fatalf("Start: %v", err)
		}
		done := make(chan struct{})
		a := aio.New(func(*aio.AIO) { close(done) })
		d.NextPipe(a)
		<-done
		if err, _ := a.Result(); err != nil {
			fatalf("Dial(%s): %v", dialAddr, err)
		}
		return a.Output(0).(*pipe.Pipe)
	}

	tran := transport.Lookup(listenAddr)
	if tran == nil {
		fatalf("No transport registered for %s", listenAddr)
	}
	l, err := endpoint.NewListener(tran, listenAddr, uint16(protoNum), 0)
	if err != nil {
		fatalf("NewListener(%s): %v", listenAddr, err)
	}
	if err := l.Start(); err != nil {
		fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	a := aio.New(func(*aio.AIO) { close(done) })
	l.NextPipe(a)
	<-done
	if err, _ := a.Result(); err != nil {
		fatalf("Accept(%s): %v", listenAddr, err)
	}
	return a.Output(0).(*pipe.Pipe)
}

func main() {
	goopt.Parse(nil)

	if dialAddr == "" && listenAddr == "" {
		fatalf("No address specified.")
	}

	p := obtainPipe()
	defer p.Close()

	time.Sleep(time.Second * time.Duration(sendDelay))

	rxdone := make(chan struct{})
	txdone := make(chan struct{})

	if sendData != nil {
		go sendLoop(p, txdone)
	} else {
		close(txdone)
	}
	go recvLoop(p, rxdone)

	<-rxdone
	<-txdone
}
