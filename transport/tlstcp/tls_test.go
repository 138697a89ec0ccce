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

package tlstcp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"nanomsg.org/go/sptransport/aio"
	"nanomsg.org/go/sptransport/errors"
	"nanomsg.org/go/sptransport/stream"
)

func selfSignedConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}},
	}
}

func TestTLSListenAndAccept(t *testing.T) {
	tran := &tlsTran{}
	if err := tran.SetOption(stream.OptionTLSConfig, selfSignedConfig(t)); err != nil {
		t.Fatalf("SetOption: %v", err)
	}

	addr := "tls+tcp://127.0.0.1:3336"
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
	if err := d.SetOption(stream.OptionTLSConfig, &tls.Config{InsecureSkipVerify: true}); err != nil {
		t.Fatalf("SetOption: %v", err)
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

func TestTLSDuplicateListen(t *testing.T) {
	tran := &tlsTran{}
	if err := tran.SetOption(stream.OptionTLSConfig, selfSignedConfig(t)); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	addr := "tls+tcp://127.0.0.1:3337"
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

func TestTLSConnRefused(t *testing.T) {
	tran := &tlsTran{}
	addr := "tls+tcp://127.0.0.1:19" // port 19 is chargen, rarely in use
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

func TestTLSUntrustedCertRejected(t *testing.T) {
	tran := &tlsTran{}
	if err := tran.SetOption(stream.OptionTLSConfig, selfSignedConfig(t)); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	addr := "tls+tcp://127.0.0.1:3338"
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
	// No InsecureSkipVerify: the dialer must not trust the listener's
	// self-signed certificate.
	dialDone := make(chan error, 1)
	da := aio.New(func(a *aio.AIO) { err, _ := a.Result(); dialDone <- err })
	d.Dial(da)

	select {
	case err := <-dialDone:
		if err != errors.ErrPeerAuth {
			t.Fatalf("Dial err = %v, want ErrPeerAuth", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never completed")
	}
	select {
	case <-acceptDone:
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}
}
