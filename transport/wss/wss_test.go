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

package wss

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
		InsecureSkipVerify: true,
	}
}

func TestWSSDialAccept(t *testing.T) {
	tran := &wssTran{}
	l, err := tran.NewListener("wss://127.0.0.1:34958/mysock", 1)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.SetOption(stream.OptionTLSConfig, selfSignedConfig(t)); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	time.Sleep(50 * time.Millisecond)

	acceptDone := make(chan error, 1)
	aa := aio.New(func(a *aio.AIO) { err, _ := a.Result(); acceptDone <- err })
	aa.Begin()
	aa.Schedule(nil, nil)
	l.Accept(aa)

	d, err := tran.NewDialer("wss://127.0.0.1:34958/mysock", 1)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if err := d.SetOption(stream.OptionTLSConfig, &tls.Config{InsecureSkipVerify: true}); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	dialDone := make(chan error, 1)
	da := aio.New(func(a *aio.AIO) { err, _ := a.Result(); dialDone <- err })
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
}
