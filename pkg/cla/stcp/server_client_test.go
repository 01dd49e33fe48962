// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stcp

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
)

func getRandomPort(t *testing.T) int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}

	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port
}

func testBundle(t *testing.T, reg *bpv7.Registry) (bpv7.Bundle, []byte) {
	t.Helper()

	bndl, err := bpv7.Builder().
		CRC(bpv7.CRC32).
		Source("dtn://src/").
		Destination("dtn://dest/").
		CreationTimestampEpoch().
		Lifetime("60s").
		BundleCtrlFlags(bpv7.MustNotFragmented).
		BundleAgeBlock(0).
		PayloadBlock([]byte("hello world!")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	data, err := bndl.Bytes(reg)
	if err != nil {
		t.Fatal(err)
	}
	return bndl, data
}

func startServer(t *testing.T, reg *bpv7.Registry) (*STCPServer, int) {
	t.Helper()

	port := getRandomPort(t)
	serv := NewSTCPServer(reg, fmt.Sprintf("localhost:%d", port), bpv7.MustNewEndpointID("dtn://stcpcla/"), false)
	if err, _ := serv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = serv.Close() })

	return serv, port
}

func receive(t *testing.T, serv *STCPServer) *bpv7.Bundle {
	t.Helper()

	select {
	case cs := <-serv.Channel():
		if cs.Kind != cla.ReceivedBundle {
			t.Fatalf("Wrong status kind %v", cs.Kind)
		}
		return cs.Bundle

	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a bundle")
		return nil
	}
}

func TestSTCPServerClient(t *testing.T) {
	const (
		clients  = 10
		packages = 25
	)

	reg := bpv7.NewRegistry()
	bndl, data := testBundle(t, reg)
	serv, port := startServer(t, reg)

	errCh := make(chan error, clients*packages)

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			client := NewAnonymousSTCPClient(reg, fmt.Sprintf("localhost:%d", port), false)
			if err, _ := client.Start(); err != nil {
				errCh <- fmt.Errorf("Starting Client failed: %v", err)
				return
			}

			go func(client cla.ConvergenceSender) {
				for range client.Channel() {
				}
			}(client)

			for i := 0; i < packages; i++ {
				if err := client.Send(&bndl); err != nil {
					errCh <- err
				}
			}
		}()
	}

	for i := 0; i < clients*packages; i++ {
		recBndl := receive(t, serv)

		recData, err := recBndl.Bytes(reg)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(recData, data) {
			t.Fatalf("Received bundle differs: %x, %x", recData, data)
		}
		if !recBndl.CRCValid() {
			t.Fatalf("Received bundle has invalid CRCs")
		}
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}

func TestSTCPServerBytewise(t *testing.T) {
	reg := bpv7.NewRegistry()
	_, data := testBundle(t, reg)
	serv, port := startServer(t, reg)

	conn, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	stream := append(append([]byte{}, data...), data...)
	go func() {
		for i := range stream {
			if _, err := conn.Write(stream[i : i+1]); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 2; i++ {
		if recData, err := receive(t, serv).Bytes(reg); err != nil {
			t.Fatal(err)
		} else if !bytes.Equal(recData, data) {
			t.Fatalf("Received bundle %d differs", i)
		}
	}
}

func TestSTCPServerMalformed(t *testing.T) {
	reg := bpv7.NewRegistry()
	serv, port := startServer(t, reg)

	conn, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// A definite map is no bundle.
	if _, err := conn.Write([]byte{0xa1, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("Server did not close the connection")
	} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		t.Fatal("Server did not close the connection")
	}

	select {
	case cs := <-serv.Channel():
		t.Fatalf("Unexpected ConvergenceStatus %v", cs)
	default:
	}
}

func TestSTCPClientPeerDisappeared(t *testing.T) {
	reg := bpv7.NewRegistry()
	serv, port := startServer(t, reg)

	peer := bpv7.MustNewEndpointID("dtn://stcpcla/")
	client := NewSTCPClient(reg, fmt.Sprintf("localhost:%d", port), peer, false)
	if err, _ := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if cs := <-client.Channel(); cs.Kind != cla.PeerAppeared {
		t.Fatalf("Expected PeerAppeared, got %v", cs)
	}

	_ = serv.Close()

	select {
	case cs := <-client.Channel():
		if cs.Kind != cla.PeerDisappeared {
			t.Fatalf("Expected PeerDisappeared, got %v", cs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Client did not notice the closed connection")
	}
}
