// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// createBundle from src to dst for testing purpose.
func createBundle(src, dst string, t *testing.T) bpv7.Bundle {
	t.Helper()

	b, err := bpv7.Builder().
		CRC(bpv7.CRC32).
		Source(src).
		Destination(dst).
		CreationTimestampEpoch().
		Lifetime("24h").
		BundleAgeBlock(0).
		PayloadBlock([]byte("hello world")).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func startWebSocketAgent(t *testing.T, reg *bpv7.Registry) (*WebSocketAgent, string) {
	t.Helper()

	ws := NewWebSocketAgent(reg)

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/ws", ws.ServeHTTP)
	server := httptest.NewServer(httpMux)
	t.Cleanup(server.Close)

	return ws, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func waitForEndpoint(t *testing.T, app ApplicationAgent, eid bpv7.EndpointID) {
	t.Helper()

	for i := 0; i < 50; i++ {
		if AppAgentHasEndpoint(app, eid) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Endpoint %v was not registered", eid)
}

func TestWebAgentConnector(t *testing.T) {
	reg := bpv7.NewRegistry()
	ws, wsUrl := startWebSocketAgent(t, reg)

	wac, err := NewWebSocketAgentConnector(reg, wsUrl, "dtn://foobar/")
	if err != nil {
		t.Fatal(err)
	}
	defer wac.Close()

	waitForEndpoint(t, ws, bpv7.MustNewEndpointID("dtn://foobar/"))

	// Server to client
	b := createBundle("dtn://test/", "dtn://foobar/", t)
	ws.MessageReceiver() <- BundleMessage{b}

	if bRecv, err := wac.ReadBundle(); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(mustBytes(t, reg, bRecv), mustBytes(t, reg, b)) {
		t.Fatalf("expected %v, got %v", b, bRecv)
	}

	// Client to server
	b = createBundle("dtn://foobar/", "dtn://test/", t)
	if err := wac.WriteBundle(b); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ws.MessageSender():
		if msg, ok := msg.(BundleMessage); !ok {
			t.Fatalf("Message is not a Bundle Message; %v", msg)
		} else if !bytes.Equal(mustBytes(t, reg, msg.Bundle), mustBytes(t, reg, b)) {
			t.Fatalf("expected %v, got %v", b, msg.Bundle)
		}

	case <-time.After(time.Second):
		t.Fatal("Bundle reception timed out")
	}
}

func mustBytes(t *testing.T, reg *bpv7.Registry, b bpv7.Bundle) []byte {
	t.Helper()

	data, err := b.Bytes(reg)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWebAgentArbitraryFrames(t *testing.T) {
	reg := bpv7.NewRegistry()
	ws, wsUrl := startWebSocketAgent(t, reg)

	wac, err := NewWebSocketAgentConnector(reg, wsUrl, "dtn://foobar/")
	if err != nil {
		t.Fatal(err)
	}
	defer wac.Close()

	b0 := createBundle("dtn://foobar/", "dtn://a/", t)
	b1 := createBundle("dtn://foobar/", "dtn://b/", t)
	stream := append(mustBytes(t, reg, b0), mustBytes(t, reg, b1)...)

	// Frames of three bytes do not align with either bundle.
	go func() {
		for i := 0; i < len(stream); i += 3 {
			end := i + 3
			if end > len(stream) {
				end = len(stream)
			}
			if err := wac.WriteChunk(stream[i:end]); err != nil {
				return
			}
		}
	}()

	for _, expected := range []bpv7.Bundle{b0, b1} {
		select {
		case msg := <-ws.MessageSender():
			if dst := msg.(BundleMessage).Bundle.PrimaryBlock.Destination.String(); dst != expected.PrimaryBlock.Destination.String() {
				t.Fatalf("Received bundle for %s, expected %s", dst, expected.PrimaryBlock.Destination)
			}

		case <-time.After(time.Second):
			t.Fatal("Bundle reception timed out")
		}
	}
}

func TestWebAgentInvalidEndpoint(t *testing.T) {
	reg := bpv7.NewRegistry()
	_, wsUrl := startWebSocketAgent(t, reg)

	if _, err := NewWebSocketAgentConnector(reg, wsUrl, "nope"); err == nil {
		t.Fatal("Connector with an invalid endpoint was accepted")
	}
}

func TestWebAgentMalformedStream(t *testing.T) {
	reg := bpv7.NewRegistry()
	ws, wsUrl := startWebSocketAgent(t, reg)

	conn, _, err := websocket.DefaultDialer.Dial(wsUrl+"?endpoint=dtn%3A%2F%2Ffoobar%2F", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitForEndpoint(t, ws, bpv7.MustNewEndpointID("dtn://foobar/"))

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xa1, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseInvalidFramePayloadData) {
		t.Fatalf("Expected close error, got %v", err)
	}

	for i := 0; i < 50 && AppAgentHasEndpoint(ws, bpv7.MustNewEndpointID("dtn://foobar/")); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if AppAgentHasEndpoint(ws, bpv7.MustNewEndpointID("dtn://foobar/")) {
		t.Fatal("Closed client is still registered")
	}
}
