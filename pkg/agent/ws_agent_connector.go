// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// WebSocketAgentConnector is the client side version of the WebSocketAgent.
type WebSocketAgentConnector struct {
	reg *bpv7.Registry

	conn       *websocket.Conn
	writeMutex sync.Mutex

	msgInBundleChan chan bpv7.Bundle
	readErr         error

	closeOnce sync.Once
}

// NewWebSocketAgentConnector creates a new WebSocketAgentConnector connection to a WebSocketAgent, registered for
// the given endpoint.
func NewWebSocketAgentConnector(reg *bpv7.Registry, apiUrl, endpointId string) (*WebSocketAgentConnector, error) {
	u, err := url.Parse(apiUrl)
	if err != nil {
		return nil, err
	}

	query := u.Query()
	query.Set("endpoint", endpointId)
	u.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s failed with HTTP status %s: %w", apiUrl, resp.Status, err)
		}
		return nil, err
	}

	wac := &WebSocketAgentConnector{
		reg:             reg,
		conn:            conn,
		msgInBundleChan: make(chan bpv7.Bundle),
	}

	go wac.handleReader()

	return wac, nil
}

func (wac *WebSocketAgentConnector) handleReader() {
	defer close(wac.msgInBundleChan)

	emitter := wac.reg.NewBundleEmitter(func(b bpv7.Bundle) {
		wac.msgInBundleChan <- b
	}, nil)
	defer emitter.Dispose()

	for {
		messageType, data, err := wac.conn.ReadMessage()
		if err != nil {
			wac.readErr = err
			return
		}
		if messageType != websocket.BinaryMessage {
			wac.readErr = fmt.Errorf("expected binary message, got %d", messageType)
			return
		}

		if err := emitter.Feed(data); err != nil {
			wac.readErr = err
			return
		}
	}
}

// WriteBundle sends a Bundle to a server.
func (wac *WebSocketAgentConnector) WriteBundle(b bpv7.Bundle) error {
	wac.writeMutex.Lock()
	defer wac.writeMutex.Unlock()

	return b.Serialize(wac.reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		return wac.conn.WriteMessage(websocket.BinaryMessage, chunk)
	})
}

// WriteChunk sends an arbitrary part of a bundle stream.
func (wac *WebSocketAgentConnector) WriteChunk(chunk []byte) error {
	wac.writeMutex.Lock()
	defer wac.writeMutex.Unlock()

	return wac.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// ReadBundle returns the next incoming Bundle. This method blocks.
func (wac *WebSocketAgentConnector) ReadBundle() (bpv7.Bundle, error) {
	b, ok := <-wac.msgInBundleChan
	if !ok {
		if wac.readErr != nil {
			return bpv7.Bundle{}, wac.readErr
		}
		return bpv7.Bundle{}, fmt.Errorf("connection is closed")
	}
	return b, nil
}

// Close this WebSocketAgentConnector.
func (wac *WebSocketAgentConnector) Close() {
	wac.closeOnce.Do(func() {
		wac.writeMutex.Lock()
		_ = wac.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		wac.writeMutex.Unlock()

		_ = wac.conn.Close()
	})
}
