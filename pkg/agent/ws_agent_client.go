// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// webAgentClient is the server side of one WebSocket connection.
type webAgentClient struct {
	reg *bpv7.Registry

	conn       *websocket.Conn
	writeMutex sync.Mutex

	endpoint bpv7.EndpointID
	receiver chan Message
	sender   chan Message

	closeOnce sync.Once
}

func newWebAgentClient(reg *bpv7.Registry, conn *websocket.Conn, endpoint bpv7.EndpointID) *webAgentClient {
	return &webAgentClient{
		reg:      reg,
		conn:     conn,
		endpoint: endpoint,
		receiver: make(chan Message),
		sender:   make(chan Message),
	}
}

func (client *webAgentClient) log() *log.Entry {
	return log.WithFields(log.Fields{
		"web agent client": client.conn.RemoteAddr().String(),
		"endpoint":         client.endpoint,
	})
}

func (client *webAgentClient) start() {
	go client.handleReceiver()
	client.handleConn()
}

func (client *webAgentClient) close() {
	client.closeOnce.Do(func() {
		client.log().Debug("Closing connection")
		_ = client.conn.Close()
	})
}

// handleReceiver writes Bundles from the receiver channel to the connection.
// After an error or a shutdown, it drains the receiver until the MuxAgent closes it.
func (client *webAgentClient) handleReceiver() {
	defer func() {
		client.close()
		for range client.receiver {
		}
	}()

	for msg := range client.receiver {
		switch msg := msg.(type) {
		case ShutdownMessage:
			client.log().Debug("Received Shutdown")
			return

		case BundleMessage:
			if err := client.writeBundle(msg.Bundle); err != nil {
				client.log().WithError(err).Warn("Sending outgoing Bundle errored")
				return
			}
			client.log().WithField("bundle", msg.Bundle.ID()).Info("Sent Bundle to client")

		default:
			client.log().WithField("message", msg).Info("Received unknown / unsupported message")
		}
	}
}

// handleConn parses the incoming frames as a bundle stream. It is the only writer of the sender channel.
func (client *webAgentClient) handleConn() {
	defer close(client.sender)
	defer client.close()

	emitter := client.reg.NewBundleEmitter(func(b bpv7.Bundle) {
		client.log().WithField("bundle", b.ID()).Info("Received Bundle")
		client.sender <- BundleMessage{b}
	}, nil)
	defer emitter.Dispose()

	for {
		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			if emitter.InProgress() {
				client.log().WithError(err).Warn("Connection closed within a bundle")
			} else {
				client.log().WithError(err).Debug("Reading from connection errored")
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			client.log().WithField("message type", messageType).Warn("Websocket message is not binary")
			client.closeWith(websocket.CloseUnsupportedData, "binary frames only")
			return
		}

		if err := emitter.Feed(data); err != nil {
			client.log().WithError(err).Warn("Parsing bundle stream errored")
			client.closeWith(websocket.CloseInvalidFramePayloadData, "malformed bundle")
			return
		}
	}
}

func (client *webAgentClient) closeWith(code int, text string) {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

// writeBundle as chunk-sized binary frames.
func (client *webAgentClient) writeBundle(b bpv7.Bundle) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	return b.Serialize(client.reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		return client.conn.WriteMessage(websocket.BinaryMessage, chunk)
	})
}

func (client *webAgentClient) Endpoints() []bpv7.EndpointID {
	return []bpv7.EndpointID{client.endpoint}
}

func (client *webAgentClient) MessageReceiver() chan Message {
	return client.receiver
}

func (client *webAgentClient) MessageSender() chan Message {
	return client.sender
}
