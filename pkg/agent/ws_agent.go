// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// WebSocketAgent serves WebSocket clients, the counterpart of a WebSocketAgentConnector.
//
// Clients pick their endpoint by a query parameter, e.g., /ws?endpoint=dtn://foo/bar.
// Then both sides write a bundle stream as binary frames, which need not align
// with bundle boundaries.
//
// Each connection becomes a child of the embedded MuxAgent, which routes
// BundleMessages to the matching clients and passes a ShutdownMessage to all.
type WebSocketAgent struct {
	*MuxAgent

	reg      *bpv7.Registry
	upgrader websocket.Upgrader
}

// NewWebSocketAgent to be bound to an HTTP route.
func NewWebSocketAgent(reg *bpv7.Registry) *WebSocketAgent {
	return &WebSocketAgent{MuxAgent: NewMuxAgent(), reg: reg}
}

// ServeHTTP upgrades the request and blocks until the client disconnects.
func (w *WebSocketAgent) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("endpoint")
	eid, err := w.reg.NewEndpointID(query)
	if err != nil {
		log.WithFields(log.Fields{"endpoint": query, "error": err}).Warn("WebSocket client requested an invalid endpoint")
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := newWebAgentClient(w.reg, conn, eid)
	w.Register(client)
	client.start()
}
