// SPDX-FileCopyrightText: 2022 Markus Sommer
// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/cla/quicl/internal"
)

// Listener is the ConvergenceProvider of QUICL. Each accepted connection
// becomes an Endpoint, registered at the Manager.
type Listener struct {
	reg *bpv7.Registry

	address  string
	id       bpv7.EndpointID
	manager  *cla.Manager
	listener *quic.Listener
}

// NewQUICListener on a host:port address, announcing id to connecting peers.
func NewQUICListener(reg *bpv7.Registry, listenAddress string, endpointID bpv7.EndpointID) *Listener {
	return &Listener{reg: reg, address: listenAddress, id: endpointID}
}

func (l *Listener) String() string {
	return "quicl://" + l.address
}

func (l *Listener) log() *log.Entry {
	return log.WithField("address", l.address)
}

func (l *Listener) Close() error {
	if l.listener == nil {
		return nil
	}
	l.log().Info("Closing QUICL listener")
	return l.listener.Close()
}

func (l *Listener) RegisterManager(manager *cla.Manager) {
	l.manager = manager
}

func (l *Listener) Start() error {
	tlsConfig, err := internal.ListenerTLSConfig()
	if err != nil {
		return fmt.Errorf("quicl listener %s: %w", l.address, err)
	}

	lst, err := quic.ListenAddr(l.address, tlsConfig, internal.QUICConfig())
	if err != nil {
		return fmt.Errorf("quicl listener %s: %w", l.address, err)
	}

	l.log().Info("QUICL listener started")
	l.listener = lst
	go l.accept(lst)
	return nil
}

func (l *Listener) accept(lst *quic.Listener) {
	for {
		conn, err := lst.Accept(context.Background())
		switch {
		case errors.Is(err, quic.ErrServerClosed):
			return
		case err != nil:
			l.log().WithError(err).Warn("QUICL listener failed to accept connection")
			continue
		}

		l.log().WithField("peer", conn.RemoteAddr()).Info("QUICL listener accepted connection")
		go l.manager.Register(NewListenerEndpoint(l.reg, l.id, conn))
	}
}
