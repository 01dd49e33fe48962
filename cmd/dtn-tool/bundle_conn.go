// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpv7"
)

// dialAgent registers endpoint at a dtnd's WebSocket agent.
func dialAgent(reg *bpv7.Registry, websocketUrl, endpoint string) (*agent.WebSocketAgentConnector, error) {
	conn, err := agent.NewWebSocketAgentConnector(reg, websocketUrl, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s as %s failed: %w", websocketUrl, endpoint, err)
	}
	return conn, nil
}

// incoming bundles of conn. The channel is closed when reading fails or ctx is done.
func incoming(ctx context.Context, conn *agent.WebSocketAgentConnector) <-chan bpv7.Bundle {
	bundles := make(chan bpv7.Bundle)
	go func() {
		defer close(bundles)
		for {
			b, err := conn.ReadBundle()
			if err != nil {
				log.WithError(err).Debug("Reading from WebSocket agent stopped")
				return
			}
			select {
			case bundles <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return bundles
}

// interruptible until SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
