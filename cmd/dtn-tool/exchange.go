// SPDX-FileCopyrightText: 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpv7"
)

// readRetries are the pauses between attempts to read a new file, which may
// still be written to.
var readRetries = []time.Duration{
	100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond,
}

// exchange mirrors a directory and an endpoint: new files are sent, received
// bundles become files named by their hex encoded ID.
type exchange struct {
	reg       *bpv7.Registry
	directory string
	conn      *agent.WebSocketAgentConnector

	// knownFiles are relative names of files that were sent or stored already.
	knownFiles sync.Map
}

func newExchangeCmd(reg *bpv7.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "exchange WEBSOCKET ENDPOINT_ID DIRECTORY",
		Short: "Exchange bundles between a directory and a dtnd's WebSocket agent",
		Long: `Register ENDPOINT_ID at the WebSocket agent, e.g., ws://localhost:8080/ws.

Bundle files created in DIRECTORY are sent; received bundles are stored in
DIRECTORY, named by their hex encoded ID.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialAgent(reg, args[0], args[1])
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := interruptible(cmd.Context())
			defer stop()

			ex := &exchange{reg: reg, directory: args[2], conn: conn}
			return ex.run(ctx)
		},
	}
}

// run until ctx is done, the connection breaks or the watcher fails.
func (ex *exchange) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher failed: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(ex.directory); err != nil {
		return fmt.Errorf("watching %s failed: %w", ex.directory, err)
	}

	bundles := incoming(ctx, ex.conn)
	for {
		select {
		case <-ctx.Done():
			log.Info("Exchange interrupted")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher stopped")
			}
			if ev.Op&fsnotify.Create == 0 || ex.known(ev.Name) {
				continue
			}
			ex.sendFile(ctx, ev.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher stopped")
			}
			return fmt.Errorf("file watcher failed: %w", err)

		case b, ok := <-bundles:
			if !ok {
				return fmt.Errorf("connection to the WebSocket agent closed")
			}
			ex.storeBundle(b)
		}
	}
}

func (ex *exchange) relName(name string) string {
	if rel, err := filepath.Rel(ex.directory, name); err == nil {
		return rel
	}
	return name
}

func (ex *exchange) known(name string) bool {
	_, ok := ex.knownFiles.Load(ex.relName(name))
	return ok
}

func (ex *exchange) markKnown(name string) {
	ex.knownFiles.Store(ex.relName(name), struct{}{})
}

// storeBundle as a file. The name is marked before the file exists, so the
// watcher does not send it back.
func (ex *exchange) storeBundle(b bpv7.Bundle) {
	name := filepath.Join(ex.directory, hex.EncodeToString([]byte(b.ID().String())))
	logger := log.WithFields(log.Fields{"bundle": b.ID(), "file": name})

	ex.markKnown(name)

	f, err := os.Create(name)
	if err != nil {
		logger.WithError(err).Error("Creating bundle file failed")
		return
	}
	if err := writeBundle(ex.reg, b, f); err != nil {
		_ = f.Close()
		logger.WithError(err).Error("Writing bundle file failed")
		return
	}
	if err := f.Close(); err != nil {
		logger.WithError(err).Error("Closing bundle file failed")
		return
	}
	logger.Info("Stored received bundle")
}

func (ex *exchange) readFile(name string) (bpv7.Bundle, error) {
	f, err := os.Open(name)
	if err != nil {
		return bpv7.Bundle{}, err
	}
	defer f.Close()
	return ex.reg.ReadBundle(f)
}

// sendFile once it holds a complete bundle.
func (ex *exchange) sendFile(ctx context.Context, name string) {
	logger := log.WithField("file", name)

	for _, pause := range readRetries {
		b, err := ex.readFile(name)
		if err != nil {
			logger.WithError(err).Debug("Reading bundle file failed, retrying")

			select {
			case <-time.After(pause):
				continue
			case <-ctx.Done():
				return
			}
		}

		if err := ex.conn.WriteBundle(b); err != nil {
			logger.WithError(err).Error("Sending bundle failed")
			return
		}
		ex.markKnown(name)
		logger.WithField("bundle", b.ID()).Info("Sent bundle")
		return
	}

	logger.Error("Giving up on bundle file")
}
