// SPDX-FileCopyrightText: 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpv7"
)

// pinger sends numbered ping bundles to a node's ping agent, which echoes
// their payload. The payload carries the send time to measure round trips.
type pinger struct {
	sender   string
	receiver string
	interval time.Duration
	conn     *agent.WebSocketAgentConnector

	sent, answered uint64
}

func newPingCmd(reg *bpv7.Registry) *cobra.Command {
	var interval time.Duration
	var count uint64

	cmd := &cobra.Command{
		Use:   "ping WEBSOCKET SENDER RECEIVER",
		Short: "Ping another node's ping agent",
		Long: `Register SENDER at the WebSocket agent, e.g., ws://localhost:8080/ws, and
periodically send ping bundles to RECEIVER, e.g., dtn://other/ping.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialAgent(reg, args[0], args[1])
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := interruptible(cmd.Context())
			defer stop()

			p := &pinger{sender: args[1], receiver: args[2], interval: interval, conn: conn}
			p.run(ctx, count)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d pings sent, %d answered\n", p.sent, p.answered)
			return err
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "ping interval")
	cmd.Flags().Uint64VarP(&count, "count", "c", 0, "stop after this many pings, 0 pings forever")

	return cmd
}

func pingPayload(seq uint64, at time.Time) []byte {
	return []byte(fmt.Sprintf("ping %d %d", seq, at.UnixNano()))
}

// parsePingPayload returns the sequence number and send time of an echoed ping.
func parsePingPayload(payload []byte) (seq uint64, at time.Time, err error) {
	var nanos int64
	if _, err = fmt.Sscanf(string(payload), "ping %d %d", &seq, &nanos); err != nil {
		return 0, time.Time{}, fmt.Errorf("no ping payload: %w", err)
	}
	return seq, time.Unix(0, nanos), nil
}

func (p *pinger) pingBundle(seq uint64, at time.Time) (bpv7.Bundle, error) {
	return bpv7.Builder().
		CRC(bpv7.CRC32).
		Source(p.sender).
		Destination(p.receiver).
		CreationTimestampTime(at).
		Lifetime("5m").
		HopCountBlock(64).
		PayloadBlock(pingPayload(seq, at)).
		Build()
}

func (p *pinger) ping() {
	b, err := p.pingBundle(p.sent, time.Now())
	if err != nil {
		log.WithError(err).Error("Creating ping bundle failed")
		return
	}
	if err := p.conn.WriteBundle(b); err != nil {
		log.WithError(err).Error("Sending ping bundle failed")
		return
	}
	log.WithFields(log.Fields{"bundle": b.ID(), "seq": p.sent}).Debug("Sent ping")
	p.sent++
}

// answer logs an echo and reports whether it was one.
func (p *pinger) answer(b bpv7.Bundle, now time.Time) bool {
	seq, at, err := parsePingPayload(b.Payload())
	if err != nil {
		log.WithFields(log.Fields{"bundle": b.ID(), "error": err}).Info("Received unrelated bundle")
		return false
	}

	p.answered++
	log.WithFields(log.Fields{
		"source": b.PrimaryBlock.SourceNode,
		"seq":    seq,
		"rtt":    now.Sub(at).Round(time.Millisecond),
	}).Info("Ping answered")
	return true
}

// run until ctx is done, the connection closes or count pings were answered.
func (p *pinger) run(ctx context.Context, count uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	bundles := incoming(ctx, p.conn)
	p.ping()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if count == 0 || p.sent < count {
				p.ping()
			}

		case b, ok := <-bundles:
			if !ok {
				log.Warn("Connection to the WebSocket agent closed")
				return
			}
			if p.answer(b, time.Now()) && count > 0 && p.answered >= count {
				return
			}
		}
	}
}
