// SPDX-FileCopyrightText: 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// PingAgent echoes each incoming Bundle's payload back to its report-to endpoint, or to its
// source if no report-to is set. Administrative records are never echoed.
type PingAgent struct {
	endpoint bpv7.EndpointID
	receiver chan Message
	sender   chan Message
}

// NewPing creates a PingAgent registered for an endpoint.
func NewPing(endpoint bpv7.EndpointID) *PingAgent {
	p := &PingAgent{
		endpoint: endpoint,
		receiver: make(chan Message),
		sender:   make(chan Message),
	}

	go p.handler()

	return p
}

func (p *PingAgent) handler() {
	defer close(p.sender)

	logger := log.WithField("ping", p.endpoint)

	for msg := range p.receiver {
		switch msg := msg.(type) {
		case BundleMessage:
			echo, err := p.echo(msg.Bundle)
			if err != nil {
				logger.WithField("bundle", msg.Bundle.ID()).WithError(err).Info("Not answering Bundle")
				continue
			}

			logger.WithFields(log.Fields{
				"request": msg.Bundle.ID(),
				"echo":    echo.ID(),
			}).Info("Echoing Bundle")
			p.sender <- BundleMessage{echo}

		case ShutdownMessage:
			return

		default:
			logger.WithField("message", msg).Debug("Ignoring unsupported Message")
		}
	}
}

type pingError string

func (e pingError) Error() string {
	return string(e)
}

const (
	errPingAdministrative = pingError("administrative records are not echoed")
	errPingAnonymous      = pingError("anonymous bundles cannot be answered")
)

// echo creates the answer to a ping request.
func (p *PingAgent) echo(req bpv7.Bundle) (bpv7.Bundle, error) {
	if req.IsAdministrativeRecord() {
		return bpv7.Bundle{}, errPingAdministrative
	}

	dst := req.PrimaryBlock.ReportTo
	if dst.IsNone() {
		dst = req.PrimaryBlock.SourceNode
	}
	if dst.IsNone() {
		return bpv7.Bundle{}, errPingAnonymous
	}

	bldr := bpv7.Builder().
		CRC(bpv7.CRC32).
		Source(p.endpoint).
		Destination(dst).
		BundleCtrlFlags(bpv7.MustNotFragmented).
		CreationTimestampNow().
		Lifetime(req.PrimaryBlock.Lifetime)

	if cb, err := req.ExtensionBlock(bpv7.ExtBlockTypeHopCountBlock); err == nil {
		bldr = bldr.HopCountBlock(int(cb.Value.(*bpv7.HopCountBlock).Limit))
	}

	return bldr.PayloadBlock(req.Payload()).Build()
}

func (p *PingAgent) Endpoints() []bpv7.EndpointID {
	return []bpv7.EndpointID{p.endpoint}
}

func (p *PingAgent) MessageReceiver() chan Message {
	return p.receiver
}

func (p *PingAgent) MessageSender() chan Message {
	return p.sender
}
