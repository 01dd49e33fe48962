// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bpa is the bundle protocol agent, connecting convergence layers,
// application agents and the store. Received bundles pass the block
// processing pipeline before being stored and either delivered locally or
// forwarded epidemically to all known peers.
package bpa

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/processing"
	"github.com/dtn7/bpstream/pkg/storage"
)

// DefaultPurgeInterval between two removals of expired bundles from the store.
const DefaultPurgeInterval = 10 * time.Minute

// Core is the inner processing of our DTN which handles transmission and
// reception of bundles.
type Core struct {
	NodeId bpv7.EndpointID

	reg      *bpv7.Registry
	pipeline *processing.Pipeline
	store    *storage.Store

	agentManager *AgentManager
	claManager   *cla.Manager
	cron         *Cron
	idKeeper     *IdKeeper

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewCore will be created according to the parameters.
//
//	reg: Registry for parsing and block processing
//	storePath: path for the bundle and metadata storage
//	nodeId: singleton Endpoint ID/Node ID
//	maxPasses: bound of the pipeline's passes per hook, zero for the default
//	purgeInterval: interval to remove expired bundles, zero for DefaultPurgeInterval
func NewCore(reg *bpv7.Registry, storePath string, nodeId bpv7.EndpointID, maxPasses int, purgeInterval time.Duration) (*Core, error) {
	if !nodeId.IsSingleton() {
		return nil, fmt.Errorf("passed Node ID MUST be a singleton; %s is not", nodeId)
	}
	if purgeInterval == 0 {
		purgeInterval = DefaultPurgeInterval
	}

	c := &Core{
		NodeId:   nodeId,
		reg:      reg,
		pipeline: processing.NewPipeline(reg, processing.WithNodeID(nodeId), processing.WithMaxPasses(maxPasses)),
		idKeeper: NewIdKeeper(),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}

	if store, err := storage.NewStore(storePath, c.pipeline); err != nil {
		return nil, err
	} else {
		c.store = store
	}

	if cron, err := NewCron(); err != nil {
		_ = c.store.Close()
		return nil, err
	} else {
		c.cron = cron
	}

	c.agentManager = NewAgentManager(c)
	c.claManager = cla.NewManager()

	if err := c.cron.Register("pending_bundles", c.checkPendingBundles, 10*time.Second); err != nil {
		log.WithError(err).Warn("Failed to register pending_bundles at cron")
	}
	if err := c.cron.Register("clean_store", c.purgeExpired, purgeInterval); err != nil {
		log.WithError(err).Warn("Failed to register clean_store at cron")
	}

	go c.handler()

	return c, nil
}

// Store of this Core.
func (c *Core) Store() *storage.Store {
	return c.store
}

// checkPendingBundles queries pending bundles from the store and tries to dispatch them.
func (c *Core) checkPendingBundles() {
	bis, err := c.store.QueryPending()
	if err != nil {
		log.WithError(err).Warn("Failed to fetch pending bundles")
		return
	}

	for _, bi := range bis {
		log.WithField("bundle", bi.Id).Debug("Retrying bundle from store")
		c.process(bi)
	}
}

// purgeExpired removes bundles with an exceeded lifetime from the store.
func (c *Core) purgeExpired() {
	if n := c.store.DeleteExpired(time.Now()); n > 0 {
		log.WithField("bundles", n).Info("Removed expired bundles from store")
	}
}

// handler does the Core's background tasks
func (c *Core) handler() {
	for {
		select {
		// Invoked by Close(), shuts down
		case <-c.stopSyn:
			c.cron.Stop()

			if err := c.agentManager.Close(); err != nil {
				log.WithError(err).Warn("Closing Agent Manager while shutting down errored")
			}

			if err := c.claManager.Close(); err != nil {
				log.WithError(err).Warn("Closing CLA Manager while shutting down errored")
			}

			if err := c.store.Close(); err != nil {
				log.WithError(err).Warn("Closing store while shutting down errored")
			}

			close(c.stopAck)
			return

		// Handle a received ConvergenceStatus
		case cs := <-c.claManager.Channel():
			switch cs.Kind {
			case cla.ReceivedBundle:
				c.receive(*cs.Bundle)

			case cla.PeerAppeared:
				log.WithField("peer", cs.Endpoint).Info("Peer appeared")
				c.checkPendingBundles()

			case cla.PeerDisappeared:
				log.WithField("peer", cs.Endpoint).Info("Peer disappeared")

			default:
				log.WithFields(log.Fields{
					"cla":    cs.Sender,
					"kind":   cs.Kind,
					"status": cs,
				}).Warn("Received ConvergenceStatus with unknown type")
			}
		}
	}
}

// Close shuts the Core down and notifies all bounded ConvergenceReceivers to
// also close the connection.
func (c *Core) Close() {
	close(c.stopSyn)
	<-c.stopAck
}

// RegisterApplicationAgent adds a new ApplicationAgent to this Core's list.
func (c *Core) RegisterApplicationAgent(app agent.ApplicationAgent) {
	c.agentManager.Register(app)
}

// senderForDestination returns all ConvergenceSenders whose peer is the
// destination's node. This is used for direct delivery.
func (c *Core) senderForDestination(endpoint bpv7.EndpointID) (css []cla.ConvergenceSender) {
	for _, cs := range c.claManager.Sender() {
		if cs.GetPeerEndpointID().SameNode(endpoint) {
			css = append(css, cs)
		}
	}
	return
}

// HasEndpoint checks if the given endpoint ID is assigned either to an
// application or a CLA governed by this Application Agent.
func (c *Core) HasEndpoint(endpoint bpv7.EndpointID) bool {
	if c.NodeId.SameNode(endpoint) {
		return true
	}

	if c.agentManager.HasEndpoint(endpoint) {
		return true
	}

	if c.claManager.HasEndpoint(endpoint) {
		return true
	}

	for _, cr := range c.claManager.Receiver() {
		if cr.GetEndpointID().SameNode(endpoint) {
			return true
		}
	}

	return false
}

// SendStatusReport creates a new status report in response to the given
// Bundle and transmits it to its report-to endpoint.
func (c *Core) SendStatusReport(b bpv7.Bundle, status bpv7.StatusInformationPos, reason bpv7.StatusReportReason) {
	// Don't respond to other administrative records
	if b.IsAdministrativeRecord() {
		return
	}

	reportTo := b.PrimaryBlock.ReportTo
	if reportTo.IsNone() || c.HasEndpoint(reportTo) {
		return
	}

	log.WithFields(log.Fields{
		"bundle": b.ID(),
		"status": status,
		"reason": reason,
	}).Info("Sending a status report for a bundle")

	sr := bpv7.NewStatusReport(b, status, reason, bpv7.DtnTimeNow())
	outBndl, err := bpv7.NewAdministrativeRecordBundle(sr, c.NodeId, reportTo, time.Hour)
	if err != nil {
		log.WithFields(log.Fields{
			"bundle": b.ID(),
			"error":  err,
		}).Warn("Creating status report bundle failed")
		return
	}

	c.SendBundle(&outBndl)
}

// RegisterConvergable is the exposed Register method from the CLA Manager.
func (c *Core) RegisterConvergable(conv cla.Convergable) {
	c.claManager.Register(conv)
}

// RegisterCLA registers a CLA with the CLA Manager and adds its endpoint ID
// to the set of registered IDs for its type.
func (c *Core) RegisterCLA(conv cla.Convergable, claType cla.CLAType, eid bpv7.EndpointID) {
	c.claManager.RegisterEndpointID(claType, eid)
	c.claManager.Register(conv)
}

// RegisteredCLAs returns the EndpointIDs of all registered CLAs of the specified type.
func (c *Core) RegisteredCLAs(claType cla.CLAType) []bpv7.EndpointID {
	return c.claManager.EndpointIDs(claType)
}
