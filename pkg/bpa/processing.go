// SPDX-FileCopyrightText: 2019, 2020, 2021, 2023 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/processing"
	"github.com/dtn7/bpstream/pkg/storage"
)

// propertySentTo is a BundleItem property, listing the space separated peers
// which already have this bundle.
const propertySentTo = "routing/epidemic/sent"

// SendBundle transmits an outgoing bundle. Its source must be dtn:none or an
// endpoint of this node.
func (c *Core) SendBundle(b *bpv7.Bundle) {
	log.WithField("bundle", b.ID()).Info("Transmission of bundle requested")

	c.idKeeper.update(b)

	src := b.PrimaryBlock.SourceNode
	if !src.IsNone() && !c.HasEndpoint(src) {
		log.WithFields(log.Fields{
			"bundle": b.ID(),
			"source": src,
		}).Info("Bundle's source is neither dtn:none nor an endpoint of this node")
		return
	}

	c.dispatch(*b, bpv7.DtnNone())
}

// receive handles received/incoming bundles.
func (c *Core) receive(b bpv7.Bundle) {
	logger := log.WithField("bundle", b.ID())

	if c.store.KnowsBundle(b.ID()) {
		logger.Debug("Received bundle's ID is already known")
		return
	}

	prev := previousNode(b)

	if _, err := c.pipeline.Deserialized(&b); err != nil {
		c.rejected(b, err)
		return
	}

	res, err := c.pipeline.ReceptionProcessing(&b)
	if err != nil {
		c.rejected(b, err)
		return
	}

	logger.WithFields(log.Fields{
		"passes":      res.Passes,
		"removed":     res.RemovedBlocks,
		"unprocessed": res.Unprocessed,
	}).Info("Processing newly received bundle")

	for _, srr := range res.StatusReports {
		c.SendStatusReport(b, bpv7.ReceivedBundle, srr.Reason)
	}
	if len(res.StatusReports) == 0 && b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestReception) {
		c.SendStatusReport(b, bpv7.ReceivedBundle, bpv7.NoInformation)
	}

	c.dispatch(b, prev)
}

// previousNode of a received bundle, dtn:none if unknown.
func previousNode(b bpv7.Bundle) bpv7.EndpointID {
	cb, err := b.ExtensionBlock(bpv7.ExtBlockTypePreviousNodeBlock)
	if err != nil {
		return bpv7.DtnNone()
	}
	return cb.Value.(*bpv7.PreviousNodeBlock).Endpoint()
}

// rejected handles a bundle which failed the pipeline. It is deleted.
func (c *Core) rejected(b bpv7.Bundle, err error) {
	reason := bpv7.NoInformation

	var rejErr *processing.RejectedError
	if errors.As(err, &rejErr) {
		reason = rejErr.Reason
	}

	log.WithFields(log.Fields{
		"bundle": b.ID(),
		"reason": reason,
		"error":  err,
	}).Warn("Bundle was rejected and will be deleted")

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) {
		c.SendStatusReport(b, bpv7.DeletedBundle, reason)
	}

	if delErr := c.store.Delete(b.ID()); delErr != nil {
		log.WithError(delErr).WithField("bundle", b.ID()).Warn("Deleting rejected bundle errored")
	}
}

// dispatch a bundle, either received or created locally. Administrative
// records for this node are consumed; all other bundles are stored pending
// until delivered.
func (c *Core) dispatch(b bpv7.Bundle, prev bpv7.EndpointID) {
	logger := log.WithField("bundle", b.ID())
	local := c.HasEndpoint(b.PrimaryBlock.Destination)

	if local && b.IsAdministrativeRecord() && c.NodeId.SameNode(b.PrimaryBlock.Destination) {
		c.inspectAdministrativeRecord(b)
		return
	}

	if err := c.store.Push(&b); err != nil {
		logger.WithError(err).Warn("Storing bundle errored")
		return
	}

	if local && b.PrimaryBlock.HasFragmentation() {
		logger.Info("Received fragment for this node is stored, reassembly is unsupported")
		return
	}

	bi, err := c.store.QueryId(b.ID())
	if err != nil {
		logger.WithError(err).Warn("Fetching stored bundle errored")
		return
	}

	bi.Pending = true
	if bi.Properties == nil {
		bi.Properties = make(map[string]string)
	}
	if !prev.IsNone() {
		bi.Properties[propertySentTo] = prev.String()
	}

	if err := c.store.Update(bi); err != nil {
		logger.WithError(err).Warn("Updating stored bundle errored")
		return
	}

	c.process(bi)
}

// process a pending BundleItem by delivering or forwarding it.
func (c *Core) process(bi storage.BundleItem) {
	b, err := c.store.Load(bi)
	if err != nil {
		log.WithError(err).WithField("bundle", bi.Id).Warn("Loading bundle from store errored")
		return
	}

	if b.IsLifetimeExceeded(time.Now()) {
		c.deleteBundle(b, bpv7.LifetimeExpired)
		return
	}

	if c.HasEndpoint(b.PrimaryBlock.Destination) {
		c.localDelivery(b)
	} else {
		c.forward(bi, b)
	}
}

// deleteBundle from the store, informing its report-to endpoint if requested.
func (c *Core) deleteBundle(b bpv7.Bundle, reason bpv7.StatusReportReason) {
	log.WithFields(log.Fields{
		"bundle": b.ID(),
		"reason": reason,
	}).Info("Deleting bundle")

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) {
		c.SendStatusReport(b, bpv7.DeletedBundle, reason)
	}

	if err := c.store.Delete(b.ID()); err != nil {
		log.WithError(err).WithField("bundle", b.ID()).Warn("Deleting bundle errored")
	}
}

// localDelivery passes a bundle to its ApplicationAgent. Without a registered
// agent, the bundle stays pending.
func (c *Core) localDelivery(b bpv7.Bundle) {
	logger := log.WithField("bundle", b.ID())

	if err := c.agentManager.Deliver(b); err != nil {
		logger.WithError(err).Info("No local agent for bundle, keeping it pending")
		return
	}

	logger.Info("Delivered bundle to a local agent")

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDelivery) {
		c.SendStatusReport(b, bpv7.DeliveredBundle, bpv7.NoInformation)
	}

	if err := c.store.Delete(b.ID()); err != nil {
		logger.WithError(err).Warn("Deleting delivered bundle errored")
	}
}

// peerKey identifies a ConvergenceSender's peer for the sent property.
func peerKey(cs cla.ConvergenceSender) string {
	if peer := cs.GetPeerEndpointID(); !peer.IsNone() {
		return peer.String()
	}
	return cs.Address()
}

// forward a stored bundle to other nodes. A direct delivery to the
// destination's node finishes the bundle; otherwise each peer without this
// bundle receives a copy.
func (c *Core) forward(bi storage.BundleItem, b bpv7.Bundle) {
	logger := log.WithField("bundle", b.ID())

	sentTo := strings.Fields(bi.Properties[propertySentTo])
	knows := func(key string) bool {
		for _, s := range sentTo {
			if s == key {
				return true
			}
		}
		return false
	}

	direct := true
	nodes := c.senderForDestination(b.PrimaryBlock.Destination)
	if nodes == nil {
		direct = false
		for _, cs := range c.claManager.Sender() {
			if !knows(peerKey(cs)) {
				nodes = append(nodes, cs)
			}
		}
	}

	if len(nodes) == 0 {
		logger.Debug("No new peer to forward the bundle to")
		return
	}

	if !b.HasExtensionBlock(bpv7.ExtBlockTypePreviousNodeBlock) {
		if err := b.AddExtensionBlock(bpv7.NewCanonicalBlock(0, 0, bpv7.NewPreviousNodeBlock(c.NodeId))); err != nil {
			logger.WithError(err).Warn("Attaching Previous Node Block errored")
		}
	}

	if _, err := c.pipeline.PrepareForTransmission(&b, bi.Residence(time.Now())); err != nil {
		c.rejected(b, err)
		return
	}

	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
		sent  []string
	)

	wg.Add(len(nodes))
	for _, node := range nodes {
		go func(node cla.ConvergenceSender) {
			defer wg.Done()

			nodeLogger := logger.WithField("cla", node.Address())
			nodeLogger.Info("Sending bundle to a CLA (ConvergenceSender)")

			if err := node.Send(&b); err != nil {
				nodeLogger.WithError(err).Warn("Sending bundle failed")
				return
			}

			nodeLogger.Debug("Sending bundle succeeded")

			mutex.Lock()
			sent = append(sent, peerKey(node))
			mutex.Unlock()
		}(node)
	}
	wg.Wait()

	if len(sent) == 0 {
		logger.Info("Failed to forward bundle to any CLA")
		return
	}

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestForward) {
		c.SendStatusReport(b, bpv7.ForwardedBundle, bpv7.NoInformation)
	}

	if direct {
		logger.Info("Bundle was delivered to its destination's node")
		if err := c.store.Delete(b.ID()); err != nil {
			logger.WithError(err).Warn("Deleting forwarded bundle errored")
		}
		return
	}

	if bi.Properties == nil {
		bi.Properties = make(map[string]string)
	}
	bi.Properties[propertySentTo] = strings.Join(append(sentTo, sent...), " ")
	if err := c.store.Update(bi); err != nil {
		logger.WithError(err).Warn("Updating forwarded bundle errored")
	}
}

// inspectAdministrativeRecord handles administrative records addressed to this node.
// A delivery report removes the referenced bundle from the store.
func (c *Core) inspectAdministrativeRecord(b bpv7.Bundle) {
	logger := log.WithField("bundle", b.ID())

	ar, err := b.AdministrativeRecord(c.reg)
	if err != nil {
		logger.WithError(err).Warn("Bundle with an administrative record could not be parsed")
		return
	}

	sr, ok := ar.(*bpv7.StatusReport)
	if !ok {
		logger.WithField("type_code", ar.RecordTypeCode()).Warn("Administrative record is not a status report")
		return
	}

	logger.WithField("status_rep", sr).Info("Received status report")

	for _, sip := range sr.StatusInformations() {
		if sip != bpv7.DeliveredBundle || !c.store.KnowsBundle(sr.RefBundle) {
			continue
		}

		logger.WithField("status_bundle", sr.RefBundle).Info("Referenced bundle was delivered, removing it from store")
		if err := c.store.Delete(sr.RefBundle); err != nil {
			logger.WithError(err).Warn("Deleting delivered bundle errored")
		}
	}
}
