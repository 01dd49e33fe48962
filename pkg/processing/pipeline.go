// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package processing drives a bundle's canonical blocks through their
// processors at the hooks of the bundle's life, e.g., on reception or
// before transmission.
package processing

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// DefaultMaxPasses bounds the passes over a bundle's blocks per hook.
const DefaultMaxPasses = 16

// StatusReportRequest is recorded for an unprocessed block with the
// StatusReportBlock control flag.
type StatusReportRequest struct {
	BlockNumber uint64
	BlockType   uint64
	Reason      bpv7.StatusReportReason
}

// Result of one hook's processing.
type Result struct {
	// Passes over the blocks until no processor requested another one.
	Passes int

	// RemovedBlocks lists unprocessed or corrupted blocks removed due to their
	// RemoveBlock flag.
	RemovedBlocks []uint64

	// Unprocessed lists blocks which are forwarded without being processed.
	Unprocessed []uint64

	StatusReports []StatusReportRequest
}

// Pipeline runs the registered BlockProcessors of a Registry. A Pipeline
// does not hold any per-bundle state and can be used concurrently.
type Pipeline struct {
	reg       *bpv7.Registry
	nodeID    bpv7.EndpointID
	maxPasses int
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNodeID sets the local node, e.g., written into Previous Node Blocks.
func WithNodeID(nodeID bpv7.EndpointID) Option {
	return func(p *Pipeline) {
		p.nodeID = nodeID
	}
}

// WithMaxPasses overrides DefaultMaxPasses.
func WithMaxPasses(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPasses = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline for the processors of a Registry.
func NewPipeline(reg *bpv7.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		reg:       reg,
		maxPasses: DefaultMaxPasses,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry used by this Pipeline.
func (p *Pipeline) Registry() *bpv7.Registry {
	return p.reg
}

// Deserialized runs HookDeserialized.
func (p *Pipeline) Deserialized(b *bpv7.Bundle) (Result, error) {
	return p.Run(bpv7.HookDeserialized, b, 0)
}

// ReceptionProcessing checks a received bundle's CRCs, validity and lifetime
// before running HookReceptionProcessing.
//
// A failed CRC of the primary block rejects the bundle. A canonical block with
// a failed CRC is removed if its RemoveBlock flag is set, otherwise the bundle
// is rejected.
func (p *Pipeline) ReceptionProcessing(b *bpv7.Bundle) (Result, error) {
	removed, err := p.dropCorrupted(b)
	if err != nil {
		return Result{}, err
	}

	if err := b.CheckValid(); err != nil {
		return Result{}, &RejectedError{
			Hook:   bpv7.HookReceptionProcessing,
			Reason: bpv7.BlockUnintelligible,
			Err:    err,
		}
	}

	if b.IsLifetimeExceeded(p.now()) {
		return Result{}, &RejectedError{
			Hook:   bpv7.HookReceptionProcessing,
			Reason: bpv7.LifetimeExpired,
			Err:    fmt.Errorf("lifetime of %d ms exceeded", b.PrimaryBlock.Lifetime),
		}
	}

	res, err := p.Run(bpv7.HookReceptionProcessing, b, 0)
	res.RemovedBlocks = append(removed, res.RemovedBlocks...)
	return res, err
}

// dropCorrupted removes canonical blocks with a failed CRC check.
func (p *Pipeline) dropCorrupted(b *bpv7.Bundle) (removed []uint64, err error) {
	if !b.PrimaryBlock.CRCValid() {
		return nil, &RejectedError{
			Hook:   bpv7.HookReceptionProcessing,
			Reason: bpv7.BlockUnintelligible,
			Err:    fmt.Errorf("primary block's CRC mismatches"),
		}
	}

	var corrupted []bpv7.CanonicalBlock
	for _, cb := range b.CanonicalBlocks {
		if !cb.CRCValid() {
			corrupted = append(corrupted, cb)
		}
	}

	for _, cb := range corrupted {
		logger := log.WithFields(log.Fields{
			"bundle": b.ID(),
			"number": cb.BlockNumber,
			"type":   cb.TypeCode(),
		})

		if cb.TypeCode() == bpv7.ExtBlockTypePayloadBlock ||
			cb.BlockControlFlags.Has(bpv7.DeleteBundle) ||
			!cb.BlockControlFlags.Has(bpv7.RemoveBlock) {
			logger.Info("Block's CRC mismatches, rejecting bundle")
			return nil, &RejectedError{
				Hook:        bpv7.HookReceptionProcessing,
				BlockNumber: cb.BlockNumber,
				Reason:      bpv7.BlockUnintelligible,
				Err:         fmt.Errorf("CRC of block %d mismatches", cb.BlockNumber),
			}
		}

		logger.Info("Block's CRC mismatches, removing block")
		b.RemoveExtensionBlockByBlockNumber(cb.BlockNumber)
		removed = append(removed, cb.BlockNumber)
	}
	return removed, nil
}

// PutOnStorage runs HookPutOnStorage.
func (p *Pipeline) PutOnStorage(b *bpv7.Bundle) (Result, error) {
	return p.Run(bpv7.HookPutOnStorage, b, 0)
}

// PullFromStorage runs HookPullFromStorage.
func (p *Pipeline) PullFromStorage(b *bpv7.Bundle) (Result, error) {
	return p.Run(bpv7.HookPullFromStorage, b, 0)
}

// PrepareForTransmission runs HookPrepareForTransmission. The residence is
// the time the bundle spent at this node.
func (p *Pipeline) PrepareForTransmission(b *bpv7.Bundle, residence time.Duration) (Result, error) {
	return p.Run(bpv7.HookPrepareForTransmission, b, residence)
}

// Run one hook until no block requests another pass.
//
// Each pass visits all blocks present at its start. If any block requests
// reprocessing, another full pass follows. Otherwise only blocks added during
// the pass are visited next. Blocks removed in the meantime are skipped.
func (p *Pipeline) Run(hook bpv7.Hook, b *bpv7.Bundle, residence time.Duration) (res Result, err error) {
	ctx := &bpv7.ProcessingContext{
		Registry:  p.reg,
		NodeID:    p.nodeID,
		Now:       p.now(),
		Residence: residence,
	}

	pending := blockNumbers(b)
	for len(pending) > 0 {
		if res.Passes == p.maxPasses {
			return res, &FixedPointError{Hook: hook, Passes: res.Passes, Pending: pending}
		}
		res.Passes++

		known := make(map[uint64]bool, len(b.CanonicalBlocks))
		for _, no := range blockNumbers(b) {
			known[no] = true
		}

		again := false
		for _, no := range pending {
			cb, lookupErr := b.BlockByNumber(no)
			if lookupErr != nil {
				continue
			}

			reprocess, visitErr := p.visit(hook, ctx, b, cb, &res)
			if visitErr != nil {
				log.WithFields(log.Fields{
					"bundle": b.ID(),
					"hook":   hook,
					"error":  visitErr,
				}).Warn("Bundle was rejected")
				return res, visitErr
			}
			again = again || reprocess
		}

		if again {
			pending = blockNumbers(b)
			continue
		}

		var added []uint64
		for _, no := range blockNumbers(b) {
			if !known[no] {
				added = append(added, no)
			}
		}
		pending = added
	}

	if res.Passes > 1 {
		log.WithFields(log.Fields{
			"bundle": b.ID(),
			"hook":   hook,
			"passes": res.Passes,
		}).Debug("Blocks were reprocessed")
	}
	return
}

// visit one block with its processor or by its control flags.
func (p *Pipeline) visit(hook bpv7.Hook, ctx *bpv7.ProcessingContext, b *bpv7.Bundle, cb *bpv7.CanonicalBlock, res *Result) (bool, error) {
	entry, err := p.reg.Block(cb.TypeCode())
	if err != nil || entry.Processor == nil {
		return false, p.unprocessed(hook, b, cb, res)
	}

	reprocess, err := bpv7.RunHook(entry.Processor, hook, ctx, b, cb)
	if err != nil {
		return false, &RejectedError{
			Hook:        hook,
			BlockNumber: cb.BlockNumber,
			Reason:      reasonFor(cb.TypeCode()),
			Err:         err,
		}
	}
	return reprocess, nil
}

// unprocessed applies the block control flags of a block without processor.
func (p *Pipeline) unprocessed(hook bpv7.Hook, b *bpv7.Bundle, cb *bpv7.CanonicalBlock, res *Result) error {
	no, typeCode, flags := cb.BlockNumber, cb.TypeCode(), cb.BlockControlFlags

	logger := log.WithFields(log.Fields{
		"bundle": b.ID(),
		"hook":   hook,
		"number": no,
		"type":   typeCode,
	})

	if flags.Has(bpv7.StatusReportBlock) && !cb.Tags.Has(bpv7.TagStatusReport) {
		logger.Info("Unprocessed block requested reporting")

		cb.Tags.Set(bpv7.TagStatusReport, true)
		res.StatusReports = append(res.StatusReports, StatusReportRequest{
			BlockNumber: no,
			BlockType:   typeCode,
			Reason:      bpv7.BlockUnsupported,
		})
	}

	switch {
	case flags.Has(bpv7.DeleteBundle):
		logger.Info("Unprocessed block requested bundle deletion")
		return &RejectedError{
			Hook:        hook,
			BlockNumber: no,
			Reason:      bpv7.BlockUnsupported,
			Err:         fmt.Errorf("block type %d cannot be processed", typeCode),
		}

	case flags.Has(bpv7.RemoveBlock):
		logger.Info("Unprocessed block requested to be removed")
		b.RemoveExtensionBlockByBlockNumber(no)
		res.RemovedBlocks = append(res.RemovedBlocks, no)

	case flags.Has(bpv7.StatusReportBlock):
		// kept, the report was requested above

	default:
		logger.Debug("Block is forwarded without being processed")
		cb.Tags.Set(bpv7.TagForwardedWithoutProcessed, true)
		if !contains(res.Unprocessed, no) {
			res.Unprocessed = append(res.Unprocessed, no)
		}
	}
	return nil
}

// reasonFor a rejection by a block's processor.
func reasonFor(typeCode uint64) bpv7.StatusReportReason {
	switch typeCode {
	case bpv7.ExtBlockTypeHopCountBlock:
		return bpv7.HopLimitExceeded
	case bpv7.ExtBlockTypeBundleAgeBlock:
		return bpv7.LifetimeExpired
	default:
		return bpv7.BlockUnintelligible
	}
}

func blockNumbers(b *bpv7.Bundle) []uint64 {
	numbers := make([]uint64, 0, len(b.CanonicalBlocks))
	for _, cb := range b.CanonicalBlocks {
		numbers = append(numbers, cb.BlockNumber)
	}
	return numbers
}

func contains(numbers []uint64, no uint64) bool {
	for _, n := range numbers {
		if n == no {
			return true
		}
	}
	return false
}
