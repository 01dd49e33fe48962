// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"time"
)

// Hook is a point in a bundle's life at which its blocks are processed.
type Hook int

const (
	// HookDeserialized runs directly after a bundle was parsed.
	HookDeserialized Hook = iota

	// HookReceptionProcessing runs when a received bundle is accepted by this node.
	HookReceptionProcessing

	// HookPutOnStorage runs before a bundle is written to the store.
	HookPutOnStorage

	// HookPullFromStorage runs after a bundle was read from the store.
	HookPullFromStorage

	// HookPrepareForTransmission runs before a bundle is handed to a convergence layer.
	HookPrepareForTransmission
)

func (h Hook) String() string {
	switch h {
	case HookDeserialized:
		return "deserialized"
	case HookReceptionProcessing:
		return "reception_processing"
	case HookPutOnStorage:
		return "put_on_storage"
	case HookPullFromStorage:
		return "pull_from_storage"
	case HookPrepareForTransmission:
		return "prepare_for_transmission"
	default:
		return fmt.Sprintf("hook(%d)", int(h))
	}
}

// ProcessingContext is passed to each BlockProcessor call.
type ProcessingContext struct {
	Registry *Registry

	// NodeID of the processing node.
	NodeID EndpointID

	// Now is the processing time.
	Now time.Time

	// Residence is the time the bundle has spent at this node, known before transmission.
	Residence time.Duration
}

// BlockProcessor handles one block type at the hooks of a bundle's life. Each
// method may modify the bundle and its block. Returning true for reprocess
// requests another visit of this block at the same hook. A returned error
// rejects the whole bundle.
type BlockProcessor interface {
	Deserialized(ctx *ProcessingContext, b *Bundle, cb *CanonicalBlock) (reprocess bool, err error)
	ReceptionProcessing(ctx *ProcessingContext, b *Bundle, cb *CanonicalBlock) (reprocess bool, err error)
	PutOnStorage(ctx *ProcessingContext, b *Bundle, cb *CanonicalBlock) (reprocess bool, err error)
	PullFromStorage(ctx *ProcessingContext, b *Bundle, cb *CanonicalBlock) (reprocess bool, err error)
	PrepareForTransmission(ctx *ProcessingContext, b *Bundle, cb *CanonicalBlock) (reprocess bool, err error)
}

// RunHook calls the BlockProcessor's method for a Hook.
func RunHook(p BlockProcessor, hook Hook, ctx *ProcessingContext, b *Bundle, cb *CanonicalBlock) (bool, error) {
	switch hook {
	case HookDeserialized:
		return p.Deserialized(ctx, b, cb)
	case HookReceptionProcessing:
		return p.ReceptionProcessing(ctx, b, cb)
	case HookPutOnStorage:
		return p.PutOnStorage(ctx, b, cb)
	case HookPullFromStorage:
		return p.PullFromStorage(ctx, b, cb)
	case HookPrepareForTransmission:
		return p.PrepareForTransmission(ctx, b, cb)
	default:
		return false, fmt.Errorf("unknown hook %v", hook)
	}
}

// NopProcessor accepts a block at every hook. It can be embedded to
// implement only some hooks.
type NopProcessor struct{}

func (NopProcessor) Deserialized(*ProcessingContext, *Bundle, *CanonicalBlock) (bool, error) {
	return false, nil
}

func (NopProcessor) ReceptionProcessing(*ProcessingContext, *Bundle, *CanonicalBlock) (bool, error) {
	return false, nil
}

func (NopProcessor) PutOnStorage(*ProcessingContext, *Bundle, *CanonicalBlock) (bool, error) {
	return false, nil
}

func (NopProcessor) PullFromStorage(*ProcessingContext, *Bundle, *CanonicalBlock) (bool, error) {
	return false, nil
}

func (NopProcessor) PrepareForTransmission(*ProcessingContext, *Bundle, *CanonicalBlock) (bool, error) {
	return false, nil
}
