// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/cbor"
)

// ManifestEntry lists one block of a bundle.
type ManifestEntry struct {
	BlockNumber uint64 `json:"blockNumber"`
	BlockType   uint64 `json:"blockType"`
}

// ManifestBlock lists the blocks a bundle had at its source. Its body is an
// array of [block number, block type] pairs.
type ManifestBlock struct {
	Entries []ManifestEntry
}

// NewManifestBlock with the given entries.
func NewManifestBlock(entries ...ManifestEntry) *ManifestBlock {
	return &ManifestBlock{Entries: entries}
}

// NewManifestBlockFor lists all current canonical blocks of a bundle.
func NewManifestBlockFor(b Bundle) *ManifestBlock {
	mb := NewManifestBlock()
	for _, cb := range b.CanonicalBlocks {
		mb.Entries = append(mb.Entries, ManifestEntry{BlockNumber: cb.BlockNumber, BlockType: cb.TypeCode()})
	}
	return mb
}

func (mb *ManifestBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeManifestBlock
}

func (mb *ManifestBlock) BlockTypeName() string {
	return "Manifest Block"
}

// Body is the array of entries.
func (mb *ManifestBlock) Body() cbor.Encoder {
	encs := []cbor.Encoder{cbor.Array(uint64(len(mb.Entries)))}
	for _, e := range mb.Entries {
		encs = append(encs, cbor.Array(2), cbor.UInt(e.BlockNumber), cbor.UInt(e.BlockType))
	}
	return cbor.Merge(encs...)
}

// CheckValid rejects duplicate block numbers.
func (mb *ManifestBlock) CheckValid() error {
	seen := make(map[uint64]bool, len(mb.Entries))
	for _, e := range mb.Entries {
		if seen[e.BlockNumber] {
			return fmt.Errorf("ManifestBlock: block number %d is listed twice", e.BlockNumber)
		}
		seen[e.BlockNumber] = true
	}
	return nil
}

// MarshalJSON writes the entries as a JSON array.
func (mb *ManifestBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(mb.Entries)
}

type manifestAcc struct {
	n       uint64
	entry   ManifestEntry
	entries []ManifestEntry
}

var manifestChain = cbor.NewChain[manifestAcc]("manifest").
	Array("entries", func(a *manifestAcc, n uint64) error {
		if n > cbor.MaxLength {
			return fmt.Errorf("%d entries exceed maximum", n)
		}
		a.n = n
		return nil
	}).
	Repeat(func(a *manifestAcc) uint64 { return a.n }, func(c *cbor.Chain[manifestAcc]) {
		c.Array("entry", cbor.ExactLength[manifestAcc](2)).
			UInt("block number", func(a *manifestAcc, v uint64) error { a.entry.BlockNumber = v; return nil }).
			UInt("block type", func(a *manifestAcc, v uint64) error { a.entry.BlockType = v; return nil }).
			Do(func(a *manifestAcc) error {
				a.entries = append(a.entries, a.entry)
				return nil
			})
	})

var decodeManifestBlock = bodyDecoder(manifestChain,
	func(*Registry) *manifestAcc { return new(manifestAcc) },
	func(a *manifestAcc) (ExtensionBlock, error) { return NewManifestBlock(a.entries...), nil })

// manifestProcessor reports blocks which went missing on the way.
type manifestProcessor struct {
	NopProcessor
}

func (manifestProcessor) ReceptionProcessing(_ *ProcessingContext, b *Bundle, cb *CanonicalBlock) (bool, error) {
	for _, e := range cb.Value.(*ManifestBlock).Entries {
		other, err := b.BlockByNumber(e.BlockNumber)
		if err == nil && other.TypeCode() == e.BlockType {
			continue
		}

		log.WithFields(log.Fields{
			"bundle":       b.ID(),
			"block number": e.BlockNumber,
			"block type":   e.BlockType,
		}).Warn("Block listed in Manifest Block is missing")
	}
	return false, nil
}
