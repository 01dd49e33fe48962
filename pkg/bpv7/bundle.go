// SPDX-FileCopyrightText: 2018, 2019, 2020, 2022, 2023 Alvar Penning
// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Bundle is one primary block followed by its canonical blocks, RFC 9171 section 4.2.1.
//
// Parsed bundles keep their block order until they are serialized again.
type Bundle struct {
	PrimaryBlock    PrimaryBlock
	CanonicalBlocks []CanonicalBlock
}

// NewBundle assembles and validates a Bundle.
func NewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) (Bundle, error) {
	b := MustNewBundle(primary, canonicals)
	return b, b.CheckValid()
}

// MustNewBundle assembles a Bundle without validating it. Despite its name, it never panics.
func MustNewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) Bundle {
	b := Bundle{PrimaryBlock: primary, CanonicalBlocks: canonicals}
	b.orderBlocks()
	return b
}

// blocksOf collects pointers to all canonical blocks of a type code.
func (b *Bundle) blocksOf(blockType uint64) []*CanonicalBlock {
	var cbs []*CanonicalBlock
	for i := range b.CanonicalBlocks {
		if cb := b.CanonicalBlocks[i]; cb.Value != nil && cb.TypeCode() == blockType {
			cbs = append(cbs, &b.CanonicalBlocks[i])
		}
	}
	return cbs
}

// ExtensionBlocks of a type code. Finding none is an error.
func (b *Bundle) ExtensionBlocks(blockType uint64) ([]*CanonicalBlock, error) {
	cbs := b.blocksOf(blockType)
	if len(cbs) == 0 {
		return nil, fmt.Errorf("bundle %v has no block of type %d", b.ID(), blockType)
	}
	return cbs, nil
}

// ExtensionBlock of a type code, which must occur exactly once.
func (b *Bundle) ExtensionBlock(blockType uint64) (*CanonicalBlock, error) {
	switch cbs := b.blocksOf(blockType); len(cbs) {
	case 1:
		return cbs[0], nil
	case 0:
		return nil, fmt.Errorf("bundle %v has no block of type %d", b.ID(), blockType)
	default:
		return nil, fmt.Errorf("bundle %v has %d blocks of type %d", b.ID(), len(cbs), blockType)
	}
}

// HasExtensionBlock reports whether at least one block of this type code exists.
func (b *Bundle) HasExtensionBlock(blockType uint64) bool {
	for i := range b.CanonicalBlocks {
		if cb := b.CanonicalBlocks[i]; cb.Value != nil && cb.TypeCode() == blockType {
			return true
		}
	}
	return false
}

// PayloadBlock of this Bundle.
func (b *Bundle) PayloadBlock() (*CanonicalBlock, error) {
	return b.ExtensionBlock(ExtBlockTypePayloadBlock)
}

// Payload data, nil without a payload block.
func (b *Bundle) Payload() []byte {
	cb, err := b.PayloadBlock()
	if err != nil {
		return nil
	}
	if pb, ok := cb.Value.(*PayloadBlock); ok {
		return pb.Data()
	}
	return nil
}

// orderBlocks sorts constructed bundles ascending by block number while
// keeping the payload block, number 1, at the end.
func (b *Bundle) orderBlocks() {
	cbs := b.CanonicalBlocks
	sort.SliceStable(cbs, func(i, j int) bool {
		ni, nj := cbs[i].BlockNumber, cbs[j].BlockNumber
		switch {
		case ni == 1:
			return false
		case nj == 1:
			return true
		default:
			return ni < nj
		}
	})
}

// nextBlockNumber is the lowest free number starting at 2. The payload block always gets 1.
func (b *Bundle) nextBlockNumber(payload bool) (uint64, error) {
	used := make(map[uint64]struct{}, len(b.CanonicalBlocks))
	for _, cb := range b.CanonicalBlocks {
		used[cb.BlockNumber] = struct{}{}
	}

	if payload {
		if _, ok := used[1]; ok {
			return 0, fmt.Errorf("bundle %v already has a payload block", b.ID())
		}
		return 1, nil
	}

	n := uint64(2)
	for {
		if _, ok := used[n]; !ok {
			return n, nil
		}
		n++
	}
}

// AddExtensionBlock inserts a block in front of a trailing payload block,
// overwriting its block number. The other blocks keep their order.
//
// The block list is copied, so pointers to blocks from before, e.g., by
// BlockByNumber, keep referring to the old list.
func (b *Bundle) AddExtensionBlock(block CanonicalBlock) error {
	if block.Value == nil {
		return fmt.Errorf("canonical block without a value")
	}

	n, err := b.nextBlockNumber(block.TypeCode() == ExtBlockTypePayloadBlock)
	if err != nil {
		return err
	}
	block.BlockNumber = n

	at := len(b.CanonicalBlocks)
	if at > 0 && b.CanonicalBlocks[at-1].BlockNumber == 1 {
		at--
	}

	cbs := make([]CanonicalBlock, 0, len(b.CanonicalBlocks)+1)
	cbs = append(cbs, b.CanonicalBlocks[:at]...)
	cbs = append(cbs, block)
	b.CanonicalBlocks = append(cbs, b.CanonicalBlocks[at:]...)
	return nil
}

func (b *Bundle) indexOf(blockNumber uint64) int {
	for i := range b.CanonicalBlocks {
		if b.CanonicalBlocks[i].BlockNumber == blockNumber {
			return i
		}
	}
	return -1
}

// BlockByNumber looks up a canonical block by its block number.
func (b *Bundle) BlockByNumber(blockNumber uint64) (*CanonicalBlock, error) {
	if i := b.indexOf(blockNumber); i >= 0 {
		return &b.CanonicalBlocks[i], nil
	}
	return nil, fmt.Errorf("bundle %v has no block number %d", b.ID(), blockNumber)
}

// RemoveExtensionBlockByBlockNumber drops the block with this number, if any.
func (b *Bundle) RemoveExtensionBlockByBlockNumber(blockNumber uint64) {
	if i := b.indexOf(blockNumber); i >= 0 {
		b.CanonicalBlocks = append(b.CanonicalBlocks[:i], b.CanonicalBlocks[i+1:]...)
	}
}

// SetCRCType of the primary and every canonical block.
func (b *Bundle) SetCRCType(crcType CRCType) {
	b.PrimaryBlock.SetCRCType(crcType)
	for i := range b.CanonicalBlocks {
		b.CanonicalBlocks[i].SetCRCType(crcType)
	}
}

// CRCValid is false if any received block's CRC did not match.
func (b Bundle) CRCValid() bool {
	valid := b.PrimaryBlock.CRCValid()
	for i := 0; valid && i < len(b.CanonicalBlocks); i++ {
		valid = b.CanonicalBlocks[i].CRCValid()
	}
	return valid
}

// ID identifies this Bundle by its source, creation timestamp and fragment position.
func (b Bundle) ID() BundleID {
	pb := b.PrimaryBlock
	return BundleID{
		SourceNode:      pb.SourceNode,
		Timestamp:       pb.CreationTimestamp,
		IsFragment:      pb.BundleControlFlags.Has(IsFragment),
		FragmentOffset:  pb.FragmentOffset,
		TotalDataLength: pb.TotalDataLength,
	}
}

func (b Bundle) String() string {
	return b.ID().String()
}

// IsLifetimeExceeded at now. Without a creation time, the Bundle Age Block is
// compared against the lifetime; a missing age block counts as expired.
func (b Bundle) IsLifetimeExceeded(now time.Time) bool {
	if !b.PrimaryBlock.CreationTimestamp.IsZeroTime() {
		return now.After(b.PrimaryBlock.ExpirationTime())
	}

	cb, err := b.ExtensionBlock(ExtBlockTypeBundleAgeBlock)
	if err != nil {
		return true
	}
	age, ok := cb.Value.(*BundleAgeBlock)
	return !ok || age.Age() > b.PrimaryBlock.Lifetime
}

// IsAdministrativeRecord is set when the payload carries an administrative record.
func (b Bundle) IsAdministrativeRecord() bool {
	return b.PrimaryBlock.BundleControlFlags.Has(AdministrativeRecordPayload)
}

// singletonBlockTypes may occur at most once per Bundle.
var singletonBlockTypes = map[uint64]bool{
	ExtBlockTypePayloadBlock:      true,
	ExtBlockTypePreviousNodeBlock: true,
	ExtBlockTypeBundleAgeBlock:    true,
	ExtBlockTypeHopCountBlock:     true,
}

// CheckValid collects every structural problem of this Bundle. An exceeded
// lifetime is not one of them, see IsLifetimeExceeded.
func (b Bundle) CheckValid() error {
	var errs error
	appendErr := func(err error) {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	appendErr(b.PrimaryBlock.CheckValid())

	if len(b.CanonicalBlocks) == 0 {
		appendErr(fmt.Errorf("bundle has no canonical blocks"))
		return errs
	}

	noReports := b.IsAdministrativeRecord() || b.PrimaryBlock.SourceNode.IsNone()
	numbers := make(map[uint64]struct{}, len(b.CanonicalBlocks))
	types := make(map[uint64]int)

	for _, cb := range b.CanonicalBlocks {
		appendErr(cb.CheckValid())

		if noReports && cb.BlockControlFlags.Has(StatusReportBlock) {
			appendErr(fmt.Errorf("block %d requests status reports, but the bundle is "+
				"an administrative record or anonymous", cb.BlockNumber))
		}

		if _, dup := numbers[cb.BlockNumber]; dup {
			appendErr(fmt.Errorf("block number %d occurs multiple times", cb.BlockNumber))
		}
		numbers[cb.BlockNumber] = struct{}{}

		if cb.Value != nil {
			types[cb.TypeCode()]++
		}
	}

	for blockType, n := range types {
		if n > 1 && singletonBlockTypes[blockType] {
			appendErr(fmt.Errorf("%d blocks of type %d, at most one is allowed", n, blockType))
		}
	}

	if last := b.CanonicalBlocks[len(b.CanonicalBlocks)-1]; last.Value == nil || last.TypeCode() != ExtBlockTypePayloadBlock {
		appendErr(fmt.Errorf("last canonical block is not the payload block"))
	}

	if b.PrimaryBlock.CreationTimestamp.IsZeroTime() && types[ExtBlockTypeBundleAgeBlock] == 0 {
		appendErr(fmt.Errorf("creation timestamp is zero, but there is no bundle age block"))
	}

	return errs
}

// MarshalJSON renders the primary block and the canonical blocks in their order.
func (b Bundle) MarshalJSON() ([]byte, error) {
	type bundleJSON struct {
		PrimaryBlock    PrimaryBlock     `json:"primaryBlock"`
		CanonicalBlocks []CanonicalBlock `json:"canonicalBlocks"`
	}
	return json.Marshal(bundleJSON{b.PrimaryBlock, b.CanonicalBlocks})
}
