// SPDX-FileCopyrightText: 2019, 2020, 2022, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/dtn7/bpstream/pkg/cbor"
)

// HopCountBlock limits the hops a bundle may take, RFC 9171 section 4.4.3.
type HopCountBlock struct {
	Limit uint8
	Count uint8
}

func (hcb *HopCountBlock) BlockTypeCode() uint64 { return ExtBlockTypeHopCountBlock }

func (hcb *HopCountBlock) BlockTypeName() string { return "Hop Count Block" }

// NewHopCountBlock with no hops taken yet.
func NewHopCountBlock(limit uint8) *HopCountBlock {
	return &HopCountBlock{Limit: limit}
}

// IsExceeded once more hops were counted than the limit allows.
func (hcb HopCountBlock) IsExceeded() bool {
	return hcb.Count > hcb.Limit
}

// Increment counts one hop, saturating at 255, and reports an exceeded limit.
func (hcb *HopCountBlock) Increment() bool {
	if hcb.Count != math.MaxUint8 {
		hcb.Count++
	}
	return hcb.IsExceeded()
}

// Decrement takes back one hop, never going below zero.
func (hcb *HopCountBlock) Decrement() {
	if hcb.Count != 0 {
		hcb.Count--
	}
}

// Body is the array [limit, count].
func (hcb *HopCountBlock) Body() cbor.Encoder {
	return cbor.Merge(cbor.Array(2), cbor.UInt(uint64(hcb.Limit)), cbor.UInt(uint64(hcb.Count)))
}

type hopCountAcc struct {
	limit, count uint8
}

func hopCountField(field func(*hopCountAcc) *uint8) func(*hopCountAcc, uint64) error {
	return func(a *hopCountAcc, v uint64) error {
		if v > math.MaxUint8 {
			return fmt.Errorf("hop count field %d exceeds 255", v)
		}
		*field(a) = uint8(v)
		return nil
	}
}

var hopCountChain = cbor.NewChain[hopCountAcc]("hop count").
	Array("hop count", cbor.ExactLength[hopCountAcc](2)).
	UInt("limit", hopCountField(func(a *hopCountAcc) *uint8 { return &a.limit })).
	UInt("count", hopCountField(func(a *hopCountAcc) *uint8 { return &a.count }))

var decodeHopCountBlock = bodyDecoder(hopCountChain,
	func(*Registry) *hopCountAcc { return new(hopCountAcc) },
	func(a *hopCountAcc) (ExtensionBlock, error) {
		return &HopCountBlock{Limit: a.limit, Count: a.count}, nil
	})

func (hcb *HopCountBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]uint8{"limit": hcb.Limit, "count": hcb.Count})
}

// CheckValid fails for an exceeded hop limit.
func (hcb *HopCountBlock) CheckValid() error {
	if hcb.IsExceeded() {
		return fmt.Errorf("hop count %d exceeds limit %d", hcb.Count, hcb.Limit)
	}
	return nil
}

// hopCountProcessor counts each reception as a hop.
type hopCountProcessor struct {
	NopProcessor
}

func (hopCountProcessor) ReceptionProcessing(_ *ProcessingContext, _ *Bundle, cb *CanonicalBlock) (bool, error) {
	hcb := cb.Value.(*HopCountBlock)
	if hcb.Increment() {
		return false, fmt.Errorf("hop limit %d exceeded", hcb.Limit)
	}
	return false, nil
}
