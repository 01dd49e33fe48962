// SPDX-FileCopyrightText: 2019, 2020, 2022, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// PreviousNodeBlock names the node that forwarded a bundle to us.
type PreviousNodeBlock EndpointID

func (pnb *PreviousNodeBlock) BlockTypeCode() uint64 {
	return ExtBlockTypePreviousNodeBlock
}

func (pnb *PreviousNodeBlock) BlockTypeName() string {
	return "Previous Node Block"
}

func NewPreviousNodeBlock(prev EndpointID) *PreviousNodeBlock {
	return (*PreviousNodeBlock)(&prev)
}

func (pnb *PreviousNodeBlock) Endpoint() EndpointID {
	return EndpointID(*pnb)
}

// Body is the encoded endpoint.
func (pnb *PreviousNodeBlock) Body() cbor.Encoder {
	return pnb.Endpoint().encoder()
}

type previousNodeAcc struct {
	reg *Registry
	eid EndpointID
}

var previousNodeChain = cbor.NewChain[previousNodeAcc]("previous node").
	Sub("endpoint",
		func(a *previousNodeAcc) parser.State { return a.reg.endpointDecoder() },
		func(a *previousNodeAcc, v any) error { a.eid = v.(EndpointID); return nil })

var decodePreviousNodeBlock = bodyDecoder(previousNodeChain,
	func(reg *Registry) *previousNodeAcc { return &previousNodeAcc{reg: reg} },
	func(a *previousNodeAcc) (ExtensionBlock, error) { return NewPreviousNodeBlock(a.eid), nil })

// MarshalJSON renders the endpoint as its URI.
func (pnb *PreviousNodeBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(pnb.Endpoint())
}

// CheckValid checks the carried endpoint.
func (pnb *PreviousNodeBlock) CheckValid() error {
	return EndpointID(*pnb).CheckValid()
}

// previousNodeProcessor replaces the previous node by this node before a
// bundle is forwarded.
type previousNodeProcessor struct {
	NopProcessor
}

func (previousNodeProcessor) PrepareForTransmission(ctx *ProcessingContext, _ *Bundle, cb *CanonicalBlock) (bool, error) {
	if ctx.NodeID.IsNone() {
		return false, nil
	}

	*cb.Value.(*PreviousNodeBlock) = PreviousNodeBlock(ctx.NodeID)
	return false, nil
}
