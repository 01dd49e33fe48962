// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// ExtensionBlock is the block-type-specific part of a CanonicalBlock, i.e.,
// the Payload Block or some Extension Block, RFC 9171 section 4.3.
type ExtensionBlock interface {
	Valid

	// BlockTypeCode must return a constant integer, indicating the block type code.
	BlockTypeCode() uint64

	// BlockTypeName must return a constant string, this block's name.
	BlockTypeName() string

	// Body encodes the block-type-specific data, without the enclosing byte string.
	Body() cbor.Encoder
}

const (
	ExtBlockTypePayloadBlock              uint64 = 1
	ExtBlockTypePreviousNodeBlock         uint64 = 6
	ExtBlockTypeBundleAgeBlock            uint64 = 7
	ExtBlockTypeHopCountBlock             uint64 = 10
	ExtBlockTypeBlockIntegrityBlock       uint64 = 11
	ExtBlockTypeBlockConfidentialityBlock uint64 = 12
	ExtBlockTypeFlowLabelBlock            uint64 = 192
	ExtBlockTypeManifestBlock             uint64 = 193
)

// bodyDecoder turns a Chain over some accumulator into a BlockEntry's Decode
// function. The accumulator is created per block by init.
func bodyDecoder[A any](c *cbor.Chain[A], init func(reg *Registry) *A, finish func(*A) (ExtensionBlock, error)) func(*Registry, uint64) parser.State {
	return func(reg *Registry, _ uint64) parser.State {
		return c.State(init(reg), func(a *A) (any, error) {
			return finish(a)
		})
	}
}
