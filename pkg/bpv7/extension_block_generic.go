// SPDX-FileCopyrightText: 2019, 2020, 2022, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// GenericExtensionBlock covers for unknown or unregistered ExtensionBlocks.
// Its data is kept as received and written back unchanged.
type GenericExtensionBlock struct {
	TypeCode uint64
	Data     []byte
}

// NewGenericExtensionBlock creates a new GenericExtensionBlock from some payload and a block type code.
func NewGenericExtensionBlock(data []byte, typeCode uint64) *GenericExtensionBlock {
	return &GenericExtensionBlock{
		TypeCode: typeCode,
		Data:     data,
	}
}

func decodeGenericExtensionBlock(typeCode uint64, n uint64) parser.State {
	return parser.Buffer("generic block", int(n), func(data []byte) (parser.State, error) {
		return parser.Done(NewGenericExtensionBlock(data, typeCode)), nil
	})
}

// CheckValid accepts everything, as nothing is known about this block.
func (geb *GenericExtensionBlock) CheckValid() error {
	return nil
}

// BlockTypeCode is the received block type code.
func (geb *GenericExtensionBlock) BlockTypeCode() uint64 {
	return geb.TypeCode
}

func (geb *GenericExtensionBlock) BlockTypeName() string {
	return "N/A"
}

// Body writes the received data.
func (geb *GenericExtensionBlock) Body() cbor.Encoder {
	return cbor.Raw(geb.Data)
}

func (geb *GenericExtensionBlock) rawData() []byte {
	return geb.Data
}

// MarshalJSON writes the data as a base64 string.
func (geb *GenericExtensionBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(geb.Data)
}
