// SPDX-FileCopyrightText: 2019, 2020, 2022, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// PayloadBlock carries the application data, always as block number 1.
type PayloadBlock []byte

func (pb *PayloadBlock) BlockTypeCode() uint64 {
	return ExtBlockTypePayloadBlock
}

func (pb *PayloadBlock) BlockTypeName() string {
	return "Payload Block"
}

func NewPayloadBlock(data []byte) *PayloadBlock {
	return (*PayloadBlock)(&data)
}

func (pb *PayloadBlock) Data() []byte {
	return []byte(*pb)
}

func (pb *PayloadBlock) rawData() []byte {
	return *pb
}

// Body is the payload itself. Its bytes are yielded without a copy.
func (pb *PayloadBlock) Body() cbor.Encoder {
	return cbor.Raw(*pb)
}

// MarshalJSON writes the payload base64 encoded.
func (pb *PayloadBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(pb.Data())
}

// CheckValid accepts any payload, including an empty one.
func (pb *PayloadBlock) CheckValid() error {
	return nil
}

// decodePayloadBlock collects the n payload bytes as they are.
func decodePayloadBlock(_ *Registry, n uint64) parser.State {
	return parser.Buffer("payload", int(n), func(data []byte) (parser.State, error) {
		return parser.Done(NewPayloadBlock(data)), nil
	})
}
