// SPDX-FileCopyrightText: 2018, 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// CanonicalBlock of a bundle, RFC 9171 section 4.3.2.
//
// The CRC itself is computed during serialization and never stored. The result of the
// CRC check of a received block is available as TagCRCCheck.
type CanonicalBlock struct {
	BlockNumber       uint64
	BlockControlFlags BlockControlFlags
	CRCType           CRCType
	Value             ExtensionBlock

	// Tags hold verdicts of the parser and the processing pipeline.
	Tags Tags
}

// NewCanonicalBlock without a CRC.
func NewCanonicalBlock(no uint64, bcf BlockControlFlags, value ExtensionBlock) CanonicalBlock {
	return CanonicalBlock{BlockNumber: no, BlockControlFlags: bcf, Value: value}
}

// TypeCode of the block's value.
func (cb CanonicalBlock) TypeCode() uint64 {
	return cb.Value.BlockTypeCode()
}

func (cb CanonicalBlock) HasCRC() bool {
	return cb.CRCType != CRCNo
}

func (cb *CanonicalBlock) SetCRCType(crcType CRCType) {
	cb.CRCType = crcType
}

// CRCValid is false only if a received CRC did not match.
func (cb CanonicalBlock) CRCValid() bool {
	return cb.Tags.crcOk()
}

// rawBody is implemented by blocks whose body is a plain byte sequence,
// which can be written without materializing it twice.
type rawBody interface {
	rawData() []byte
}

// encoder writes the block, followed by its CRC.
func (cb *CanonicalBlock) encoder(reg *Registry) cbor.Encoder {
	var blockLen uint64 = 5
	if cb.HasCRC() {
		blockLen = 6
	}

	var data cbor.Encoder
	if raw, ok := cb.Value.(rawBody); ok {
		data = cbor.Bytes(raw.rawData())
	} else if entry, err := reg.Block(cb.TypeCode()); err == nil {
		body, err := entry.encode(cb.Value)
		if err != nil {
			return func(func([]byte) error) error {
				return fmt.Errorf("block %d: %w", cb.BlockNumber, err)
			}
		}
		data = cbor.Wrapped(body)
	} else {
		data = cbor.Wrapped(cb.Value.Body())
	}

	return withCRC(cbor.Merge(
		cbor.Array(blockLen),
		cbor.UInt(cb.TypeCode()),
		cbor.UInt(cb.BlockNumber),
		cbor.UInt(uint64(cb.BlockControlFlags)),
		cbor.UInt(uint64(cb.CRCType)),
		data,
	), cb.CRCType)
}

type canonicalAcc struct {
	blockLen uint64
	typeCode uint64
	cb       CanonicalBlock
	crc      crcRecorder
}

// blockData creates the sub-program for the block-type-specific data. Block
// types unknown to the Registry result in a GenericExtensionBlock.
func (r *Registry) blockData(a *canonicalAcc, n uint64) parser.State {
	entry, err := r.Block(a.typeCode)
	if err != nil {
		return decodeGenericExtensionBlock(a.typeCode, n)
	}
	return entry.Decode(r, n)
}

func (r *Registry) newCanonicalChain() *cbor.Chain[canonicalAcc] {
	return cbor.NewChain[canonicalAcc]("canonical block").
		Tee("crc region", func(a *canonicalAcc) io.Writer { return &a.crc }, func(c *cbor.Chain[canonicalAcc]) {
			c.Array("canonical block", func(a *canonicalAcc, n uint64) error {
				if n != 5 && n != 6 {
					return fmt.Errorf("expected array with length 5 or 6, got %d", n)
				}
				a.blockLen = n
				return nil
			}).
				UInt("block type", func(a *canonicalAcc, v uint64) error { a.typeCode = v; return nil }).
				UInt("block number", func(a *canonicalAcc, v uint64) error { a.cb.BlockNumber = v; return nil }).
				UInt("block control flags", func(a *canonicalAcc, v uint64) error {
					a.cb.BlockControlFlags = BlockControlFlags(v)
					return nil
				}).
				UInt("crc type", func(a *canonicalAcc, v uint64) error {
					crcType := CRCType(v)
					if err := crcType.CheckValid(); err != nil {
						return err
					}
					if (crcType == CRCNo) != (a.blockLen == 5) {
						return fmt.Errorf("array length %d does not match CRC type %v", a.blockLen, crcType)
					}
					a.cb.CRCType = crcType
					a.crc.start(crcType)
					return nil
				}).
				Wrapped("block data", r.blockData, func(a *canonicalAcc, v any) error {
					eb, ok := v.(ExtensionBlock)
					if !ok {
						return fmt.Errorf("block type %d decoded into %T", a.typeCode, v)
					}
					if eb.BlockTypeCode() != a.typeCode {
						return fmt.Errorf("block type %d decoded into block type %d", a.typeCode, eb.BlockTypeCode())
					}
					a.cb.Value = eb
					return nil
				})
		}).
		InsertIf(func(a *canonicalAcc) bool { return a.cb.HasCRC() }, func(c *cbor.Chain[canonicalAcc]) {
			c.Bytes("crc", func(a *canonicalAcc, v []byte) error {
				a.cb.Tags.Set(TagCRCCheck, a.crc.matches(a.cb.CRCType, v))
				return nil
			})
		})
}

// canonicalDecoder creates the sub-program for a CanonicalBlock.
func (r *Registry) canonicalDecoder() parser.State {
	return r.canonicalChain.State(new(canonicalAcc), func(a *canonicalAcc) (any, error) {
		return a.cb, nil
	})
}

type canonicalJSON struct {
	BlockNumber   uint64            `json:"blockNumber"`
	BlockTypeCode uint64            `json:"blockTypeCode"`
	BlockType     string            `json:"blockType"`
	ControlFlags  BlockControlFlags `json:"blockControlFlags"`
	CRCType       string            `json:"crcType"`
	Tags          Tags              `json:"tags,omitempty"`
	Data          any               `json:"data"`
}

// MarshalJSON uses the block's own JSON form if it has one, its encoded body otherwise.
func (cb CanonicalBlock) MarshalJSON() ([]byte, error) {
	out := canonicalJSON{
		BlockNumber:   cb.BlockNumber,
		BlockTypeCode: cb.Value.BlockTypeCode(),
		BlockType:     cb.Value.BlockTypeName(),
		ControlFlags:  cb.BlockControlFlags,
		CRCType:       cb.CRCType.String(),
		Tags:          cb.Tags,
		Data:          cb.Value,
	}

	if _, ok := cb.Value.(json.Marshaler); !ok {
		body, err := cbor.Collect(cb.Value.Body())
		if err != nil {
			return nil, err
		}
		out.Data = body
	}
	return json.Marshal(out)
}

// CheckValid reports invalid flags, an invalid block body and misused block
// numbers: 1 belongs to the payload block, 0 to no block at all.
func (cb CanonicalBlock) CheckValid() error {
	if cb.Value == nil {
		return fmt.Errorf("canonical block %d has no value", cb.BlockNumber)
	}

	var errs error
	for _, err := range []error{cb.BlockControlFlags.CheckValid(), cb.CRCType.CheckValid(), cb.Value.CheckValid()} {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	isPayload := cb.TypeCode() == ExtBlockTypePayloadBlock
	switch {
	case isPayload && cb.BlockNumber != 1:
		errs = multierror.Append(errs, fmt.Errorf("payload block has block number %d instead of 1", cb.BlockNumber))
	case !isPayload && cb.BlockNumber <= 1:
		errs = multierror.Append(errs, fmt.Errorf("%s uses reserved block number %d", cb.Value.BlockTypeName(), cb.BlockNumber))
	}
	return errs
}

func (cb CanonicalBlock) String() string {
	s := fmt.Sprintf("#%d %s (type %d), control flags: %b, crc: %v, data: %v",
		cb.BlockNumber, cb.Value.BlockTypeName(), cb.Value.BlockTypeCode(), cb.BlockControlFlags, cb.CRCType, cb.Value)
	if len(cb.Tags) > 0 {
		s += fmt.Sprintf(", tags: %v", cb.Tags)
	}
	return s
}
