// SPDX-FileCopyrightText: 2018, 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"

	"github.com/howeyc/crc16"

	"github.com/dtn7/bpstream/pkg/cbor"
)

// CRCType indicates which CRC type is used, RFC 9171 section 4.2.1.
type CRCType uint64

const (
	CRCNo CRCType = 0
	CRC16 CRCType = 1
	CRC32 CRCType = 2
)

var (
	crc16table = crc16.MakeTable(crc16.CCITT)
	crc32table = crc32.MakeTable(crc32.Castagnoli)
)

func (c CRCType) String() string {
	switch c {
	case CRCNo:
		return "no"
	case CRC16:
		return "16"
	case CRC32:
		return "32"
	default:
		return "unknown"
	}
}

// Size of this CRC type's value in bytes.
func (c CRCType) Size() int {
	switch c {
	case CRC16:
		return 2
	case CRC32:
		return 4
	default:
		return 0
	}
}

// CheckValid rejects unknown CRC types.
func (c CRCType) CheckValid() error {
	if c > CRC32 {
		return fmt.Errorf("unknown CRC type %d", c)
	}
	return nil
}

func (c CRCType) newHash() hash.Hash {
	switch c {
	case CRC16:
		return crc16.New(crc16table)
	case CRC32:
		return crc32.New(crc32table)
	default:
		panic(fmt.Sprintf("no hash for CRC type %v", c))
	}
}

// withCRC appends a CRC of the given type to a block's encoding. The block's
// array header must already account for the CRC field.
func withCRC(body cbor.Encoder, crcType CRCType) cbor.Encoder {
	if crcType == CRCNo {
		return body
	}
	return cbor.WithDigest(body, crcType.Size(), crcType.newHash)
}

// crcRecorder receives a block's bytes while it is parsed. Bytes are held
// back until the block's CRC type is known, afterwards they are hashed
// directly or discarded.
type crcRecorder struct {
	pending []byte
	h       hash.Hash
	off     bool
}

func (r *crcRecorder) Write(p []byte) (int, error) {
	switch {
	case r.off:
	case r.h != nil:
		_, _ = r.h.Write(p)
	default:
		r.pending = append(r.pending, p...)
	}
	return len(p), nil
}

// start hashing for the CRC type read from the block.
func (r *crcRecorder) start(crcType CRCType) {
	if crcType == CRCNo {
		r.off = true
		r.pending = nil
		return
	}

	r.h = crcType.newHash()
	_, _ = r.h.Write(r.pending)
	r.pending = nil
}

// matches checks a received CRC value against the recorded bytes.
func (r *crcRecorder) matches(crcType CRCType, value []byte) bool {
	if r.h == nil || len(value) != crcType.Size() {
		return false
	}

	_, _ = r.h.Write(cbor.DigestPlaceholder(crcType.Size()))
	return bytes.Equal(r.h.Sum(nil), value)
}
