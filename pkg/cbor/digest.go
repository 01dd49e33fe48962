// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cbor

import (
	"bytes"
	"fmt"
	"hash"

	"github.com/dtn7/cboring"
)

// DigestPlaceholder returns the encoding of a byte string of size zero
// bytes, over which a digest is computed in place of the final value.
func DigestPlaceholder(size int) []byte {
	var buf bytes.Buffer
	_ = cboring.WriteByteStringLen(uint64(size), &buf)
	buf.Write(make([]byte, size))
	return buf.Bytes()
}

// WithDigest streams body and appends a byte string of size bytes holding a
// digest. The digest is computed over the body followed by the byte string
// with a zeroed content.
func WithDigest(body Encoder, size int, newHash func() hash.Hash) Encoder {
	return func(yield func([]byte) error) error {
		h := newHash()

		err := body(func(chunk []byte) error {
			_, _ = h.Write(chunk)
			return yield(chunk)
		})
		if err != nil {
			return err
		}

		_, _ = h.Write(DigestPlaceholder(size))
		sum := h.Sum(nil)
		if len(sum) != size {
			return fmt.Errorf("digest has %d bytes, expected %d", len(sum), size)
		}
		return Bytes(sum)(yield)
	}
}
