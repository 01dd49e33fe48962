// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// BundleID is the unique identity of a bundle: its source node and creation
// timestamp and, for fragments only, the fragment offset and total data length.
//
// Encoded, these are two or four consecutive items, following IsFragment.
type BundleID struct {
	SourceNode EndpointID
	Timestamp  CreationTimestamp

	IsFragment      bool
	FragmentOffset  uint64
	TotalDataLength uint64
}

// String is "source-time-seq", extended by "-offset-length" for fragments.
func (bid BundleID) String() string {
	id := fmt.Sprintf("%v-%d-%d", bid.SourceNode, bid.Timestamp[0], bid.Timestamp[1])
	if !bid.IsFragment {
		return id
	}
	return id + fmt.Sprintf("-%d-%d", bid.FragmentOffset, bid.TotalDataLength)
}

// Len is the number of encoded fields.
func (bid BundleID) Len() uint64 {
	if bid.IsFragment {
		return 4
	}
	return 2
}

// Scrub drops the fragment part, identifying the whole original bundle.
func (bid BundleID) Scrub() BundleID {
	return BundleID{SourceNode: bid.SourceNode, Timestamp: bid.Timestamp}
}

// encoders writes the BundleID's fields, without an enclosing array.
func (bid BundleID) encoders() []cbor.Encoder {
	encs := []cbor.Encoder{bid.SourceNode.encoder(), bid.Timestamp.encoder()}
	if bid.IsFragment {
		encs = append(encs, cbor.UInt(bid.FragmentOffset), cbor.UInt(bid.TotalDataLength))
	}
	return encs
}

// bundleIDFields adds the steps decoding a BundleID's fields into the
// BundleID returned by field. Its IsFragment must be set beforehand.
func bundleIDFields[A any](c *cbor.Chain[A], reg func(*A) *Registry, field func(*A) *BundleID) {
	c.Sub("source node",
		func(a *A) parser.State { return reg(a).endpointDecoder() },
		func(a *A, v any) error { field(a).SourceNode = v.(EndpointID); return nil }).
		Array("creation timestamp", cbor.ExactLength[A](2)).
		UInt("creation time", func(a *A, v uint64) error { field(a).Timestamp[0] = v; return nil }).
		UInt("sequence number", func(a *A, v uint64) error { field(a).Timestamp[1] = v; return nil }).
		InsertIf(func(a *A) bool { return field(a).IsFragment }, func(c *cbor.Chain[A]) {
			c.UInt("fragment offset", func(a *A, v uint64) error { field(a).FragmentOffset = v; return nil }).
				UInt("total data length", func(a *A, v uint64) error { field(a).TotalDataLength = v; return nil })
		})
}
