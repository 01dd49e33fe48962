// SPDX-FileCopyrightText: 2018, 2019, 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

const dtnVersion uint64 = 7

// PrimaryBlock of a bundle, RFC 9171 section 4.3.1.
type PrimaryBlock struct {
	Version            uint64
	BundleControlFlags BundleControlFlags
	CRCType            CRCType
	Destination        EndpointID
	SourceNode         EndpointID
	ReportTo           EndpointID
	CreationTimestamp  CreationTimestamp
	Lifetime           uint64
	FragmentOffset     uint64
	TotalDataLength    uint64

	// Tags hold the parser's verdicts, i.e., the CRC check.
	Tags Tags
}

// NewPrimaryBlock for an unfragmented bundle with a CRC32 and the source as
// report-to endpoint. The lifetime is given in milliseconds.
func NewPrimaryBlock(bundleControlFlags BundleControlFlags, destination EndpointID, sourceNode EndpointID, creationTimestamp CreationTimestamp, lifetime uint64) PrimaryBlock {
	pb := PrimaryBlock{Version: dtnVersion, CRCType: CRC32, Lifetime: lifetime}
	pb.BundleControlFlags = bundleControlFlags
	pb.Destination, pb.SourceNode, pb.ReportTo = destination, sourceNode, sourceNode
	pb.CreationTimestamp = creationTimestamp
	return pb
}

// HasFragmentation is set for fragments, which carry an offset and the total length.
func (pb PrimaryBlock) HasFragmentation() bool {
	return pb.BundleControlFlags.Has(IsFragment)
}

// HasCRC unless the CRC type is CRCNo.
func (pb PrimaryBlock) HasCRC() bool {
	return pb.CRCType != CRCNo
}

func (pb *PrimaryBlock) SetCRCType(crcType CRCType) {
	pb.CRCType = crcType
}

// CRCValid is false only if a received CRC did not match.
func (pb PrimaryBlock) CRCValid() bool {
	return pb.Tags.crcOk()
}

// ExpirationTime of a bundle, based on its creation time and lifetime. For a
// bundle without an accurate creation time, the zero time is returned.
func (pb PrimaryBlock) ExpirationTime() time.Time {
	if pb.CreationTimestamp.IsZeroTime() {
		return time.Time{}
	}
	return pb.CreationTimestamp.DtnTime().Time().Add(time.Duration(pb.Lifetime) * time.Millisecond)
}

func (pb PrimaryBlock) blockLen() uint64 {
	var blockLen uint64 = 8
	if pb.HasCRC() {
		blockLen++
	}
	if pb.HasFragmentation() {
		blockLen += 2
	}
	return blockLen
}

// encoder writes the block, followed by its CRC.
func (pb *PrimaryBlock) encoder() cbor.Encoder {
	encs := []cbor.Encoder{
		cbor.Array(pb.blockLen()),
		cbor.UInt(pb.Version),
		cbor.UInt(uint64(pb.BundleControlFlags)),
		cbor.UInt(uint64(pb.CRCType)),
		pb.Destination.encoder(),
		pb.SourceNode.encoder(),
		pb.ReportTo.encoder(),
		pb.CreationTimestamp.encoder(),
		cbor.UInt(pb.Lifetime),
	}

	if pb.HasFragmentation() {
		encs = append(encs, cbor.UInt(pb.FragmentOffset), cbor.UInt(pb.TotalDataLength))
	}

	return withCRC(cbor.Merge(encs...), pb.CRCType)
}

type primaryAcc struct {
	blockLen uint64
	pb       PrimaryBlock
	crc      crcRecorder
}

func (r *Registry) newPrimaryChain() *cbor.Chain[primaryAcc] {
	endpoint := func(name string, field func(*PrimaryBlock) *EndpointID) func(*cbor.Chain[primaryAcc]) {
		return func(c *cbor.Chain[primaryAcc]) {
			cbor.Custom[primaryAcc, EndpointID](c, name, r.endpointDecoder, func(a *primaryAcc, eid EndpointID) error {
				*field(&a.pb) = eid
				return nil
			})
		}
	}

	return cbor.NewChain[primaryAcc]("primary block").
		Tee("crc region", func(a *primaryAcc) io.Writer { return &a.crc }, func(c *cbor.Chain[primaryAcc]) {
			c.Array("primary block", func(a *primaryAcc, n uint64) error {
				if n < 8 || n > 11 {
					return fmt.Errorf("expected array with length 8-11, got %d", n)
				}
				a.blockLen = n
				return nil
			}).
				UInt("version", func(a *primaryAcc, v uint64) error {
					if v != dtnVersion {
						return fmt.Errorf("expected version %d, got %d", dtnVersion, v)
					}
					a.pb.Version = v
					return nil
				}).
				UInt("bundle control flags", func(a *primaryAcc, v uint64) error {
					a.pb.BundleControlFlags = BundleControlFlags(v)
					return nil
				}).
				UInt("crc type", func(a *primaryAcc, v uint64) error {
					crcType := CRCType(v)
					if err := crcType.CheckValid(); err != nil {
						return err
					}
					a.pb.CRCType = crcType
					if a.pb.blockLen() != a.blockLen {
						return fmt.Errorf("array length %d does not match CRC type %v and control flags %v",
							a.blockLen, crcType, a.pb.BundleControlFlags)
					}
					a.crc.start(crcType)
					return nil
				})

			endpoint("destination", func(pb *PrimaryBlock) *EndpointID { return &pb.Destination })(c)
			endpoint("source node", func(pb *PrimaryBlock) *EndpointID { return &pb.SourceNode })(c)
			endpoint("report to", func(pb *PrimaryBlock) *EndpointID { return &pb.ReportTo })(c)

			c.Array("creation timestamp", cbor.ExactLength[primaryAcc](2)).
				UInt("creation time", func(a *primaryAcc, v uint64) error { a.pb.CreationTimestamp[0] = v; return nil }).
				UInt("sequence number", func(a *primaryAcc, v uint64) error { a.pb.CreationTimestamp[1] = v; return nil }).
				UInt("lifetime", func(a *primaryAcc, v uint64) error { a.pb.Lifetime = v; return nil }).
				InsertIf(func(a *primaryAcc) bool { return a.pb.HasFragmentation() }, func(c *cbor.Chain[primaryAcc]) {
					c.UInt("fragment offset", func(a *primaryAcc, v uint64) error { a.pb.FragmentOffset = v; return nil }).
						UInt("total data length", func(a *primaryAcc, v uint64) error { a.pb.TotalDataLength = v; return nil })
				})
		}).
		InsertIf(func(a *primaryAcc) bool { return a.pb.HasCRC() }, func(c *cbor.Chain[primaryAcc]) {
			c.Bytes("crc", func(a *primaryAcc, v []byte) error {
				a.pb.Tags.Set(TagCRCCheck, a.crc.matches(a.pb.CRCType, v))
				return nil
			})
		})
}

// primaryDecoder creates the sub-program for a PrimaryBlock.
func (r *Registry) primaryDecoder() parser.State {
	return r.primaryChain.State(new(primaryAcc), func(a *primaryAcc) (any, error) {
		return a.pb, nil
	})
}

type primaryJSON struct {
	ControlFlags      BundleControlFlags `json:"bundleControlFlags"`
	CRCType           string             `json:"crcType"`
	Destination       string             `json:"destination"`
	Source            string             `json:"source"`
	ReportTo          string             `json:"reportTo"`
	CreationTimestamp CreationTimestamp  `json:"creationTimestamp"`
	Lifetime          uint64             `json:"lifetime"`
	Fragment          []uint64           `json:"fragment,omitempty"`
	Tags              Tags               `json:"tags,omitempty"`
}

func (pb PrimaryBlock) MarshalJSON() ([]byte, error) {
	out := primaryJSON{
		ControlFlags:      pb.BundleControlFlags,
		CRCType:           pb.CRCType.String(),
		Destination:       pb.Destination.String(),
		Source:            pb.SourceNode.String(),
		ReportTo:          pb.ReportTo.String(),
		CreationTimestamp: pb.CreationTimestamp,
		Lifetime:          pb.Lifetime,
		Tags:              pb.Tags,
	}
	if pb.HasFragmentation() {
		out.Fragment = []uint64{pb.FragmentOffset, pb.TotalDataLength}
	}
	return json.Marshal(out)
}

// CheckValid reports every invalid field. An anonymous bundle, with a dtn:none
// source, must be unfragmentable and must not request status reports.
func (pb PrimaryBlock) CheckValid() error {
	var errs error
	if pb.Version != dtnVersion {
		errs = multierror.Append(errs, fmt.Errorf("primary block: version %d, expected %d", pb.Version, dtnVersion))
	}

	for _, check := range []interface{ CheckValid() error }{
		pb.BundleControlFlags, pb.CRCType, pb.Destination, pb.SourceNode, pb.ReportTo,
	} {
		if err := check.CheckValid(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if pb.SourceNode.IsNone() {
		if !pb.BundleControlFlags.Has(MustNotFragmented) {
			errs = multierror.Append(errs, fmt.Errorf("primary block: anonymous bundle may be fragmented"))
		}
		if pb.BundleControlFlags.Has(statusRequests) {
			errs = multierror.Append(errs, fmt.Errorf("primary block: anonymous bundle requests status reports"))
		}
	}

	return errs
}

func (pb PrimaryBlock) String() string {
	fields := []string{
		fmt.Sprintf("version: %d", pb.Version),
		fmt.Sprintf("control flags: %b", pb.BundleControlFlags),
		fmt.Sprintf("crc: %v", pb.CRCType),
		fmt.Sprintf("%v -> %v", pb.SourceNode, pb.Destination),
		fmt.Sprintf("report to: %v", pb.ReportTo),
		fmt.Sprintf("created: %v", pb.CreationTimestamp),
		fmt.Sprintf("lifetime: %dms", pb.Lifetime),
	}
	if pb.HasFragmentation() {
		fields = append(fields, fmt.Sprintf("fragment: %d/%d", pb.FragmentOffset, pb.TotalDataLength))
	}
	if len(pb.Tags) > 0 {
		fields = append(fields, fmt.Sprintf("tags: %v", pb.Tags))
	}
	return strings.Join(fields, ", ")
}
