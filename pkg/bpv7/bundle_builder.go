// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"time"
)

// BundleBuilder is a simple framework to create bundles by method chaining.
//
//	bndl, err := bpv7.Builder().
//	  CRC(bpv7.CRC32).
//	  Source("dtn://src/").
//	  Destination("dtn://dest/").
//	  CreationTimestampNow().
//	  Lifetime("30m").
//	  HopCountBlock(64).
//	  PayloadBlock([]byte("hello world!")).
//	  Build()
type BundleBuilder struct {
	err error

	primary          PrimaryBlock
	canonicals       []CanonicalBlock
	canonicalCounter uint64
	crcType          CRCType
}

// Builder creates a new BundleBuilder.
func Builder() *BundleBuilder {
	return &BundleBuilder{
		err: nil,

		primary:          PrimaryBlock{Version: dtnVersion},
		canonicals:       []CanonicalBlock{},
		canonicalCounter: 2,
		crcType:          CRCNo,
	}
}

// Error returns the BundleBuilder's error, if one is present.
func (bldr *BundleBuilder) Error() error {
	return bldr.err
}

// CRC sets the bundle's CRC value.
func (bldr *BundleBuilder) CRC(crcType CRCType) *BundleBuilder {
	if bldr.err == nil {
		bldr.crcType = crcType
	}

	return bldr
}

// Build creates a new Bundle and returns an optional error.
func (bldr *BundleBuilder) Build() (bndl Bundle, err error) {
	if bldr.err != nil {
		err = bldr.err
		return
	}

	// Source and Destination are necessary
	if bldr.primary.SourceNode.EndpointType == nil || bldr.primary.Destination.EndpointType == nil {
		err = fmt.Errorf("both Source and Destination must be set")
		return
	}

	// Set ReportTo to Source, if it was not set before
	if bldr.primary.ReportTo.EndpointType == nil {
		bldr.primary.ReportTo = bldr.primary.SourceNode
	}

	bndl = MustNewBundle(bldr.primary, bldr.canonicals)
	bndl.SetCRCType(bldr.crcType)
	err = bndl.CheckValid()

	return
}

// mustBuild calls Build and panics on an error.
func (bldr *BundleBuilder) mustBuild() Bundle {
	if b, err := bldr.Build(); err != nil {
		panic(err)
	} else {
		return b
	}
}

// Helper functions

// bldrParseEndpoint returns an EndpointID for a given EndpointID or a string,
// representing an endpoint identifier as an URI.
func bldrParseEndpoint(eid interface{}) (e EndpointID, err error) {
	switch eid := eid.(type) {
	case EndpointID:
		e = eid
	case string:
		e, err = NewEndpointID(eid)
	default:
		err = fmt.Errorf("%T is neither an EndpointID nor a string", eid)
	}
	return
}

// bldrParseLifetime returns a millisecond as an uint64 for a given
// millisecond, a time.Duration or a duration string, which will be parsed.
func bldrParseLifetime(duration interface{}) (ms uint64, err error) {
	switch duration := duration.(type) {
	case uint64:
		ms = duration
	case int:
		if duration < 0 {
			err = fmt.Errorf("lifetime's duration %d < 0", duration)
		} else {
			ms = uint64(duration)
		}
	case string:
		dur, durErr := time.ParseDuration(duration)
		if durErr != nil {
			err = durErr
		} else if dur <= 0 {
			err = fmt.Errorf("lifetime's duration %v <= 0", dur)
		} else {
			ms = uint64(dur.Milliseconds())
		}
	case time.Duration:
		if duration <= 0 {
			err = fmt.Errorf("lifetime's duration %v <= 0", duration)
		} else {
			ms = uint64(duration.Milliseconds())
		}
	default:
		err = fmt.Errorf("%T is neither an uint64, an int, a string, nor a Duration", duration)
	}
	return
}

// PrimaryBlock related methods

// Destination sets the bundle's destination, stored in its primary block.
func (bldr *BundleBuilder) Destination(eid interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if e, err := bldrParseEndpoint(eid); err != nil {
		bldr.err = err
	} else {
		bldr.primary.Destination = e
	}

	return bldr
}

// Source sets the bundle's source, stored in its primary block.
func (bldr *BundleBuilder) Source(eid interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if e, err := bldrParseEndpoint(eid); err != nil {
		bldr.err = err
	} else {
		bldr.primary.SourceNode = e
	}

	return bldr
}

// ReportTo sets the bundle's report-to address, stored in its primary block.
func (bldr *BundleBuilder) ReportTo(eid interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if e, err := bldrParseEndpoint(eid); err != nil {
		bldr.err = err
	} else {
		bldr.primary.ReportTo = e
	}

	return bldr
}

func (bldr *BundleBuilder) creationTimestamp(t DtnTime) *BundleBuilder {
	if bldr.err == nil {
		bldr.primary.CreationTimestamp = NewCreationTimestamp(t, 0)
	}

	return bldr
}

// CreationTimestampEpoch sets the bundle's creation timestamp to the epoch time, stored in its primary block.
func (bldr *BundleBuilder) CreationTimestampEpoch() *BundleBuilder {
	return bldr.creationTimestamp(DtnTimeEpoch)
}

// CreationTimestampNow sets the bundle's creation timestamp to the current time, stored in its primary block.
func (bldr *BundleBuilder) CreationTimestampNow() *BundleBuilder {
	return bldr.creationTimestamp(DtnTimeNow())
}

// CreationTimestampTime sets the bundle's creation timestamp to a given time, stored in its primary block.
func (bldr *BundleBuilder) CreationTimestampTime(t time.Time) *BundleBuilder {
	return bldr.creationTimestamp(DtnTimeFromTime(t))
}

// Lifetime sets the bundle's lifetime, stored in its primary block. Possible
// values might be an uint64 or int of milliseconds, a duration string,
// e.g., "10m" for ten minutes, or a time.Duration.
func (bldr *BundleBuilder) Lifetime(duration interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if ms, msErr := bldrParseLifetime(duration); msErr != nil {
		bldr.err = msErr
	} else {
		bldr.primary.Lifetime = ms
	}

	return bldr
}

// BundleCtrlFlags sets the bundle processing control flags in the primary block.
func (bldr *BundleBuilder) BundleCtrlFlags(bcf BundleControlFlags) *BundleBuilder {
	if bldr.err == nil {
		bldr.primary.BundleControlFlags = bcf
	}

	return bldr
}

// CanonicalBlock related methods

// Canonical adds a canonical block to this bundle. The parameters are:
//
//	ExtensionBlock[, BlockControlFlags] or
//	CanonicalBlock
//
// The block number is assigned by this builder.
func (bldr *BundleBuilder) Canonical(args ...interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	var cb CanonicalBlock

	switch l := len(args); l {
	case 1:
		switch arg := args[0].(type) {
		case CanonicalBlock:
			cb = arg
		case ExtensionBlock:
			cb = NewCanonicalBlock(0, 0, arg)
		default:
			bldr.err = fmt.Errorf("Canonical received wrong parameter type %T", arg)
			return bldr
		}

	case 2:
		eb, chk0 := args[0].(ExtensionBlock)
		bcf, chk1 := args[1].(BlockControlFlags)
		if !(chk0 && chk1) {
			bldr.err = fmt.Errorf("Canonical received wrong parameter types, %v %v", chk0, chk1)
			return bldr
		}
		cb = NewCanonicalBlock(0, bcf, eb)

	default:
		bldr.err = fmt.Errorf("Canonical was called with neither one nor two parameters")
		return bldr
	}

	if cb.Value == nil {
		bldr.err = fmt.Errorf("Canonical received a nil ExtensionBlock")
		return bldr
	}

	if cb.TypeCode() == ExtBlockTypePayloadBlock {
		cb.BlockNumber = 1
	} else {
		cb.BlockNumber = bldr.canonicalCounter
		bldr.canonicalCounter++
	}

	bldr.canonicals = append(bldr.canonicals, cb)

	return bldr
}

// BundleAgeBlock adds a bundle age block to this bundle. The parameters are:
//
//	Age[, BlockControlFlags]
//
// where Age is the age as an uint64 or int in milliseconds, a duration
// string or a time.Duration.
func (bldr *BundleBuilder) BundleAgeBlock(args ...interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if len(args) == 0 {
		bldr.err = fmt.Errorf("BundleAgeBlock needs an age")
		return bldr
	}

	ms, msErr := bldrParseLifetime(args[0])
	if msErr != nil {
		bldr.err = msErr
		return bldr
	}

	return bldr.Canonical(append([]interface{}{NewBundleAgeBlock(ms)}, args[1:]...)...)
}

// HopCountBlock adds a hop count block to this bundle. The parameters are:
//
//	Limit[, BlockControlFlags]
//
// where Limit is the limit of this Hop Count Block.
func (bldr *BundleBuilder) HopCountBlock(args ...interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if len(args) == 0 {
		bldr.err = fmt.Errorf("HopCountBlock needs a limit")
		return bldr
	}

	limit, chk := args[0].(int)
	if !chk || limit < 0 || limit > 255 {
		bldr.err = fmt.Errorf("HopCountBlock received an invalid limit %v", args[0])
		return bldr
	}

	return bldr.Canonical(append([]interface{}{NewHopCountBlock(uint8(limit))}, args[1:]...)...)
}

// PayloadBlock adds a payload block to this bundle. The parameters are:
//
//	Data[, BlockControlFlags]
//
// where Data is the payload's data as a byte slice or a string.
func (bldr *BundleBuilder) PayloadBlock(args ...interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if len(args) == 0 {
		bldr.err = fmt.Errorf("PayloadBlock needs data")
		return bldr
	}

	var data []byte
	switch d := args[0].(type) {
	case []byte:
		data = d
	case string:
		data = []byte(d)
	default:
		bldr.err = fmt.Errorf("PayloadBlock received wrong data type %T", d)
		return bldr
	}

	return bldr.Canonical(append([]interface{}{NewPayloadBlock(data)}, args[1:]...)...)
}

// PreviousNodeBlock adds a previous node block to this bundle. The parameters are:
//
//	PrevNode[, BlockControlFlags]
//
// where PrevNode is an EndpointID or a string describing an endpoint.
func (bldr *BundleBuilder) PreviousNodeBlock(args ...interface{}) *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	if len(args) == 0 {
		bldr.err = fmt.Errorf("PreviousNodeBlock needs an endpoint")
		return bldr
	}

	eid, eidErr := bldrParseEndpoint(args[0])
	if eidErr != nil {
		bldr.err = eidErr
		return bldr
	}

	return bldr.Canonical(append([]interface{}{NewPreviousNodeBlock(eid)}, args[1:]...)...)
}

// FlowLabelBlock adds a flow label block carrying the given labels.
func (bldr *BundleBuilder) FlowLabelBlock(labels ...string) *BundleBuilder {
	return bldr.Canonical(NewFlowLabelBlock(labels...))
}

// ManifestBlock adds a manifest block listing all blocks added so far.
func (bldr *BundleBuilder) ManifestBlock() *BundleBuilder {
	if bldr.err != nil {
		return bldr
	}

	return bldr.Canonical(NewManifestBlockFor(Bundle{CanonicalBlocks: bldr.canonicals}))
}
