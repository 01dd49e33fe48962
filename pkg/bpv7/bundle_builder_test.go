// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestBundleBuilderMatchesManual builds the same bundle twice, once by hand.
func TestBundleBuilderMatchesManual(t *testing.T) {
	reg := NewRegistry()

	built, err := Builder().
		CRC(CRC16).
		Source("ipn:23.1").
		Destination("dtn://sink/in").
		CreationTimestampEpoch().
		Lifetime(90 * time.Second).
		HopCountBlock(8).
		BundleAgeBlock(250).
		PayloadBlock([]byte{0xca, 0xfe}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	manual, err := NewBundle(
		NewPrimaryBlock(0, MustNewEndpointID("dtn://sink/in"), MustNewEndpointID("ipn:23.1"),
			NewCreationTimestamp(DtnTimeEpoch, 0), 90_000),
		[]CanonicalBlock{
			NewCanonicalBlock(1, 0, NewPayloadBlock([]byte{0xca, 0xfe})),
			NewCanonicalBlock(3, 0, NewBundleAgeBlock(250)),
			NewCanonicalBlock(2, 0, NewHopCountBlock(8)),
		})
	if err != nil {
		t.Fatal(err)
	}
	manual.SetCRCType(CRC16)

	if diff := cmp.Diff(manual, built); diff != "" {
		t.Fatalf("bundles differ (-manual +built):\n%s", diff)
	}

	builtData, err := built.Bytes(reg)
	if err != nil {
		t.Fatal(err)
	}
	manualData, err := manual.Bytes(reg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(builtData, manualData) {
		t.Fatalf("encodings differ:\n%x\n%x", builtData, manualData)
	}
}

func TestBundleBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		bldr *BundleBuilder
	}{
		{"no destination", Builder().Source("dtn://src/").CreationTimestampNow().Lifetime("1m").PayloadBlock("x")},
		{"no source", Builder().Destination("dtn://dst/").CreationTimestampNow().Lifetime("1m").PayloadBlock("x")},
		{"invalid endpoint", Builder().Source("nope").Destination("dtn://dst/").PayloadBlock("x")},
		{"invalid lifetime", Builder().Source("dtn://src/").Destination("dtn://dst/").Lifetime("-1m").PayloadBlock("x")},
		{"invalid hop limit", Builder().Source("dtn://src/").Destination("dtn://dst/").HopCountBlock(300).PayloadBlock("x")},
		{"wrong canonical", Builder().Source("dtn://src/").Destination("dtn://dst/").Canonical(23).PayloadBlock("x")},
		{"no payload", Builder().Source("dtn://src/").Destination("dtn://dst/").CreationTimestampNow().Lifetime("1m")},
		{"no bundle age", Builder().Source("dtn://src/").Destination("dtn://dst/").CreationTimestampEpoch().Lifetime("1m").PayloadBlock("x")},
	}

	for _, test := range tests {
		if b, err := test.bldr.Build(); err == nil {
			t.Fatalf("%s: Build succeeded with %v", test.name, b)
		}
	}
}

func TestBundleBuilderReportToDefault(t *testing.T) {
	b := Builder().
		Source("ipn:1.1").
		Destination("ipn:2.1").
		CreationTimestampNow().
		Lifetime(time.Hour).
		PayloadBlock("hello").
		mustBuild()

	if b.PrimaryBlock.ReportTo != b.PrimaryBlock.SourceNode {
		t.Fatalf("report-to %v is not the source %v", b.PrimaryBlock.ReportTo, b.PrimaryBlock.SourceNode)
	}
	if b.PrimaryBlock.Lifetime != 3600000 {
		t.Fatalf("unexpected lifetime %d", b.PrimaryBlock.Lifetime)
	}
}

func TestBundleBuilderBlockNumbers(t *testing.T) {
	b := Builder().
		Source("dtn://src/").
		Destination("dtn://dst/").
		CreationTimestampNow().
		Lifetime("1h").
		PayloadBlock([]byte("payload")).
		HopCountBlock(16).
		PreviousNodeBlock("dtn://prev/", ReplicateBlock).
		FlowLabelBlock("bulk").
		ManifestBlock().
		mustBuild()

	want := []struct {
		number   uint64
		typeCode uint64
	}{
		{2, ExtBlockTypeHopCountBlock},
		{3, ExtBlockTypePreviousNodeBlock},
		{4, ExtBlockTypeFlowLabelBlock},
		{5, ExtBlockTypeManifestBlock},
		{1, ExtBlockTypePayloadBlock},
	}

	if len(b.CanonicalBlocks) != len(want) {
		t.Fatalf("%d blocks, expected %d", len(b.CanonicalBlocks), len(want))
	}
	for i, w := range want {
		cb := b.CanonicalBlocks[i]
		if cb.BlockNumber != w.number || cb.TypeCode() != w.typeCode {
			t.Fatalf("block %d is %d/%d, expected %d/%d", i, cb.BlockNumber, cb.TypeCode(), w.number, w.typeCode)
		}
	}

	if pn, _ := b.ExtensionBlock(ExtBlockTypePreviousNodeBlock); pn.BlockControlFlags != ReplicateBlock {
		t.Fatalf("unexpected block control flags %v", pn.BlockControlFlags)
	}

	mb, _ := b.ExtensionBlock(ExtBlockTypeManifestBlock)
	if entries := mb.Value.(*ManifestBlock).Entries; len(entries) != 4 {
		t.Fatalf("manifest lists %d blocks: %v", len(entries), entries)
	}
}

func TestBldrParseEndpoint(t *testing.T) {
	want := MustNewEndpointID("dtn://foo/bar/")

	tests := []struct {
		name string
		in   interface{}
		err  bool
	}{
		{"endpoint", want, false},
		{"string", "dtn://foo/bar/", false},
		{"float", 23.42, true},
		{"invalid string", "foo", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := bldrParseEndpoint(test.in)
			if (err != nil) != test.err {
				t.Fatalf("expected error = %t, got %v", test.err, err)
			}
			if !test.err && got != want {
				t.Fatalf("parsed %v, expected %v", got, want)
			}
		})
	}
}

func TestBldrParseLifetime(t *testing.T) {
	tests := []struct {
		in  interface{}
		ms  uint64
		err bool
	}{
		{1000, 1000, false},
		{uint64(42), 42, false},
		{"250ms", 250, false},
		{"1500us", 1, false},
		{"2m30s", 150000, false},
		{"24h", 86400000, false},
		{time.Second, 1000, false},
		{10 * time.Minute, 600000, false},
		{-23, 0, true},
		{"-10m", 0, true},
		{"soon", 0, true},
		{true, 0, true},
	}

	for _, test := range tests {
		ms, err := bldrParseLifetime(test.in)
		if (err != nil) != test.err {
			t.Fatalf("lifetime %v: expected error = %t, got %v", test.in, test.err, err)
		}
		if !test.err && ms != test.ms {
			t.Fatalf("lifetime %v: got %d ms, expected %d", test.in, ms, test.ms)
		}
	}
}

func TestAddExtensionBlockKeepsOrder(t *testing.T) {
	primary := NewPrimaryBlock(0, MustNewEndpointID("dtn://dst/"), MustNewEndpointID("dtn://src/"),
		NewCreationTimestamp(DtnTimeEpoch, 0), 60*60*1000)

	b := Bundle{
		PrimaryBlock: primary,
		CanonicalBlocks: []CanonicalBlock{
			NewCanonicalBlock(5, 0, NewHopCountBlock(8)),
			NewCanonicalBlock(2, 0, NewBundleAgeBlock(0)),
			NewCanonicalBlock(1, 0, NewPayloadBlock([]byte("hello"))),
		},
	}

	hopCount, err := b.BlockByNumber(5)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.AddExtensionBlock(NewCanonicalBlock(0, 0, NewFlowLabelBlock("label"))); err != nil {
		t.Fatal(err)
	}

	var numbers []uint64
	for _, cb := range b.CanonicalBlocks {
		numbers = append(numbers, cb.BlockNumber)
	}
	if diff := cmp.Diff([]uint64{5, 2, 3, 1}, numbers); diff != "" {
		t.Fatalf("block order differs (-want +got):\n%s", diff)
	}
	if err := b.CheckValid(); err != nil {
		t.Fatal(err)
	}

	if hopCount.BlockNumber != 5 || hopCount.TypeCode() != ExtBlockTypeHopCountBlock {
		t.Fatalf("earlier block pointer changed to %v", hopCount)
	}

	noPayload := Bundle{PrimaryBlock: primary, CanonicalBlocks: []CanonicalBlock{NewCanonicalBlock(7, 0, NewHopCountBlock(8))}}
	if err := noPayload.AddExtensionBlock(NewCanonicalBlock(0, 0, NewPayloadBlock(nil))); err != nil {
		t.Fatal(err)
	}
	if last := noPayload.CanonicalBlocks[len(noPayload.CanonicalBlocks)-1]; last.BlockNumber != 1 {
		t.Fatalf("payload block was not appended: %v", noPayload.CanonicalBlocks)
	}
}
