// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package processing

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

const counterBlockTypeCode uint64 = 200

// counterBlock asks for reprocessing until its counter reached its target.
type counterBlock struct {
	Count, Target uint64
}

func (cb *counterBlock) BlockTypeCode() uint64 { return counterBlockTypeCode }
func (cb *counterBlock) BlockTypeName() string { return "Counter Block" }
func (cb *counterBlock) CheckValid() error     { return nil }
func (cb *counterBlock) Body() cbor.Encoder {
	return cbor.Merge(cbor.Array(2), cbor.UInt(cb.Count), cbor.UInt(cb.Target))
}

type counterProcessor struct {
	bpv7.NopProcessor

	// spawn adds a flow label block on the first visit.
	spawn bool
}

func (cp counterProcessor) ReceptionProcessing(_ *bpv7.ProcessingContext, b *bpv7.Bundle, cb *bpv7.CanonicalBlock) (bool, error) {
	counter := cb.Value.(*counterBlock)
	if counter.Count == 0 && cp.spawn {
		if err := b.AddExtensionBlock(bpv7.NewCanonicalBlock(0, 0, bpv7.NewFlowLabelBlock("spawned"))); err != nil {
			return false, err
		}
	}

	if counter.Count < counter.Target {
		counter.Count++
		return true, nil
	}
	return false, nil
}

func counterRegistry(t *testing.T, spawn bool) *bpv7.Registry {
	t.Helper()

	rb := bpv7.NewRegistryBuilder()
	err := rb.RegisterBlock(bpv7.BlockEntry{
		Code: counterBlockTypeCode,
		Name: "Counter Block",
		New:  func() bpv7.ExtensionBlock { return new(counterBlock) },
		Decode: func(*bpv7.Registry, uint64) parser.State {
			return parser.Fail(errors.New("counter blocks are not parsed"))
		},
		Processor: counterProcessor{spawn: spawn},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rb.Build()
}

func newBundle(t *testing.T, blocks ...interface{}) bpv7.Bundle {
	t.Helper()

	bldr := bpv7.Builder().
		Source("dtn://src/").
		Destination("dtn://dst/").
		CreationTimestampNow().
		Lifetime("1h")
	for _, block := range blocks {
		bldr = bldr.Canonical(block)
	}

	b, err := bldr.PayloadBlock([]byte("hello")).Build()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPipelineFixedPoint(t *testing.T) {
	p := NewPipeline(counterRegistry(t, false))
	b := newBundle(t, &counterBlock{Target: 3})

	res, err := p.ReceptionProcessing(&b)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passes != 4 {
		t.Fatalf("%d passes, expected 4", res.Passes)
	}

	cb, err := b.ExtensionBlock(counterBlockTypeCode)
	if err != nil {
		t.Fatal(err)
	}
	if count := cb.Value.(*counterBlock).Count; count != 3 {
		t.Fatalf("counter is %d, expected 3", count)
	}
}

func TestPipelineFixedPointCap(t *testing.T) {
	p := NewPipeline(counterRegistry(t, false), WithMaxPasses(5))
	b := newBundle(t, &counterBlock{Target: 100})

	_, err := p.ReceptionProcessing(&b)

	var fpErr *FixedPointError
	if !errors.As(err, &fpErr) {
		t.Fatalf("expected FixedPointError, got %v", err)
	}
	if fpErr.Passes != 5 || fpErr.Hook != bpv7.HookReceptionProcessing {
		t.Fatalf("unexpected error %#v", fpErr)
	}
	if diff := cmp.Diff([]uint64{2, 1}, fpErr.Pending); diff != "" {
		t.Fatalf("pending blocks differ (-want +got):\n%s", diff)
	}
}

const visitBlockTypeCode uint64 = 201

// visitBlock never asks for reprocessing, its processor counts the visits.
type visitBlock struct{}

func (*visitBlock) BlockTypeCode() uint64 { return visitBlockTypeCode }
func (*visitBlock) BlockTypeName() string { return "Visit Block" }
func (*visitBlock) CheckValid() error     { return nil }
func (*visitBlock) Body() cbor.Encoder    { return cbor.UInt(0) }

type visitProcessor struct {
	bpv7.NopProcessor
	visits *int
}

func (vp visitProcessor) ReceptionProcessing(*bpv7.ProcessingContext, *bpv7.Bundle, *bpv7.CanonicalBlock) (bool, error) {
	*vp.visits++
	return false, nil
}

func TestPipelineFullPasses(t *testing.T) {
	tests := []struct {
		target uint64
		passes int
	}{
		{0, 1},
		{1, 2},
		{2, 3},
		{7, 8},
	}

	for _, test := range tests {
		visits := 0

		rb := bpv7.NewRegistryBuilder()
		for _, entry := range []bpv7.BlockEntry{{
			Code:      counterBlockTypeCode,
			Name:      "Counter Block",
			New:       func() bpv7.ExtensionBlock { return new(counterBlock) },
			Decode:    func(*bpv7.Registry, uint64) parser.State { return parser.Fail(errors.New("not parsed")) },
			Processor: counterProcessor{},
		}, {
			Code:      visitBlockTypeCode,
			Name:      "Visit Block",
			New:       func() bpv7.ExtensionBlock { return new(visitBlock) },
			Decode:    func(*bpv7.Registry, uint64) parser.State { return parser.Fail(errors.New("not parsed")) },
			Processor: visitProcessor{visits: &visits},
		}} {
			if err := rb.RegisterBlock(entry); err != nil {
				t.Fatal(err)
			}
		}

		p := NewPipeline(rb.Build())
		b := newBundle(t, &counterBlock{Target: test.target}, &visitBlock{})

		res, err := p.ReceptionProcessing(&b)
		if err != nil {
			t.Fatalf("target %d: %v", test.target, err)
		}
		if res.Passes != test.passes {
			t.Fatalf("target %d: %d passes, expected %d", test.target, res.Passes, test.passes)
		}
		if visits != test.passes {
			t.Fatalf("target %d: visit block was visited %d times in %d passes", test.target, visits, res.Passes)
		}
	}
}

func TestPipelineVisitsAddedBlocks(t *testing.T) {
	p := NewPipeline(counterRegistry(t, true))
	b := newBundle(t, &counterBlock{Target: 0})

	res, err := p.ReceptionProcessing(&b)
	if err != nil {
		t.Fatal(err)
	}

	if !b.HasExtensionBlock(bpv7.ExtBlockTypeFlowLabelBlock) {
		t.Fatal("spawned block is missing")
	}
	if res.Passes != 2 {
		t.Fatalf("%d passes, expected 2", res.Passes)
	}
}

func TestPipelineUnknownBlocks(t *testing.T) {
	unknown := func(flags bpv7.BlockControlFlags) bpv7.CanonicalBlock {
		return bpv7.NewCanonicalBlock(0, flags, bpv7.NewGenericExtensionBlock([]byte{0x00}, 240))
	}

	p := NewPipeline(bpv7.NewRegistry())

	t.Run("delete bundle", func(t *testing.T) {
		b := newBundle(t, unknown(bpv7.DeleteBundle|bpv7.StatusReportBlock))

		res, err := p.ReceptionProcessing(&b)

		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("expected RejectedError, got %v", err)
		}
		if rejected.Reason != bpv7.BlockUnsupported || rejected.BlockNumber != 2 {
			t.Fatalf("unexpected error %#v", rejected)
		}
		if len(res.StatusReports) != 1 {
			t.Fatalf("unexpected status reports %v", res.StatusReports)
		}
	})

	t.Run("remove block", func(t *testing.T) {
		b := newBundle(t, unknown(bpv7.RemoveBlock), bpv7.NewHopCountBlock(8))

		res, err := p.ReceptionProcessing(&b)
		if err != nil {
			t.Fatal(err)
		}
		if b.HasExtensionBlock(240) {
			t.Fatal("unknown block was not removed")
		}
		if diff := cmp.Diff([]uint64{2}, res.RemovedBlocks); diff != "" {
			t.Fatalf("removed blocks differ (-want +got):\n%s", diff)
		}

		// The other blocks are still processed.
		hc, err := b.ExtensionBlock(bpv7.ExtBlockTypeHopCountBlock)
		if err != nil {
			t.Fatal(err)
		}
		if count := hc.Value.(*bpv7.HopCountBlock).Count; count != 1 {
			t.Fatalf("hop count is %d", count)
		}
	})

	t.Run("status report", func(t *testing.T) {
		b := newBundle(t, unknown(bpv7.StatusReportBlock))

		res, err := p.ReceptionProcessing(&b)
		if err != nil {
			t.Fatal(err)
		}

		want := []StatusReportRequest{{BlockNumber: 2, BlockType: 240, Reason: bpv7.BlockUnsupported}}
		if diff := cmp.Diff(want, res.StatusReports); diff != "" {
			t.Fatalf("status reports differ (-want +got):\n%s", diff)
		}

		cb, _ := b.ExtensionBlock(240)
		if !cb.Tags.Has(bpv7.TagStatusReport) {
			t.Fatalf("block is not tagged: %v", cb.Tags)
		}

		// A report is requested only once per block.
		if res, err := p.PutOnStorage(&b); err != nil {
			t.Fatal(err)
		} else if len(res.StatusReports) != 0 {
			t.Fatalf("status report was requested again: %v", res.StatusReports)
		}
	})

	t.Run("forwarded", func(t *testing.T) {
		b := newBundle(t, unknown(0))

		res, err := p.ReceptionProcessing(&b)
		if err != nil {
			t.Fatal(err)
		}

		cb, _ := b.ExtensionBlock(240)
		if !cb.Tags.Has(bpv7.TagForwardedWithoutProcessed) {
			t.Fatalf("block is not tagged: %v", cb.Tags)
		}
		if diff := cmp.Diff([]uint64{2}, res.Unprocessed); diff != "" {
			t.Fatalf("unprocessed blocks differ (-want +got):\n%s", diff)
		}
	})
}

func TestPipelineProcessorRejection(t *testing.T) {
	p := NewPipeline(bpv7.NewRegistry())

	hc := bpv7.NewHopCountBlock(1)
	hc.Count = 1
	b := newBundle(t, hc)

	_, err := p.ReceptionProcessing(&b)

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Reason != bpv7.HopLimitExceeded || rejected.BlockNumber != 2 {
		t.Fatalf("unexpected error %#v", rejected)
	}
	if rejected.Unwrap() == nil {
		t.Fatal("RejectedError lost its cause")
	}
}

func TestPipelineReceptionChecks(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	p := NewPipeline(bpv7.NewRegistry(), WithClock(func() time.Time { return now }))

	expired, err := bpv7.Builder().
		Source("dtn://src/").
		Destination("dtn://dst/").
		CreationTimestampTime(now.Add(-2 * time.Hour)).
		Lifetime("1h").
		PayloadBlock("late").
		Build()
	if err != nil {
		t.Fatal(err)
	}

	var rejected *RejectedError
	if _, err := p.ReceptionProcessing(&expired); !errors.As(err, &rejected) || rejected.Reason != bpv7.LifetimeExpired {
		t.Fatalf("expired bundle resulted in %v", err)
	}

	invalid := newBundle(t)
	invalid.CanonicalBlocks = append(invalid.CanonicalBlocks, bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock(nil)))
	if _, err := p.ReceptionProcessing(&invalid); !errors.As(err, &rejected) || rejected.Reason != bpv7.BlockUnintelligible {
		t.Fatalf("invalid bundle resulted in %v", err)
	}
}

func TestPipelineCorruptedBlocks(t *testing.T) {
	tests := []struct {
		name        string
		flags       bpv7.BlockControlFlags
		flip        string
		wantErr     bool
		wantRemoved []uint64
	}{
		{"intact", 0, "", false, nil},
		{"primary block", bpv7.RemoveBlock, "src/", true, nil},
		{"payload block", 0, "hello", true, nil},
		{"extension without flags", 0, "marker", true, nil},
		{"extension to delete bundle", bpv7.DeleteBundle | bpv7.RemoveBlock, "marker", true, nil},
		{"extension to remove", bpv7.RemoveBlock, "marker", false, []uint64{2}},
	}

	reg := bpv7.NewRegistry()
	p := NewPipeline(reg)

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b, err := bpv7.Builder().
				CRC(bpv7.CRC32).
				Source("dtn://src/").
				Destination("dtn://dst/").
				CreationTimestampNow().
				Lifetime("1h").
				Canonical(bpv7.NewGenericExtensionBlock([]byte("marker"), 240), test.flags).
				PayloadBlock([]byte("hello")).
				Build()
			if err != nil {
				t.Fatal(err)
			}

			data, err := b.Bytes(reg)
			if err != nil {
				t.Fatal(err)
			}
			if test.flip != "" {
				i := bytes.Index(data, []byte(test.flip))
				if i < 0 {
					t.Fatalf("%q is not in %x", test.flip, data)
				}
				data[i] ^= 0x01
			}

			parsed, err := reg.ParseBundle(data)
			if err != nil {
				t.Fatal(err)
			}

			res, err := p.ReceptionProcessing(&parsed)
			if test.wantErr {
				var rejected *RejectedError
				if !errors.As(err, &rejected) || rejected.Reason != bpv7.BlockUnintelligible {
					t.Fatalf("corrupted bundle resulted in %v", err)
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.wantRemoved, res.RemovedBlocks); diff != "" {
				t.Fatalf("removed blocks differ (-want +got):\n%s", diff)
			}
			if parsed.HasExtensionBlock(240) == (test.wantRemoved != nil) {
				t.Fatalf("block 240 presence is wrong: %v", parsed.CanonicalBlocks)
			}
			if string(parsed.Payload()) != "hello" {
				t.Fatalf("payload is %q", parsed.Payload())
			}
		})
	}
}

func TestPipelineTransmission(t *testing.T) {
	node := bpv7.MustNewEndpointID("dtn://relay/")
	p := NewPipeline(bpv7.NewRegistry(), WithNodeID(node))

	b, err := bpv7.Builder().
		Source("dtn://src/").
		Destination("dtn://dst/").
		CreationTimestampEpoch().
		Lifetime("1h").
		BundleAgeBlock(1000).
		PreviousNodeBlock("dtn://src/").
		PayloadBlock("hello").
		Build()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.PrepareForTransmission(&b, 250*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	pn, _ := b.ExtensionBlock(bpv7.ExtBlockTypePreviousNodeBlock)
	if eid := pn.Value.(*bpv7.PreviousNodeBlock).Endpoint(); eid.String() != node.String() {
		t.Fatalf("previous node is %v", eid)
	}

	ba, _ := b.ExtensionBlock(bpv7.ExtBlockTypeBundleAgeBlock)
	if age := ba.Value.(*bpv7.BundleAgeBlock).Age(); age != 1250 {
		t.Fatalf("bundle age is %d", age)
	}
}

func TestPipelineParsedBundle(t *testing.T) {
	reg := bpv7.NewRegistry()
	p := NewPipeline(reg)

	b := newBundle(t, bpv7.NewHopCountBlock(16), bpv7.NewGenericExtensionBlock([]byte{0x01}, 240))
	data, err := b.Bytes(reg)
	if err != nil {
		t.Fatal(err)
	}

	var rejected error
	em := reg.NewBundleEmitter(func(parsed bpv7.Bundle) {
		if _, err := p.Deserialized(&parsed); err != nil {
			rejected = err
			return
		}
		if _, err := p.ReceptionProcessing(&parsed); err != nil {
			rejected = err
		}
	}, nil)

	if err := em.Feed(data); err != nil {
		t.Fatal(err)
	}
	if rejected != nil {
		t.Fatal(rejected)
	}
}

func TestErrorStrings(t *testing.T) {
	err := &RejectedError{Hook: bpv7.HookReceptionProcessing, BlockNumber: 3, Reason: bpv7.HopLimitExceeded, Err: errors.New("boom")}
	if s := err.Error(); s != "bundle rejected at reception_processing by block 3 (Hop limit exceeded): boom" {
		t.Fatalf("unexpected error string %q", s)
	}

	fpErr := &FixedPointError{Hook: bpv7.HookPutOnStorage, Passes: 16, Pending: []uint64{2, 3}}
	if s := fpErr.Error(); s != "put_on_storage did not settle after 16 passes, blocks [2 3] still pending" {
		t.Fatalf("unexpected error string %q", s)
	}
}
