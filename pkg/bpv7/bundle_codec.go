// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// DefaultChunkSize is used to read bundles from an io.Reader.
const DefaultChunkSize = 4096

type bundleAcc struct {
	b Bundle
}

func (r *Registry) newBundleChain() *cbor.Chain[bundleAcc] {
	return cbor.NewChain[bundleAcc]("bundle").
		IndefiniteArray("bundle").
		Sub("primary block",
			func(*bundleAcc) parser.State { return r.primaryDecoder() },
			func(a *bundleAcc, v any) error {
				a.b.PrimaryBlock = v.(PrimaryBlock)
				return nil
			}).
		UntilBreak("canonical blocks", func(c *cbor.Chain[bundleAcc]) {
			c.Sub("canonical block",
				func(*bundleAcc) parser.State { return r.canonicalDecoder() },
				func(a *bundleAcc, v any) error {
					a.b.CanonicalBlocks = append(a.b.CanonicalBlocks, v.(CanonicalBlock))
					return nil
				})
		})
}

// BundleProgram parses one Bundle. Semantic checks, e.g., Bundle.CheckValid,
// are left to the processing of the parsed Bundle.
func (r *Registry) BundleProgram() parser.Program {
	return r.bundleChain.Program(
		func() *bundleAcc { return new(bundleAcc) },
		func(a *bundleAcc) (any, error) { return a.b, nil })
}

// NewBundleEmitter parses a stream of concatenated bundles. Each Bundle is
// passed to emit; a parsing error terminates the stream and is passed to
// fail, which may be nil.
func (r *Registry) NewBundleEmitter(emit func(Bundle), fail func(error)) *parser.Emitter[Bundle] {
	return parser.NewEmitter[Bundle](r.BundleProgram(), emit, fail)
}

// ParseBundle from exactly one serialized Bundle.
func (r *Registry) ParseBundle(data []byte) (Bundle, error) {
	return parser.Single[Bundle](r.BundleProgram(), data)
}

// ReadBundles parses all bundles from a reader until io.EOF.
func (r *Registry) ReadBundles(rd io.Reader, emit func(Bundle)) error {
	return parser.ReadFrom[Bundle](rd, r.BundleProgram(), DefaultChunkSize, emit)
}

// ReadBundle parses exactly one Bundle from a reader until io.EOF.
func (r *Registry) ReadBundle(rd io.Reader) (b Bundle, err error) {
	n := 0
	err = r.ReadBundles(rd, func(parsed Bundle) {
		if n == 0 {
			b = parsed
		}
		n++
	})
	if err == nil && n != 1 {
		err = fmt.Errorf("expected one bundle, read %d", n)
	}
	return
}

// Encoder serializes this Bundle lazily. Each block is serialized when the
// Encoder reaches it.
func (b *Bundle) Encoder(reg *Registry) cbor.Encoder {
	return func(yield func([]byte) error) error {
		if err := cbor.IndefiniteArray()(yield); err != nil {
			return err
		}
		if err := b.PrimaryBlock.encoder()(yield); err != nil {
			return fmt.Errorf("PrimaryBlock failed: %w", err)
		}
		for i := range b.CanonicalBlocks {
			if err := b.CanonicalBlocks[i].encoder(reg)(yield); err != nil {
				return fmt.Errorf("CanonicalBlock failed: %w", err)
			}
		}
		return cbor.Break()(yield)
	}
}

// Serialize this Bundle into chunks of chunkSize bytes; only the last chunk
// may be shorter. A chunk must not be retained after yield returned.
func (b *Bundle) Serialize(reg *Registry, chunkSize int, yield func([]byte) error) error {
	return cbor.Chunks(b.Encoder(reg), chunkSize, yield)
}

// Bytes returns this Bundle's serialization.
func (b *Bundle) Bytes(reg *Registry) ([]byte, error) {
	return cbor.Collect(b.Encoder(reg))
}

// WriteBundle writes this Bundle's serialization into a Writer.
func (b *Bundle) WriteBundle(reg *Registry, w io.Writer) error {
	_, err := cbor.WriteTo(b.Encoder(reg), w)
	return err
}
