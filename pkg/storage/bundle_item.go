// SPDX-FileCopyrightText: 2019, 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// BundleItem is a wrapper for meta data around a Bundle. The Store operates
// on BundleItems instead of Bundles.
type BundleItem struct {
	Id string `badgerhold:"key"`

	Source      string
	Destination string

	Pending  bool      `badgerholdIndex:"Pending"`
	Expires  time.Time `badgerholdIndex:"Expires"`
	Received time.Time

	Fragmented bool
	Parts      []BundlePart

	Properties map[string]string
}

// Residence is the time this BundleItem has spent at this node.
func (bi BundleItem) Residence(now time.Time) time.Duration {
	if now.Before(bi.Received) {
		return 0
	}
	return now.Sub(bi.Received)
}

// BundlePart links a BundleItem to a serialized Bundle on disk with possible
// information regarding fragmentation.
type BundlePart struct {
	Filename string

	FragmentOffset  uint64
	TotalDataLength uint64
}

// storeBundle writes the Bundle as a xz compressed stream to the disk.
func (bp BundlePart) storeBundle(reg *bpv7.Registry, b *bpv7.Bundle) (err error) {
	f, err := os.OpenFile(bp.Filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	xzw, err := xz.NewWriter(f)
	if err != nil {
		return
	}

	err = b.Serialize(reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		_, writeErr := xzw.Write(chunk)
		return writeErr
	})
	if err != nil {
		_ = xzw.Close()
		return
	}
	return xzw.Close()
}

// deleteBundle removes the serialized Bundle from the disk.
func (bp BundlePart) deleteBundle() error {
	return os.Remove(bp.Filename)
}

// load the Bundle by decompressing and parsing its file chunk-wise.
func (bp BundlePart) load(reg *bpv7.Registry) (b bpv7.Bundle, err error) {
	f, err := os.Open(bp.Filename)
	if err != nil {
		return
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		return
	}

	b, err = reg.ReadBundle(xzr)
	if err != nil {
		err = fmt.Errorf("loading %s failed: %w", bp.Filename, err)
	}
	return
}

// calcExpirationDate for a Bundle. Without an accurate creation time, the
// Bundle Age Block's remaining lifetime counts from the reception.
func calcExpirationDate(b bpv7.Bundle, received time.Time) time.Time {
	if exp := b.PrimaryBlock.ExpirationTime(); !exp.IsZero() {
		return exp
	}

	lifetime := b.PrimaryBlock.Lifetime
	if cb, err := b.ExtensionBlock(bpv7.ExtBlockTypeBundleAgeBlock); err == nil {
		age := cb.Value.(*bpv7.BundleAgeBlock).Age()
		if age >= lifetime {
			return received
		}
		lifetime -= age
	}
	return received.Add(time.Duration(lifetime) * time.Millisecond)
}

// bundlePartPath returns a path for a Bundle, including its fragment fields.
func bundlePartPath(id bpv7.BundleID, storagePath string) string {
	f := fmt.Sprintf("%x.xz", sha256.Sum256([]byte(id.String())))
	return filepath.Join(storagePath, f)
}

// newBundleItem creates a new BundleItem for a Bundle.
func newBundleItem(b bpv7.Bundle, storagePath string, received time.Time) (bi BundleItem) {
	bid := b.ID()

	bi = BundleItem{
		Id: bid.Scrub().String(),

		Source:      b.PrimaryBlock.SourceNode.String(),
		Destination: b.PrimaryBlock.Destination.String(),

		Pending:  false,
		Expires:  calcExpirationDate(b, received),
		Received: received,

		Fragmented: b.PrimaryBlock.HasFragmentation(),

		Properties: make(map[string]string),
	}

	bp := BundlePart{
		Filename: bundlePartPath(bid, storagePath),

		FragmentOffset:  bid.FragmentOffset,
		TotalDataLength: bid.TotalDataLength,
	}

	bi.Parts = append(bi.Parts, bp)

	return
}
