// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists bundles as xz compressed files next to a
// badgerhold index of their meta data.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/processing"
)

var (
	// ErrFragmented refuses to Load a single Bundle from a fragmented BundleItem.
	ErrFragmented = errors.New("bundle item consists of fragments")

	// ErrNotFound for unknown BundleItems.
	ErrNotFound = badgerhold.ErrNotFound
)

// Store keeps Bundles and their BundleItems. Stored and loaded Bundles pass
// the PutOnStorage and PullFromStorage hooks of a processing.Pipeline.
type Store struct {
	bh        *badgerhold.Store
	pipeline  *processing.Pipeline
	bundleDir string

	now func() time.Time
}

// NewStore below dir, which may already hold a Store.
func NewStore(dir string, pipeline *processing.Pipeline) (*Store, error) {
	dbDir, bundleDir := filepath.Join(dir, "db"), filepath.Join(dir, "bndl")
	for _, d := range []string{dbDir, bundleDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	opts := badgerhold.DefaultOptions
	opts.Dir, opts.ValueDir = dbDir, dbDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store index: %w", err)
	}
	return &Store{bh: bh, pipeline: pipeline, bundleDir: bundleDir, now: time.Now}, nil
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Push a Bundle, unless it or this fragment of it is already known. The
// PutOnStorage hook may alter the Bundle before it is written.
func (s *Store) Push(b *bpv7.Bundle) error {
	item := newBundleItem(*b, s.bundleDir, s.now())
	logger := log.WithField("bundle", b.ID().String())

	stored, err := s.QueryId(b.ID())
	if errors.Is(err, ErrNotFound) {
		if err := s.write(b, item.Parts[0]); err != nil {
			return err
		}
		logger.Info("Store inserts new bundle")
		return s.bh.Insert(item.Id, item)
	} else if err != nil {
		return err
	}

	if !item.Fragmented || !stored.Fragmented {
		logger.Debug("Store already holds this bundle")
		return nil
	}

	part := item.Parts[0]
	if stored.hasPart(part) {
		logger.Debug("Store already holds this fragment")
		return nil
	}
	if err := s.write(b, part); err != nil {
		return err
	}

	logger.Info("Store adds fragment to bundle")
	stored.Parts = append(stored.Parts, part)
	return s.bh.Update(stored.Id, stored)
}

func (bi BundleItem) hasPart(part BundlePart) bool {
	for _, p := range bi.Parts {
		if p.FragmentOffset == part.FragmentOffset && p.TotalDataLength == part.TotalDataLength {
			return true
		}
	}
	return false
}

func (s *Store) write(b *bpv7.Bundle, part BundlePart) error {
	if _, err := s.pipeline.PutOnStorage(b); err != nil {
		return err
	}
	return part.storeBundle(s.pipeline.Registry(), b)
}

// Load the only Bundle of an unfragmented BundleItem.
func (s *Store) Load(bi BundleItem) (bpv7.Bundle, error) {
	if bi.Fragmented {
		return bpv7.Bundle{}, ErrFragmented
	}
	bundles, err := s.LoadParts(bi)
	if err != nil {
		return bpv7.Bundle{}, err
	}
	return bundles[0], nil
}

// LoadParts reads every part, e.g., each fragment, after PullFromStorage.
func (s *Store) LoadParts(bi BundleItem) ([]bpv7.Bundle, error) {
	bundles := make([]bpv7.Bundle, 0, len(bi.Parts))
	for _, part := range bi.Parts {
		b, err := part.load(s.pipeline.Registry())
		if err != nil {
			return nil, err
		}
		if _, err := s.pipeline.PullFromStorage(&b); err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

// Update the meta data of a stored BundleItem.
func (s *Store) Update(bi BundleItem) error {
	log.WithField("bundle", bi.Id).Debug("Store updates bundle item")
	return s.bh.Update(bi.Id, bi)
}

// Delete a BundleItem with all its parts. Unknown IDs are ignored.
func (s *Store) Delete(bid bpv7.BundleID) error {
	bi, err := s.QueryId(bid)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	log.WithField("bundle", bi.Id).Info("Store deletes bundle")
	return s.remove(bi)
}

// remove the files first. A leftover file is only logged, the index entry goes anyway.
func (s *Store) remove(bi BundleItem) error {
	for _, part := range bi.Parts {
		if err := part.deleteBundle(); err != nil {
			log.WithFields(log.Fields{"bundle": bi.Id, "file": part.Filename, "error": err}).Warn("Store failed to delete bundle file")
		}
	}
	return s.bh.Delete(bi.Id, BundleItem{})
}

// DeleteExpired removes all BundleItems expired before now and counts them.
func (s *Store) DeleteExpired(now time.Time) int {
	expired, err := s.find(badgerhold.Where("Expires").Lt(now).Index("Expires"))
	if err != nil {
		log.WithError(err).Warn("Store failed to query expired bundles")
		return 0
	}

	deleted := 0
	for _, bi := range expired {
		if err := s.remove(bi); err != nil {
			log.WithFields(log.Fields{"bundle": bi.Id, "error": err}).Warn("Store failed to delete expired bundle")
			continue
		}
		log.WithField("bundle", bi.Id).Info("Store deleted expired bundle")
		deleted++
	}
	return deleted
}

func (s *Store) find(query *badgerhold.Query) ([]BundleItem, error) {
	var bis []BundleItem
	err := s.bh.Find(&bis, query)
	return bis, err
}

// QueryKey fetches a BundleItem by its key, the string of a scrubbed BundleID.
func (s *Store) QueryKey(key string) (BundleItem, error) {
	var bi BundleItem
	err := s.bh.Get(key, &bi)
	return bi, err
}

// QueryId fetches the BundleItem of a bundle or any of its fragments.
func (s *Store) QueryId(bid bpv7.BundleID) (BundleItem, error) {
	return s.QueryKey(bid.Scrub().String())
}

// QueryPending fetches all BundleItems waiting for another forwarding attempt.
func (s *Store) QueryPending() ([]BundleItem, error) {
	return s.find(badgerhold.Where("Pending").Eq(true).Index("Pending"))
}

// QueryAll fetches all BundleItems.
func (s *Store) QueryAll() ([]BundleItem, error) {
	return s.find(nil)
}

// KnowsBundle reports whether the bundle, or a fragment of it, is stored.
func (s *Store) KnowsBundle(bid bpv7.BundleID) bool {
	_, err := s.QueryId(bid)
	return err == nil
}
