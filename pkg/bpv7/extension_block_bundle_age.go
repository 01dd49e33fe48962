// SPDX-FileCopyrightText: 2019, 2020, 2022, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/cbor"
)

// BundleAgeBlock holds a bundle's age in milliseconds, required for sources
// without an accurate clock.
type BundleAgeBlock uint64

func (bab *BundleAgeBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeBundleAgeBlock
}

func (bab *BundleAgeBlock) BlockTypeName() string {
	return "Bundle Age Block"
}

func NewBundleAgeBlock(ms uint64) *BundleAgeBlock {
	return (*BundleAgeBlock)(&ms)
}

// Age in milliseconds.
func (bab *BundleAgeBlock) Age() uint64 {
	return uint64(*bab)
}

// Increment the age by offset milliseconds and return it.
func (bab *BundleAgeBlock) Increment(offset uint64) uint64 {
	*bab += BundleAgeBlock(offset)
	return uint64(*bab)
}

// Body is the age as an unsigned integer.
func (bab *BundleAgeBlock) Body() cbor.Encoder {
	return cbor.UInt(bab.Age())
}

type bundleAgeAcc struct {
	age uint64
}

var bundleAgeChain = cbor.NewChain[bundleAgeAcc]("bundle age").
	UInt("age", func(a *bundleAgeAcc, v uint64) error { a.age = v; return nil })

var decodeBundleAgeBlock = bodyDecoder(bundleAgeChain,
	func(*Registry) *bundleAgeAcc { return new(bundleAgeAcc) },
	func(a *bundleAgeAcc) (ExtensionBlock, error) { return NewBundleAgeBlock(a.age), nil })

// MarshalJSON renders the age as a string like "23 ms".
func (bab *BundleAgeBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%d ms", bab.Age()))
}

// CheckValid accepts any age.
func (bab *BundleAgeBlock) CheckValid() error {
	return nil
}

// bundleAgeProcessor drops bundles older than their lifetime and accounts
// the local residence time before a bundle leaves.
type bundleAgeProcessor struct {
	NopProcessor
}

func (bundleAgeProcessor) ReceptionProcessing(_ *ProcessingContext, b *Bundle, cb *CanonicalBlock) (bool, error) {
	bab := cb.Value.(*BundleAgeBlock)
	if lifetime := b.PrimaryBlock.Lifetime; bab.Age() > lifetime {
		return false, fmt.Errorf("bundle age of %d ms exceeds lifetime of %d ms", bab.Age(), lifetime)
	}
	return false, nil
}

func (bundleAgeProcessor) PrepareForTransmission(ctx *ProcessingContext, _ *Bundle, cb *CanonicalBlock) (bool, error) {
	bab := cb.Value.(*BundleAgeBlock)
	age := bab.Increment(uint64(ctx.Residence / time.Millisecond))

	log.WithFields(log.Fields{
		"residence": ctx.Residence,
		"age":       age,
	}).Debug("Bundle Age Block incremented")
	return false, nil
}
