// SPDX-FileCopyrightText: 2020 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// SecurityContextParametersPresentFlag is the bit which is set if the AbstractSecurityBlock has SecurityContextParameters.
const SecurityContextParametersPresentFlag uint64 = 0b01

// IDValue is an identified value of a security context, either a parameter
// or a result. Value is a generic CBOR value, see cbor.DecodeValue.
type IDValue struct {
	ID    uint64 `json:"id"`
	Value any    `json:"value"`
}

func (idv IDValue) encoder() cbor.Encoder {
	return cbor.Merge(cbor.Array(2), cbor.UInt(idv.ID), cbor.Value(idv.Value))
}

// AbstractSecurityBlock implements the Abstract Security Block (ASB) data
// structure of BPSec, RFC 9172 section 3.6. Its fields are encoded as a
// CBOR sequence. Security operations are neither verified nor applied.
type AbstractSecurityBlock struct {
	SecurityTargets           []uint64
	SecurityContextID         int64
	SecurityContextFlags      uint64
	SecuritySource            EndpointID
	SecurityContextParameters []IDValue

	// SecurityResults holds one list of results per security target.
	SecurityResults [][]IDValue
}

// HasSecurityContextParameters interprets the security context flags for the
// presence of the SecurityContextParameters field.
func (asb *AbstractSecurityBlock) HasSecurityContextParameters() bool {
	return asb.SecurityContextFlags&SecurityContextParametersPresentFlag != 0
}

func idValuesEncoder(idvs []IDValue) []cbor.Encoder {
	encs := []cbor.Encoder{cbor.Array(uint64(len(idvs)))}
	for _, idv := range idvs {
		encs = append(encs, idv.encoder())
	}
	return encs
}

// Body writes the ASB's fields as a CBOR sequence.
func (asb *AbstractSecurityBlock) Body() cbor.Encoder {
	encs := []cbor.Encoder{cbor.Array(uint64(len(asb.SecurityTargets)))}
	for _, target := range asb.SecurityTargets {
		encs = append(encs, cbor.UInt(target))
	}

	encs = append(encs,
		cbor.Int(asb.SecurityContextID),
		cbor.UInt(asb.SecurityContextFlags),
		asb.SecuritySource.encoder())

	if asb.HasSecurityContextParameters() {
		encs = append(encs, idValuesEncoder(asb.SecurityContextParameters)...)
	}

	encs = append(encs, cbor.Array(uint64(len(asb.SecurityResults))))
	for _, results := range asb.SecurityResults {
		encs = append(encs, idValuesEncoder(results)...)
	}

	return cbor.Merge(encs...)
}

// CheckValid checks for MUST / MUST NOT constraints required by BPSec 3.6.
func (asb *AbstractSecurityBlock) CheckValid() (errs error) {
	// SecurityTargets MUST have at least 1 entry.
	if len(asb.SecurityTargets) == 0 {
		errs = multierror.Append(errs, errors.New("not at least 1 entry in Security Targets"))
	}

	// SecurityTargets MUST NOT have duplicate entries.
	seen := make(map[uint64]bool, len(asb.SecurityTargets))
	var duplicates []uint64
	for _, target := range asb.SecurityTargets {
		if seen[target] {
			duplicates = append(duplicates, target)
		}
		seen[target] = true
	}
	if len(duplicates) > 0 {
		errs = multierror.Append(errs, fmt.Errorf(
			"duplicate Security Target entries exist for block number(s): %v", duplicates))
	}

	// There MUST be one entry in SecurityResults for each entry in SecurityTargets.
	if len(asb.SecurityResults) != len(asb.SecurityTargets) {
		errs = multierror.Append(errs, fmt.Errorf(
			"number of entries in SecurityResults and SecurityTargets is not equal #Targets: %d #TargetResultSets: %d",
			len(asb.SecurityTargets), len(asb.SecurityResults)))
	}

	if asb.HasSecurityContextParameters() && len(asb.SecurityContextParameters) == 0 {
		errs = multierror.Append(errs, errors.New(
			"security block has the Security Context Parameters Present Context Flag (0x01) set, but no Security Context Parameters"))
	} else if !asb.HasSecurityContextParameters() && len(asb.SecurityContextParameters) != 0 {
		errs = multierror.Append(errs, errors.New(
			"security block has the Security Context Parameters Present Context Flag (0x01) not set, but Security Context Parameters"))
	}

	if err := asb.SecuritySource.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs
}

// MarshalJSON writes a JSON object of this ASB.
func (asb *AbstractSecurityBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Targets    []uint64    `json:"targets"`
		ContextID  int64       `json:"contextId"`
		Flags      uint64      `json:"flags"`
		Source     EndpointID  `json:"source"`
		Parameters []IDValue   `json:"parameters,omitempty"`
		Results    [][]IDValue `json:"results"`
	}{asb.SecurityTargets, asb.SecurityContextID, asb.SecurityContextFlags, asb.SecuritySource,
		asb.SecurityContextParameters, asb.SecurityResults})
}

type asbAcc struct {
	reg *Registry
	asb AbstractSecurityBlock

	n, m    uint64
	idv     IDValue
	idvs    []IDValue
	results [][]IDValue
}

func asbArrayLength(a *asbAcc, n uint64) error {
	if n > cbor.MaxLength {
		return fmt.Errorf("%d entries exceed maximum", n)
	}
	a.n = n
	return nil
}

// idValues decodes an array of [id, value] pairs into acc.idvs.
func idValues(c *cbor.Chain[asbAcc], name string) {
	c.Array(name, func(a *asbAcc, n uint64) error {
		if n > cbor.MaxLength {
			return fmt.Errorf("%d entries exceed maximum", n)
		}
		a.m = n
		a.idvs = nil
		return nil
	}).
		Repeat(func(a *asbAcc) uint64 { return a.m }, func(c *cbor.Chain[asbAcc]) {
			c.Array("pair", cbor.ExactLength[asbAcc](2)).
				UInt("id", func(a *asbAcc, v uint64) error { a.idv.ID = v; return nil }).
				Any("value", func(a *asbAcc, v any) error {
					a.idv.Value = v
					a.idvs = append(a.idvs, a.idv)
					return nil
				})
		})
}

var asbChain = cbor.NewChain[asbAcc]("abstract security block").
	Array("targets", asbArrayLength).
	Repeat(func(a *asbAcc) uint64 { return a.n }, func(c *cbor.Chain[asbAcc]) {
		c.UInt("target", func(a *asbAcc, v uint64) error {
			a.asb.SecurityTargets = append(a.asb.SecurityTargets, v)
			return nil
		})
	}).
	Int("context id", func(a *asbAcc, v int64) error { a.asb.SecurityContextID = v; return nil }).
	UInt("context flags", func(a *asbAcc, v uint64) error { a.asb.SecurityContextFlags = v; return nil }).
	Sub("source",
		func(a *asbAcc) parser.State { return a.reg.endpointDecoder() },
		func(a *asbAcc, v any) error { a.asb.SecuritySource = v.(EndpointID); return nil }).
	InsertIf((*asbAcc).hasParameters, func(c *cbor.Chain[asbAcc]) {
		idValues(c, "parameters")
		c.Do(func(a *asbAcc) error {
			a.asb.SecurityContextParameters = a.idvs
			return nil
		})
	}).
	Array("results", asbArrayLength).
	Repeat(func(a *asbAcc) uint64 { return a.n }, func(c *cbor.Chain[asbAcc]) {
		idValues(c, "target results")
		c.Do(func(a *asbAcc) error {
			a.asb.SecurityResults = append(a.asb.SecurityResults, a.idvs)
			return nil
		})
	})

func (a *asbAcc) hasParameters() bool {
	return a.asb.HasSecurityContextParameters()
}

func newASBAcc(reg *Registry) *asbAcc {
	return &asbAcc{reg: reg}
}

// BlockIntegrityBlock is the BPSec Block Integrity Block (BIB).
type BlockIntegrityBlock struct {
	AbstractSecurityBlock
}

func (bib *BlockIntegrityBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeBlockIntegrityBlock
}

func (bib *BlockIntegrityBlock) BlockTypeName() string {
	return "Block Integrity Block"
}

var decodeBlockIntegrityBlock = bodyDecoder(asbChain, newASBAcc,
	func(a *asbAcc) (ExtensionBlock, error) {
		return &BlockIntegrityBlock{a.asb}, nil
	})

// BlockConfidentialityBlock is the BPSec Block Confidentiality Block (BCB).
type BlockConfidentialityBlock struct {
	AbstractSecurityBlock
}

func (bcb *BlockConfidentialityBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeBlockConfidentialityBlock
}

func (bcb *BlockConfidentialityBlock) BlockTypeName() string {
	return "Block Confidentiality Block"
}

var decodeBlockConfidentialityBlock = bodyDecoder(asbChain, newASBAcc,
	func(a *asbAcc) (ExtensionBlock, error) {
		return &BlockConfidentialityBlock{a.asb}, nil
	})

type securityBlock interface {
	securityTargets() []uint64
}

func (asb *AbstractSecurityBlock) securityTargets() []uint64 {
	return asb.SecurityTargets
}

// securityProcessor rejects bundles whose security blocks refer to missing
// blocks. Block number 0 targets the primary block.
type securityProcessor struct {
	NopProcessor
}

func (securityProcessor) ReceptionProcessing(_ *ProcessingContext, b *Bundle, cb *CanonicalBlock) (bool, error) {
	sb, ok := cb.Value.(securityBlock)
	if !ok {
		return false, fmt.Errorf("block %d is no security block", cb.BlockNumber)
	}

	for _, target := range sb.securityTargets() {
		if target == 0 {
			continue
		}
		if _, err := b.BlockByNumber(target); err != nil {
			return false, fmt.Errorf("%s %d targets missing block %d", cb.Value.BlockTypeName(), cb.BlockNumber, target)
		}
	}
	return false, nil
}
