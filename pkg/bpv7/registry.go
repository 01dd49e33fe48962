// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// BlockEntry describes a block type.
type BlockEntry struct {
	// Code is the block type code.
	Code uint64

	// Name is a human readable name of this block type.
	Name string

	// New creates an empty value of this block type.
	New func() ExtensionBlock

	// Decode creates the sub-program for n bytes of block-type-specific data.
	// The program's value must be an ExtensionBlock.
	Decode func(reg *Registry, n uint64) parser.State

	// Encode writes the block-type-specific data. If nil, the block's own Body
	// is used.
	Encode func(b ExtensionBlock) (cbor.Encoder, error)

	// Processor handles blocks of this type in the processing pipeline. A nil
	// Processor leaves unprocessed blocks to their block control flags.
	Processor BlockProcessor
}

func (e BlockEntry) encode(b ExtensionBlock) (cbor.Encoder, error) {
	if e.Encode != nil {
		return e.Encode(b)
	}
	return b.Body(), nil
}

// SchemeEntry describes an endpoint URI scheme.
type SchemeEntry struct {
	// No is the scheme code.
	No uint64

	// Name is the URI scheme name.
	Name string

	// New parses an endpoint from its URI.
	New func(uri string) (EndpointType, error)

	// Decode creates an endpoint from its generically decoded SSP.
	Decode func(reg *Registry, ssp any) (EndpointType, error)
}

// CLAEntry describes a convergence layer name usable in cla endpoints.
type CLAEntry struct {
	Name string

	// CheckLocator validates a locator, e.g., a host and port. Optional.
	CheckLocator func(locator string) error
}

// AlreadyManagedError is returned for a registration whose identifier is
// already taken by a built-in or an earlier registration.
type AlreadyManagedError struct {
	Kind    string
	ID      string
	Name    string
	Builtin bool
}

func (e *AlreadyManagedError) Error() string {
	origin := "registered"
	if e.Builtin {
		origin = "built-in"
	}
	return fmt.Sprintf("%s %s is already managed as %s %q", e.Kind, e.ID, origin, e.Name)
}

// NotFoundError is returned for a lookup without result.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s %s", e.Kind, e.ID)
}

// RegistryBuilder collects extensions for a Registry.
type RegistryBuilder struct {
	blocks  map[uint64]BlockEntry
	schemes map[uint64]SchemeEntry
	clas    map[string]CLAEntry
}

// NewRegistryBuilder without any extensions.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		blocks:  make(map[uint64]BlockEntry),
		schemes: make(map[uint64]SchemeEntry),
		clas:    make(map[string]CLAEntry),
	}
}

// RegisterBlock adds a block type. A type code already used by a built-in or
// an earlier registration results in an AlreadyManagedError, leaving the
// existing entry in place.
func (rb *RegistryBuilder) RegisterBlock(entry BlockEntry) error {
	id := strconv.FormatUint(entry.Code, 10)
	if e, ok := builtinBlocks()[entry.Code]; ok {
		return &AlreadyManagedError{Kind: "block type", ID: id, Name: e.Name, Builtin: true}
	}
	if e, ok := rb.blocks[entry.Code]; ok {
		return &AlreadyManagedError{Kind: "block type", ID: id, Name: e.Name}
	}
	if entry.Decode == nil {
		return fmt.Errorf("block type %d has no decoder", entry.Code)
	}

	rb.blocks[entry.Code] = entry
	return nil
}

// RegisterScheme adds an endpoint scheme. Both its code and its name must be
// unused.
func (rb *RegistryBuilder) RegisterScheme(entry SchemeEntry) error {
	id := fmt.Sprintf("%d (%s)", entry.No, entry.Name)
	for _, tables := range []struct {
		entries map[uint64]SchemeEntry
		builtin bool
	}{{builtinSchemes(), true}, {rb.schemes, false}} {
		for _, e := range tables.entries {
			if e.No == entry.No || e.Name == entry.Name {
				return &AlreadyManagedError{Kind: "endpoint scheme", ID: id, Name: e.Name, Builtin: tables.builtin}
			}
		}
	}
	if entry.New == nil || entry.Decode == nil {
		return fmt.Errorf("endpoint scheme %s is incomplete", id)
	}

	rb.schemes[entry.No] = entry
	return nil
}

// RegisterCLA adds a convergence layer name for cla endpoints.
func (rb *RegistryBuilder) RegisterCLA(entry CLAEntry) error {
	if e, ok := rb.clas[entry.Name]; ok {
		return &AlreadyManagedError{Kind: "convergence layer", ID: entry.Name, Name: e.Name}
	}
	if entry.Name == "" {
		return fmt.Errorf("convergence layer without name")
	}

	rb.clas[entry.Name] = entry
	return nil
}

// Build an immutable Registry. The builder can be reused afterwards.
func (rb *RegistryBuilder) Build() *Registry {
	r := &Registry{
		builtinBlocks:  builtinBlocks(),
		extBlocks:      make(map[uint64]BlockEntry, len(rb.blocks)),
		builtinSchemes: builtinSchemes(),
		extSchemes:     make(map[uint64]SchemeEntry, len(rb.schemes)),
		clas:           make(map[string]CLAEntry, len(rb.clas)),
	}

	for k, v := range rb.blocks {
		r.extBlocks[k] = v
	}
	for k, v := range rb.schemes {
		r.extSchemes[k] = v
	}
	for k, v := range rb.clas {
		r.clas[k] = v
	}

	r.endpointChain = newEndpointChain()
	r.primaryChain = r.newPrimaryChain()
	r.canonicalChain = r.newCanonicalChain()
	r.bundleChain = r.newBundleChain()
	return r
}

// Registry knows all block types and endpoint schemes. Built-ins always take
// precedence over extensions. A Registry is immutable and safe for
// concurrent use.
type Registry struct {
	builtinBlocks  map[uint64]BlockEntry
	extBlocks      map[uint64]BlockEntry
	builtinSchemes map[uint64]SchemeEntry
	extSchemes     map[uint64]SchemeEntry
	clas           map[string]CLAEntry

	endpointChain  *cbor.Chain[endpointAcc]
	primaryChain   *cbor.Chain[primaryAcc]
	canonicalChain *cbor.Chain[canonicalAcc]
	bundleChain    *cbor.Chain[bundleAcc]
}

// NewRegistry with only the built-in block types and endpoint schemes.
func NewRegistry() *Registry {
	return NewRegistryBuilder().Build()
}

// Block looks up a block type.
func (r *Registry) Block(code uint64) (BlockEntry, error) {
	if e, ok := r.builtinBlocks[code]; ok {
		return e, nil
	}
	if e, ok := r.extBlocks[code]; ok {
		return e, nil
	}
	return BlockEntry{}, &NotFoundError{Kind: "block type", ID: strconv.FormatUint(code, 10)}
}

// BlockCodes lists all known block type codes in ascending order.
func (r *Registry) BlockCodes() []uint64 {
	codes := make([]uint64, 0, len(r.builtinBlocks)+len(r.extBlocks))
	for code := range r.builtinBlocks {
		codes = append(codes, code)
	}
	for code := range r.extBlocks {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Scheme looks up an endpoint scheme by its code.
func (r *Registry) Scheme(no uint64) (SchemeEntry, error) {
	if e, ok := r.builtinSchemes[no]; ok {
		return e, nil
	}
	if e, ok := r.extSchemes[no]; ok {
		return e, nil
	}
	return SchemeEntry{}, &NotFoundError{Kind: "endpoint scheme", ID: strconv.FormatUint(no, 10)}
}

// SchemeByName looks up an endpoint scheme by its URI scheme name.
func (r *Registry) SchemeByName(name string) (SchemeEntry, error) {
	for _, table := range []map[uint64]SchemeEntry{r.builtinSchemes, r.extSchemes} {
		for _, e := range table {
			if e.Name == name {
				return e, nil
			}
		}
	}
	return SchemeEntry{}, &NotFoundError{Kind: "endpoint scheme", ID: name}
}

// CLA looks up a convergence layer name.
func (r *Registry) CLA(name string) (CLAEntry, error) {
	if e, ok := r.clas[name]; ok {
		return e, nil
	}
	return CLAEntry{}, &NotFoundError{Kind: "convergence layer", ID: name}
}

// NewEndpointID parses a URI of any known scheme.
func (r *Registry) NewEndpointID(uri string) (EndpointID, error) {
	schemes := make(map[uint64]SchemeEntry, len(r.builtinSchemes)+len(r.extSchemes))
	for k, v := range r.extSchemes {
		schemes[k] = v
	}
	for k, v := range r.builtinSchemes {
		schemes[k] = v
	}

	eid, err := newEndpointID(uri, schemes)
	if err != nil {
		return eid, err
	}

	if cla, ok := eid.EndpointType.(ClaEndpoint); ok {
		entry, err := r.CLA(cla.Name)
		if err != nil {
			return EndpointID{}, err
		}
		if entry.CheckLocator != nil {
			if err := entry.CheckLocator(cla.Locator); err != nil {
				return EndpointID{}, err
			}
		}
	}
	return eid, nil
}

func builtinSchemes() map[uint64]SchemeEntry {
	return map[uint64]SchemeEntry{
		dtnEndpointSchemeNo: {No: dtnEndpointSchemeNo, Name: dtnEndpointSchemeName, New: NewDtnEndpoint, Decode: decodeDtnEndpoint},
		ipnEndpointSchemeNo: {No: ipnEndpointSchemeNo, Name: ipnEndpointSchemeName, New: NewIpnEndpoint, Decode: decodeIpnEndpoint},
		claEndpointSchemeNo: {No: claEndpointSchemeNo, Name: claEndpointSchemeName, New: NewClaEndpoint, Decode: decodeClaEndpoint},
	}
}

func builtinBlocks() map[uint64]BlockEntry {
	entries := []BlockEntry{
		{
			Code:      ExtBlockTypePayloadBlock,
			Name:      "Payload Block",
			New:       func() ExtensionBlock { return NewPayloadBlock(nil) },
			Decode:    decodePayloadBlock,
			Processor: NopProcessor{},
		},
		{
			Code:      ExtBlockTypePreviousNodeBlock,
			Name:      "Previous Node Block",
			New:       func() ExtensionBlock { return NewPreviousNodeBlock(DtnNone()) },
			Decode:    decodePreviousNodeBlock,
			Processor: previousNodeProcessor{},
		},
		{
			Code:      ExtBlockTypeBundleAgeBlock,
			Name:      "Bundle Age Block",
			New:       func() ExtensionBlock { return NewBundleAgeBlock(0) },
			Decode:    decodeBundleAgeBlock,
			Processor: bundleAgeProcessor{},
		},
		{
			Code:      ExtBlockTypeHopCountBlock,
			Name:      "Hop Count Block",
			New:       func() ExtensionBlock { return NewHopCountBlock(0) },
			Decode:    decodeHopCountBlock,
			Processor: hopCountProcessor{},
		},
		{
			Code:      ExtBlockTypeBlockIntegrityBlock,
			Name:      "Block Integrity Block",
			New:       func() ExtensionBlock { return &BlockIntegrityBlock{} },
			Decode:    decodeBlockIntegrityBlock,
			Processor: securityProcessor{},
		},
		{
			Code:      ExtBlockTypeBlockConfidentialityBlock,
			Name:      "Block Confidentiality Block",
			New:       func() ExtensionBlock { return &BlockConfidentialityBlock{} },
			Decode:    decodeBlockConfidentialityBlock,
			Processor: securityProcessor{},
		},
		{
			Code:      ExtBlockTypeFlowLabelBlock,
			Name:      "Flow Label Block",
			New:       func() ExtensionBlock { return NewFlowLabelBlock() },
			Decode:    decodeFlowLabelBlock,
			Processor: NopProcessor{},
		},
		{
			Code:      ExtBlockTypeManifestBlock,
			Name:      "Manifest Block",
			New:       func() ExtensionBlock { return NewManifestBlock() },
			Decode:    decodeManifestBlock,
			Processor: manifestProcessor{},
		},
	}

	m := make(map[uint64]BlockEntry, len(entries))
	for _, e := range entries {
		m[e.Code] = e
	}
	return m
}
