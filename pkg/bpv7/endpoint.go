// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// EndpointType is one URI scheme of an EndpointID.
type EndpointType interface {
	// SchemeName is the URI scheme, e.g., "dtn".
	SchemeName() string

	// SchemeNo is the IANA registered scheme code, e.g., 1 for "dtn".
	SchemeNo() uint64

	// Authority is the node part of the URI, e.g., "foo" for "dtn://foo/bar".
	Authority() string

	// Path is the demux part of the URI, e.g., "/bar" for "dtn://foo/bar".
	Path() string

	// IsSingleton reports whether this endpoint refers to exactly one node.
	IsSingleton() bool

	// SSP encodes the scheme-specific part.
	SSP() cbor.Encoder

	Valid
	fmt.Stringer
}

// EndpointID identifies a bundle endpoint, RFC 9171 section 4.2.5.1. The zero
// value is the null endpoint dtn:none.
type EndpointID struct {
	EndpointType EndpointType
}

// errFallback signals that an SSP is syntactically fine but should be kept
// as an UnknownEndpoint.
var errFallback = errors.New("endpoint falls back to unknown scheme")

var unknownEndpointRe = regexp.MustCompile(`^(\d+):([0-9a-f]*)$`)

// NewEndpointID parses a URI of one of the built-in schemes. For registered
// extension schemes, use Registry.NewEndpointID.
func NewEndpointID(uri string) (EndpointID, error) {
	return newEndpointID(uri, builtinSchemes())
}

// MustNewEndpointID calls NewEndpointID and panics on an error.
func MustNewEndpointID(uri string) EndpointID {
	eid, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return eid
}

func newEndpointID(uri string, schemes map[uint64]SchemeEntry) (EndpointID, error) {
	if unknownEndpointRe.MatchString(uri) {
		et, err := parseUnknownEndpoint(uri)
		return EndpointID{et}, err
	}

	name, _, found := strings.Cut(uri, ":")
	if !found {
		return EndpointID{}, fmt.Errorf("%q has no URI scheme", uri)
	}

	for _, entry := range schemes {
		if entry.Name != name {
			continue
		}

		et, err := entry.New(uri)
		if err != nil {
			return EndpointID{}, err
		}
		if err := et.CheckValid(); err != nil {
			return EndpointID{}, err
		}
		return EndpointID{et}, nil
	}

	return EndpointID{}, &NotFoundError{Kind: "endpoint scheme", ID: name}
}

// DtnNone returns the null endpoint "dtn:none".
func DtnNone() EndpointID {
	return EndpointID{DtnEndpoint{Ssp: dtnEndpointDtnNoneSsp}}
}

func (eid EndpointID) endpoint() EndpointType {
	if eid.EndpointType == nil {
		return DtnEndpoint{Ssp: dtnEndpointDtnNoneSsp}
	}
	return eid.EndpointType
}

// Authority part of the URI.
func (eid EndpointID) Authority() string {
	return eid.endpoint().Authority()
}

// Path part of the URI.
func (eid EndpointID) Path() string {
	return eid.endpoint().Path()
}

// IsSingleton reports whether this endpoint refers to exactly one node.
func (eid EndpointID) IsSingleton() bool {
	return eid.endpoint().IsSingleton()
}

// IsNone checks for the null endpoint.
func (eid EndpointID) IsNone() bool {
	return eid.endpoint() == DtnNone().EndpointType
}

// SameNode checks if both endpoints have the same scheme and authority.
func (eid EndpointID) SameNode(other EndpointID) bool {
	a, b := eid.endpoint(), other.endpoint()
	return a.SchemeNo() == b.SchemeNo() && a.Authority() == b.Authority()
}

// Matches reports whether eid is addressed by pattern. Next to equality, a
// path-qualified endpoint matches its authority-only form; this resolves a
// sink endpoint to its node.
func (eid EndpointID) Matches(pattern EndpointID) bool {
	if eid == pattern {
		return true
	}
	if !eid.SameNode(pattern) {
		return false
	}
	p := pattern.Path()
	return p == "" || p == "/"
}

// CheckValid checks the underlying EndpointType.
func (eid EndpointID) CheckValid() error {
	return eid.endpoint().CheckValid()
}

func (eid EndpointID) String() string {
	return eid.endpoint().String()
}

// MarshalJSON creates a JSON string of this endpoint's URI.
func (eid EndpointID) MarshalJSON() ([]byte, error) {
	return json.Marshal(eid.String())
}

// encoder writes [scheme, ssp].
func (eid EndpointID) encoder() cbor.Encoder {
	et := eid.endpoint()
	return cbor.Merge(cbor.Array(2), cbor.UInt(et.SchemeNo()), et.SSP())
}

// Encoder writes this EndpointID as a standalone CBOR item.
func (eid EndpointID) Encoder() cbor.Encoder {
	return eid.encoder()
}

type endpointAcc struct {
	scheme uint64
	ssp    any
	raw    []byte
}

func newEndpointChain() *cbor.Chain[endpointAcc] {
	return cbor.NewChain[endpointAcc]("endpoint").
		Array("endpoint", cbor.ExactLength[endpointAcc](2)).
		UInt("scheme", func(a *endpointAcc, v uint64) error { a.scheme = v; return nil }).
		Capture("ssp", func(a *endpointAcc, v any, raw []byte) error {
			a.ssp = v
			a.raw = append([]byte{}, raw...)
			return nil
		})
}

// endpointDecoder creates the sub-program for an EndpointID.
func (r *Registry) endpointDecoder() parser.State {
	return r.endpointChain.State(new(endpointAcc), func(a *endpointAcc) (any, error) {
		return r.decodeEndpoint(a.scheme, a.ssp, a.raw)
	})
}

// EndpointProgram parses one EndpointID, e.g., within a handshake.
func (r *Registry) EndpointProgram() parser.Program {
	return r.endpointDecoder
}

// ParseEndpointID from exactly one encoded EndpointID.
func (r *Registry) ParseEndpointID(data []byte) (EndpointID, error) {
	return parser.Single[EndpointID](r.EndpointProgram(), data)
}

// decodeEndpoint resolves a scheme by the registry. Unknown schemes result in
// an UnknownEndpoint carrying the SSP's exact encoding.
func (r *Registry) decodeEndpoint(scheme uint64, ssp any, raw []byte) (EndpointID, error) {
	unknown := EndpointID{UnknownEndpoint{No: scheme, Raw: string(raw)}}

	entry, err := r.Scheme(scheme)
	if err != nil {
		return unknown, nil
	}

	et, err := entry.Decode(r, ssp)
	switch {
	case errors.Is(err, errFallback):
		return unknown, nil
	case err != nil:
		return EndpointID{}, fmt.Errorf("%s endpoint: %w", entry.Name, err)
	default:
		return EndpointID{et}, nil
	}
}
