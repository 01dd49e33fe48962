// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"strings"

	"github.com/dtn7/bpstream/pkg/cbor"
)

const (
	claEndpointSchemeName string = "cla"

	// claEndpointSchemeNo lies in the private use range of the Bundle
	// Protocol URI scheme types.
	claEndpointSchemeNo uint64 = 65536
)

// ClaEndpoint addresses a node by its convergence layer address, e.g.,
// "cla:stcp:10.0.0.1:4556/inbox". Name selects the convergence layer, which
// must be registered for the endpoint to be parsed from the wire.
type ClaEndpoint struct {
	Name    string
	Locator string
	Sink    string
}

// NewClaEndpoint from a URI with the cla scheme.
func NewClaEndpoint(uri string) (EndpointType, error) {
	ssp, ok := strings.CutPrefix(uri, claEndpointSchemeName+":")
	if !ok {
		return nil, fmt.Errorf("uri %q does not match a cla endpoint", uri)
	}

	e, err := parseClaSsp(ssp)
	if err != nil {
		return nil, err
	}
	return e, e.CheckValid()
}

func parseClaSsp(ssp string) (ClaEndpoint, error) {
	name, rest, found := strings.Cut(ssp, ":")
	if !found {
		return ClaEndpoint{}, fmt.Errorf("cla SSP %q has no locator", ssp)
	}

	locator, sink, found := strings.Cut(rest, "/")
	if found {
		sink = "/" + sink
	}
	return ClaEndpoint{Name: name, Locator: locator, Sink: sink}, nil
}

func decodeClaEndpoint(reg *Registry, ssp any) (EndpointType, error) {
	text, ok := ssp.(string)
	if !ok {
		return nil, fmt.Errorf("cla SSP must be a text string")
	}

	e, err := parseClaSsp(text)
	if err != nil {
		return nil, err
	}

	entry, err := reg.CLA(e.Name)
	if err != nil {
		return nil, errFallback
	}
	if entry.CheckLocator != nil {
		if err := entry.CheckLocator(e.Locator); err != nil {
			return nil, fmt.Errorf("cla %s: %w", e.Name, err)
		}
	}
	return e, nil
}

// SchemeName is "cla" for ClaEndpoints.
func (ClaEndpoint) SchemeName() string {
	return claEndpointSchemeName
}

// SchemeNo is a private use scheme code for ClaEndpoints.
func (ClaEndpoint) SchemeNo() uint64 {
	return claEndpointSchemeNo
}

// Authority is the convergence layer name together with its locator.
func (e ClaEndpoint) Authority() string {
	return e.Name + ":" + e.Locator
}

// Path is the sink or "/" for the node itself.
func (e ClaEndpoint) Path() string {
	if e.Sink == "" {
		return "/"
	}
	return e.Sink
}

// IsSingleton is always true for cla endpoints.
func (ClaEndpoint) IsSingleton() bool {
	return true
}

// CheckValid requires both a name and a locator.
func (e ClaEndpoint) CheckValid() error {
	if e.Name == "" || e.Locator == "" {
		return fmt.Errorf("cla endpoint %q needs both a name and a locator", e.String())
	}
	return nil
}

func (e ClaEndpoint) String() string {
	return claEndpointSchemeName + ":" + e.ssp()
}

func (e ClaEndpoint) ssp() string {
	return e.Name + ":" + e.Locator + e.Sink
}

// SSP is the text "name:locator/sink".
func (e ClaEndpoint) SSP() cbor.Encoder {
	return cbor.Text(e.ssp())
}
