// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"strings"

	"github.com/dtn7/bpstream/pkg/cbor"
)

const (
	dtnEndpointSchemeName string = "dtn"
	dtnEndpointSchemeNo   uint64 = 1
	dtnEndpointDtnNoneSsp string = "none"
)

// DtnEndpoint is an endpoint of the dtn URI scheme, either the null endpoint
// "dtn:none", a hierarchical "dtn://node/demux" or an opaque "dtn:node".
type DtnEndpoint struct {
	Ssp string
}

// NewDtnEndpoint from a URI with the dtn scheme.
func NewDtnEndpoint(uri string) (EndpointType, error) {
	ssp, ok := strings.CutPrefix(uri, dtnEndpointSchemeName+":")
	if !ok {
		return nil, fmt.Errorf("uri %q does not match a dtn endpoint", uri)
	}

	e := DtnEndpoint{Ssp: ssp}
	return e, e.CheckValid()
}

func decodeDtnEndpoint(_ *Registry, ssp any) (EndpointType, error) {
	switch ssp := ssp.(type) {
	case uint64:
		if ssp != 0 {
			return nil, fmt.Errorf("unsigned integer SSP %d is not dtn:none", ssp)
		}
		return DtnEndpoint{Ssp: dtnEndpointDtnNoneSsp}, nil

	case string:
		if ssp == dtnEndpointDtnNoneSsp {
			return nil, fmt.Errorf("text SSP %q must be encoded as 0", ssp)
		}
		return DtnEndpoint{Ssp: ssp}, nil

	default:
		return nil, fmt.Errorf("unexpected SSP type %T", ssp)
	}
}

// SchemeName is "dtn" for DtnEndpoints.
func (DtnEndpoint) SchemeName() string {
	return dtnEndpointSchemeName
}

// SchemeNo is 1 for DtnEndpoints.
func (DtnEndpoint) SchemeNo() uint64 {
	return dtnEndpointSchemeNo
}

func (e DtnEndpoint) split() (authority, path string) {
	if e.Ssp == dtnEndpointDtnNoneSsp {
		return dtnEndpointDtnNoneSsp, "/"
	}

	rest := strings.TrimPrefix(e.Ssp, "//")
	authority, path, found := strings.Cut(rest, "/")
	if found {
		path = "/" + path
	} else {
		path = "/"
	}
	return
}

// Authority is the node name, e.g., "foo" for "dtn://foo/bar".
func (e DtnEndpoint) Authority() string {
	authority, _ := e.split()
	return authority
}

// Path is the demux part, e.g., "/bar" for "dtn://foo/bar".
func (e DtnEndpoint) Path() string {
	_, path := e.split()
	return path
}

// IsSingleton is false for dtn:none and group demuxes starting with a "~".
func (e DtnEndpoint) IsSingleton() bool {
	if e.Ssp == dtnEndpointDtnNoneSsp {
		return false
	}
	return !strings.HasPrefix(e.Path(), "/~")
}

// CheckValid requires a non-empty node name.
func (e DtnEndpoint) CheckValid() error {
	if e.Ssp == "" {
		return fmt.Errorf("dtn endpoint has an empty SSP")
	}
	if e.Authority() == "" {
		return fmt.Errorf("dtn endpoint %q has no node name", e.String())
	}
	return nil
}

func (e DtnEndpoint) String() string {
	return dtnEndpointSchemeName + ":" + e.Ssp
}

// SSP is 0 for dtn:none and a text string otherwise.
func (e DtnEndpoint) SSP() cbor.Encoder {
	if e.Ssp == dtnEndpointDtnNoneSsp {
		return cbor.UInt(0)
	}
	return cbor.Text(e.Ssp)
}
