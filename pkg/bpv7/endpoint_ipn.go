// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/dtn7/bpstream/pkg/cbor"
)

const (
	ipnEndpointSchemeName string = "ipn"
	ipnEndpointSchemeNo   uint64 = 2
)

var ipnEndpointRe = regexp.MustCompile(`^` + ipnEndpointSchemeName + `:(\d+)\.(\d+)$`)

// IpnEndpoint is an endpoint of the ipn URI scheme, "ipn:node.service".
// Service 0 addresses the node itself.
type IpnEndpoint struct {
	Node    uint64
	Service uint64
}

// NewIpnEndpoint from a URI with the ipn scheme.
func NewIpnEndpoint(uri string) (EndpointType, error) {
	matches := ipnEndpointRe.FindStringSubmatch(uri)
	if len(matches) != 3 {
		return nil, fmt.Errorf("uri %q does not match an ipn endpoint", uri)
	}

	node, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return nil, err
	}
	service, err := strconv.ParseUint(matches[2], 10, 64)
	if err != nil {
		return nil, err
	}

	e := IpnEndpoint{Node: node, Service: service}
	return e, e.CheckValid()
}

func decodeIpnEndpoint(_ *Registry, ssp any) (EndpointType, error) {
	fields, ok := ssp.([]any)
	if !ok || len(fields) != 2 {
		return nil, fmt.Errorf("ipn SSP must be an array of two numbers")
	}

	node, ok1 := fields[0].(uint64)
	service, ok2 := fields[1].(uint64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("ipn SSP must be an array of two numbers")
	}

	return IpnEndpoint{Node: node, Service: service}, nil
}

// SchemeName is "ipn" for IpnEndpoints.
func (IpnEndpoint) SchemeName() string {
	return ipnEndpointSchemeName
}

// SchemeNo is 2 for IpnEndpoints.
func (IpnEndpoint) SchemeNo() uint64 {
	return ipnEndpointSchemeNo
}

// Authority is the node number.
func (e IpnEndpoint) Authority() string {
	return strconv.FormatUint(e.Node, 10)
}

// Path is "/" followed by the service number, or "/" for the node itself.
func (e IpnEndpoint) Path() string {
	if e.Service == 0 {
		return "/"
	}
	return "/" + strconv.FormatUint(e.Service, 10)
}

// IsSingleton is always true for ipn endpoints.
func (IpnEndpoint) IsSingleton() bool {
	return true
}

// CheckValid requires a node number of at least 1.
func (e IpnEndpoint) CheckValid() error {
	if e.Node < 1 {
		return fmt.Errorf("ipn node number must be >= 1")
	}
	return nil
}

func (e IpnEndpoint) String() string {
	return fmt.Sprintf("%s:%d.%d", ipnEndpointSchemeName, e.Node, e.Service)
}

// SSP is the array [node, service].
func (e IpnEndpoint) SSP() cbor.Encoder {
	return cbor.Merge(cbor.Array(2), cbor.UInt(e.Node), cbor.UInt(e.Service))
}
