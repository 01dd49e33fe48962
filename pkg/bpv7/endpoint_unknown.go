// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// UnknownEndpoint keeps an endpoint of an unsupported scheme. Raw holds the
// SSP's exact encoding, which is written back unchanged.
//
// Its URI form is "<scheme number>:<hex encoded SSP>".
type UnknownEndpoint struct {
	No  uint64
	Raw string
}

func parseUnknownEndpoint(uri string) (EndpointType, error) {
	matches := unknownEndpointRe.FindStringSubmatch(uri)
	if len(matches) != 3 {
		return nil, fmt.Errorf("uri %q does not match an unknown endpoint", uri)
	}

	no, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(matches[2])
	if err != nil {
		return nil, err
	}

	e := UnknownEndpoint{No: no, Raw: string(raw)}
	return e, e.CheckValid()
}

// SchemeName is "unknown".
func (UnknownEndpoint) SchemeName() string {
	return "unknown"
}

// SchemeNo is the scheme code as received.
func (e UnknownEndpoint) SchemeNo() uint64 {
	return e.No
}

// Authority is the hex encoded SSP.
func (e UnknownEndpoint) Authority() string {
	return hex.EncodeToString([]byte(e.Raw))
}

// Path is always "/".
func (UnknownEndpoint) Path() string {
	return "/"
}

// IsSingleton cannot be known and is assumed.
func (UnknownEndpoint) IsSingleton() bool {
	return true
}

// CheckValid requires Raw to be exactly one CBOR item.
func (e UnknownEndpoint) CheckValid() error {
	if _, err := parser.Single[any](cbor.DecodeValue, []byte(e.Raw)); err != nil {
		return fmt.Errorf("unknown endpoint's SSP is no CBOR item: %w", err)
	}
	return nil
}

func (e UnknownEndpoint) String() string {
	return fmt.Sprintf("%d:%s", e.No, e.Authority())
}

// SSP writes the received encoding.
func (e UnknownEndpoint) SSP() cbor.Encoder {
	return cbor.Raw([]byte(e.Raw))
}
