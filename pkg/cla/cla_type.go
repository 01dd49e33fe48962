// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"errors"
	"fmt"
	"net"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// CLAType is one of the supported Convergence Layer Adaptors.
type CLAType uint

const (
	// STCP identifies the Simple TCP Convergence-Layer, implemented in cla/stcp.
	STCP CLAType = 10

	// QUICL identifies the QUIC Convergence-Layer, implemented in cla/quicl.
	QUICL CLAType = 20

	unknownClaTypeString string = "unknown CLA type"
)

// CLATypes lists each known CLAType.
var CLATypes = []CLAType{STCP, QUICL}

// CheckValid checks if its value is known.
func (claType CLAType) CheckValid() (err error) {
	if claType.String() == unknownClaTypeString {
		err = errors.New(unknownClaTypeString)
	}
	return
}

func (claType CLAType) String() string {
	switch claType {
	case STCP:
		return "STCP"

	case QUICL:
		return "QUICL"

	default:
		return unknownClaTypeString
	}
}

// Name is the lower case name used in configurations and cla endpoints.
func (claType CLAType) Name() string {
	switch claType {
	case STCP:
		return "stcp"

	case QUICL:
		return "quicl"

	default:
		return ""
	}
}

// ParseCLAType from its Name.
func ParseCLAType(name string) (CLAType, error) {
	for _, claType := range CLATypes {
		if claType.Name() == name {
			return claType, nil
		}
	}
	return 0, fmt.Errorf("%s: %q", unknownClaTypeString, name)
}

// checkHostPort accepts locators of the form host:port.
func checkHostPort(locator string) error {
	_, _, err := net.SplitHostPort(locator)
	return err
}

// RegisterCLAs makes all CLATypes usable within cla endpoints, e.g.,
// "cla:stcp:10.0.0.1:4556".
func RegisterCLAs(rb *bpv7.RegistryBuilder) error {
	for _, claType := range CLATypes {
		err := rb.RegisterCLA(bpv7.CLAEntry{
			Name:         claType.Name(),
			CheckLocator: checkHostPort,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
