// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/dtn7/bpstream/pkg/cbor"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	data, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func parseEndpoint(reg *Registry, data []byte) (EndpointID, error) {
	return reg.ParseEndpointID(data)
}

func TestEndpointVectors(t *testing.T) {
	tests := []struct {
		uri  string
		cbor string
	}{
		{"dtn:none", "820100"},
		{"ipn:23.42", "82028217182a"},
		{"dtn://foo/", "8201662f2f666f6f2f"},
		{"dtn://foo/bar", "8201692f2f666f6f2f626172"},
		{"ipn:1.0", "8202820100"},
	}

	reg := NewRegistry()

	for _, test := range tests {
		eid, err := NewEndpointID(test.uri)
		if err != nil {
			t.Fatalf("%s: %v", test.uri, err)
		}

		data, err := cbor.Collect(eid.encoder())
		if err != nil {
			t.Fatal(err)
		}
		if want := mustHex(t, test.cbor); !bytes.Equal(data, want) {
			t.Fatalf("%s: encoded to %x, expected %x", test.uri, data, want)
		}

		parsed, err := parseEndpoint(reg, data)
		if err != nil {
			t.Fatalf("%s: parsing %x failed: %v", test.uri, data, err)
		}
		if parsed != eid {
			t.Fatalf("%s: parsed into %v", test.uri, parsed)
		}
		if parsed.String() != test.uri {
			t.Fatalf("%s: URI changed to %s", test.uri, parsed.String())
		}
	}
}

func TestEndpointInvalidURIs(t *testing.T) {
	tests := []string{
		"",
		"foo",
		"dtn:",
		"dtn:///bar",
		"ipn:23",
		"ipn:foo.bar",
		"cla:",
		"cla:tcp",
		"nope:23",
	}

	for _, uri := range tests {
		if eid, err := NewEndpointID(uri); err == nil {
			t.Fatalf("%q resulted in %v", uri, eid)
		}
	}
}

func TestEndpointUnknownScheme(t *testing.T) {
	tests := []struct {
		data string
		no   uint64
		raw  string
		uri  string
	}{
		// scheme 42 with SSP [1, 2, 3]
		{"82182a83010203", 42, "\x83\x01\x02\x03", "42:83010203"},
		// scheme 99 with a null SSP
		{"821863f6", 99, "\xf6", "99:f6"},
		// scheme 7 with an empty map
		{"8207a0", 7, "\xa0", "7:a0"},
	}

	for _, test := range tests {
		data := mustHex(t, test.data)

		eid, err := parseEndpoint(NewRegistry(), data)
		if err != nil {
			t.Fatalf("%s: %v", test.data, err)
		}

		unknown, ok := eid.EndpointType.(UnknownEndpoint)
		if !ok {
			t.Fatalf("%s: expected UnknownEndpoint, got %T", test.data, eid.EndpointType)
		}
		if unknown.No != test.no || unknown.Raw != test.raw {
			t.Fatalf("%s: unexpected UnknownEndpoint %#v", test.data, unknown)
		}
		if err := eid.CheckValid(); err != nil {
			t.Fatalf("%s: %v", test.data, err)
		}
		if s := eid.String(); s != test.uri {
			t.Fatalf("%s: unexpected URI %s", test.data, s)
		}

		reencoded, err := cbor.Collect(eid.encoder())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(reencoded, data) {
			t.Fatalf("unknown endpoint changed from %x to %x", data, reencoded)
		}

		if fromURI, err := NewEndpointID(eid.String()); err != nil {
			t.Fatal(err)
		} else if fromURI != eid {
			t.Fatalf("URI %s parsed into %v", eid.String(), fromURI)
		}
	}
}

func TestEndpointNonCanonicalDtnNone(t *testing.T) {
	// dtn scheme with the text SSP "none" instead of 0
	if eid, err := parseEndpoint(NewRegistry(), mustHex(t, "8201646e6f6e65")); err == nil {
		t.Fatalf("text SSP none resulted in %v", eid)
	}

	// an opaque text SSP is still fine
	eid, err := parseEndpoint(NewRegistry(), mustHex(t, "8201646e6f6e6f"))
	if err != nil {
		t.Fatal(err)
	}
	if s := eid.String(); s != "dtn:nono" {
		t.Fatalf("unexpected URI %s", s)
	}
}

func TestEndpointClaScheme(t *testing.T) {
	rb := NewRegistryBuilder()
	if err := rb.RegisterCLA(CLAEntry{Name: "mtcp"}); err != nil {
		t.Fatal(err)
	}
	reg := rb.Build()

	eid, err := reg.NewEndpointID("cla:mtcp:10.0.0.1:35037/inbox")
	if err != nil {
		t.Fatal(err)
	}

	cla, ok := eid.EndpointType.(ClaEndpoint)
	if !ok {
		t.Fatalf("expected ClaEndpoint, got %T", eid.EndpointType)
	}
	if cla.Name != "mtcp" || cla.Locator != "10.0.0.1:35037" || cla.Sink != "/inbox" {
		t.Fatalf("unexpected ClaEndpoint %#v", cla)
	}

	data, err := cbor.Collect(eid.encoder())
	if err != nil {
		t.Fatal(err)
	}

	if parsed, err := parseEndpoint(reg, data); err != nil {
		t.Fatal(err)
	} else if parsed != eid {
		t.Fatalf("parsed %v, expected %v", parsed, eid)
	}

	// Without the convergence layer, the endpoint is kept as an unknown one.
	parsed, err := parseEndpoint(NewRegistry(), data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed.EndpointType.(UnknownEndpoint); !ok {
		t.Fatalf("expected UnknownEndpoint, got %T", parsed.EndpointType)
	}
	if reencoded, _ := cbor.Collect(parsed.encoder()); !bytes.Equal(reencoded, data) {
		t.Fatalf("unknown cla endpoint changed from %x to %x", data, reencoded)
	}

	var notFound *NotFoundError
	if _, err := reg.NewEndpointID("cla:other:host"); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestEndpointProperties(t *testing.T) {
	tests := []struct {
		uri       string
		authority string
		path      string
		singleton bool
	}{
		{"dtn:none", "none", "/", false},
		{"dtn://foo/", "foo", "/", true},
		{"dtn://foo/bar", "foo", "/bar", true},
		{"dtn://foo/~group", "foo", "/~group", false},
		{"ipn:23.42", "23", "/42", true},
	}

	for _, test := range tests {
		eid := MustNewEndpointID(test.uri)

		if a := eid.Authority(); a != test.authority {
			t.Fatalf("%s: authority %q, expected %q", test.uri, a, test.authority)
		}
		if p := eid.Path(); p != test.path {
			t.Fatalf("%s: path %q, expected %q", test.uri, p, test.path)
		}
		if s := eid.IsSingleton(); s != test.singleton {
			t.Fatalf("%s: singleton %t, expected %t", test.uri, s, test.singleton)
		}
	}

	if !MustNewEndpointID("dtn://foo/bar").SameNode(MustNewEndpointID("dtn://foo/baz")) {
		t.Fatal("endpoints of the same node are not considered the same node")
	}
	if MustNewEndpointID("dtn://foo/bar").SameNode(MustNewEndpointID("dtn://bar/bar")) {
		t.Fatal("endpoints of different nodes are considered the same node")
	}
}

func TestEndpointZeroValue(t *testing.T) {
	var eid EndpointID
	if !eid.IsNone() {
		t.Fatalf("zero EndpointID is not dtn:none: %v", eid)
	}
	if s := eid.String(); s != "dtn:none" {
		t.Fatalf("zero EndpointID prints as %s", s)
	}
}
