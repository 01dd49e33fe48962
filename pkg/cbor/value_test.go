// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cbor

import (
	"bytes"
	"math"
	"reflect"
	"testing"

	"github.com/dtn7/bpstream/pkg/parser"
)

func TestDecodeValue(t *testing.T) {
	// Examples from RFC 8949, Appendix A.
	tests := []struct {
		data      []byte
		want      any
		canonical bool
	}{
		{[]byte{0x18, 0x64}, uint64(100), true},
		{[]byte{0x39, 0x03, 0xe7}, int64(-1000), true},
		{[]byte{0xf4}, false, true},
		{[]byte{0xf5}, true, true},
		{[]byte{0xf6}, nil, true},
		{[]byte{0xf7}, Undefined{}, true},
		{[]byte{0xf0}, Simple(16), true},
		{[]byte{0xf8, 0xff}, Simple(255), true},
		{[]byte{0xf9, 0x3e, 0x00}, 1.5, false},
		{[]byte{0xf9, 0xc4, 0x00}, -4.0, false},
		{[]byte{0xfa, 0x47, 0xc3, 0x50, 0x00}, 100000.0, false},
		{[]byte{0xfb, 0xc0, 0x10, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66}, -4.1, true},
		{[]byte{0x44, 0x01, 0x02, 0x03, 0x04}, []byte{1, 2, 3, 4}, true},
		{[]byte{0x62, 0x22, 0x5c}, "\"\\", true},
		{[]byte{0x83, 0x01, 0x82, 0x02, 0x03, 0x82, 0x04, 0x05},
			[]any{uint64(1), []any{uint64(2), uint64(3)}, []any{uint64(4), uint64(5)}}, true},
		{[]byte{0x9f, 0x01, 0x82, 0x02, 0x03, 0x9f, 0x04, 0x05, 0xff, 0xff},
			[]any{uint64(1), []any{uint64(2), uint64(3)}, []any{uint64(4), uint64(5)}}, false},
		{[]byte{0xa2, 0x61, 0x61, 0x01, 0x61, 0x62, 0x82, 0x02, 0x03},
			[]MapEntry{{"a", uint64(1)}, {"b", []any{uint64(2), uint64(3)}}}, true},
		{[]byte{0xbf, 0x61, 0x61, 0x01, 0xff},
			[]MapEntry{{"a", uint64(1)}}, false},
		{[]byte{0xc1, 0x1a, 0x51, 0x4b, 0x67, 0xb0}, Tagged{1, uint64(1363896240)}, true},
		{[]byte{0x80}, []any{}, true},
	}

	for _, test := range tests {
		v := parseEverySplit[any](t, DecodeValue, test.data)
		if !reflect.DeepEqual(v, test.want) {
			t.Fatalf("%x: got %#v, expected %#v", test.data, v, test.want)
		}

		if !test.canonical {
			continue
		}
		if enc, err := Collect(Value(v)); err != nil {
			t.Fatalf("%x: encoding failed: %v", test.data, err)
		} else if !bytes.Equal(enc, test.data) {
			t.Fatalf("%#v: encoded as %x, expected %x", v, enc, test.data)
		}
	}
}

func TestFloat16Special(t *testing.T) {
	if v := float16(0x7c00); !math.IsInf(v, 1) {
		t.Fatalf("0x7c00 is %v", v)
	}
	if v := float16(0x7e00); !math.IsNaN(v) {
		t.Fatalf("0x7e00 is %v", v)
	}
	if v := float16(0x0001); v != 5.960464477539063e-8 {
		t.Fatalf("0x0001 is %v", v)
	}
}

func TestDecodeValueDepthLimit(t *testing.T) {
	data := bytes.Repeat([]byte{0x81}, MaxDepth+2)
	data = append(data, 0x00)

	if _, err := parser.Single[any](DecodeValue, data); err == nil {
		t.Fatal("deep nesting was accepted")
	}
}

func TestDecodeValueUnexpectedBreak(t *testing.T) {
	if _, err := parser.Single[any](DecodeValue, []byte{0xff}); err == nil {
		t.Fatal("lone break was accepted")
	}
	if _, err := parser.Single[any](DecodeValue, []byte{0x82, 0x01, 0xff}); err == nil {
		t.Fatal("break in definite array was accepted")
	}
}
