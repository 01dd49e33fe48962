// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package parser

import (
	"bytes"
	"errors"
	"testing"
)

func TestUintWidths(t *testing.T) {
	tests := []struct {
		width int
		data  []byte
		want  uint64
	}{
		{1, []byte{0x2a}, 42},
		{2, []byte{0x01, 0x00}, 256},
		{4, []byte{0xde, 0xad, 0xbe, 0xef}, 0xdeadbeef},
		{8, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, 0x0102030405060708},
	}

	for _, test := range tests {
		s := Uint("uint", test.width, func(v uint64) (State, error) { return Done(v), nil })

		// Feed one byte at a time.
		for i := range test.data {
			var n int
			var err error
			s, n, err = Step(s, test.data[i:i+1])
			if err != nil {
				t.Fatalf("width %d: step %d failed: %v", test.width, i, err)
			}
			if n != 1 {
				t.Fatalf("width %d: step %d consumed %d bytes", test.width, i, n)
			}
		}

		if !s.IsDone() {
			t.Fatalf("width %d: state %v is not done", test.width, s)
		}
		if v := s.Value().(uint64); v != test.want {
			t.Fatalf("width %d: got %d, expected %d", test.width, v, test.want)
		}
	}
}

func TestUintInvalidWidth(t *testing.T) {
	s := Uint("uint", 3, func(v uint64) (State, error) { return Done(v), nil })
	if s.Kind() != KindFail {
		t.Fatalf("width 3 resulted in %v", s)
	}
}

func TestBufferConsumesPrefix(t *testing.T) {
	s := Buffer("buf", 3, func(data []byte) (State, error) { return Done(data), nil })

	s, n, err := Step(s, []byte{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("consumed %d bytes, expected 3", n)
	}
	if !bytes.Equal(s.Value().([]byte), []byte{1, 2, 3}) {
		t.Fatalf("unexpected value %v", s.Value())
	}
}

func TestZeroBufferSettlesEagerly(t *testing.T) {
	s := Buffer("empty", 0, func(data []byte) (State, error) { return Done(len(data)), nil })
	if !s.IsDone() || s.Value().(int) != 0 {
		t.Fatalf("zero sized buffer is %v", s)
	}
}

func TestMetaContinues(t *testing.T) {
	inner := Uint("inner", 2, func(v uint64) (State, error) { return Done(v), nil })
	s := Meta("outer", inner, Then("outer", func(v uint64) (State, error) {
		return Done(v * 2), nil
	}))

	s, _, err := Step(s, []byte{0x00})
	if err != nil || s.Kind() != KindMeta {
		t.Fatalf("unexpected state %v, %v", s, err)
	}

	s, _, err = Step(s, []byte{0x15})
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsDone() || s.Value().(uint64) != 42 {
		t.Fatalf("unexpected state %v", s)
	}
}

func TestMetaWrongType(t *testing.T) {
	inner := Done("string")
	s := Meta("outer", inner, Then("outer", func(v uint64) (State, error) {
		return Done(v), nil
	}))

	if s.Kind() != KindFail {
		t.Fatalf("expected failure, got %v", s)
	}
}

func TestTeeRecords(t *testing.T) {
	var rec bytes.Buffer
	inner := Buffer("inner", 4, func(data []byte) (State, error) { return Done(nil), nil })
	s := Tee("tee", inner, &rec, func(any) (State, error) { return Done(rec.Len()), nil })

	for _, chunk := range [][]byte{{0xa}, {0xb, 0xc}, {0xd, 0xe, 0xf}} {
		var err error
		if s, _, err = Step(s, chunk); err != nil {
			t.Fatal(err)
		}
	}

	if !s.IsDone() || s.Value().(int) != 4 {
		t.Fatalf("unexpected state %v", s)
	}
	if !bytes.Equal(rec.Bytes(), []byte{0xa, 0xb, 0xc, 0xd}) {
		t.Fatalf("recorded %x", rec.Bytes())
	}
}

func TestLimit(t *testing.T) {
	twoBytes := func() State {
		return Buffer("two", 2, func(data []byte) (State, error) { return Done(data), nil })
	}
	done := func(v any) (State, error) { return Done(v), nil }

	tests := []struct {
		name  string
		limit int
		ok    bool
	}{
		{"exact", 2, true},
		{"too long", 3, false},
		{"too short", 1, false},
		{"zero", 0, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := Limit("limit", test.limit, twoBytes(), done)

			var err error
			for i := 0; i < 3 && err == nil && s.Kind() != KindFail && !s.IsDone(); i++ {
				s, _, err = Step(s, []byte{0xff})
			}
			if err == nil && s.Kind() == KindFail {
				err = s.Err()
			}

			if test.ok && (err != nil || !s.IsDone()) {
				t.Fatalf("expected success, got %v, %v", s, err)
			} else if !test.ok && err == nil {
				t.Fatalf("expected an error, got %v", s)
			}
		})
	}
}

func TestStepErrorNamesInnermostState(t *testing.T) {
	errBoom := errors.New("boom")
	inner := Func("innermost", func(buf []byte) (State, int, error) { return State{}, 0, errBoom })
	s := Meta("outer", Meta("middle", inner, nil), nil)

	_, _, err := Step(s, []byte{0})

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if pe.State != "innermost" {
		t.Fatalf("error names state %q", pe.State)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("error %v does not wrap cause", err)
	}
}
