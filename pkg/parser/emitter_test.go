// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

// pascalString is a program reading a one byte length followed by that many
// bytes. A zero length is rejected.
func pascalString() State {
	return Uint("length", 1, func(n uint64) (State, error) {
		if n == 0 {
			return State{}, fmt.Errorf("empty string")
		}
		return Buffer("content", int(n), func(data []byte) (State, error) {
			return Done(string(data)), nil
		}), nil
	})
}

func encodePascal(strs ...string) []byte {
	var buf bytes.Buffer
	for _, s := range strs {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}
	return buf.Bytes()
}

func TestEmitterMultipleValues(t *testing.T) {
	var got []string
	em := NewEmitter[string](pascalString, func(s string) { got = append(got, s) }, nil)

	if err := em.Feed(encodePascal("hello", "world", "!")); err != nil {
		t.Fatal(err)
	}

	if want := []string{"hello", "world", "!"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, expected %v", got, want)
	}
	if em.InProgress() {
		t.Fatal("emitter is still in progress")
	}
}

func TestEmitterSplitIndependence(t *testing.T) {
	data := encodePascal("bundle", "protocol", "seven")
	want := []string{"bundle", "protocol", "seven"}

	for split := 0; split <= len(data); split++ {
		var got []string
		em := NewEmitter[string](pascalString, func(s string) { got = append(got, s) }, nil)

		if split > 0 {
			if err := em.Feed(data[:split]); err != nil {
				t.Fatalf("split %d: %v", split, err)
			}
		}
		if split < len(data) {
			if err := em.Feed(data[split:]); err != nil {
				t.Fatalf("split %d: %v", split, err)
			}
		}

		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split %d: got %v, expected %v", split, got, want)
		}
	}
}

func TestEmitterRapidSplits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		strs := rapid.SliceOfN(rapid.StringN(1, 40, 200), 1, 8).Draw(t, "strs")

		var filtered []string
		for _, s := range strs {
			if len(s) > 0 && len(s) < 256 {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) == 0 {
			t.Skip("no encodable strings")
		}

		data := encodePascal(filtered...)

		var got []string
		em := NewEmitter[string](pascalString, func(s string) { got = append(got, s) }, nil)

		for len(data) > 0 {
			n := rapid.IntRange(1, len(data)).Draw(t, "chunk")
			if err := em.Feed(data[:n]); err != nil {
				t.Fatal(err)
			}
			data = data[n:]
		}

		if !reflect.DeepEqual(got, filtered) {
			t.Fatalf("got %v, expected %v", got, filtered)
		}
	})
}

func TestEmitterReset(t *testing.T) {
	var got []string
	em := NewEmitter[string](pascalString, func(s string) { got = append(got, s) }, nil)

	// Start a value, reset, and start over.
	if err := em.Feed([]byte{0x05, 'h', 'e'}); err != nil {
		t.Fatal(err)
	}
	if !em.InProgress() {
		t.Fatal("emitter should be in progress")
	}

	if err := em.Feed(nil); err != nil {
		t.Fatal(err)
	}
	if em.InProgress() {
		t.Fatal("emitter should be reset")
	}

	if err := em.Feed(encodePascal("dtn")); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"dtn"}) {
		t.Fatalf("got %v", got)
	}
}

func TestEmitterErrorIsTerminal(t *testing.T) {
	var (
		got       []string
		failCalls int
		failErr   error
	)
	em := NewEmitter[string](pascalString, func(s string) { got = append(got, s) }, func(err error) {
		failCalls++
		failErr = err
	})

	data := append(encodePascal("ok"), 0x00)
	err := em.Feed(data)
	if err == nil {
		t.Fatal("expected an error for an empty string")
	}

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if pe.State != "length" || pe.Offset != 3 {
		t.Fatalf("unexpected error details %+v", pe)
	}

	if err2 := em.Feed(encodePascal("more")); err2 != err {
		t.Fatalf("feed after failure returned %v", err2)
	}

	if failCalls != 1 || failErr != err {
		t.Fatalf("fail callback called %d times with %v", failCalls, failErr)
	}
	if !reflect.DeepEqual(got, []string{"ok"}) {
		t.Fatalf("got %v", got)
	}

	em.Dispose()
	if failCalls != 1 {
		t.Fatal("dispose after failure called fail again")
	}
}

func TestEmitterDispose(t *testing.T) {
	var failErr error
	em := NewEmitter[string](pascalString, nil, func(err error) { failErr = err })

	_ = em.Feed([]byte{0x03, 'a'})
	em.Dispose()

	if !errors.Is(failErr, ErrDisposed) {
		t.Fatalf("fail callback got %v", failErr)
	}
	if err := em.Feed([]byte{'b', 'c'}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("feed after dispose returned %v", err)
	}
}

func TestEmitterNoProgress(t *testing.T) {
	var stuck Program
	stuck = func() State {
		return Func("stuck", func(buf []byte) (State, int, error) {
			return stuck(), 0, nil
		})
	}

	em := NewEmitter[string](stuck, nil, nil)
	if err := em.Feed([]byte{0x00}); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}

func TestReadFrom(t *testing.T) {
	var got []string
	err := ReadFrom[string](bytes.NewReader(encodePascal("a", "bc", "def")), pascalString, 2, func(s string) {
		got = append(got, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a", "bc", "def"}) {
		t.Fatalf("got %v", got)
	}

	truncated := encodePascal("truncated")[:4]
	err = ReadFrom[string](bytes.NewReader(truncated), pascalString, 2, func(string) {})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestSingle(t *testing.T) {
	if s, err := Single[string](pascalString, encodePascal("one")); err != nil || s != "one" {
		t.Fatalf("got %q, %v", s, err)
	}

	if _, err := Single[string](pascalString, encodePascal("one", "two")); err == nil {
		t.Fatal("trailing value was accepted")
	}

	if _, err := Single[string](pascalString, []byte{0x04, 'a'}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated value resulted in %v", err)
	}

	if _, err := Single[int](pascalString, encodePascal("typed")); err == nil {
		t.Fatal("type mismatch was accepted")
	}
}

func TestNilValues(t *testing.T) {
	null := func() State {
		return Uint("null", 1, func(uint64) (State, error) { return Done(nil), nil })
	}

	if v, err := Single[any](null, []byte{0x00}); err != nil || v != nil {
		t.Fatalf("any: got %v, %v", v, err)
	}
	if v, err := Single[error](null, []byte{0x00}); err != nil || v != nil {
		t.Fatalf("error: got %v, %v", v, err)
	}
	if _, err := Single[string](null, []byte{0x00}); err == nil {
		t.Fatal("nil was accepted as a string")
	}

	var got []any
	wrapped := func() State {
		return Meta("wrapped", null(), Then[any]("wrapped", func(v any) (State, error) {
			return Done([]any{v}), nil
		}))
	}
	if err := NewEmitter[[]any](wrapped, func(v []any) { got = v }, nil).Feed([]byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("got %v", got)
	}
}
