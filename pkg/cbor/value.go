// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cbor

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/dtn7/bpstream/pkg/parser"
)

const (
	simpleFalse     = 20
	simpleTrue      = 21
	simpleNull      = 22
	simpleUndefined = 23
	simpleExtended  = 24
	simpleFloat16   = 25
	simpleFloat32   = 26
	simpleFloat64   = 27
)

// MapEntry is a key-value pair of a generically decoded map. Maps keep their
// encoded order.
type MapEntry struct {
	Key   any
	Value any
}

// Tagged is a generically decoded tag with its content.
type Tagged struct {
	Number uint64
	Content any
}

// Simple is a simple value without a further meaning.
type Simple uint8

// Undefined is the simple value undefined.
type Undefined struct{}

// DecodeValue is a Program decoding one item into a generic value:
//
//   - unsigned integers as uint64, negative integers as int64,
//   - byte strings as []byte, text strings as string,
//   - arrays as []any, maps as []MapEntry, tags as Tagged,
//   - booleans as bool, null as nil, undefined as Undefined,
//   - floats as float64, other simple values as Simple.
func DecodeValue() parser.State {
	return value("value", 0, func(v any) (parser.State, error) {
		return parser.Done(v), nil
	})
}

func intValue(h Head) (int64, error) {
	if h.Argument > math.MaxInt64 {
		return 0, fmt.Errorf("integer %d overflows int64", h.Argument)
	}
	if h.Major == MajorNegInt {
		return -1 - int64(h.Argument), nil
	}
	return int64(h.Argument), nil
}

func value(name string, depth int, k func(any) (parser.State, error)) parser.State {
	return readHead(name, func(h Head) (parser.State, error) {
		return valueOf(name, depth, h, k)
	})
}

func valueOf(name string, depth int, h Head, k func(any) (parser.State, error)) (parser.State, error) {
	if depth > MaxDepth {
		return parser.State{}, fmt.Errorf("%s: nesting exceeds depth %d", name, MaxDepth)
	}

	switch h.Major {
	case MajorUInt:
		return k(h.Argument)

	case MajorNegInt:
		v, err := intValue(h)
		if err != nil {
			return parser.State{}, err
		}
		return k(v)

	case MajorByteString:
		return readString(name, h, func(data []byte) (parser.State, error) {
			return k(data)
		})

	case MajorTextString:
		return readString(name, h, func(data []byte) (parser.State, error) {
			if !utf8.Valid(data) {
				return parser.State{}, fmt.Errorf("%s: invalid UTF-8", name)
			}
			return k(string(data))
		})

	case MajorArray:
		items := []any{}
		element := func(then next) parser.State {
			return value(name, depth+1, func(v any) (parser.State, error) {
				items = append(items, v)
				return then()
			})
		}
		finish := func() (parser.State, error) { return k(items) }
		return elements(name, h, element, finish)

	case MajorMap:
		entries := []MapEntry{}
		element := func(then next) parser.State {
			return value(name, depth+1, func(key any) (parser.State, error) {
				return value(name, depth+1, func(v any) (parser.State, error) {
					entries = append(entries, MapEntry{Key: key, Value: v})
					return then()
				}), nil
			})
		}
		finish := func() (parser.State, error) { return k(entries) }
		return elements(name, h, element, finish)

	case MajorTag:
		return value(name, depth+1, func(v any) (parser.State, error) {
			return k(Tagged{Number: h.Argument, Content: v})
		}), nil

	default:
		return simpleOf(name, h, k)
	}
}

// elements decodes the elements of a definite or indefinite container.
func elements(name string, h Head, element func(then next) parser.State, finish next) (parser.State, error) {
	if h.Indefinite {
		var loop next
		loop = func() (parser.State, error) {
			return parser.Func(name, func(buf []byte) (parser.State, int, error) {
				if buf[0] == breakByte {
					s, err := finish()
					return s, 1, err
				}
				return element(loop), 0, nil
			}), nil
		}
		return loop()
	}

	var iter func(i uint64) (parser.State, error)
	iter = func(i uint64) (parser.State, error) {
		if i == h.Argument {
			return finish()
		}
		return element(func() (parser.State, error) { return iter(i + 1) }), nil
	}
	return iter(0)
}

func simpleOf(name string, h Head, k func(any) (parser.State, error)) (parser.State, error) {
	switch h.Info {
	case simpleFalse:
		return k(false)
	case simpleTrue:
		return k(true)
	case simpleNull:
		return k(nil)
	case simpleUndefined:
		return k(Undefined{})
	case simpleExtended:
		return k(Simple(h.Argument))
	case simpleFloat16:
		return k(float16(uint16(h.Argument)))
	case simpleFloat32:
		return k(float64(math.Float32frombits(uint32(h.Argument))))
	case simpleFloat64:
		return k(math.Float64frombits(h.Argument))
	case infoIndefinite:
		return parser.State{}, fmt.Errorf("%s: unexpected break", name)
	default:
		return k(Simple(h.Info))
	}
}

// float16 converts an IEEE 754 half-precision value.
func float16(bits uint16) float64 {
	exp := int(bits>>10) & 0x1f
	mant := float64(bits & 0x3ff)

	var v float64
	switch exp {
	case 0:
		v = math.Ldexp(mant, -24)
	case 31:
		if mant == 0 {
			v = math.Inf(1)
		} else {
			v = math.NaN()
		}
	default:
		v = math.Ldexp(mant+1024, exp-25)
	}

	if bits&0x8000 != 0 {
		v = -v
	}
	return v
}
