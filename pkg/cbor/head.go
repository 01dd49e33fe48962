// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cbor

import (
	"fmt"

	"github.com/dtn7/bpstream/pkg/parser"
)

// Major type of a CBOR item.
type Major uint8

const (
	MajorUInt Major = iota
	MajorNegInt
	MajorByteString
	MajorTextString
	MajorArray
	MajorMap
	MajorTag
	MajorSimple
)

func (m Major) String() string {
	switch m {
	case MajorUInt:
		return "unsigned integer"
	case MajorNegInt:
		return "negative integer"
	case MajorByteString:
		return "byte string"
	case MajorTextString:
		return "text string"
	case MajorArray:
		return "array"
	case MajorMap:
		return "map"
	case MajorTag:
		return "tag"
	case MajorSimple:
		return "simple value"
	default:
		return "invalid"
	}
}

const (
	infoIndefinite = 31
	breakByte      = 0xff
)

// MaxLength bounds the length of decoded strings.
const MaxLength = 1 << 30

// MaxDepth bounds the nesting of generically decoded items.
const MaxDepth = 64

// Head is the initial byte of an item together with its argument.
type Head struct {
	Major      Major
	Info       uint8
	Argument   uint64
	Indefinite bool
}

// IsBreak checks if this Head is the break stop code.
func (h Head) IsBreak() bool {
	return h.Major == MajorSimple && h.Info == infoIndefinite
}

// UnexpectedItemError is returned if an item's major type does not match.
type UnexpectedItemError struct {
	Field string
	Want  Major
	Got   Head
}

func (e *UnexpectedItemError) Error() string {
	if e.Got.IsBreak() {
		return fmt.Sprintf("%s: expected %v, got break", e.Field, e.Want)
	}
	return fmt.Sprintf("%s: expected %v, got %v", e.Field, e.Want, e.Got.Major)
}

// readHead decodes an item's head, accepting every argument width.
func readHead(name string, k func(Head) (parser.State, error)) parser.State {
	return parser.Func(name, func(buf []byte) (parser.State, int, error) {
		major, info := Major(buf[0]>>5), buf[0]&0x1f

		switch {
		case info < 24:
			next, err := k(Head{Major: major, Info: info, Argument: uint64(info)})
			return next, 1, err

		case info <= 27:
			width := 1 << (info - 24)
			return parser.Uint(name, width, func(v uint64) (parser.State, error) {
				return k(Head{Major: major, Info: info, Argument: v})
			}), 1, nil

		case info == infoIndefinite:
			if major == MajorUInt || major == MajorNegInt || major == MajorTag {
				return parser.State{}, 0, fmt.Errorf("%v has no indefinite length", major)
			}
			next, err := k(Head{Major: major, Info: info, Indefinite: true})
			return next, 1, err

		default:
			return parser.State{}, 0, fmt.Errorf("reserved additional information %d", info)
		}
	})
}

// expectHead decodes a head of the wanted major type.
func expectHead(name string, want Major, k func(Head) (parser.State, error)) parser.State {
	return readHead(name, func(h Head) (parser.State, error) {
		if h.Major != want || h.IsBreak() {
			return parser.State{}, &UnexpectedItemError{Field: name, Want: want, Got: h}
		}
		return k(h)
	})
}

// readString decodes the content of a definite or indefinite byte or text
// string whose head was already read.
func readString(name string, h Head, k func([]byte) (parser.State, error)) (parser.State, error) {
	if !h.Indefinite {
		if h.Argument > MaxLength {
			return parser.State{}, fmt.Errorf("%s: length %d exceeds maximum", name, h.Argument)
		}
		return parser.Buffer(name, int(h.Argument), k), nil
	}

	data := []byte{}
	var chunk func() parser.State
	chunk = func() parser.State {
		return readHead(name, func(ch Head) (parser.State, error) {
			switch {
			case ch.IsBreak():
				return k(data)
			case ch.Major != h.Major || ch.Indefinite:
				return parser.State{}, fmt.Errorf("%s: invalid chunk of indefinite %v", name, h.Major)
			case ch.Argument > MaxLength-uint64(len(data)):
				return parser.State{}, fmt.Errorf("%s: length exceeds maximum", name)
			}

			return parser.Buffer(name, int(ch.Argument), func(part []byte) (parser.State, error) {
				data = append(data, part...)
				return chunk(), nil
			}), nil
		})
	}
	return chunk(), nil
}
