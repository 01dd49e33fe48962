// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cbor

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dtn7/bpstream/pkg/parser"
)

type next func() (parser.State, error)

type step[A any] func(acc *A, k next) (parser.State, error)

// Chain is a sequence of decoding steps sharing an accumulator of type A.
// A Chain is built once and can be run any number of times, each run with
// its own accumulator.
type Chain[A any] struct {
	name  string
	steps []step[A]
}

// Decoder creates the sub-program of a custom item; the program's value is
// of type T.
type Decoder[T any] func() parser.State

// NewChain creates an empty Chain. The name is used in error reports.
func NewChain[A any](name string) *Chain[A] {
	return &Chain[A]{name: name}
}

func (c *Chain[A]) sub() *Chain[A] {
	return &Chain[A]{name: c.name}
}

func (c *Chain[A]) add(s step[A]) *Chain[A] {
	c.steps = append(c.steps, s)
	return c
}

func (c *Chain[A]) run(acc *A, i int, k next) (parser.State, error) {
	if i == len(c.steps) {
		return k()
	}
	return c.steps[i](acc, func() (parser.State, error) {
		return c.run(acc, i+1, k)
	})
}

// State runs the Chain on acc. Afterwards, finish creates the value of the
// terminal state.
func (c *Chain[A]) State(acc *A, finish func(*A) (any, error)) parser.State {
	s, err := c.run(acc, 0, func() (parser.State, error) {
		v, err := finish(acc)
		if err != nil {
			return parser.State{}, err
		}
		return parser.Done(v), nil
	})
	if err != nil {
		return parser.Fail(&parser.Error{State: c.name, Err: err})
	}
	return s
}

// Program runs the Chain on a fresh accumulator created by init.
func (c *Chain[A]) Program(init func() *A, finish func(*A) (any, error)) parser.Program {
	return func() parser.State {
		return c.State(init(), finish)
	}
}

// ExactLength is an Array or Map check accepting only the given lengths.
func ExactLength[A any](allowed ...uint64) func(*A, uint64) error {
	return func(_ *A, n uint64) error {
		for _, a := range allowed {
			if n == a {
				return nil
			}
		}
		return fmt.Errorf("length %d, expected one of %v", n, allowed)
	}
}

// UInt decodes an unsigned integer.
func (c *Chain[A]) UInt(name string, set func(*A, uint64) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorUInt, func(h Head) (parser.State, error) {
			if set != nil {
				if err := set(acc, h.Argument); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Int decodes an unsigned or negative integer.
func (c *Chain[A]) Int(name string, set func(*A, int64) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return readHead(name, func(h Head) (parser.State, error) {
			if h.Major != MajorUInt && h.Major != MajorNegInt {
				return parser.State{}, &UnexpectedItemError{Field: name, Want: MajorUInt, Got: h}
			}
			v, err := intValue(h)
			if err != nil {
				return parser.State{}, fmt.Errorf("%s: %w", name, err)
			}
			if set != nil {
				if err := set(acc, v); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Bool decodes a boolean.
func (c *Chain[A]) Bool(name string, set func(*A, bool) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorSimple, func(h Head) (parser.State, error) {
			if h.Info != simpleFalse && h.Info != simpleTrue {
				return parser.State{}, fmt.Errorf("%s: simple value %d is no boolean", name, h.Info)
			}
			if set != nil {
				if err := set(acc, h.Info == simpleTrue); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Bytes decodes a definite or indefinite byte string.
func (c *Chain[A]) Bytes(name string, set func(*A, []byte) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorByteString, func(h Head) (parser.State, error) {
			return readString(name, h, func(data []byte) (parser.State, error) {
				if set != nil {
					if err := set(acc, data); err != nil {
						return parser.State{}, fmt.Errorf("%s: %w", name, err)
					}
				}
				return k()
			})
		}), nil
	})
}

// Text decodes a definite or indefinite UTF-8 text string.
func (c *Chain[A]) Text(name string, set func(*A, string) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorTextString, func(h Head) (parser.State, error) {
			return readString(name, h, func(data []byte) (parser.State, error) {
				if !utf8.Valid(data) {
					return parser.State{}, fmt.Errorf("%s: invalid UTF-8", name)
				}
				if set != nil {
					if err := set(acc, string(data)); err != nil {
						return parser.State{}, fmt.Errorf("%s: %w", name, err)
					}
				}
				return k()
			})
		}), nil
	})
}

func (c *Chain[A]) container(name string, major Major, check func(*A, uint64) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, major, func(h Head) (parser.State, error) {
			if h.Indefinite {
				return parser.State{}, fmt.Errorf("%s: expected definite %v", name, major)
			}
			if check != nil {
				if err := check(acc, h.Argument); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Array decodes the head of a definite array. Its elements must be decoded
// by the following steps.
func (c *Chain[A]) Array(name string, check func(*A, uint64) error) *Chain[A] {
	return c.container(name, MajorArray, check)
}

// Map decodes the head of a definite map with check receiving the amount of
// pairs.
func (c *Chain[A]) Map(name string, check func(*A, uint64) error) *Chain[A] {
	return c.container(name, MajorMap, check)
}

// IndefiniteArray decodes the head of an indefinite array.
func (c *Chain[A]) IndefiniteArray(name string) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorArray, func(h Head) (parser.State, error) {
			if !h.Indefinite {
				return parser.State{}, fmt.Errorf("%s: expected indefinite array", name)
			}
			return k()
		}), nil
	})
}

// Break decodes the stop code of an indefinite item.
func (c *Chain[A]) Break(name string) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return readHead(name, func(h Head) (parser.State, error) {
			if !h.IsBreak() {
				return parser.State{}, fmt.Errorf("%s: expected break, got %v", name, h.Major)
			}
			return k()
		}), nil
	})
}

// Tag decodes a tag's number. The tagged item must be decoded by the
// following step.
func (c *Chain[A]) Tag(name string, set func(*A, uint64) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorTag, func(h Head) (parser.State, error) {
			if set != nil {
				if err := set(acc, h.Argument); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Any decodes the next item into a generic value, see DecodeValue.
func (c *Chain[A]) Any(name string, set func(*A, any) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return value(name, 0, func(v any) (parser.State, error) {
			if set != nil {
				if err := set(acc, v); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Capture decodes the next item into a generic value and additionally
// returns the item's exact encoding.
func (c *Chain[A]) Capture(name string, set func(a *A, v any, raw []byte) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		var raw bytes.Buffer
		inner := value(name, 0, func(v any) (parser.State, error) {
			return parser.Done(v), nil
		})
		return parser.Tee(name, inner, &raw, func(v any) (parser.State, error) {
			if set != nil {
				if err := set(acc, v, raw.Bytes()); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Raw captures the exact encoding of the next item.
func (c *Chain[A]) Raw(name string, set func(*A, []byte) error) *Chain[A] {
	return c.Capture(name, func(a *A, _ any, raw []byte) error {
		if set == nil {
			return nil
		}
		return set(a, raw)
	})
}

// Skip the next item.
func (c *Chain[A]) Skip(name string) *Chain[A] {
	return c.Any(name, nil)
}

// Wrapped decodes a definite byte string whose content is parsed by the
// sub-program created by sub. The sub-program must consume exactly the
// byte string's content, whose length is passed to sub.
func (c *Chain[A]) Wrapped(name string, sub func(a *A, n uint64) parser.State, set func(*A, any) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return expectHead(name, MajorByteString, func(h Head) (parser.State, error) {
			if h.Indefinite {
				return parser.State{}, fmt.Errorf("%s: expected definite byte string", name)
			}
			if h.Argument > MaxLength {
				return parser.State{}, fmt.Errorf("%s: length %d exceeds maximum", name, h.Argument)
			}

			return parser.Limit(name, int(h.Argument), sub(acc, h.Argument), func(v any) (parser.State, error) {
				if set != nil {
					if err := set(acc, v); err != nil {
						return parser.State{}, fmt.Errorf("%s: %w", name, err)
					}
				}
				return k()
			}), nil
		}), nil
	})
}

// Sub runs a sub-program depending on the accumulator and hands its value
// to set.
func (c *Chain[A]) Sub(name string, sub func(*A) parser.State, set func(*A, any) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		return parser.Meta(name, sub(acc), func(v any) (parser.State, error) {
			if set != nil {
				if err := set(acc, v); err != nil {
					return parser.State{}, fmt.Errorf("%s: %w", name, err)
				}
			}
			return k()
		}), nil
	})
}

// Custom decodes an item of type T by its own Decoder.
func Custom[A, T any](c *Chain[A], name string, dec Decoder[T], set func(*A, T) error) *Chain[A] {
	return c.Sub(name, func(*A) parser.State { return dec() }, func(a *A, v any) error {
		t, ok := parser.As[T](v)
		if !ok {
			return fmt.Errorf("decoder returned %T instead of %T", v, t)
		}
		if set == nil {
			return nil
		}
		return set(a, t)
	})
}

// Tee writes the encoding of all items decoded by body into the writer
// returned by w.
func (c *Chain[A]) Tee(name string, w func(*A) io.Writer, body func(*Chain[A])) *Chain[A] {
	inner := c.sub()
	body(inner)

	return c.add(func(acc *A, k next) (parser.State, error) {
		s, err := inner.run(acc, 0, func() (parser.State, error) {
			return parser.Done(nil), nil
		})
		if err != nil {
			return parser.State{}, err
		}
		return parser.Tee(name, s, w(acc), func(any) (parser.State, error) {
			return k()
		}), nil
	})
}

// Do executes f without consuming any bytes.
func (c *Chain[A]) Do(f func(*A) error) *Chain[A] {
	return c.add(func(acc *A, k next) (parser.State, error) {
		if err := f(acc); err != nil {
			return parser.State{}, err
		}
		return k()
	})
}

// InsertIf runs the steps added by then only if pred holds at this point.
func (c *Chain[A]) InsertIf(pred func(*A) bool, then func(*Chain[A])) *Chain[A] {
	inner := c.sub()
	then(inner)

	return c.add(func(acc *A, k next) (parser.State, error) {
		if pred(acc) {
			return inner.run(acc, 0, k)
		}
		return k()
	})
}

// Repeat runs the steps added by body count times.
func (c *Chain[A]) Repeat(count func(*A) uint64, body func(*Chain[A])) *Chain[A] {
	inner := c.sub()
	body(inner)

	return c.add(func(acc *A, k next) (parser.State, error) {
		n := count(acc)

		var iter func(i uint64) (parser.State, error)
		iter = func(i uint64) (parser.State, error) {
			if i == n {
				return k()
			}
			return inner.run(acc, 0, func() (parser.State, error) {
				return iter(i + 1)
			})
		}
		return iter(0)
	})
}

// UntilBreak runs the steps added by body until a break stop code follows,
// which is consumed.
func (c *Chain[A]) UntilBreak(name string, body func(*Chain[A])) *Chain[A] {
	inner := c.sub()
	body(inner)

	return c.add(func(acc *A, k next) (parser.State, error) {
		var loop next
		loop = func() (parser.State, error) {
			return parser.Func(name, func(buf []byte) (parser.State, int, error) {
				if buf[0] == breakByte {
					s, err := k()
					return s, 1, err
				}
				s, err := inner.run(acc, 0, loop)
				return s, 0, err
			}), nil
		}
		return loop()
	})
}
