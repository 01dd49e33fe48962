// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package parser

import (
	"fmt"
	"io"
	"reflect"
)

// Kind of a State.
type Kind uint8

const (
	// KindFunc states inspect the offered bytes through a transition function.
	KindFunc Kind = iota

	// KindBuffer states collect a fixed amount of bytes.
	KindBuffer

	// KindMeta states wrap an inner program and continue after its completion.
	KindMeta

	// KindDone is the terminal state of a successful program, carrying its value.
	KindDone

	// KindFail is the terminal state of a failed program.
	KindFail
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindBuffer:
		return "buffer"
	case KindMeta:
		return "meta"
	case KindDone:
		return "done"
	case KindFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Transition is the function of a KindFunc state. It must consume a prefix
// of buf, which is never empty, and return the successor state.
type Transition func(buf []byte) (next State, n int, err error)

// Continuation creates the state following a completed sub-program.
type Continuation func(value any) (State, error)

// Program creates the initial state of a fresh parse.
type Program func() State

// State is one node of a parse. States are values; each transition returns a
// new State instead of mutating the current one.
type State struct {
	kind Kind
	name string

	fn Transition

	size int
	data []byte
	full func(data []byte) (State, error)

	inner *State
	limit int
	sink  io.Writer
	done  Continuation

	value any
	err   error
}

// Func creates a KindFunc state.
func Func(name string, fn Transition) State {
	return State{kind: KindFunc, name: name, fn: fn}
}

// Buffer collects exactly size bytes, possibly spread over multiple buffers,
// and hands them to full afterwards. The slice passed to full is owned by the
// callee.
func Buffer(name string, size int, full func(data []byte) (State, error)) State {
	if size < 0 {
		return Fail(fmt.Errorf("%s: negative buffer size %d", name, size))
	}
	if size == 0 {
		return settle(full([]byte{}))
	}
	return State{kind: KindBuffer, name: name, size: size, full: full}
}

// Uint reads a big-endian unsigned integer of width bytes.
func Uint(name string, width int, k func(v uint64) (State, error)) State {
	switch width {
	case 1, 2, 4, 8:
	default:
		return Fail(fmt.Errorf("%s: unsupported integer width %d", name, width))
	}
	return Buffer(name, width, func(data []byte) (State, error) {
		var v uint64
		for _, b := range data {
			v = v<<8 | uint64(b)
		}
		return k(v)
	})
}

// Meta runs the inner program and calls done with its value afterwards.
func Meta(name string, inner State, done Continuation) State {
	return meta(name, inner, -1, nil, done)
}

// Limit runs the inner program, which must consume exactly n bytes.
func Limit(name string, n int, inner State, done Continuation) State {
	if n < 0 {
		return Fail(fmt.Errorf("%s: negative limit %d", name, n))
	}
	return meta(name, inner, n, nil, done)
}

// Tee runs the inner program and writes every byte it consumes into w.
func Tee(name string, inner State, w io.Writer, done Continuation) State {
	return meta(name, inner, -1, w, done)
}

func meta(name string, inner State, limit int, sink io.Writer, done Continuation) State {
	switch inner.kind {
	case KindFail:
		return inner

	case KindDone:
		if limit > 0 {
			return Fail(&Error{State: name, Err: fmt.Errorf("%d bytes left within limit", limit)})
		}
		return settle(done(inner.value))
	}

	if limit == 0 {
		return Fail(&Error{State: name, Err: fmt.Errorf("inner %q exceeds limit", inner.name)})
	}

	in := inner
	return State{kind: KindMeta, name: name, inner: &in, limit: limit, sink: sink, done: done}
}

// Done is the terminal state of a successful program.
func Done(value any) State {
	return State{kind: KindDone, name: "done", value: value}
}

// Fail is the terminal state of a failed program.
func Fail(err error) State {
	return State{kind: KindFail, name: "fail", err: err}
}

// Then builds a Continuation for sub-programs of a known value type.
func Then[T any](name string, k func(v T) (State, error)) Continuation {
	return func(value any) (State, error) {
		v, ok := As[T](value)
		if !ok {
			return State{}, fmt.Errorf("%s: expected %v, got %T", name, typeOf[T](), value)
		}
		return k(v)
	}
}

// As asserts value to T. A nil value is a valid T for interface types.
func As[T any](value any) (T, bool) {
	v, ok := value.(T)
	if !ok && value == nil {
		ok = typeOf[T]().Kind() == reflect.Interface
	}
	return v, ok
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func settle(next State, err error) State {
	if err != nil {
		return Fail(err)
	}
	return next
}

// Kind of this State.
func (s State) Kind() Kind {
	return s.kind
}

// Name of this State, used for error reports.
func (s State) Name() string {
	return s.name
}

// IsDone checks if this State terminated successfully.
func (s State) IsDone() bool {
	return s.kind == KindDone
}

// Value of a KindDone state.
func (s State) Value() any {
	return s.value
}

// Err of a KindFail state.
func (s State) Err() error {
	return s.err
}

func (s State) String() string {
	if s.kind == KindMeta {
		return fmt.Sprintf("%s(%v)", s.name, *s.inner)
	}
	return fmt.Sprintf("%s[%v]", s.name, s.kind)
}

// Step offers buf to the state s. It returns the successor state and the
// amount of consumed bytes, which might be less than len(buf).
func Step(s State, buf []byte) (State, int, error) {
	switch s.kind {
	case KindDone:
		return s, 0, nil

	case KindFail:
		return s, 0, s.err
	}

	if len(buf) == 0 {
		return s, 0, nil
	}

	switch s.kind {
	case KindFunc:
		next, n, err := s.fn(buf)
		if err != nil {
			return s, 0, wrap(s.name, err)
		}
		if n < 0 || n > len(buf) {
			return s, 0, &Error{State: s.name, Err: fmt.Errorf("consumed %d of %d bytes", n, len(buf))}
		}
		if next.kind == KindFail {
			return next, n, wrap(s.name, next.err)
		}
		return next, n, nil

	case KindBuffer:
		n := s.size - len(s.data)
		if n > len(buf) {
			n = len(buf)
		}

		// The backing array is shared with the predecessor, which is never
		// stepped again.
		data := s.data
		if data == nil {
			c := s.size
			if c > maxPrealloc {
				c = maxPrealloc
			}
			data = make([]byte, 0, c)
		}
		data = append(data, buf[:n]...)

		if len(data) < s.size {
			next := s
			next.data = data
			return next, n, nil
		}

		next, err := s.full(data)
		if err == nil && next.kind == KindFail {
			err = next.err
		}
		if err != nil {
			return s, 0, wrap(s.name, err)
		}
		return next, n, nil

	case KindMeta:
		return stepMeta(s, buf)

	default:
		return s, 0, &Error{State: s.name, Err: fmt.Errorf("unknown state kind %d", s.kind)}
	}
}

func stepMeta(s State, buf []byte) (State, int, error) {
	offer := buf
	if s.limit >= 0 && len(offer) > s.limit {
		offer = offer[:s.limit]
	}

	inner, n, err := Step(*s.inner, offer)
	if err != nil {
		return s, 0, wrap(s.name, err)
	}

	if s.sink != nil && n > 0 {
		if _, err := s.sink.Write(offer[:n]); err != nil {
			return s, 0, wrap(s.name, err)
		}
	}

	limit := s.limit
	if limit >= 0 {
		limit -= n
	}

	next := meta(s.name, inner, limit, s.sink, s.done)
	if next.kind == KindFail {
		return next, n, wrap(s.name, next.err)
	}
	return next, n, nil
}
