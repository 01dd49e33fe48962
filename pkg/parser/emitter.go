// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package parser

import (
	"errors"
	"fmt"
	"io"
)

// maxIdleSteps is the amount of consecutive transitions without consumed
// bytes after which a program is considered stuck.
const maxIdleSteps = 1 << 16

// Emitter drives a Program over one byte stream. Completed values are passed
// to the emit callback, the program restarts for the following bytes.
//
// An Emitter is not safe for concurrent use. Each stream needs its own.
type Emitter[T any] struct {
	program Program
	current State
	started bool
	offset  uint64

	emit func(T)
	fail func(error)

	err error
}

// NewEmitter for a Program whose values are of type T. The fail callback is
// called at most once, for the error which terminated the stream.
func NewEmitter[T any](program Program, emit func(T), fail func(error)) *Emitter[T] {
	return &Emitter[T]{
		program: program,
		emit:    emit,
		fail:    fail,
	}
}

// Feed the next bytes of the stream. An empty buffer resets the emitter to
// the program's initial state and drops a partially parsed value.
//
// After an error, the stream is considered desynchronized and every
// subsequent Feed returns the same error.
func (e *Emitter[T]) Feed(buf []byte) error {
	if e.err != nil {
		return e.err
	}

	if len(buf) == 0 {
		e.Reset()
		return nil
	}

	idle := 0
	for len(buf) > 0 {
		if !e.started {
			e.current = e.program()
			e.started = true

			if err := e.settle(); err != nil {
				return err
			}
			if idle++; idle > maxIdleSteps {
				return e.terminate(&Error{State: "program", Err: ErrNoProgress})
			}
			continue
		}

		next, n, err := Step(e.current, buf)
		if err != nil {
			return e.terminate(err)
		}

		e.current = next
		e.offset += uint64(n)
		buf = buf[n:]

		if n > 0 {
			idle = 0
		} else if idle++; idle > maxIdleSteps {
			return e.terminate(&Error{State: next.name, Err: ErrNoProgress})
		}

		if err := e.settle(); err != nil {
			return err
		}
	}
	return nil
}

// settle handles a terminal current state.
func (e *Emitter[T]) settle() error {
	switch e.current.kind {
	case KindFail:
		return e.terminate(e.current.err)

	case KindDone:
		v, ok := As[T](e.current.value)
		if !ok {
			return e.terminate(&Error{
				State: "emit",
				Err:   fmt.Errorf("program returned %T instead of %v", e.current.value, typeOf[T]()),
			})
		}

		e.started = false
		e.current = State{}
		if e.emit != nil {
			e.emit(v)
		}
	}
	return nil
}

func (e *Emitter[T]) terminate(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Offset == 0 {
			pe.Offset = e.offset
		}
		err = pe
	} else {
		err = &Error{State: e.current.name, Offset: e.offset, Err: err}
	}

	e.err = err
	e.current = Fail(err)
	if e.fail != nil {
		e.fail(err)
	}
	return err
}

// Reset drops a partially parsed value. An emitter which already failed stays
// failed.
func (e *Emitter[T]) Reset() {
	if e.err != nil {
		return
	}
	e.started = false
	e.current = State{}
}

// Dispose terminates the stream. A pending fail callback is called with
// ErrDisposed.
func (e *Emitter[T]) Dispose() {
	if e.err != nil {
		return
	}
	e.err = ErrDisposed
	e.current = Fail(ErrDisposed)
	if e.fail != nil {
		e.fail(ErrDisposed)
	}
}

// InProgress reports whether a value is partially parsed.
func (e *Emitter[T]) InProgress() bool {
	return e.started && e.err == nil
}

// Offset within the stream, counting all bytes consumed since creation.
func (e *Emitter[T]) Offset() uint64 {
	return e.offset
}

// Err returns the error which terminated the stream, if any.
func (e *Emitter[T]) Err() error {
	return e.err
}

// ReadFrom feeds an Emitter from r in chunks of chunkSize bytes until EOF.
// A value which is still incomplete at EOF results in io.ErrUnexpectedEOF.
func ReadFrom[T any](r io.Reader, program Program, chunkSize int, emit func(T)) error {
	if chunkSize <= 0 {
		chunkSize = 4096
	}

	em := NewEmitter[T](program, emit, nil)
	buf := make([]byte, chunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if feedErr := em.Feed(buf[:n]); feedErr != nil {
				return feedErr
			}
		}

		if errors.Is(err, io.EOF) {
			if em.InProgress() {
				return &Error{State: em.current.name, Offset: em.offset, Err: io.ErrUnexpectedEOF}
			}
			return nil
		} else if err != nil {
			return err
		}
	}
}

// Single parses exactly one value from data. Trailing bytes are an error.
func Single[T any](program Program, data []byte) (v T, err error) {
	var (
		values int
		em     = NewEmitter[T](program, func(t T) {
			if values == 0 {
				v = t
			}
			values++
		}, nil)
	)

	if err = em.Feed(data); err != nil {
		return
	}

	switch {
	case values == 0:
		err = &Error{State: em.current.name, Offset: em.offset, Err: io.ErrUnexpectedEOF}
	case values > 1 || em.InProgress():
		err = &Error{State: "single", Offset: em.offset, Err: fmt.Errorf("trailing bytes after value")}
	}
	return
}
