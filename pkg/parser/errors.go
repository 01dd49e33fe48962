// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package parser

import (
	"errors"
	"fmt"
)

// maxPrealloc bounds the initial allocation of Buffer states. Larger buffers
// grow while their bytes arrive.
const maxPrealloc = 64 * 1024

var (
	// ErrDisposed is reported for a parse which was terminated by Dispose.
	ErrDisposed = errors.New("parser disposed")

	// ErrNoProgress is reported for a program which neither consumes bytes nor
	// terminates.
	ErrNoProgress = errors.New("parser makes no progress")
)

// Error describes a failed parse. State names the innermost state which
// failed, Offset is the position within the stream.
type Error struct {
	State  string
	Offset uint64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("parser: %s at offset %d: %v", e.State, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap annotates err with a state name, unless an inner state already did.
func wrap(name string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{State: name, Err: err}
}
