// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package parser implements an incremental, push-based parsing state machine.
//
// A parse is described by a Program, a function returning the initial State.
// Each State consumes a prefix of the bytes offered to it and returns its
// successor. Bytes may arrive in buffers of any size and at any boundary; a
// program produces identical results regardless of how its input was split.
//
// The Emitter drives a program over a byte stream, hands each completed item
// to a callback and restarts the program for the next item.
//
//	em := parser.NewEmitter[uint64](program, func(v uint64) {
//	  fmt.Println(v)
//	}, func(err error) {
//	  log.WithError(err).Warn("stream failed")
//	})
//	_ = em.Feed(chunk1)
//	_ = em.Feed(chunk2)
package parser
