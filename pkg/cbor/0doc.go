// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cbor provides incremental CBOR (RFC 8949) decoding on top of the
// parser package and lazy, chunked CBOR encoding.
//
// Decoding is described by a Chain over an accumulator type. Each step of a
// Chain consumes one item, or a group of items, and may store its result in
// the accumulator. Steps can inspect the accumulator to branch on already
// decoded data.
//
//	type pair struct{ a, b uint64 }
//
//	program := cbor.NewChain[pair]("pair").
//	  Array("pair", cbor.ExactLength[pair](2)).
//	  UInt("a", func(p *pair, v uint64) error { p.a = v; return nil }).
//	  UInt("b", func(p *pair, v uint64) error { p.b = v; return nil }).
//	  Program(func() *pair { return new(pair) }, func(p *pair) (any, error) { return *p, nil })
//
// Encoding produces an Encoder, a lazy sequence of byte chunks, which can be
// merged with other encoders and is only evaluated when drained.
package cbor
