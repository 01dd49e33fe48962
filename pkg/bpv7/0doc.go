// SPDX-FileCopyrightText: 2019, 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bpv7 provides the Bundle Protocol Version 7 (RFC 9171) data model,
// its incremental parser and its chunked serializer.
//
// All encoding and decoding is bound to a Registry, which knows the block
// types and endpoint schemes. A Registry is built once and shared.
//
//	reg := bpv7.NewRegistry()
//
//	bundle, err := bpv7.Builder().
//	  CRC(bpv7.CRC32).
//	  Source("dtn://src/").
//	  Destination("dtn://dest/").
//	  CreationTimestampNow().
//	  Lifetime(time.Hour).
//	  HopCountBlock(64).
//	  PayloadBlock([]byte("hello world!")).
//	  Build()
//
// Bundles are serialized in chunks of a requested size. Parsing accepts
// bytes in arbitrary pieces, e.g., as read from a network connection.
//
//	err := bundle.Serialize(reg, 1024, func(chunk []byte) error {
//	  return em.Feed(chunk)
//	})
//
//	em := reg.NewBundleEmitter(func(b bpv7.Bundle) {
//	  log.WithField("bundle", b.ID()).Info("Received bundle")
//	}, nil)
package bpv7
