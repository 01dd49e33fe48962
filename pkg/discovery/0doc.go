// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces this node's CLAs via UDP multicast and registers CLAs for announced peers.
//
// Announcements are CBOR arrays of [CLA type, endpoint ID, port] and are parsed with the same endpoint
// ID items as bundles.
package discovery

const (
	// address4 is the IPv4 multicast group.
	address4 = "224.23.23.23"

	// address6 is the IPv6 link-local multicast group.
	address6 = "ff02::23"

	// port is the multicast UDP port.
	port = 35039
)
