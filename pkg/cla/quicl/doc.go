// SPDX-FileCopyrightText: 2022 Markus Sommer
// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package quicl implements an experimental QUIC convergence layer.
Note that this convergence layer is not part of the Bundle Protocol or its associated specifications.

# Protocol

When it comes to the establishment of a connection, there are two distinct roles.
The listener waits for incoming connections and spawns a new Endpoint each time a dialer connects.

Once the connection has been established, the endpoints perform a simple handshake, exchanging EndpointIDs.
The dialer opens a stream and sends its EndpointID.
The listener replies with its own EndpointID on the same stream and closes it.
If the dialer does not initiate the handshake in time or sends a malformed EndpointID,
the listener closes the connection with application error code 4 (PeerError).
EndpointIDs are sent as their plain CBOR encoding, which is self-delimiting.

# Bundle transmission

A node transmits a bundle by opening a new stream, writing the serialized bundle chunk-wise and closing the stream.
On the receiving side, each new stream is handled by its own goroutine, parsing exactly one bundle.
*/
package quicl
