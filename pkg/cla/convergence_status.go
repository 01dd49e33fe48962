// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"fmt"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// StatusKind tells what a ConvergenceStatus reports.
type StatusKind uint

const (
	_ StatusKind = iota

	// ReceivedBundle carries a Bundle received for the status' Endpoint.
	ReceivedBundle

	// PeerDisappeared names the lost peer as Endpoint.
	PeerDisappeared

	// PeerAppeared names the new peer as Endpoint.
	PeerAppeared
)

func (kind StatusKind) String() string {
	switch kind {
	case ReceivedBundle:
		return "received_bundle"
	case PeerDisappeared:
		return "peer_disappeared"
	case PeerAppeared:
		return "peer_appeared"
	default:
		return fmt.Sprintf("status(%d)", uint(kind))
	}
}

// ConvergenceStatus is reported by a Convergence on its Channel.
type ConvergenceStatus struct {
	Sender Convergence
	Kind   StatusKind

	// Endpoint is the receiving endpoint of a ReceivedBundle and the peer otherwise.
	Endpoint bpv7.EndpointID

	// Bundle is only set for ReceivedBundle.
	Bundle *bpv7.Bundle
}

func (cs ConvergenceStatus) String() string {
	if cs.Kind == ReceivedBundle && cs.Bundle != nil {
		return fmt.Sprintf("%v of %v at %v from %v", cs.Kind, cs.Bundle.ID(), cs.Endpoint, cs.Sender)
	}
	return fmt.Sprintf("%v of %v from %v", cs.Kind, cs.Endpoint, cs.Sender)
}

// NewConvergenceReceivedBundle reports a Bundle received for an endpoint.
func NewConvergenceReceivedBundle(sender Convergence, eid bpv7.EndpointID, b *bpv7.Bundle) ConvergenceStatus {
	return ConvergenceStatus{Sender: sender, Kind: ReceivedBundle, Endpoint: eid, Bundle: b}
}

// NewConvergencePeerDisappeared reports a lost peer.
func NewConvergencePeerDisappeared(sender Convergence, peer bpv7.EndpointID) ConvergenceStatus {
	return ConvergenceStatus{Sender: sender, Kind: PeerDisappeared, Endpoint: peer}
}

// NewConvergencePeerAppeared reports a new peer.
func NewConvergencePeerAppeared(sender Convergence, peer bpv7.EndpointID) ConvergenceStatus {
	return ConvergenceStatus{Sender: sender, Kind: PeerAppeared, Endpoint: peer}
}
