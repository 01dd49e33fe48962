// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import "github.com/dtn7/bpstream/pkg/bpv7"

// ApplicationAgent exchanges Messages with the bundle protocol agent over two channels.
//
// The agent reads its MessageReceiver and writes to its MessageSender. On shutdown, it closes its
// MessageSender and leaves the MessageReceiver open; the receiver belongs to the supervisor.
type ApplicationAgent interface {
	// Endpoints this ApplicationAgent is registered for.
	Endpoints() []bpv7.EndpointID

	MessageReceiver() chan Message
	MessageSender() chan Message
}

// Message is exchanged between an ApplicationAgent and its supervisor.
type Message interface {
	// Recipients of this Message or nil for a broadcast to all agents.
	Recipients() []bpv7.EndpointID
}

// BundleMessage carries a Bundle. Sent to an agent, it is a delivery; sent by an agent, it is a
// Bundle to be dispatched.
type BundleMessage struct {
	Bundle bpv7.Bundle
}

func (bm BundleMessage) Recipients() []bpv7.EndpointID {
	return []bpv7.EndpointID{bm.Bundle.PrimaryBlock.Destination}
}

// ShutdownMessage requests an agent's shutdown or, sent by an agent, announces it.
type ShutdownMessage struct{}

func (ShutdownMessage) Recipients() []bpv7.EndpointID {
	return nil
}

// endpointSet indexes endpoints by their URI. Endpoints of unknown schemes are not comparable
// otherwise.
type endpointSet map[string]struct{}

func newEndpointSet(eids ...bpv7.EndpointID) endpointSet {
	set := make(endpointSet, len(eids))
	for _, eid := range eids {
		set[eid.String()] = struct{}{}
	}
	return set
}

func (set endpointSet) containsAny(eids []bpv7.EndpointID) bool {
	for _, eid := range eids {
		if _, ok := set[eid.String()]; ok {
			return true
		}
	}
	return false
}

// AppAgentContainsEndpoint checks if an ApplicationAgent is registered for any of the endpoints.
func AppAgentContainsEndpoint(app ApplicationAgent, eids []bpv7.EndpointID) bool {
	return newEndpointSet(app.Endpoints()...).containsAny(eids)
}

// AppAgentHasEndpoint checks if an ApplicationAgent is registered for an endpoint.
func AppAgentHasEndpoint(app ApplicationAgent, eid bpv7.EndpointID) bool {
	return AppAgentContainsEndpoint(app, []bpv7.EndpointID{eid})
}
