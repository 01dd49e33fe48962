// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpv7"
)

// AgentManager connects ApplicationAgents with the Core.
type AgentManager struct {
	core *Core

	mux *agent.MuxAgent

	closeSyn chan struct{}
	closeAck chan struct{}
}

// NewAgentManager creates a new AgentManager, passing bundles from its ApplicationAgents to the Core.
func NewAgentManager(core *Core) (manager *AgentManager) {
	manager = &AgentManager{
		core:     core,
		mux:      agent.NewMuxAgent(),
		closeSyn: make(chan struct{}),
		closeAck: make(chan struct{}),
	}

	go manager.handler()

	return
}

func (manager *AgentManager) handler() {
	defer close(manager.closeAck)

	for {
		select {
		case <-manager.closeSyn:
			return

		case msg, ok := <-manager.mux.MessageSender():
			if !ok {
				return
			}
			manager.handleMessage(msg)
		}
	}
}

func (manager *AgentManager) handleMessage(msg agent.Message) {
	switch msg := msg.(type) {
	case agent.BundleMessage:
		log.WithField("bundle", msg.Bundle.ID()).Debug("AgentManager received Bundle from client")
		go manager.core.SendBundle(&msg.Bundle)

	default:
		log.WithField("message", msg).Warn("AgentManager received unsupported message")
	}
}

// Register a new ApplicationAgent.
func (manager *AgentManager) Register(appAgent agent.ApplicationAgent) {
	manager.mux.Register(appAgent)
}

// HasEndpoint checks if some specific EndpointID is registered for some ApplicationAgent.
func (manager *AgentManager) HasEndpoint(eid bpv7.EndpointID) bool {
	return agent.AppAgentHasEndpoint(manager.mux, eid)
}

// Deliver a Bundle to the ApplicationAgents registered for its destination.
func (manager *AgentManager) Deliver(b bpv7.Bundle) error {
	if !manager.HasEndpoint(b.PrimaryBlock.Destination) {
		return fmt.Errorf("no registered ApplicationAgent for destination %v", b.PrimaryBlock.Destination)
	}

	log.WithField("bundle", b.ID()).Debug("AgentManager delivers Bundle to client")
	manager.mux.MessageReceiver() <- agent.BundleMessage{Bundle: b}
	return nil
}

// Close down this AgentManager and its underlying ApplicationAgents.
func (manager *AgentManager) Close() error {
	manager.mux.MessageReceiver() <- agent.ShutdownMessage{}

	close(manager.closeSyn)
	select {
	case <-manager.closeAck:
		return nil

	case <-time.After(time.Second):
		return fmt.Errorf("closing timed out after a second")
	}
}
