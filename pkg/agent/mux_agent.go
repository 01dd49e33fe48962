// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// MuxAgent is an ApplicationAgent multiplexing Messages between itself and its registered children.
// A BundleMessage is passed to each child registered for the Bundle's destination; a Message
// without recipients reaches all children. Messages sent by children are merged into the
// MuxAgent's MessageSender.
type MuxAgent struct {
	mutex    sync.Mutex
	children map[ApplicationAgent]struct{}

	receiver chan Message
	sender   chan Message
}

// NewMuxAgent creates an empty MuxAgent.
func NewMuxAgent() *MuxAgent {
	mux := &MuxAgent{
		children: make(map[ApplicationAgent]struct{}),
		receiver: make(chan Message),
		sender:   make(chan Message),
	}

	go mux.handle()

	return mux
}

func (mux *MuxAgent) handle() {
	defer close(mux.sender)

	for msg := range mux.receiver {
		delivered := mux.dispatch(msg)
		log.WithFields(log.Fields{
			"message":  msg,
			"children": delivered,
		}).Debug("MuxAgent dispatched Message")

		if _, ok := msg.(ShutdownMessage); ok {
			return
		}
	}
}

// dispatch a Message to its recipients. The lock is held while sending, so that no child's
// receiver gets closed meanwhile.
func (mux *MuxAgent) dispatch(msg Message) (delivered int) {
	mux.mutex.Lock()
	defer mux.mutex.Unlock()

	recipients := msg.Recipients()
	for child := range mux.children {
		if recipients != nil && !AppAgentContainsEndpoint(child, recipients) {
			continue
		}

		child.MessageReceiver() <- msg
		delivered++
	}
	return
}

// Register a child. It stays registered until it closes its MessageSender or sends a ShutdownMessage.
func (mux *MuxAgent) Register(child ApplicationAgent) {
	mux.mutex.Lock()
	mux.children[child] = struct{}{}
	mux.mutex.Unlock()

	go mux.forward(child)
}

// forward a child's outgoing Messages until it shuts down.
func (mux *MuxAgent) forward(child ApplicationAgent) {
	for msg := range child.MessageSender() {
		if _, ok := msg.(ShutdownMessage); ok {
			break
		}
		mux.sender <- msg
	}

	mux.mutex.Lock()
	defer mux.mutex.Unlock()

	if _, ok := mux.children[child]; ok {
		delete(mux.children, child)
		close(child.MessageReceiver())
	}
}

// Endpoints of all children.
func (mux *MuxAgent) Endpoints() (eids []bpv7.EndpointID) {
	mux.mutex.Lock()
	defer mux.mutex.Unlock()

	for child := range mux.children {
		eids = append(eids, child.Endpoints()...)
	}
	return
}

func (mux *MuxAgent) MessageReceiver() chan Message {
	return mux.receiver
}

func (mux *MuxAgent) MessageSender() chan Message {
	return mux.sender
}
