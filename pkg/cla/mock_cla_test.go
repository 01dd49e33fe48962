// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"errors"
	"sync"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

var errMockStart = errors.New("mock refuses to start")

// mockConv is the Convergence part shared by both mocks. It counts its starts.
type mockConv struct {
	startable  bool
	address    string
	eid        bpv7.EndpointID
	reportChan chan ConvergenceStatus

	mutex  sync.Mutex
	starts int
}

func newMockConv(startable bool, address string, eid bpv7.EndpointID) mockConv {
	return mockConv{
		startable:  startable,
		address:    address,
		eid:        eid,
		reportChan: make(chan ConvergenceStatus),
	}
}

// Start always asks for a retry, so the Manager's attempt limit applies.
func (m *mockConv) Start() (error, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.starts++
	if !m.startable {
		return errMockStart, true
	}
	return nil, true
}

func (m *mockConv) startCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.starts
}

func (*mockConv) Close() error                      { return nil }
func (m *mockConv) Channel() chan ConvergenceStatus { return m.reportChan }
func (m *mockConv) Address() string                 { return m.address }
func (*mockConv) IsPermanent() bool                 { return false }

// mockConvRec is a ConvergenceReceiver for eid.
type mockConvRec struct {
	mockConv
}

func newMockConvRec(startable bool, address string, eid bpv7.EndpointID) *mockConvRec {
	return &mockConvRec{newMockConv(startable, address, eid)}
}

func (m *mockConvRec) GetEndpointID() bpv7.EndpointID { return m.eid }

// mockConvSender is a ConvergenceSender towards the peer eid, collecting sent bundles.
type mockConvSender struct {
	mockConv
	sent []bpv7.Bundle
}

func newMockConvSender(startable bool, address string, eid bpv7.EndpointID) *mockConvSender {
	return &mockConvSender{mockConv: newMockConv(startable, address, eid)}
}

func (m *mockConvSender) GetPeerEndpointID() bpv7.EndpointID { return m.eid }

func (m *mockConvSender) Send(bndl *bpv7.Bundle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sent = append(m.sent, *bndl)
	return nil
}

// mockProvider registers a fixed set of Convergences at its Manager.
type mockProvider struct {
	manager *Manager
	convs   []Convergence
	closed  bool
}

func (p *mockProvider) RegisterManager(manager *Manager) { p.manager = manager }

func (p *mockProvider) Start() error {
	for _, conv := range p.convs {
		p.manager.Register(conv)
	}
	return nil
}

func (p *mockProvider) Close() error {
	p.closed = true
	return nil
}
