// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

const (
	defaultStartAttempts = 10
	defaultRetryInterval = 10 * time.Second
)

// Manager supervises CLAs and merges their ConvergenceStatus into one Channel.
//
// Failed CLAs are restarted periodically until their start attempts are used
// up. A CLA reporting a PeerDisappeared is restarted right away. The Channel
// must be read continuously, otherwise the Manager blocks.
type Manager struct {
	startAttempts int
	retryInterval time.Duration

	convsMutex sync.Mutex
	convs      map[string]*supervised

	providersMutex sync.Mutex
	providers      []ConvergenceProvider

	listenersMutex sync.Mutex
	listeners      map[CLAType][]bpv7.EndpointID

	inChnl  chan ConvergenceStatus
	outChnl chan ConvergenceStatus

	closeOnce sync.Once
	stopSyn   chan struct{}
	stopAck   chan struct{}
}

// NewManager creates and starts a Manager.
func NewManager() *Manager {
	return newManager(defaultStartAttempts, defaultRetryInterval)
}

func newManager(startAttempts int, retryInterval time.Duration) *Manager {
	manager := &Manager{
		startAttempts: startAttempts,
		retryInterval: retryInterval,

		convs:     make(map[string]*supervised),
		listeners: make(map[CLAType][]bpv7.EndpointID),

		inChnl:  make(chan ConvergenceStatus, 100),
		outChnl: make(chan ConvergenceStatus),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go manager.handler()

	return manager
}

func (manager *Manager) handler() {
	defer close(manager.stopAck)

	retryTicker := time.NewTicker(manager.retryInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-manager.stopSyn:
			log.Debug("CLA Manager is closing")
			manager.shutdown()
			return

		case cs := <-manager.inChnl:
			log.WithField("status", cs).Debug("CLA Manager received ConvergenceStatus")

			if cs.Kind == PeerDisappeared {
				log.WithFields(log.Fields{
					"cla":  cs.Sender,
					"peer": cs.Endpoint,
				}).Info("Peer disappeared, restarting its CLA")

				go manager.Restart(cs.Sender)
			}

			select {
			case manager.outChnl <- cs:
			case <-manager.stopSyn:
				manager.shutdown()
				return
			}

		case <-retryTicker.C:
			manager.retryInactive()
		}
	}
}

// retryInactive starts all inactive CLAs and drops those without any attempts left.
func (manager *Manager) retryInactive() {
	inactive := make(map[string]*supervised)
	manager.convsMutex.Lock()
	for addr, s := range manager.convs {
		if !s.isActive() {
			inactive[addr] = s
		}
	}
	manager.convsMutex.Unlock()

	for addr, s := range inactive {
		if active, retry := s.start(manager.inChnl); active || retry {
			continue
		}

		s.logger().Warn("Dropping CLA, it cannot be started")
		manager.convsMutex.Lock()
		if manager.convs[addr] == s {
			delete(manager.convs, addr)
		}
		manager.convsMutex.Unlock()
	}
}

func (manager *Manager) shutdown() {
	manager.convsMutex.Lock()
	for addr, s := range manager.convs {
		s.stop(0)
		delete(manager.convs, addr)
	}
	manager.convsMutex.Unlock()

	manager.providersMutex.Lock()
	for _, provider := range manager.providers {
		_ = provider.Close()
	}
	manager.providers = nil
	manager.providersMutex.Unlock()

	close(manager.outChnl)
}

// Channel of all CLAs' ConvergenceStatus. It is closed when the Manager is closed.
func (manager *Manager) Channel() chan ConvergenceStatus {
	return manager.outChnl
}

func (manager *Manager) isClosed() bool {
	select {
	case <-manager.stopSyn:
		return true
	default:
		return false
	}
}

// Close the Manager and all supervised CLAs and providers.
func (manager *Manager) Close() error {
	manager.closeOnce.Do(func() {
		close(manager.stopSyn)
		<-manager.stopAck
	})
	return nil
}

// Register a Convergence or a ConvergenceProvider. A Convergence is started
// synchronously.
func (manager *Manager) Register(conv Convergable) {
	if manager.isClosed() {
		return
	}

	switch c := conv.(type) {
	case Convergence:
		manager.registerConvergence(c)
	case ConvergenceProvider:
		manager.registerProvider(c)
	default:
		log.WithField("convergable", conv).Warn("Unknown kind of Convergable")
	}
}

// loopsBack if a sender's peer is one of our own receivers.
func (manager *Manager) loopsBack(conv Convergence) bool {
	cs, ok := conv.(ConvergenceSender)
	if !ok || cs.GetPeerEndpointID().IsNone() {
		return false
	}

	peer := cs.GetPeerEndpointID().String()
	for _, cr := range manager.Receiver() {
		if cr.GetEndpointID().String() == peer {
			return true
		}
	}
	return false
}

func (manager *Manager) registerConvergence(conv Convergence) {
	logger := log.WithFields(log.Fields{
		"cla":     conv,
		"address": conv.Address(),
	})

	if manager.loopsBack(conv) {
		logger.Debug("Refusing CLA, its peer is one of our receivers")
		return
	}

	manager.convsMutex.Lock()
	s, known := manager.convs[conv.Address()]
	if known && s.busy() {
		manager.convsMutex.Unlock()
		logger.Debug("Refusing CLA, its address is already in use")
		return
	}
	if !known || s.conv != conv {
		s = newSupervised(conv, manager.startAttempts)
		manager.convs[conv.Address()] = s
	}
	manager.convsMutex.Unlock()

	if active, retry := s.start(manager.inChnl); !active && !retry {
		logger.Warn("Starting CLA failed for good")

		manager.convsMutex.Lock()
		if manager.convs[conv.Address()] == s {
			delete(manager.convs, conv.Address())
		}
		manager.convsMutex.Unlock()
	}
}

func (manager *Manager) registerProvider(provider ConvergenceProvider) {
	manager.providersMutex.Lock()
	defer manager.providersMutex.Unlock()

	for _, known := range manager.providers {
		if known == provider {
			log.WithField("provider", provider).Debug("Provider is already registered")
			return
		}
	}
	manager.providers = append(manager.providers, provider)

	provider.RegisterManager(manager)
	if err := provider.Start(); err != nil {
		log.WithError(err).WithField("provider", provider).Warn("Starting provider errored")
	}
}

// Unregister a Convergence or a ConvergenceProvider and close it.
func (manager *Manager) Unregister(conv Convergable) {
	switch c := conv.(type) {
	case Convergence:
		manager.convsMutex.Lock()
		s, known := manager.convs[c.Address()]
		known = known && s.conv == c
		if known {
			delete(manager.convs, c.Address())
		}
		manager.convsMutex.Unlock()

		if !known {
			log.WithField("address", c.Address()).Info("Cannot unregister unknown CLA")
			return
		}
		s.stop(manager.startAttempts)

	case ConvergenceProvider:
		manager.providersMutex.Lock()
		defer manager.providersMutex.Unlock()

		for i, provider := range manager.providers {
			if provider == c {
				_ = provider.Close()
				manager.providers = append(manager.providers[:i], manager.providers[i+1:]...)
				return
			}
		}

	default:
		log.WithField("convergable", conv).Warn("Unknown kind of Convergable")
	}
}

// Restart a CLA by unregistering and registering it again.
func (manager *Manager) Restart(conv Convergable) {
	manager.Unregister(conv)
	manager.Register(conv)
}

// active returns all active supervised CLAs.
func (manager *Manager) active() (convs []Convergence) {
	manager.convsMutex.Lock()
	defer manager.convsMutex.Unlock()

	for _, s := range manager.convs {
		if s.isActive() {
			convs = append(convs, s.conv)
		}
	}
	return
}

// Sender returns all active ConvergenceSenders.
func (manager *Manager) Sender() (css []ConvergenceSender) {
	for _, conv := range manager.active() {
		if cs, ok := conv.(ConvergenceSender); ok {
			css = append(css, cs)
		}
	}
	return
}

// Receiver returns all active ConvergenceReceivers.
func (manager *Manager) Receiver() (crs []ConvergenceReceiver) {
	for _, conv := range manager.active() {
		if cr, ok := conv.(ConvergenceReceiver); ok {
			crs = append(crs, cr)
		}
	}
	return
}

// RegisterEndpointID of a listener of some CLAType, e.g., to be announced.
func (manager *Manager) RegisterEndpointID(claType CLAType, eid bpv7.EndpointID) {
	manager.listenersMutex.Lock()
	defer manager.listenersMutex.Unlock()

	manager.listeners[claType] = append(manager.listeners[claType], eid)
}

// EndpointIDs of all listeners of a CLAType.
func (manager *Manager) EndpointIDs(claType CLAType) []bpv7.EndpointID {
	manager.listenersMutex.Lock()
	defer manager.listenersMutex.Unlock()

	return append([]bpv7.EndpointID(nil), manager.listeners[claType]...)
}

// HasEndpoint checks if some listener's EndpointID names the same node.
func (manager *Manager) HasEndpoint(eid bpv7.EndpointID) bool {
	manager.listenersMutex.Lock()
	defer manager.listenersMutex.Unlock()

	for _, eids := range manager.listeners {
		for _, listener := range eids {
			if listener.SameNode(eid) {
				return true
			}
		}
	}
	return false
}
