// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/peerdiscovery"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/cla/quicl"
	"github.com/dtn7/bpstream/pkg/cla/stcp"
)

// Manager publishes this node's Announcements and registers CLAs for the
// Announcements of other nodes. Repeated Announcements of a peer are ignored
// for some announcement intervals.
type Manager struct {
	NodeId       bpv7.EndpointID
	RegisterFunc func(cla.Convergable)

	reg     *bpv7.Registry
	holdOff time.Duration
	now     func() time.Time

	seenMutex sync.Mutex
	seen      map[string]time.Time

	stopChans []chan struct{}
	closeOnce sync.Once
}

// family of IP multicast.
type family struct {
	version peerdiscovery.IPVersion
	group   string
	host    func(addr string) string
}

var (
	familyIPv4 = family{peerdiscovery.IPv4, address4, func(addr string) string { return addr }}
	familyIPv6 = family{peerdiscovery.IPv6, address6, func(addr string) string { return "[" + addr + "]" }}
)

func newManager(reg *bpv7.Registry, nodeId bpv7.EndpointID, registerFunc func(cla.Convergable), interval time.Duration) *Manager {
	return &Manager{
		NodeId:       nodeId,
		RegisterFunc: registerFunc,
		reg:          reg,
		holdOff:      3 * interval,
		now:          time.Now,
		seen:         make(map[string]time.Time),
	}
}

// NewManager starts announcing and listening on the enabled IP families.
func NewManager(
	reg *bpv7.Registry, nodeId bpv7.EndpointID, registerFunc func(cla.Convergable),
	announcements []Announcement, interval time.Duration,
	ipv4, ipv6 bool) (*Manager, error) {

	manager := newManager(reg, nodeId, registerFunc, interval)

	log.WithFields(log.Fields{
		"interval":      interval,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting discovery Manager")

	payload, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	var families []family
	if ipv4 {
		families = append(families, familyIPv4)
	}
	if ipv6 {
		families = append(families, familyIPv6)
	}

	for _, fam := range families {
		if err := manager.discover(fam, payload, interval); err != nil {
			manager.Close()
			return nil, err
		}
	}

	return manager, nil
}

// discover runs peerdiscovery for one IP family in the background. Errors
// occurring within the first second are returned.
func (manager *Manager) discover(fam family, payload []byte, interval time.Duration) error {
	stopChan := make(chan struct{})

	settings := peerdiscovery.Settings{
		Limit:            -1,
		Port:             fmt.Sprintf("%d", port),
		MulticastAddress: fam.group,
		Payload:          payload,
		Delay:            interval,
		TimeLimit:        -1,
		StopChan:         stopChan,
		AllowSelf:        true,
		IPVersion:        fam.version,
		Notify: func(discovered peerdiscovery.Discovered) {
			manager.handlePayload(fam.host(discovered.Address), discovered.Payload)
		},
	}

	errChan := make(chan error, 1)
	go func() {
		_, err := peerdiscovery.Discover(settings)
		errChan <- err
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-time.After(time.Second):
	}

	manager.stopChans = append(manager.stopChans, stopChan)
	return nil
}

func (manager *Manager) String() string {
	return fmt.Sprintf("discovery(%v)", manager.NodeId)
}

// handlePayload of a multicast packet received from host.
func (manager *Manager) handlePayload(host string, payload []byte) {
	logger := log.WithFields(log.Fields{
		"discovery": manager,
		"peer":      host,
	})

	announcements, err := UnmarshalAnnouncements(manager.reg, payload)
	if err != nil {
		logger.WithError(err).Warn("Dropping unparsable announcement packet")
		return
	}

	for _, announcement := range announcements {
		if !manager.fresh(announcement, host) {
			continue
		}

		logger.WithField("announcement", announcement).Debug("Received new announcement")
		if convergable := manager.convergable(announcement, host); convergable != nil {
			go manager.RegisterFunc(convergable)
		}
	}
}

// fresh reports if an announcement was not seen within the hold-off time.
func (manager *Manager) fresh(announcement Announcement, host string) bool {
	key := fmt.Sprintf("%v %v %s:%d", announcement.Type, announcement.Endpoint, host, announcement.Port)
	now := manager.now()

	manager.seenMutex.Lock()
	defer manager.seenMutex.Unlock()

	for k, t := range manager.seen {
		if now.Sub(t) >= manager.holdOff {
			delete(manager.seen, k)
		}
	}

	if _, ok := manager.seen[key]; ok {
		return false
	}
	manager.seen[key] = now
	return true
}

// convergable for an Announcement received from host, nil for our own or unsupported ones.
func (manager *Manager) convergable(announcement Announcement, host string) cla.Convergable {
	if manager.NodeId.SameNode(announcement.Endpoint) {
		return nil
	}

	address := fmt.Sprintf("%s:%d", host, announcement.Port)

	switch announcement.Type {
	case cla.STCP:
		return stcp.NewSTCPClient(manager.reg, address, announcement.Endpoint, false)

	case cla.QUICL:
		endpoint, err := quicl.NewDialerEndpoint(manager.reg, address, manager.NodeId, false)
		if err != nil {
			log.WithError(err).WithField("discovery", manager).Warn("Announcement has an unusable address")
			return nil
		}
		return endpoint

	default:
		log.WithFields(log.Fields{
			"discovery": manager,
			"peer":      host,
			"type":      uint(announcement.Type),
		}).Warn("Announcement's CLA type is unsupported")
		return nil
	}
}

// Close stops announcing and listening.
func (manager *Manager) Close() {
	manager.closeOnce.Do(func() {
		for _, c := range manager.stopChans {
			c <- struct{}{}
		}
	})
}
