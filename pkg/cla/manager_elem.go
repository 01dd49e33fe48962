// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// supervised wraps a Convergence under a Manager's control. An inactive
// supervised Convergence has a budget of remaining start attempts; permanent
// CLAs ignore the budget.
type supervised struct {
	conv Convergence

	// mutex is held while starting or stopping. active may be read without it.
	mutex    sync.Mutex
	active   atomic.Bool
	attempts int

	stopSyn chan struct{}
	stopAck chan struct{}
}

func newSupervised(conv Convergence, attempts int) *supervised {
	return &supervised{conv: conv, attempts: attempts}
}

func (s *supervised) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"cla":     s.conv,
		"address": s.conv.Address(),
	})
}

func (s *supervised) isActive() bool {
	return s.active.Load()
}

// busy if active or currently starting.
func (s *supervised) busy() bool {
	if !s.mutex.TryLock() {
		return true
	}
	defer s.mutex.Unlock()

	return s.active.Load()
}

// start the Convergence unless it is already active. The result tells if the
// Convergence is active afterwards and if another attempt is worthwhile.
func (s *supervised) start(out chan<- ConvergenceStatus) (active, retry bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.active.Load() {
		return true, false
	}
	if s.attempts <= 0 && !s.conv.IsPermanent() {
		s.logger().Info("CLA exhausted its start attempts")
		return false, false
	}

	err, claRetry := s.conv.Start()
	if err != nil {
		s.attempts--
		if !claRetry {
			s.attempts = 0
		}

		s.logger().WithError(err).WithFields(log.Fields{
			"permanent": s.conv.IsPermanent(),
			"attempts":  s.attempts,
			"retry":     claRetry,
		}).Info("Starting CLA failed")

		return false, claRetry && (s.attempts > 0 || s.conv.IsPermanent())
	}

	s.logger().Info("Started CLA")

	s.active.Store(true)
	s.stopSyn = make(chan struct{})
	s.stopAck = make(chan struct{})
	go s.relay(out, s.stopSyn, s.stopAck)

	return true, false
}

// relay the Convergence's statuses to the Manager until stopped.
func (s *supervised) relay(out chan<- ConvergenceStatus, stopSyn <-chan struct{}, stopAck chan<- struct{}) {
	defer close(stopAck)

	for {
		select {
		case <-stopSyn:
			return

		case cs, ok := <-s.conv.Channel():
			if !ok {
				<-stopSyn
				return
			}

			s.logger().WithField("status", cs).Debug("Relaying ConvergenceStatus")

			select {
			case out <- cs:
			case <-stopSyn:
				return
			}
		}
	}
}

// stop an active Convergence and reset its start attempts.
func (s *supervised) stop(attempts int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.active.Load() {
		return
	}

	s.logger().Info("Stopping CLA")

	close(s.stopSyn)
	if err := s.conv.Close(); err != nil {
		s.logger().WithError(err).Debug("Closing CLA errored")
	}
	<-s.stopAck

	s.active.Store(false)
	s.attempts = attempts
}
