// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
)

// STCPServer accepts bundles from multiple connections and forwards them to
// its channel. Each connection's stream is fed into its own parser. This
// struct implements a ConvergenceReceiver.
type STCPServer struct {
	reg *bpv7.Registry

	listenAddress string
	reportChan    chan cla.ConvergenceStatus
	endpointID    bpv7.EndpointID
	permanent     bool

	conns sync.Map

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewSTCPServer creates a new STCPServer for the given listen address. The
// permanent flag indicates if this STCPServer should never be removed from
// the Manager.
func NewSTCPServer(reg *bpv7.Registry, listenAddress string, endpointID bpv7.EndpointID, permanent bool) *STCPServer {
	return &STCPServer{
		reg:           reg,
		listenAddress: listenAddress,
		reportChan:    make(chan cla.ConvergenceStatus),
		endpointID:    endpointID,
		permanent:     permanent,
	}
}

func (serv *STCPServer) Start() (error, bool) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", serv.listenAddress)
	if err != nil {
		return err, false
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err, true
	}

	serv.stopSyn = make(chan struct{})
	serv.stopAck = make(chan struct{})

	go serv.accept(ln, serv.stopSyn, serv.stopAck)

	return nil, true
}

func (serv *STCPServer) accept(ln *net.TCPListener, stopSyn, stopAck chan struct{}) {
	var wg sync.WaitGroup

	for {
		select {
		case <-stopSyn:
			_ = ln.Close()

			serv.conns.Range(func(conn, _ interface{}) bool {
				_ = conn.(net.Conn).Close()
				return true
			})
			wg.Wait()

			close(stopAck)
			return

		default:
			if err := ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
				log.WithFields(log.Fields{
					"cla":   serv,
					"error": err,
				}).Warn("STCPServer failed to set deadline on TCP socket")

				continue
			}

			conn, err := ln.Accept()
			if err != nil {
				continue
			}

			serv.conns.Store(conn, struct{}{})
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer serv.conns.Delete(conn)

				serv.handleSender(conn, stopSyn)
			}()
		}
	}
}

func (serv *STCPServer) handleSender(conn net.Conn, stopSyn chan struct{}) {
	defer conn.Close()

	logger := log.WithFields(log.Fields{
		"cla":  serv,
		"peer": conn.RemoteAddr(),
	})
	logger.Debug("STCP connection was established")

	emitter := serv.reg.NewBundleEmitter(func(bndl bpv7.Bundle) {
		logger.WithField("bundle", bndl.ID()).Debug("STCP connection received a bundle")

		select {
		case serv.reportChan <- cla.NewConvergenceReceivedBundle(serv, serv.endpointID, &bndl):
		case <-stopSyn:
		}
	}, nil)
	defer emitter.Dispose()

	buf := make([]byte, bpv7.DefaultChunkSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			if err := emitter.Feed(buf[:n]); err != nil {
				logger.WithError(err).Warn("STCP connection received a malformed bundle")
				return
			}
		}

		switch {
		case readErr == nil:
			continue

		case errors.Is(readErr, io.EOF):
			if emitter.InProgress() {
				logger.WithField("offset", emitter.Offset()).Warn("STCP connection closed within a bundle")
			} else {
				logger.Debug("STCP connection was closed")
			}
			return

		default:
			logger.WithError(readErr).Debug("STCP connection failed")
			return
		}
	}
}

func (serv *STCPServer) Channel() chan cla.ConvergenceStatus {
	return serv.reportChan
}

func (serv *STCPServer) Close() error {
	if serv.stopSyn == nil {
		return nil
	}

	close(serv.stopSyn)
	<-serv.stopAck

	serv.stopSyn, serv.stopAck = nil, nil
	return nil
}

func (serv *STCPServer) GetEndpointID() bpv7.EndpointID {
	return serv.endpointID
}

func (serv *STCPServer) Address() string {
	return fmt.Sprintf("stcp://%s", serv.listenAddress)
}

func (serv *STCPServer) IsPermanent() bool {
	return serv.permanent
}

func (serv *STCPServer) String() string {
	return serv.Address()
}
