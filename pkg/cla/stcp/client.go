// SPDX-FileCopyrightText: 2019 Markus Sommer
// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stcp implements the Simple TCP Convergence-Layer. A connection
// carries a plain sequence of serialized bundles from the client to the
// server, delimited by their own encoding.
package stcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
)

// STCPClient connects to a STCPServer to send bundles. This struct
// implements a ConvergenceSender.
type STCPClient struct {
	reg *bpv7.Registry

	conn       net.Conn
	peer       bpv7.EndpointID
	mutex      sync.Mutex
	reportChan chan cla.ConvergenceStatus

	permanent bool
	address   string

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewSTCPClient creates a new STCPClient, connected to the given address for
// the registered endpoint ID. The permanent flag indicates if this STCPClient
// should never be removed from the Manager.
func NewSTCPClient(reg *bpv7.Registry, address string, peer bpv7.EndpointID, permanent bool) *STCPClient {
	return &STCPClient{
		reg:        reg,
		peer:       peer,
		permanent:  permanent,
		address:    address,
		reportChan: make(chan cla.ConvergenceStatus),
	}
}

// NewAnonymousSTCPClient creates a new STCPClient without a known peer.
func NewAnonymousSTCPClient(reg *bpv7.Registry, address string, permanent bool) *STCPClient {
	return NewSTCPClient(reg, address, bpv7.DtnNone(), permanent)
}

func (client *STCPClient) Start() (err error, retry bool) {
	retry = true

	conn, connErr := dial(client.address)
	if connErr != nil {
		err = connErr
		return
	}

	stopSyn, stopAck := make(chan struct{}), make(chan struct{})

	client.mutex.Lock()
	client.conn = conn
	client.stopSyn, client.stopAck = stopSyn, stopAck
	client.mutex.Unlock()

	go client.handler(conn, stopSyn, stopAck)
	return
}

// report a ConvergenceStatus unless this client is being stopped.
func (client *STCPClient) report(cs cla.ConvergenceStatus, stopSyn chan struct{}) {
	select {
	case client.reportChan <- cs:
	case <-stopSyn:
	}
}

func (client *STCPClient) handler(conn net.Conn, stopSyn, stopAck chan struct{}) {
	defer close(stopAck)

	client.report(cla.NewConvergencePeerAppeared(client, client.GetPeerEndpointID()), stopSyn)

	// The server never writes. A returning Read indicates a closed connection.
	closed := make(chan error, 1)
	go func() {
		_, err := conn.Read(make([]byte, 1))
		closed <- err
	}()

	select {
	case <-stopSyn:
		_ = conn.Close()
		<-closed

	case err := <-closed:
		if !errors.Is(err, io.EOF) {
			log.WithFields(log.Fields{
				"client": client.String(),
				"error":  err,
			}).Warn("STCPClient: connection errored")
		}

		client.report(cla.NewConvergencePeerDisappeared(client, client.GetPeerEndpointID()), stopSyn)
		<-stopSyn
		_ = conn.Close()
	}
}

// Send a bundle by serializing it chunk-wise onto the connection.
func (client *STCPClient) Send(bndl *bpv7.Bundle) (err error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.conn == nil {
		return fmt.Errorf("STCPClient %v was not started", client)
	}

	err = bndl.Serialize(client.reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		_, writeErr := client.conn.Write(chunk)
		return writeErr
	})
	if err != nil && client.stopSyn != nil {
		go client.report(cla.NewConvergencePeerDisappeared(client, client.GetPeerEndpointID()), client.stopSyn)
	}
	return
}

func (client *STCPClient) Channel() chan cla.ConvergenceStatus {
	return client.reportChan
}

func (client *STCPClient) Close() error {
	client.mutex.Lock()
	stopSyn, stopAck := client.stopSyn, client.stopAck
	client.stopSyn, client.stopAck = nil, nil
	client.mutex.Unlock()

	if stopSyn == nil {
		return nil
	}

	close(stopSyn)
	<-stopAck
	return nil
}

func (client *STCPClient) GetPeerEndpointID() bpv7.EndpointID {
	return client.peer
}

func (client *STCPClient) Address() string {
	return client.address
}

func (client *STCPClient) IsPermanent() bool {
	return client.permanent
}

func (client *STCPClient) String() string {
	return fmt.Sprintf("stcp://%s", client.address)
}
