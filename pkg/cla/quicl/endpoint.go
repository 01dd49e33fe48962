// SPDX-FileCopyrightText: 2022 Markus Sommer
// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/cla/quicl/internal"
	"github.com/dtn7/bpstream/pkg/parser"
)

const handshakeTimeout = 500 * time.Millisecond

// Endpoint is one side of a QUICL connection. Each bundle travels on its own
// stream, so both sides send and receive.
type Endpoint struct {
	reg *bpv7.Registry

	id          bpv7.EndpointID
	peerId      bpv7.EndpointID
	peerAddress string
	connection  quic.Connection

	statusChan chan cla.ConvergenceStatus

	mutex sync.Mutex
	stop  chan struct{}

	permanent bool
	dialer    bool
}

// NewListenerEndpoint wraps a connection accepted by a Listener.
func NewListenerEndpoint(reg *bpv7.Registry, id bpv7.EndpointID, connection quic.Connection) *Endpoint {
	return &Endpoint{
		reg:         reg,
		id:          id,
		peerAddress: connection.RemoteAddr().String(),
		connection:  connection,
		statusChan:  make(chan cla.ConvergenceStatus),
	}
}

// NewDialerEndpoint connects to a listener's host:port on Start.
func NewDialerEndpoint(reg *bpv7.Registry, peerAddress string, id bpv7.EndpointID, permanent bool) (*Endpoint, error) {
	if _, _, err := net.SplitHostPort(peerAddress); err != nil {
		return nil, fmt.Errorf("invalid peer address %q: %w", peerAddress, err)
	}
	return &Endpoint{
		reg:         reg,
		id:          id,
		peerAddress: peerAddress,
		statusChan:  make(chan cla.ConvergenceStatus),
		permanent:   permanent,
		dialer:      true,
	}, nil
}

func (e *Endpoint) String() string {
	role := "listener"
	if e.dialer {
		role = "dialer"
	}
	return fmt.Sprintf("quicl(%s %v at %s, permanent: %t)", role, e.peerId, e.peerAddress, e.permanent)
}

func (e *Endpoint) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	if e.connection == nil {
		return nil
	}
	return e.connection.CloseWithError(internal.ApplicationShutdown, "shutting down")
}

// Start dials, if necessary, and exchanges endpoint IDs. A failed start is
// retried for permanent endpoints only.
func (e *Endpoint) Start() (error, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	if e.dialer {
		conn, err := quic.DialAddr(ctx, e.peerAddress, internal.DialerTLSConfig(), internal.QUICConfig())
		if err != nil {
			return err, e.permanent
		}
		e.connection = conn
	}

	log.WithFields(log.Fields{"endpoint": e.id, "peer": e.peerAddress}).Debug("Starting QUICL endpoint")

	if err := e.handshake(ctx); err != nil {
		e.abort(err)
		return err, e.permanent
	}

	stop := make(chan struct{})
	e.mutex.Lock()
	e.stop = stop
	e.mutex.Unlock()

	go e.acceptStreams(stop)
	return nil, e.permanent
}

// abort closes the connection after a failed handshake with the matching error code.
func (e *Endpoint) abort(err error) {
	var herr *internal.HandshakeError
	if !errors.As(err, &herr) {
		_ = e.connection.CloseWithError(internal.LocalError, "local error")
		return
	}

	log.WithFields(log.Fields{"cla": e, "error": herr}).Warn("QUICL handshake failed")
	_ = e.connection.CloseWithError(herr.Code, herr.Msg)
}

func (e *Endpoint) Channel() chan cla.ConvergenceStatus {
	return e.statusChan
}

// Address of the peer. An accepted connection has the peer's ephemeral port.
func (e *Endpoint) Address() string {
	return "quicl://" + e.peerAddress
}

func (e *Endpoint) IsPermanent() bool {
	return e.permanent
}

func (e *Endpoint) GetEndpointID() bpv7.EndpointID {
	return e.id
}

func (e *Endpoint) GetPeerEndpointID() bpv7.EndpointID {
	return e.peerId
}

// Send opens a new stream for the bundle and closes it afterwards.
func (e *Endpoint) Send(bndl *bpv7.Bundle) error {
	stream, err := e.connection.OpenStream()
	if err != nil {
		return err
	}

	if err := bndl.Serialize(e.reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		_, err := stream.Write(chunk)
		return err
	}); err != nil {
		stream.CancelWrite(internal.StreamTransmissionError)
		return err
	}
	return stream.Close()
}

func (e *Endpoint) report(cs cla.ConvergenceStatus, stop chan struct{}) {
	select {
	case e.statusChan <- cs:
	case <-stop:
	}
}

func (e *Endpoint) acceptStreams(stop chan struct{}) {
	e.report(cla.NewConvergencePeerAppeared(e, e.peerId), stop)

	for {
		stream, err := e.connection.AcceptStream(context.Background())
		if err != nil {
			if e.peerLost(err) {
				e.report(cla.NewConvergencePeerDisappeared(e, e.peerId), stop)
			}
			return
		}
		go e.receive(stream, stop)
	}
}

// peerLost decides whether a connection error means the peer is gone. Our
// own shutdown does not count.
func (e *Endpoint) peerLost(err error) bool {
	var idleErr *quic.IdleTimeoutError
	var appErr *quic.ApplicationError

	switch {
	case errors.As(err, &idleErr):
		log.WithField("cla", e).Debug("QUICL peer timed out")
		return true

	case errors.As(err, &appErr):
		log.WithFields(log.Fields{
			"cla":     e,
			"remote":  appErr.Remote,
			"code":    appErr.ErrorCode,
			"message": appErr.ErrorMessage,
		}).Debug("QUICL connection closed")
		return appErr.Remote

	default:
		log.WithFields(log.Fields{"cla": e, "error": err}).Warn("QUICL failed to accept stream")
		return true
	}
}

func (e *Endpoint) receive(stream quic.Stream, stop chan struct{}) {
	bndl, err := e.reg.ReadBundle(stream)
	if err != nil {
		log.WithFields(log.Fields{"cla": e, "error": err}).Warn("QUICL failed to read bundle")
		stream.CancelRead(internal.DataUnmarshalError)
		return
	}

	log.WithFields(log.Fields{"cla": e, "bundle": bndl.ID()}).Debug("QUICL received bundle")
	e.report(cla.NewConvergenceReceivedBundle(e, e.id, &bndl), stop)
}

// handshake exchanges endpoint IDs on the first stream, opened by the dialer,
// which also sends first.
func (e *Endpoint) handshake(ctx context.Context) error {
	var stream quic.Stream
	var err error
	steps := []func(quic.Stream) error{e.sendEndpointID, e.receiveEndpointID}

	if e.dialer {
		if stream, err = e.connection.OpenStreamSync(ctx); err != nil {
			return internal.NewHandshakeError("opening handshake stream", internal.ConnectionError, err)
		}
	} else {
		if stream, err = e.connection.AcceptStream(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return internal.NewHandshakeError("dialer did not start the handshake in time", internal.PeerError, err)
			}
			return internal.NewHandshakeError("accepting handshake stream", internal.UnknownError, err)
		}
		steps[0], steps[1] = steps[1], steps[0]
	}

	for _, step := range steps {
		if err := step(stream); err != nil {
			return err
		}
	}

	if err := stream.Close(); err != nil {
		return internal.NewHandshakeError("closing handshake stream", internal.ConnectionError, err)
	}
	return nil
}

func (e *Endpoint) sendEndpointID(stream quic.Stream) error {
	if _, err := cbor.WriteTo(e.id.Encoder(), stream); err != nil {
		return internal.NewHandshakeError("sending endpoint ID", internal.ConnectionError, err)
	}
	return nil
}

func (e *Endpoint) receiveEndpointID(stream quic.Stream) error {
	_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = stream.SetReadDeadline(time.Time{}) }()

	id, err := readEndpointID(e.reg, stream)
	var parseErr *parser.Error
	switch {
	case errors.As(err, &parseErr):
		return internal.NewHandshakeError("malformed peer endpoint ID", internal.PeerError, err)
	case err != nil:
		return internal.NewHandshakeError("reading endpoint ID", internal.ConnectionError, err)
	}

	log.WithFields(log.Fields{"cla": e, "peer id": id}).Debug("QUICL learned peer endpoint ID")
	e.peerId = id
	return nil
}

// readEndpointID parses one EndpointID from r without reading past it.
func readEndpointID(reg *bpv7.Registry, r io.Reader) (id bpv7.EndpointID, err error) {
	done := false
	emitter := parser.NewEmitter[bpv7.EndpointID](reg.EndpointProgram(), func(eid bpv7.EndpointID) {
		id, done = eid, true
	}, nil)

	buf := make([]byte, 1)
	for !done {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err = emitter.Feed(buf[:n]); err != nil {
				return
			}
		}
		if done {
			break
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				readErr = io.ErrUnexpectedEOF
			}
			err = readErr
			return
		}
	}
	return
}
