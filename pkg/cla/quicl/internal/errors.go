// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import "github.com/quic-go/quic-go"

// Connection error codes, sent when closing a connection.
const (
	UnknownError quic.ApplicationErrorCode = iota + 1
	LocalError
	ConnectionError
	// PeerError blames the peer, e.g., for a malformed endpoint ID.
	PeerError
	ApplicationShutdown
)

// Stream error codes, sent when aborting a bundle's stream.
const (
	DataMarshalError quic.StreamErrorCode = iota + 1
	StreamTransmissionError
	DataUnmarshalError
)

// HandshakeError fails the exchange of endpoint IDs. Its Code closes the connection.
type HandshakeError struct {
	Msg   string
	Code  quic.ApplicationErrorCode
	Cause error
}

func NewHandshakeError(message string, code quic.ApplicationErrorCode, cause error) *HandshakeError {
	return &HandshakeError{Msg: message, Code: code, Cause: cause}
}

func (err *HandshakeError) Error() string {
	if err.Cause == nil {
		return err.Msg
	}
	return err.Msg + ": " + err.Cause.Error()
}

func (err *HandshakeError) Unwrap() error {
	return err.Cause
}
