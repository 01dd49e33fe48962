// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"testing"
	"time"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// mockAgent queues all received Messages in its inbox channel.
type mockAgent struct {
	endpoints []bpv7.EndpointID
	receiver  chan Message
	sender    chan Message

	inbox chan Message
}

func newMockAgent(eids ...string) *mockAgent {
	m := &mockAgent{
		receiver: make(chan Message),
		sender:   make(chan Message),
		inbox:    make(chan Message, 16),
	}
	for _, eid := range eids {
		m.endpoints = append(m.endpoints, bpv7.MustNewEndpointID(eid))
	}

	go func() {
		for msg := range m.receiver {
			m.inbox <- msg
		}
	}()

	return m
}

// expect the next Message within a second.
func (m *mockAgent) expect(t *testing.T) Message {
	t.Helper()

	select {
	case msg := <-m.inbox:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("mock agent %v received no Message", m.endpoints)
		return nil
	}
}

// expectNone fails if a Message arrives within a short time.
func (m *mockAgent) expectNone(t *testing.T) {
	t.Helper()

	select {
	case msg := <-m.inbox:
		t.Fatalf("mock agent %v received unexpected %v", m.endpoints, msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func (m *mockAgent) Endpoints() []bpv7.EndpointID {
	return m.endpoints
}

func (m *mockAgent) MessageReceiver() chan Message {
	return m.receiver
}

func (m *mockAgent) MessageSender() chan Message {
	return m.sender
}

// mockBundle addressed to dst.
func mockBundle(t *testing.T, dst string) bpv7.Bundle {
	t.Helper()

	b, err := bpv7.Builder().
		Source("dtn://src/").
		Destination(dst).
		CreationTimestampNow().
		Lifetime("24h").
		HopCountBlock(64).
		PayloadBlock([]byte("hello world")).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return b
}
