// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

func TestManager(t *testing.T) {
	const (
		senderNo   int = 10
		receiverNo int = 50
	)

	bndl, bndlErr := bpv7.Builder().
		Source("dtn://src/").
		Destination("dtn://dest/").
		CreationTimestampEpoch().
		Lifetime("10m").
		BundleAgeBlock(0).
		PayloadBlock([]byte("hello world")).
		Build()
	if bndlErr != nil {
		t.Fatal(bndlErr)
	}

	manager := NewManager()
	defer func() { _ = manager.Close() }()

	readErrCh := make(chan error, receiverNo)
	go func(ch chan ConvergenceStatus) {
		for cs := range ch {
			if cs.Kind != ReceivedBundle {
				continue
			}

			if cs.Bundle != &bndl {
				readErrCh <- fmt.Errorf("Received bundle did not match")
			} else {
				readErrCh <- nil
			}
		}
	}(manager.Channel())

	var senders [senderNo]*mockConvSender
	for i := 0; i < senderNo; i++ {
		senders[i] = newMockConvSender(
			true, fmt.Sprintf("mock://sender_%d/", i),
			bpv7.MustNewEndpointID(fmt.Sprintf("dtn://ms_%d/", i)))

		manager.Register(senders[i])
	}

	var receivers [receiverNo]*mockConvRec
	for i := 0; i < receiverNo; i++ {
		receivers[i] = newMockConvRec(
			true, fmt.Sprintf("mock://receiver_%d/", i),
			bpv7.MustNewEndpointID(fmt.Sprintf("dtn://mr_%d/", i)))

		manager.Register(receivers[i])
	}

	if css := manager.Sender(); len(css) != senderNo {
		t.Fatalf("Wrong amount of senders, expected: %d, got: %d", senderNo, len(css))
	}
	if crs := manager.Receiver(); len(crs) != receiverNo {
		t.Fatalf("Wrong amount of receiver, expected: %d, got: %d", receiverNo, len(crs))
	}

	var recWg sync.WaitGroup
	recWg.Add(receiverNo)
	for i := 0; i < receiverNo; i++ {
		go func(m *mockConvRec) {
			m.reportChan <- NewConvergenceReceivedBundle(m, m.GetEndpointID(), &bndl)
			recWg.Done()
		}(receivers[i])
	}
	recWg.Wait()

	for i := 0; i < receiverNo; i++ {
		select {
		case err := <-readErrCh:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Only %d of %d bundles were forwarded", i, receiverNo)
		}
	}
}

func TestManagerRestartsDisappearedPeer(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	go func() {
		for range manager.Channel() {
		}
	}()

	sender := newMockConvSender(true, "mock://sender/", bpv7.MustNewEndpointID("dtn://peer/"))
	manager.Register(sender)

	sender.reportChan <- NewConvergencePeerDisappeared(sender, sender.GetPeerEndpointID())

	deadline := time.Now().Add(5 * time.Second)
	for sender.startCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Sender was started %d times", sender.startCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerRetry(t *testing.T) {
	manager := newManager(2, 20*time.Millisecond)
	defer func() { _ = manager.Close() }()

	sender := newMockConvSender(false, "mock://failing/", bpv7.MustNewEndpointID("dtn://peer/"))
	manager.Register(sender)

	if css := manager.Sender(); len(css) != 0 {
		t.Fatalf("Failing sender is active")
	}

	// One start per remaining ttl.
	deadline := time.Now().Add(5 * time.Second)
	for sender.startCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Sender was started %d times", sender.startCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if n := sender.startCount(); n != 2 {
		t.Fatalf("Sender was started %d times after its ttl expired", n)
	}
}

func TestManagerSharedAddress(t *testing.T) {
	eid := bpv7.MustNewEndpointID("dtn://peer/")

	tests := []struct {
		name        string
		firstStarts bool
		wantSecond  bool
	}{
		{"first active", true, false},
		{"first inactive", false, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			manager := newManager(3, time.Hour)
			defer func() { _ = manager.Close() }()

			go func() {
				for range manager.Channel() {
				}
			}()

			first := newMockConvSender(test.firstStarts, "mock://shared/", eid)
			second := newMockConvSender(true, "mock://shared/", eid)

			manager.Register(first)
			manager.Register(second)

			if n := first.startCount(); n != 1 {
				t.Fatalf("First sender was started %d times", n)
			}

			want := Convergence(first)
			if test.wantSecond {
				want = second
			}
			if n := second.startCount(); (n == 1) != test.wantSecond {
				t.Fatalf("Second sender was started %d times", n)
			}

			css := manager.Sender()
			if test.firstStarts || test.wantSecond {
				if len(css) != 1 || Convergence(css[0]) != want {
					t.Fatalf("Active senders are %v", css)
				}
			}

			// Unregistering the replaced CLA must not affect the current one.
			manager.Unregister(first)
			if test.wantSecond && len(manager.Sender()) != 1 {
				t.Fatal("Unregistering the replaced sender stopped its successor")
			}
		})
	}
}

func TestManagerLoopbackSender(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	eid := bpv7.MustNewEndpointID("dtn://self/")
	manager.Register(newMockConvRec(true, "mock://receiver/", eid))
	manager.Register(newMockConvSender(true, "mock://sender/", eid))

	if css := manager.Sender(); len(css) != 0 {
		t.Fatalf("Sender to an own receiver was registered")
	}
}

func TestManagerProvider(t *testing.T) {
	manager := NewManager()

	provider := &mockProvider{convs: []Convergence{
		newMockConvRec(true, "mock://provided_rec/", bpv7.MustNewEndpointID("dtn://a/")),
		newMockConvSender(true, "mock://provided_sender/", bpv7.MustNewEndpointID("dtn://b/")),
	}}
	manager.Register(provider)

	if len(manager.Receiver()) != 1 || len(manager.Sender()) != 1 {
		t.Fatalf("Provider's Convergences were not registered")
	}

	_ = manager.Close()
	if !provider.closed {
		t.Fatalf("Provider was not closed")
	}
}

func TestManagerEndpointIDs(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	manager.RegisterEndpointID(STCP, bpv7.MustNewEndpointID("dtn://node/stcp"))
	manager.RegisterEndpointID(QUICL, bpv7.MustNewEndpointID("dtn://node/quicl"))

	if eids := manager.EndpointIDs(STCP); len(eids) != 1 {
		t.Fatalf("Expected one STCP EndpointID, got %v", eids)
	}
	if !manager.HasEndpoint(bpv7.MustNewEndpointID("dtn://node/app")) {
		t.Fatalf("Node's endpoint is unknown")
	}
	if manager.HasEndpoint(bpv7.MustNewEndpointID("dtn://other/")) {
		t.Fatalf("Foreign endpoint is known")
	}
}

func TestCLATypes(t *testing.T) {
	for _, claType := range CLATypes {
		if err := claType.CheckValid(); err != nil {
			t.Fatal(err)
		}
		if parsed, err := ParseCLAType(claType.Name()); err != nil || parsed != claType {
			t.Fatalf("%v: parsed %v, %v", claType, parsed, err)
		}
	}

	if err := CLAType(42).CheckValid(); err == nil {
		t.Fatalf("Unknown CLAType is valid")
	}
	if _, err := ParseCLAType("tcpcl"); err == nil {
		t.Fatalf("Unknown CLA name was parsed")
	}

	rb := bpv7.NewRegistryBuilder()
	if err := RegisterCLAs(rb); err != nil {
		t.Fatal(err)
	}
	reg := rb.Build()

	if _, err := reg.NewEndpointID("cla:stcp:10.0.0.1:4556"); err != nil {
		t.Fatal(err)
	}
	if err := RegisterCLAs(rb); err == nil {
		t.Fatalf("Registering CLAs twice did not fail")
	}
}
