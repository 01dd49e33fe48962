// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"testing"
	"time"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

func TestPingAgent(t *testing.T) {
	pingEid := bpv7.MustNewEndpointID("dtn://foo/ping")

	request := func(bldr *bpv7.BundleBuilder) bpv7.Bundle {
		b, err := bldr.
			Destination(pingEid).
			CreationTimestampNow().
			Lifetime("5m").
			Build()
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	tests := []struct {
		name    string
		req     bpv7.Bundle
		dst     string
		hop     int
		payload string
	}{
		{"source", request(bpv7.Builder().Source("dtn://bar/").PayloadBlock([]byte(""))), "dtn://bar/", -1, ""},
		{"report-to", request(bpv7.Builder().
			Source("dtn://bar/app").
			ReportTo("dtn://bar/reports").
			HopCountBlock(23).
			PayloadBlock([]byte("ping 42"))), "dtn://bar/reports", 23, "ping 42"},
		{"ipn", request(bpv7.Builder().Source("ipn:23.42").PayloadBlock([]byte("hello"))), "ipn:23.42", -1, "hello"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ping := NewPing(pingEid)
			defer func() { ping.MessageReceiver() <- ShutdownMessage{} }()

			ping.MessageReceiver() <- BundleMessage{test.req}

			var echo bpv7.Bundle
			select {
			case <-time.After(time.Second):
				t.Fatal("PingAgent did not answer")

			case msg := <-ping.MessageSender():
				bm, ok := msg.(BundleMessage)
				if !ok {
					t.Fatalf("answer is a %T", msg)
				}
				echo = bm.Bundle
			}

			if dst := echo.PrimaryBlock.Destination.String(); dst != test.dst {
				t.Fatalf("echo is addressed to %s, expected %s", dst, test.dst)
			}
			if src := echo.PrimaryBlock.SourceNode.String(); src != pingEid.String() {
				t.Fatalf("echo is sent from %s", src)
			}
			if payload := string(echo.Payload()); payload != test.payload {
				t.Fatalf("echo has payload %q, expected %q", payload, test.payload)
			}

			cb, err := echo.ExtensionBlock(bpv7.ExtBlockTypeHopCountBlock)
			switch {
			case test.hop < 0 && err == nil:
				t.Fatal("echo has an unexpected hop count block")
			case test.hop >= 0 && err != nil:
				t.Fatal(err)
			case test.hop >= 0 && int(cb.Value.(*bpv7.HopCountBlock).Limit) != test.hop:
				t.Fatalf("echo has hop limit %d", cb.Value.(*bpv7.HopCountBlock).Limit)
			}
		})
	}
}

func TestPingAgentAdministrativeRecord(t *testing.T) {
	pingEid := bpv7.MustNewEndpointID("dtn://foo/ping")
	ping := NewPing(pingEid)
	defer func() { ping.MessageReceiver() <- ShutdownMessage{} }()

	ref, err := bpv7.Builder().
		Source(pingEid).
		Destination("dtn://bar/").
		CreationTimestampNow().
		Lifetime("5m").
		PayloadBlock([]byte("hello")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	report := bpv7.NewStatusReport(ref, bpv7.ReceivedBundle, bpv7.NoInformation, bpv7.DtnTimeNow())
	ar, err := bpv7.NewAdministrativeRecordBundle(report, bpv7.MustNewEndpointID("dtn://bar/"), pingEid, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ping.MessageReceiver() <- BundleMessage{ar}

	select {
	case msg := <-ping.MessageSender():
		t.Fatalf("PingAgent answered an administrative record with %v", msg)
	case <-time.After(250 * time.Millisecond):
	}
}
