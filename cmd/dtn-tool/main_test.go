// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"

	"github.com/dtn7/bpstream/pkg/agent"
	"github.com/dtn7/bpstream/pkg/bpv7"
)

func runTool(t *testing.T, stdin []byte, args ...string) []byte {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(bytes.NewReader(stdin))
	root.SetOut(&out)

	if err := root.Execute(); err != nil {
		t.Fatalf("dtn-tool %v failed: %v", args, err)
	}
	return out.Bytes()
}

func TestBuildBundle(t *testing.T) {
	tests := []struct {
		name    string
		opts    createOptions
		hop     bool
		valid   bool
		reports bool
	}{
		{"default", createOptions{lifetime: "24h", hopLimit: 64, crc: "32"}, true, true, false},
		{"no hop count", createOptions{lifetime: "1h", crc: "none"}, false, true, false},
		{"reports", createOptions{lifetime: "1h", crc: "16", reports: true}, false, true, true},
		{"invalid crc", createOptions{lifetime: "1h", crc: "64"}, false, false, false},
		{"invalid lifetime", createOptions{lifetime: "soon", crc: "32"}, false, false, false},
		{"invalid hop limit", createOptions{lifetime: "1h", crc: "32", hopLimit: 300}, false, false, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b, err := buildBundle("dtn://src/", "dtn://dst/", []byte("hello"), test.opts)
			if (err == nil) != test.valid {
				t.Fatalf("expected valid = %t, got error %v", test.valid, err)
			}
			if !test.valid {
				return
			}

			if got := b.PrimaryBlock.Destination.String(); got != "dtn://dst/" {
				t.Fatalf("destination is %q", got)
			}
			if got := b.PrimaryBlock.ReportTo.String(); got != "dtn://src/" {
				t.Fatalf("report-to is %q", got)
			}
			if got := b.HasExtensionBlock(bpv7.ExtBlockTypeHopCountBlock); got != test.hop {
				t.Fatalf("hop count block present = %t", got)
			}
			if got := b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDelivery); got != test.reports {
				t.Fatalf("delivery report requested = %t", got)
			}
		})
	}
}

func TestCreateShow(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bundle")

	runTool(t, []byte("hello world"), "create", "dtn://src/", "dtn://dst/", "-", out)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	reg := newRegistry()
	b, err := reg.ReadBundle(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if got := b.PrimaryBlock.SourceNode.String(); got != "dtn://src/" {
		t.Fatalf("source is %q", got)
	}

	shown := runTool(t, nil, "show", out)
	if !bytes.Contains(shown, []byte(`"dtn://dst/"`)) {
		t.Fatalf("show output misses destination: %s", shown)
	}
}

func TestCreateStdoutShowStdin(t *testing.T) {
	var stream []byte
	stream = append(stream, runTool(t, []byte("a"), "create", "dtn://src/", "dtn://one/", "-")...)
	stream = append(stream, runTool(t, []byte("b"), "create", "dtn://src/", "dtn://two/", "-")...)

	var out bytes.Buffer
	n, err := showBundles(newRegistry(), bytes.NewReader(stream), &out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("showed %d bundles, expected 2", n)
	}
	if !strings.Contains(out.String(), "dtn://one/") || !strings.Contains(out.String(), "dtn://two/") {
		t.Fatalf("show output misses destinations: %s", out.String())
	}
}

func TestShowMalformed(t *testing.T) {
	if _, err := showBundles(newRegistry(), bytes.NewReader([]byte{0x9f, 0x89, 0x07}), &bytes.Buffer{}); err == nil {
		t.Fatal("malformed stream was shown")
	}
}

func TestPostBundles(t *testing.T) {
	reg := newRegistry()
	ra := agent.NewRestAgent(reg, nil, mux.NewRouter())

	received := make(chan string, 2)
	go func() {
		for msg := range ra.MessageSender() {
			if bm, ok := msg.(agent.BundleMessage); ok {
				received <- bm.Bundle.ID().String()
			}
		}
	}()
	t.Cleanup(func() { ra.MessageReceiver() <- agent.ShutdownMessage{} })

	server := httptest.NewServer(ra)
	t.Cleanup(server.Close)

	var stream bytes.Buffer
	var expected []string
	for _, dst := range []string{"dtn://one/", "dtn://two/"} {
		b, err := buildBundle("dtn://src/", dst, []byte("hello"), createOptions{lifetime: "1h", crc: "32"})
		if err != nil {
			t.Fatal(err)
		}
		if err := writeBundle(reg, b, &stream); err != nil {
			t.Fatal(err)
		}
		expected = append(expected, b.ID().String())
	}

	ids, err := postBundles(http.DefaultClient, server.URL+"/", &stream)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(expected, ids); diff != "" {
		t.Fatalf("accepted IDs differ (-want +got):\n%s", diff)
	}

	for _, id := range expected {
		if got := <-received; got != id {
			t.Fatalf("agent forwarded %q, expected %q", got, id)
		}
	}

	if _, err := postBundles(http.DefaultClient, server.URL, bytes.NewReader([]byte{0x9f, 0x89, 0x07})); err == nil {
		t.Fatal("malformed stream was accepted")
	}
}

func TestExchangeStoreRead(t *testing.T) {
	reg := newRegistry()
	dir := t.TempDir()
	ex := &exchange{reg: reg, directory: dir}

	b, err := buildBundle("dtn://src/", "dtn://dst/", []byte("hello"), createOptions{lifetime: "1h", hopLimit: 8, crc: "32"})
	if err != nil {
		t.Fatal(err)
	}
	ex.storeBundle(b)

	name := hex.EncodeToString([]byte(b.ID().String()))
	if _, ok := ex.knownFiles.Load(name); !ok {
		t.Fatalf("stored file %s is not known", name)
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	stored, err := reg.ReadBundle(f)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID().String() != b.ID().String() {
		t.Fatalf("stored bundle %v differs from %v", stored.ID(), b.ID())
	}
}

func TestPingAnswer(t *testing.T) {
	at := time.Unix(1700000000, 123456789)
	p := &pinger{sender: "dtn://src/", receiver: "dtn://dst/ping"}

	b, err := p.pingBundle(7, at)
	if err != nil {
		t.Fatal(err)
	}

	seq, sent, err := parsePingPayload(b.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 || !sent.Equal(at) {
		t.Fatalf("parsed seq %d at %v, expected 7 at %v", seq, sent, at)
	}

	if !p.answer(b, at.Add(time.Second)) || p.answered != 1 {
		t.Fatalf("echo was not counted, answered = %d", p.answered)
	}

	other, err := buildBundle("dtn://src/", "dtn://dst/", []byte("hello"), createOptions{lifetime: "1h", crc: "32"})
	if err != nil {
		t.Fatal(err)
	}
	if p.answer(other, at) || p.answered != 1 {
		t.Fatal("unrelated bundle counted as echo")
	}
}
