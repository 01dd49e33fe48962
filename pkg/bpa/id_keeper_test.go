// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"testing"
	"time"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

func idKeeperBundle(t *testing.T, src string) bpv7.Bundle {
	t.Helper()

	b, err := bpv7.Builder().
		Source(src).
		Destination("dtn://dest/").
		CreationTimestampEpoch().
		Lifetime("60s").
		BundleCtrlFlags(bpv7.MustNotFragmented|bpv7.RequestStatusTime).
		BundleAgeBlock(0, bpv7.DeleteBundle).
		PayloadBlock([]byte("hello world!")).
		Build()
	if err != nil {
		t.Fatalf("Creating bundle failed: %v", err)
	}
	return b
}

func TestIdKeeper(t *testing.T) {
	bndl0 := idKeeperBundle(t, "dtn://src/")
	bndl1 := idKeeperBundle(t, "dtn://src/")
	bndl2 := idKeeperBundle(t, "dtn://other/")

	keeper := NewIdKeeper()

	keeper.update(&bndl0)
	keeper.update(&bndl1)
	keeper.update(&bndl2)

	if seq := bndl0.PrimaryBlock.CreationTimestamp.SequenceNumber(); seq != 0 {
		t.Errorf("First bundle's sequence number is %d", seq)
	}
	if seq := bndl1.PrimaryBlock.CreationTimestamp.SequenceNumber(); seq != 1 {
		t.Errorf("Second bundle's sequence number is %d", seq)
	}
	if seq := bndl2.PrimaryBlock.CreationTimestamp.SequenceNumber(); seq != 0 {
		t.Errorf("Other source's sequence number is %d", seq)
	}
}

func TestIdKeeperClean(t *testing.T) {
	keeper := NewIdKeeper()

	old := idTuple{source: "dtn://src/", time: bpv7.DtnTimeFromTime(time.Now().Add(-48 * time.Hour))}
	epoch := idTuple{source: "dtn://src/", time: bpv7.DtnTimeEpoch}
	recent := idTuple{source: "dtn://src/", time: bpv7.DtnTimeNow()}

	keeper.data[old] = 3
	keeper.data[epoch] = 4
	keeper.data[recent] = 5

	keeper.clean()

	if _, ok := keeper.data[old]; ok {
		t.Fatal("Old state was not cleaned")
	}
	if _, ok := keeper.data[epoch]; !ok {
		t.Fatal("Epoch state was cleaned")
	}
	if _, ok := keeper.data[recent]; !ok {
		t.Fatal("Recent state was cleaned")
	}
}
