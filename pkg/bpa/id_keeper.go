// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"sync"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// idTuple identifies the sequence of bundles by their source node's string
// and the DTN time part of the creation timestamp.
type idTuple struct {
	source string
	time   bpv7.DtnTime
}

func newIdTuple(b *bpv7.Bundle) idTuple {
	return idTuple{
		source: b.PrimaryBlock.SourceNode.String(),
		time:   b.PrimaryBlock.CreationTimestamp.DtnTime(),
	}
}

// IdKeeper keeps track of the creation timestamp's sequence number for
// outgoing bundles.
type IdKeeper struct {
	data      map[idTuple]uint64
	mutex     sync.Mutex
	autoClean bool
}

// NewIdKeeper creates a new, empty IdKeeper.
func NewIdKeeper() *IdKeeper {
	return &IdKeeper{
		data:      make(map[idTuple]uint64),
		autoClean: true,
	}
}

// update sets this bundle's sequence number, the successor of the last one
// handed out for the same source and time.
func (idk *IdKeeper) update(b *bpv7.Bundle) {
	tpl := newIdTuple(b)

	idk.mutex.Lock()
	if state, ok := idk.data[tpl]; ok {
		idk.data[tpl] = state + 1
	} else {
		idk.data[tpl] = 0
	}

	b.PrimaryBlock.CreationTimestamp[1] = idk.data[tpl]
	idk.mutex.Unlock()

	if idk.autoClean {
		idk.clean()
	}
}

// clean removes states older than a day, except those at the epoch time.
func (idk *IdKeeper) clean() {
	idk.mutex.Lock()
	defer idk.mutex.Unlock()

	threshold := bpv7.DtnTimeNow() - 24*60*60*1000

	for tpl := range idk.data {
		if tpl.time < threshold && tpl.time != bpv7.DtnTimeEpoch {
			delete(idk.data, tpl)
		}
	}
}
