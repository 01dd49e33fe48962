// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"sort"
	"strings"
)

// Tag names a verdict attached to a block while parsing or processing.
// Tags are never serialized.
type Tag string

const (
	// TagCRCCheck holds the result of a block's CRC check. It is absent for
	// blocks without a CRC.
	TagCRCCheck Tag = "crc_check"

	// TagForwardedWithoutProcessed marks a block which no processor knew.
	TagForwardedWithoutProcessed Tag = "forwarded_without_processed"

	// TagStatusReport marks an unprocessed block requesting a status report.
	TagStatusReport Tag = "status_report"
)

// Tags of a block.
type Tags map[Tag]bool

// Set a Tag, allocating the map if necessary.
func (t *Tags) Set(tag Tag, value bool) {
	if *t == nil {
		*t = make(Tags)
	}
	(*t)[tag] = value
}

// Get a Tag's value and whether it was set at all.
func (t Tags) Get(tag Tag) (value, ok bool) {
	value, ok = t[tag]
	return
}

// Has reports a set and true Tag.
func (t Tags) Has(tag Tag) bool {
	return t[tag]
}

func (t Tags) String() string {
	var fields []string
	for tag, v := range t {
		if v {
			fields = append(fields, string(tag))
		} else {
			fields = append(fields, "!"+string(tag))
		}
	}
	sort.Strings(fields)
	return strings.Join(fields, ",")
}

// crcOk interprets a missing TagCRCCheck as valid.
func (t Tags) crcOk() bool {
	v, ok := t[TagCRCCheck]
	return !ok || v
}
