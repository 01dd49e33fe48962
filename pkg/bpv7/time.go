// SPDX-FileCopyrightText: 2018, 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dtn7/bpstream/pkg/cbor"
)

// DtnTime counts milliseconds since the start of the year 2000 (UTC).
type DtnTime uint64

const (
	milliseconds1970To2k = 946684800000

	// DtnTimeEpoch represents the zero timestamp, indicating a missing clock.
	DtnTimeEpoch DtnTime = 0
)

// Time returns the UTC time.Time for this DtnTime.
func (t DtnTime) Time() time.Time {
	return time.UnixMilli(int64(t) + milliseconds1970To2k).UTC()
}

func (t DtnTime) String() string {
	return t.Time().Format("2006-01-02 15:04:05.000")
}

// DtnTimeFromTime returns the DtnTime for a time.Time.
func DtnTimeFromTime(t time.Time) DtnTime {
	return DtnTime(t.UTC().UnixMilli() - milliseconds1970To2k)
}

// DtnTimeNow returns the current time as DtnTime.
func DtnTimeNow() DtnTime {
	return DtnTimeFromTime(time.Now())
}

// CreationTimestamp is a DtnTime together with a sequence number, which
// distinguishes bundles of the same source created within one millisecond.
type CreationTimestamp [2]uint64

// NewCreationTimestamp from a DtnTime and a sequence number.
func NewCreationTimestamp(t DtnTime, sequence uint64) CreationTimestamp {
	return CreationTimestamp{uint64(t), sequence}
}

// DtnTime part of this timestamp.
func (ct CreationTimestamp) DtnTime() DtnTime {
	return DtnTime(ct[0])
}

// IsZeroTime reports the lack of an accurate clock at the bundle's source.
func (ct CreationTimestamp) IsZeroTime() bool {
	return ct.DtnTime() == DtnTimeEpoch
}

// SequenceNumber part of this timestamp.
func (ct CreationTimestamp) SequenceNumber() uint64 {
	return ct[1]
}

func (ct CreationTimestamp) String() string {
	return fmt.Sprintf("(%v, %d)", ct.DtnTime(), ct[1])
}

func (ct CreationTimestamp) encoder() cbor.Encoder {
	return cbor.Merge(cbor.Array(2), cbor.UInt(ct[0]), cbor.UInt(ct[1]))
}

// MarshalJSON creates a JSON object representing this CreationTimestamp.
func (ct CreationTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Date string `json:"date"`
		Seq  uint64 `json:"sequenceNo"`
	}{
		Date: ct.DtnTime().String(),
		Seq:  ct.SequenceNumber(),
	})
}
