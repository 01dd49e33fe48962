// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package processing

import (
	"fmt"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// RejectedError stops the processing of a bundle, which should be deleted.
// BlockNumber 0 refers to the bundle as a whole, i.e., its primary block.
type RejectedError struct {
	Hook        bpv7.Hook
	BlockNumber uint64
	Reason      bpv7.StatusReportReason
	Err         error
}

func (e *RejectedError) Error() string {
	if e.BlockNumber == 0 {
		return fmt.Sprintf("bundle rejected at %v (%v): %v", e.Hook, e.Reason, e.Err)
	}
	return fmt.Sprintf("bundle rejected at %v by block %d (%v): %v", e.Hook, e.BlockNumber, e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// FixedPointError is returned if blocks still requested reprocessing after
// the maximum number of passes.
type FixedPointError struct {
	Hook    bpv7.Hook
	Passes  int
	Pending []uint64
}

func (e *FixedPointError) Error() string {
	return fmt.Sprintf("%v did not settle after %d passes, blocks %v still pending", e.Hook, e.Passes, e.Pending)
}
