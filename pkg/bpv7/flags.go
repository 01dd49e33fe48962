// SPDX-FileCopyrightText: 2018, 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

type flagName[F ~uint64] struct {
	flag F
	text string
}

func flagStrings[F ~uint64](flags F, names []flagName[F]) (fields []string) {
	for _, n := range names {
		if flags&n.flag != 0 {
			fields = append(fields, n.text)
		}
	}
	return
}

// BundleControlFlags are the Bundle Processing Control Flags of a bundle's
// primary block, RFC 9171 section 4.2.3.
type BundleControlFlags uint64

const (
	// IsFragment indicates this bundle is a fragment.
	IsFragment BundleControlFlags = 0x000001

	// AdministrativeRecordPayload indicates the payload is an administrative record.
	AdministrativeRecordPayload BundleControlFlags = 0x000002

	// MustNotFragmented forbids bundle fragmentation.
	MustNotFragmented BundleControlFlags = 0x000004

	// RequestUserApplicationAck requests an acknowledgement from the application agent.
	RequestUserApplicationAck BundleControlFlags = 0x000020

	// RequestStatusTime requests a status time in all status reports.
	RequestStatusTime BundleControlFlags = 0x000040

	// StatusRequestReception requests a bundle reception status report.
	StatusRequestReception BundleControlFlags = 0x004000

	// StatusRequestForward requests a bundle forwarding status report.
	StatusRequestForward BundleControlFlags = 0x010000

	// StatusRequestDelivery requests a bundle delivery status report.
	StatusRequestDelivery BundleControlFlags = 0x020000

	// StatusRequestDeletion requests a bundle deletion status report.
	StatusRequestDeletion BundleControlFlags = 0x040000

	statusRequests = StatusRequestReception | StatusRequestForward | StatusRequestDelivery | StatusRequestDeletion
)

var bundleControlFlagNames = []flagName[BundleControlFlags]{
	{StatusRequestDeletion, "REQUESTED_DELETION_STATUS_REPORT"},
	{StatusRequestDelivery, "REQUESTED_DELIVERY_STATUS_REPORT"},
	{StatusRequestForward, "REQUESTED_FORWARD_STATUS_REPORT"},
	{StatusRequestReception, "REQUESTED_RECEPTION_STATUS_REPORT"},
	{RequestStatusTime, "REQUESTED_TIME_IN_STATUS_REPORT"},
	{RequestUserApplicationAck, "REQUESTED_APPLICATION_ACK"},
	{MustNotFragmented, "MUST_NOT_BE_FRAGMENTED"},
	{AdministrativeRecordPayload, "ADMINISTRATIVE_PAYLOAD"},
	{IsFragment, "IS_FRAGMENT"},
}

// Has returns true if a given flag or mask of flags is set.
func (bcf BundleControlFlags) Has(flag BundleControlFlags) bool {
	return (bcf & flag) != 0
}

// CheckValid returns an error for contradicting flags.
func (bcf BundleControlFlags) CheckValid() (errs error) {
	if bcf.Has(IsFragment) && bcf.Has(MustNotFragmented) {
		errs = multierror.Append(errs,
			fmt.Errorf("BundleControlFlags: both fragment and must not be fragmented flags are set"))
	}

	if bcf.Has(AdministrativeRecordPayload) && bcf.Has(statusRequests) {
		errs = multierror.Append(errs,
			fmt.Errorf("BundleControlFlags: administrative record requests status reports"))
	}

	return
}

// Strings returns all set flags by their names.
func (bcf BundleControlFlags) Strings() []string {
	return flagStrings(bcf, bundleControlFlagNames)
}

// MarshalJSON creates a JSON array of control flags.
func (bcf BundleControlFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(bcf.Strings())
}

func (bcf BundleControlFlags) String() string {
	return strings.Join(bcf.Strings(), ",")
}

// BlockControlFlags are the Block Processing Control Flags of a canonical
// block, RFC 9171 section 4.2.4. They decide the fate of a block which
// cannot be processed.
type BlockControlFlags uint64

const (
	// ReplicateBlock requires this block to be replicated in every fragment.
	ReplicateBlock BlockControlFlags = 0x01

	// StatusReportBlock requires transmission of a status report if this block cannot be processed.
	StatusReportBlock BlockControlFlags = 0x02

	// DeleteBundle requires bundle deletion if this block cannot be processed.
	DeleteBundle BlockControlFlags = 0x04

	// RemoveBlock requires the block to be removed from the bundle if it cannot be processed.
	RemoveBlock BlockControlFlags = 0x10
)

var blockControlFlagNames = []flagName[BlockControlFlags]{
	{DeleteBundle, "DELETE_BUNDLE"},
	{StatusReportBlock, "REQUEST_STATUS_REPORT"},
	{RemoveBlock, "REMOVE_BLOCK"},
	{ReplicateBlock, "REPLICATE_BLOCK"},
}

// Has returns true if a given flag or mask of flags is set.
func (bcf BlockControlFlags) Has(flag BlockControlFlags) bool {
	return (bcf & flag) != 0
}

// CheckValid accepts all flags; unknown bits are no fault since RFC 9171.
func (bcf BlockControlFlags) CheckValid() error {
	return nil
}

// Strings returns all set flags by their names.
func (bcf BlockControlFlags) Strings() []string {
	return flagStrings(bcf, blockControlFlagNames)
}

// MarshalJSON returns a JSON array of control flags.
func (bcf BlockControlFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(bcf.Strings())
}

func (bcf BlockControlFlags) String() string {
	return strings.Join(bcf.Strings(), ",")
}
