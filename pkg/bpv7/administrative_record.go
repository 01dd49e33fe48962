// SPDX-FileCopyrightText: 2019, 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"strings"
	"time"

	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/parser"
)

// AdminRecordTypeStatusReport is the administrative record type code for a status report.
const AdminRecordTypeStatusReport uint64 = 1

// AdministrativeRecord describes an administrative record, e.g., a status report.
type AdministrativeRecord interface {
	// RecordTypeCode returns this AdministrativeRecord's type code.
	RecordTypeCode() uint64

	// Content encodes the record, without its type code.
	Content() cbor.Encoder
}

// adminRecordEncoder wraps a record in an array with its record type code.
func adminRecordEncoder(ar AdministrativeRecord) cbor.Encoder {
	return cbor.Merge(cbor.Array(2), cbor.UInt(ar.RecordTypeCode()), ar.Content())
}

// BundleStatusItem represents the a bundle status item, as used as an element
// in the bundle status information array of each Bundle Status Report.
type BundleStatusItem struct {
	Asserted        bool
	Time            DtnTime
	StatusRequested bool
}

// NewBundleStatusItem returns a new BundleStatusItem, indicating an optional
// assertion, but no status time request.
func NewBundleStatusItem(asserted bool) BundleStatusItem {
	return BundleStatusItem{
		Asserted:        asserted,
		Time:            DtnTimeEpoch,
		StatusRequested: false,
	}
}

// NewTimeReportingBundleStatusItem returns a new BundleStatusItem, indicating
// both a positive assertion and a requested status time report.
func NewTimeReportingBundleStatusItem(time DtnTime) BundleStatusItem {
	return BundleStatusItem{
		Asserted:        true,
		Time:            time,
		StatusRequested: true,
	}
}

func (bsi BundleStatusItem) encoder() cbor.Encoder {
	if bsi.Asserted && bsi.StatusRequested {
		return cbor.Merge(cbor.Array(2), cbor.Bool(true), cbor.UInt(uint64(bsi.Time)))
	}
	return cbor.Merge(cbor.Array(1), cbor.Bool(bsi.Asserted))
}

func (bsi BundleStatusItem) String() string {
	if !bsi.Asserted {
		return fmt.Sprintf("BundleStatusItem(%t)", bsi.Asserted)
	} else {
		return fmt.Sprintf("BundleStatusItem(%t, %v)", bsi.Asserted, bsi.Time)
	}
}

// StatusReportReason is the bundle status report reason code, which is used as
// the second element of the bundle status report array.
type StatusReportReason uint64

const (
	// NoInformation is the "No additional information" bundle status report reason code.
	NoInformation StatusReportReason = 0

	// LifetimeExpired is the "Lifetime expired" bundle status report reason code.
	LifetimeExpired StatusReportReason = 1

	// ForwardUnidirectionalLink is the "Forwarded over unidirectional link" bundle status report reason code.
	ForwardUnidirectionalLink StatusReportReason = 2

	// TransmissionCanceled is the "Transmission canceled" bundle status report reason code.
	TransmissionCanceled StatusReportReason = 3

	// DepletedStorage is the "Depleted storage" bundle status report reason code.
	DepletedStorage StatusReportReason = 4

	// DestEndpointUnintelligible is the "Destination endpoint ID unintelligible" bundle status report reason code.
	DestEndpointUnintelligible StatusReportReason = 5

	// NoRouteToDestination is the "No known route to destination from here" bundle status report reason code.
	NoRouteToDestination StatusReportReason = 6

	// NoNextNodeContact is the "No timely contact with next node on route" bundle status report reason code.
	NoNextNodeContact StatusReportReason = 7

	// BlockUnintelligible is the "Block unintelligible" bundle status report reason code.
	BlockUnintelligible StatusReportReason = 8

	// HopLimitExceeded is the "Hop limit exceeded" bundle status report reason code.
	HopLimitExceeded StatusReportReason = 9

	// TrafficPared is the "Traffic pared (e.g., status reports)" bundle status report reason code.
	TrafficPared StatusReportReason = 10

	// BlockUnsupported is the "Block unsupported" bundle status report reason code.
	BlockUnsupported StatusReportReason = 11
)

func (srr StatusReportReason) String() string {
	switch srr {
	case NoInformation:
		return "No additional information"
	case LifetimeExpired:
		return "Lifetime expired"
	case ForwardUnidirectionalLink:
		return "Forward over unidirectional link"
	case TransmissionCanceled:
		return "Transmission canceled"
	case DepletedStorage:
		return "Depleted storage"
	case DestEndpointUnintelligible:
		return "Destination endpoint ID unintelligible"
	case NoRouteToDestination:
		return "No known route to destination from here"
	case NoNextNodeContact:
		return "No timely contact with next node on route"
	case BlockUnintelligible:
		return "Block unintelligible"
	case HopLimitExceeded:
		return "Hop limit exceeded"
	case TrafficPared:
		return "Traffic pared"
	case BlockUnsupported:
		return "Block unsupported"
	default:
		return "unknown"
	}
}

// StatusInformationPos describes the different bundle status information
// entries. Each bundle status report must contain at least the following
// bundle status items.
type StatusInformationPos int

const (
	// maxStatusInformationPos is the amount of different StatusInformationPos.
	maxStatusInformationPos int = 4

	// ReceivedBundle is the first bundle status information entry, indicating
	// the reporting node received this bundle.
	ReceivedBundle StatusInformationPos = 0

	// ForwardedBundle is the second bundle status information entry, indicating
	// the reporting node forwarded this bundle.
	ForwardedBundle StatusInformationPos = 1

	// DeliveredBundle is the third bundle status information entry, indicating
	// the reporting node delivered this bundle.
	DeliveredBundle StatusInformationPos = 2

	// DeletedBundle is the fourth bundle status information entry, indicating
	// the reporting node deleted this bundle.
	DeletedBundle StatusInformationPos = 3
)

func (sip StatusInformationPos) String() string {
	switch sip {
	case ReceivedBundle:
		return "received bundle"
	case ForwardedBundle:
		return "forwarded bundle"
	case DeliveredBundle:
		return "delivered bundle"
	case DeletedBundle:
		return "deleted bundle"
	default:
		return "unknown"
	}
}

// StatusReport is the bundle status report, used in an administrative record.
type StatusReport struct {
	StatusInformation []BundleStatusItem
	ReportReason      StatusReportReason
	RefBundle         BundleID
}

// NewStatusReport creates a bundle status report for the given bundle and
// StatusInformationPos, which creates the right bundle status item. The
// bundle status report reason code will be used and the bundle status item
// gets the given timestamp.
func NewStatusReport(bndl Bundle, statusItem StatusInformationPos, reason StatusReportReason, time DtnTime) (report *StatusReport) {
	report = &StatusReport{
		StatusInformation: make([]BundleStatusItem, maxStatusInformationPos),
		ReportReason:      reason,
		RefBundle:         bndl.ID(),
	}

	for i := 0; i < maxStatusInformationPos; i++ {
		sip := StatusInformationPos(i)

		switch {
		case sip == statusItem && bndl.PrimaryBlock.BundleControlFlags.Has(RequestStatusTime):
			report.StatusInformation[i] = NewTimeReportingBundleStatusItem(time)

		case sip == statusItem:
			report.StatusInformation[i] = NewBundleStatusItem(true)

		default:
			report.StatusInformation[i] = NewBundleStatusItem(false)
		}
	}

	return
}

// StatusInformations returns an array of available StatusInformationPos.
func (sr StatusReport) StatusInformations() (sips []StatusInformationPos) {
	for i := 0; i < len(sr.StatusInformation); i++ {
		if sr.StatusInformation[i].Asserted {
			sips = append(sips, StatusInformationPos(i))
		}
	}

	return
}

// RecordTypeCode is AdminRecordTypeStatusReport.
func (sr *StatusReport) RecordTypeCode() uint64 {
	return AdminRecordTypeStatusReport
}

// Content is the array [status information, reason, bundle id fields...].
func (sr *StatusReport) Content() cbor.Encoder {
	encs := []cbor.Encoder{
		cbor.Array(2 + sr.RefBundle.Len()),
		cbor.Array(uint64(len(sr.StatusInformation))),
	}
	for _, si := range sr.StatusInformation {
		encs = append(encs, si.encoder())
	}
	encs = append(encs, cbor.UInt(uint64(sr.ReportReason)))
	encs = append(encs, sr.RefBundle.encoders()...)

	return cbor.Merge(encs...)
}

func (sr StatusReport) String() string {
	var b strings.Builder

	_, _ = fmt.Fprintf(&b, "StatusReport([")

	for i := 0; i < len(sr.StatusInformation); i++ {
		si := sr.StatusInformation[i]
		sip := StatusInformationPos(i)

		if !si.Asserted {
			continue
		}

		if si.Time == DtnTimeEpoch {
			_, _ = fmt.Fprintf(&b, "%v,", sip)
		} else {
			_, _ = fmt.Fprintf(&b, "%v %v,", sip, si.Time)
		}
	}

	_, _ = fmt.Fprintf(&b, "], ")
	_, _ = fmt.Fprintf(&b, "%v, %v", sr.ReportReason, sr.RefBundle)

	return b.String()
}

type adminRecordAcc struct {
	reg *Registry
	n   uint64
	sr  StatusReport
	si  BundleStatusItem
}

var adminRecordChain = cbor.NewChain[adminRecordAcc]("administrative record").
	Array("administrative record", cbor.ExactLength[adminRecordAcc](2)).
	UInt("record type", func(_ *adminRecordAcc, v uint64) error {
		if v != AdminRecordTypeStatusReport {
			return fmt.Errorf("unsupported administrative record type %d", v)
		}
		return nil
	}).
	Array("status report", func(a *adminRecordAcc, n uint64) error {
		switch n {
		case 4:
			a.sr.RefBundle.IsFragment = false
		case 6:
			a.sr.RefBundle.IsFragment = true
		default:
			return fmt.Errorf("expected array of length 4 or 6, got %d", n)
		}
		return nil
	}).
	Array("status information", func(a *adminRecordAcc, n uint64) error {
		if n > uint64(maxStatusInformationPos) {
			return fmt.Errorf("%d status items, expected at most %d", n, maxStatusInformationPos)
		}
		a.n = n
		return nil
	}).
	Repeat(func(a *adminRecordAcc) uint64 { return a.n }, func(c *cbor.Chain[adminRecordAcc]) {
		c.Array("status item", func(a *adminRecordAcc, n uint64) error {
			if n != 1 && n != 2 {
				return fmt.Errorf("BundleStatusItem: Array's length is %d, not 1 or 2", n)
			}
			a.si = BundleStatusItem{StatusRequested: n == 2}
			return nil
		}).
			Bool("asserted", func(a *adminRecordAcc, v bool) error { a.si.Asserted = v; return nil }).
			InsertIf(func(a *adminRecordAcc) bool { return a.si.StatusRequested }, func(c *cbor.Chain[adminRecordAcc]) {
				c.UInt("status time", func(a *adminRecordAcc, v uint64) error { a.si.Time = DtnTime(v); return nil })
			}).
			Do(func(a *adminRecordAcc) error {
				a.sr.StatusInformation = append(a.sr.StatusInformation, a.si)
				return nil
			})
	}).
	UInt("reason", func(a *adminRecordAcc, v uint64) error { a.sr.ReportReason = StatusReportReason(v); return nil })

func init() {
	bundleIDFields(adminRecordChain,
		func(a *adminRecordAcc) *Registry { return a.reg },
		func(a *adminRecordAcc) *BundleID { return &a.sr.RefBundle })
}

// ParseAdministrativeRecord from a payload. Only status reports are supported.
func (r *Registry) ParseAdministrativeRecord(data []byte) (AdministrativeRecord, error) {
	program := adminRecordChain.Program(
		func() *adminRecordAcc { return &adminRecordAcc{reg: r} },
		func(a *adminRecordAcc) (any, error) { return &a.sr, nil })

	sr, err := parser.Single[*StatusReport](program, data)
	if err != nil {
		return nil, err
	}
	return sr, nil
}

// AdministrativeRecord stored within this Bundle.
//
// An error arises if this Bundle is not an AdministrativeRecord, compare IsAdministrativeRecord.
func (b Bundle) AdministrativeRecord(reg *Registry) (AdministrativeRecord, error) {
	if !b.IsAdministrativeRecord() {
		return nil, fmt.Errorf("bundle is not an administrative record")
	}

	if _, err := b.PayloadBlock(); err != nil {
		return nil, err
	}
	return reg.ParseAdministrativeRecord(b.Payload())
}

// NewAdministrativeRecordBundle creates a Bundle carrying an administrative
// record from this node to the given destination.
func NewAdministrativeRecordBundle(ar AdministrativeRecord, source, destination EndpointID, lifetime time.Duration) (Bundle, error) {
	data, err := cbor.Collect(adminRecordEncoder(ar))
	if err != nil {
		return Bundle{}, err
	}

	return Builder().
		CRC(CRC32).
		BundleCtrlFlags(AdministrativeRecordPayload).
		Source(source).
		Destination(destination).
		CreationTimestampNow().
		Lifetime(lifetime).
		HopCountBlock(64).
		PayloadBlock(data).
		Build()
}
