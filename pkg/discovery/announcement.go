// SPDX-FileCopyrightText: 2020 Markus Sommer
// SPDX-FileCopyrightText: 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cbor"
	"github.com/dtn7/bpstream/pkg/cla"
	"github.com/dtn7/bpstream/pkg/parser"
)

// Announcement of some node's CLA.
type Announcement struct {
	Type     cla.CLAType
	Endpoint bpv7.EndpointID
	Port     uint
}

// encoder writes [type, endpoint, port].
func (announcement Announcement) encoder() cbor.Encoder {
	return cbor.Merge(
		cbor.Array(3),
		cbor.UInt(uint64(announcement.Type)),
		announcement.Endpoint.Encoder(),
		cbor.UInt(uint64(announcement.Port)))
}

// MarshalAnnouncements into a CBOR array.
func MarshalAnnouncements(announcements []Announcement) ([]byte, error) {
	encs := make([]cbor.Encoder, 0, len(announcements)+1)
	encs = append(encs, cbor.Array(uint64(len(announcements))))
	for _, announcement := range announcements {
		encs = append(encs, announcement.encoder())
	}

	return cbor.Collect(cbor.Merge(encs...))
}

type announcementsAcc struct {
	reg *bpv7.Registry

	count         uint64
	current       Announcement
	announcements []Announcement
}

var announcementsChain = cbor.NewChain[announcementsAcc]("announcements").
	Array("announcements", func(a *announcementsAcc, n uint64) error {
		// Each announcement takes at least five bytes, bounded by a UDP datagram.
		if n > 65535/5 {
			return fmt.Errorf("%d announcements exceed a datagram", n)
		}
		a.count = n
		a.announcements = make([]Announcement, 0, n)
		return nil
	}).
	Repeat(func(a *announcementsAcc) uint64 { return a.count }, func(c *cbor.Chain[announcementsAcc]) {
		c.Array("announcement", cbor.ExactLength[announcementsAcc](3)).
			UInt("type", func(a *announcementsAcc, v uint64) error {
				claType := cla.CLAType(v)
				if err := claType.CheckValid(); err != nil {
					return err
				}
				a.current = Announcement{Type: claType}
				return nil
			}).
			Sub("endpoint",
				func(a *announcementsAcc) parser.State { return a.reg.EndpointProgram()() },
				func(a *announcementsAcc, v any) error { a.current.Endpoint = v.(bpv7.EndpointID); return nil }).
			UInt("port", func(a *announcementsAcc, v uint64) error {
				if v > 65535 {
					return fmt.Errorf("port %d out of range", v)
				}
				a.current.Port = uint(v)
				return nil
			}).
			Do(func(a *announcementsAcc) error {
				a.announcements = append(a.announcements, a.current)
				return nil
			})
	})

// UnmarshalAnnouncements parses a CBOR array of Announcements. Endpoint IDs
// are parsed by the Registry's schemes.
func UnmarshalAnnouncements(reg *bpv7.Registry, data []byte) ([]Announcement, error) {
	program := announcementsChain.Program(
		func() *announcementsAcc { return &announcementsAcc{reg: reg} },
		func(a *announcementsAcc) (any, error) { return a.announcements, nil })

	return parser.Single[[]Announcement](program, data)
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%v,%v,%d)", announcement.Type, announcement.Endpoint, announcement.Port)
}
