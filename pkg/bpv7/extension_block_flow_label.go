// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/json"
	"fmt"

	"github.com/dtn7/bpstream/pkg/cbor"
)

// FlowLabelBlock attaches application defined labels to a bundle, e.g., to
// select a traffic class. Its body is an array of text strings.
type FlowLabelBlock struct {
	Labels []string
}

// NewFlowLabelBlock with the given labels.
func NewFlowLabelBlock(labels ...string) *FlowLabelBlock {
	return &FlowLabelBlock{Labels: labels}
}

func (flb *FlowLabelBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeFlowLabelBlock
}

func (flb *FlowLabelBlock) BlockTypeName() string {
	return "Flow Label Block"
}

// Body is the array of labels.
func (flb *FlowLabelBlock) Body() cbor.Encoder {
	encs := []cbor.Encoder{cbor.Array(uint64(len(flb.Labels)))}
	for _, label := range flb.Labels {
		encs = append(encs, cbor.Text(label))
	}
	return cbor.Merge(encs...)
}

// CheckValid rejects empty labels.
func (flb *FlowLabelBlock) CheckValid() error {
	for i, label := range flb.Labels {
		if label == "" {
			return fmt.Errorf("FlowLabelBlock: label %d is empty", i)
		}
	}
	return nil
}

// MarshalJSON writes the labels as a JSON array.
func (flb *FlowLabelBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(flb.Labels)
}

type flowLabelAcc struct {
	n      uint64
	labels []string
}

var flowLabelChain = cbor.NewChain[flowLabelAcc]("flow label").
	Array("labels", func(a *flowLabelAcc, n uint64) error {
		if n > cbor.MaxLength {
			return fmt.Errorf("%d labels exceed maximum", n)
		}
		a.n = n
		return nil
	}).
	Repeat(func(a *flowLabelAcc) uint64 { return a.n }, func(c *cbor.Chain[flowLabelAcc]) {
		c.Text("label", func(a *flowLabelAcc, s string) error {
			a.labels = append(a.labels, s)
			return nil
		})
	})

var decodeFlowLabelBlock = bodyDecoder(flowLabelChain,
	func(*Registry) *flowLabelAcc { return new(flowLabelAcc) },
	func(a *flowLabelAcc) (ExtensionBlock, error) { return NewFlowLabelBlock(a.labels...), nil })
