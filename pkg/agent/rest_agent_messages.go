// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"time"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// RestRegisterRequest describes a JSON to be POSTed to /register.
type RestRegisterRequest struct {
	EndpointId string `json:"endpoint_id"`
}

// RestRegisterResponse describes a JSON response for /register.
type RestRegisterResponse struct {
	Error string `json:"error"`
	UUID  string `json:"uuid"`
}

// RestUnregisterRequest describes a JSON to be POSTed to /unregister.
type RestUnregisterRequest struct {
	UUID string `json:"uuid"`
}

// RestUnregisterResponse describes a JSON response for /unregister.
type RestUnregisterResponse struct {
	Error string `json:"error"`
}

// RestFetchRequest describes a JSON to be POSTed to /fetch.
type RestFetchRequest struct {
	UUID string `json:"uuid"`
}

// RestFetchResponse describes a JSON response for /fetch.
type RestFetchResponse struct {
	Error   string        `json:"error"`
	Bundles []bpv7.Bundle `json:"bundles"`
}

// RestPostResponse describes a JSON response for POST /bundles, listing the IDs of all accepted bundles.
type RestPostResponse struct {
	Error   string   `json:"error"`
	Bundles []string `json:"bundles"`
}

// RestBundleItem describes one stored bundle, listed by GET /bundles.
type RestBundleItem struct {
	Id          string    `json:"id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Pending     bool      `json:"pending"`
	Fragmented  bool      `json:"fragmented"`
	Received    time.Time `json:"received"`
	Expires     time.Time `json:"expires"`
}
