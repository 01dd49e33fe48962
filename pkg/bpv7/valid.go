// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

// Valid is implemented by all parts of a Bundle which can check their own
// consistency. Composite types check their parts, so a Bundle's CheckValid
// reports all errors of all its blocks, aggregated by the multierror package.
type Valid interface {
	// CheckValid returns an error for incorrect data.
	CheckValid() error
}
