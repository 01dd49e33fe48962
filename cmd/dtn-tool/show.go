// SPDX-FileCopyrightText: 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

// showBundles prints each bundle of a stream as indented JSON.
func showBundles(reg *bpv7.Registry, rd io.Reader, w io.Writer) (n int, err error) {
	var writeErr error
	err = reg.ReadBundles(rd, func(b bpv7.Bundle) {
		if writeErr != nil {
			return
		}

		var data []byte
		if data, writeErr = json.MarshalIndent(b, "", "  "); writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintln(w, string(data))
		n++
	})
	if err == nil {
		err = writeErr
	}
	return
}

func newShowCmd(reg *bpv7.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "show [FILE]",
		Short: "Print bundles as JSON",
		Long:  `Print all bundles of FILE, or stdin if FILE is "-" or missing, as JSON.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rd := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				rd = f
			}

			_, err := showBundles(reg, rd, cmd.OutOrStdout())
			return err
		},
	}
}
