// SPDX-FileCopyrightText: 2019, 2020, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dtn7/bpstream/pkg/bpv7"
)

type createOptions struct {
	lifetime string
	hopLimit int
	crc      string
	reportTo string
	reports  bool
}

func parseCRC(name string) (bpv7.CRCType, error) {
	switch name {
	case "none":
		return bpv7.CRCNo, nil
	case "16":
		return bpv7.CRC16, nil
	case "32":
		return bpv7.CRC32, nil
	default:
		return bpv7.CRCNo, fmt.Errorf("unknown CRC type %q, expected none, 16 or 32", name)
	}
}

// buildBundle from the create command's arguments.
func buildBundle(sender, receiver string, data []byte, opts createOptions) (bpv7.Bundle, error) {
	crcType, err := parseCRC(opts.crc)
	if err != nil {
		return bpv7.Bundle{}, err
	}

	bldr := bpv7.Builder().
		CRC(crcType).
		Source(sender).
		Destination(receiver).
		CreationTimestampNow().
		Lifetime(opts.lifetime)

	if opts.reportTo != "" {
		bldr = bldr.ReportTo(opts.reportTo)
	} else {
		bldr = bldr.ReportTo(sender)
	}
	if opts.reports {
		bldr = bldr.BundleCtrlFlags(bpv7.StatusRequestDelivery | bpv7.StatusRequestDeletion)
	}
	if opts.hopLimit > 0 {
		bldr = bldr.HopCountBlock(opts.hopLimit)
	}

	return bldr.PayloadBlock(data).Build()
}

// writeBundle serializes a Bundle chunk-wise to w.
func writeBundle(reg *bpv7.Registry, b bpv7.Bundle, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := b.Serialize(reg, bpv7.DefaultChunkSize, func(chunk []byte) error {
		_, err := bw.Write(chunk)
		return err
	}); err != nil {
		return err
	}
	return bw.Flush()
}

func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func newCreateCmd(reg *bpv7.Registry) *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:   "create SENDER RECEIVER INPUT [OUTPUT]",
		Short: "Create a bundle with the content of INPUT as its payload",
		Long: `Create a bundle from SENDER to RECEIVER carrying INPUT as its payload.

INPUT and OUTPUT may be "-" for stdin and stdout. Without OUTPUT, the bundle
is written to stdout.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[2], cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading input failed: %w", err)
			}

			b, err := buildBundle(args[0], args[1], data, opts)
			if err != nil {
				return fmt.Errorf("creating bundle failed: %w", err)
			}

			if len(args) == 3 || args[3] == "-" {
				return writeBundle(reg, b, cmd.OutOrStdout())
			}

			f, err := os.Create(args[3])
			if err != nil {
				return err
			}
			if err := writeBundle(reg, b, f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&opts.lifetime, "lifetime", "l", "24h", "bundle lifetime")
	cmd.Flags().IntVar(&opts.hopLimit, "hop-limit", 64, "hop limit of the Hop Count Block, 0 omits the block")
	cmd.Flags().StringVar(&opts.crc, "crc", "32", "CRC type of the primary block: none, 16 or 32")
	cmd.Flags().StringVar(&opts.reportTo, "report-to", "", "report-to endpoint, defaults to SENDER")
	cmd.Flags().BoolVar(&opts.reports, "reports", false, "request delivery and deletion status reports")

	return cmd
}
