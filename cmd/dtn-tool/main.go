// SPDX-FileCopyrightText: 2019, 2020, 2021, 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// dtn-tool creates, inspects and exchanges serialized bundles.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/bpstream/pkg/bpv7"
	"github.com/dtn7/bpstream/pkg/cla"
)

// newRegistry with all block types and the CLA types known to dtnd.
func newRegistry() *bpv7.Registry {
	rb := bpv7.NewRegistryBuilder()
	if err := cla.RegisterCLAs(rb); err != nil {
		log.WithError(err).Fatal("Registering CLA types errored")
	}
	return rb.Build()
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "dtn-tool",
		Short:         "Create, inspect and exchange BPv7 bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	reg := newRegistry()
	root.AddCommand(
		newCreateCmd(reg),
		newShowCmd(reg),
		newSendCmd(),
		newExchangeCmd(reg),
		newPingCmd(reg))

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("dtn-tool failed")
		os.Exit(1)
	}
}
