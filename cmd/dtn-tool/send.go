// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/bpstream/pkg/agent"
)

// postBundles streams concatenated bundles to a REST agent and returns the IDs it accepted.
func postBundles(client *http.Client, restUrl string, body io.Reader) ([]string, error) {
	resp, err := client.Post(strings.TrimSuffix(restUrl, "/")+"/bundles", "application/cbor", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var postResp agent.RestPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&postResp); err != nil {
		return nil, fmt.Errorf("decoding response with status %d failed: %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || postResp.Error != "" {
		return postResp.Bundles, fmt.Errorf("REST agent rejected bundles with status %d: %s", resp.StatusCode, postResp.Error)
	}
	return postResp.Bundles, nil
}

func newSendCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send URL FILE...",
		Short: "Submit bundle files to a dtnd's REST agent",
		Long: `Submit bundle files to the REST agent at URL, e.g., http://localhost:8080/rest.

All files are sent as one stream of concatenated bundles.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var readers []io.Reader
			for _, name := range args[1:] {
				f, err := os.Open(name)
				if err != nil {
					return err
				}
				defer f.Close()
				readers = append(readers, f)
			}

			ids, err := postBundles(&http.Client{Timeout: timeout}, args[0], io.MultiReader(readers...))
			for _, id := range ids {
				log.WithField("bundle", id).Info("Submitted bundle")
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")

	return cmd
}
