// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var descriptorCmd = &cobra.Command{
	Use:   "descriptor [name]",
	Short: "Look up a peer's last-known address via the target peerd's cache.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := descriptor(Addr(), args[0]); err != nil {
			return Errf("while looking up descriptor: %s", err)
		}
		return nil
	},
}

func DescriptorCmd() *cobra.Command {
	return descriptorCmd
}

type descriptorResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func descriptor(addr, name string) error {
	resp, err := httpClient.Get(addr + "/descriptor/" + url.PathEscape(name))
	if err != nil {
		return fmt.Errorf("while fetching %s/descriptor/%s: %w", addr, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Errf("no known descriptor for %q", name)
	}
	if resp.StatusCode != http.StatusOK {
		return Errf("peerd returned: %s", resp.Status)
	}

	var body descriptorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("while decoding descriptor response: %w", err)
	}

	fmt.Printf("%s %s:%d\n", body.Name, body.Address, body.Port)
	return nil
}
