// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the target peerd's known cluster membership.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := members(Addr()); err != nil {
			return Errf("while listing members: %s", err)
		}
		return nil
	},
}

func MembersCmd() *cobra.Command {
	return membersCmd
}

type membersResponse struct {
	Members []string `json:"members"`
}

func members(addr string) error {
	resp, err := httpClient.Get(addr + "/members")
	if err != nil {
		return fmt.Errorf("while fetching %s/members: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Errf("peerd returned: %s", resp.Status)
	}

	var body membersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("while decoding members response: %w", err)
	}

	for _, name := range body.Members {
		fmt.Println(name)
	}
	return nil
}
