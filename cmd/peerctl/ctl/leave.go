// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var leaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Make the target peerd gracefully leave the cluster.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := leave(Addr()); err != nil {
			return Errf("while leaving: %s", err)
		}
		return nil
	},
}

func LeaveCmd() *cobra.Command {
	return leaveCmd
}

func leave(addr string) error {
	resp, err := httpClient.Post(addr+"/leave", "application/json", nil)
	if err != nil {
		return fmt.Errorf("while posting to %s/leave: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return Errf("peerd rejected leave: %s", resp.Status)
	}

	fmt.Println("leave requested")
	return nil
}
