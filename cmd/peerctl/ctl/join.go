// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join [name] [address] [port]",
	Short: "Introduce a peer to the cluster via the target peerd.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var port int
		if _, err := fmt.Sscanf(args[2], "%d", &port); err != nil {
			return Errf("invalid port %q: %s", args[2], err)
		}

		if err := join(Addr(), args[0], args[1], port); err != nil {
			return Errf("while joining: %s", err)
		}
		return nil
	},
}

func JoinCmd() *cobra.Command {
	return joinCmd
}

type joinRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func join(addr, name, address string, port int) error {
	body, err := json.Marshal(joinRequest{Name: name, Address: address, Port: port})
	if err != nil {
		return fmt.Errorf("while encoding join request: %w", err)
	}

	resp, err := httpClient.Post(addr+"/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("while posting to %s/join: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return Errf("peerd rejected join: %s", resp.Status)
	}

	fmt.Printf("joined %s (%s:%d)\n", name, address, port)
	return nil
}
