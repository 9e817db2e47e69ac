// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var actorCmd = &cobra.Command{
	Use:   "actor",
	Short: "Print the target peerd's ActorId.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := actor(Addr()); err != nil {
			return Errf("while fetching actor: %s", err)
		}
		return nil
	},
}

func ActorCmd() *cobra.Command {
	return actorCmd
}

type actorResponse struct {
	Actor string `json:"actor"`
}

func actor(addr string) error {
	resp, err := httpClient.Get(addr + "/actor")
	if err != nil {
		return fmt.Errorf("while fetching %s/actor: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Errf("peerd returned: %s", resp.Status)
	}

	var body actorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("while decoding actor response: %w", err)
	}

	fmt.Println(body.Actor)
	return nil
}
