// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	ErrMissingFlagAddr Err = "missing addr flag"
)

const (
	FlagNameAddr = "addr"
)

// RegisterFlags registers the flags that are common to all commands.
func RegisterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(FlagNameAddr, "http://127.0.0.1:8081", "Address of the target peerd's status API.")
}

// Addr returns the target peerd's status API address from the command
// line. If unset, the command exits with an error.
func Addr() string {
	addr, err := rootCmd.Flags().GetString(FlagNameAddr)
	if err != nil || addr == "" {
		rootCmd.PrintErrln(ErrMissingFlagAddr)
		os.Exit(1)
	}

	return addr
}

// httpClient is shared by all subcommands; peerd's status API is local
// operator tooling, not a public surface, so a short fixed timeout is fine.
var httpClient = &http.Client{Timeout: 5 * time.Second}
