// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "peerctl",
	Short: "Operations related to a running peerd.",
}

func Execute(cmds ...*cobra.Command) {
	RegisterFlags(rootCmd)

	rootCmd.AddCommand(
		cmds...,
	)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
