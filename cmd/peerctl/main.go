// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package main

import "go.ciq.dev/peerset/cmd/peerctl/ctl"

func main() {
	ctl.Execute(
		ctl.JoinCmd(),
		ctl.LeaveCmd(),
		ctl.MembersCmd(),
		ctl.ActorCmd(),
		ctl.DescriptorCmd(),
	)
}
