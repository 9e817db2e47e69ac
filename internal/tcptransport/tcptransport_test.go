// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package tcptransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ciq.dev/peerset/internal/manager"
	"go.ciq.dev/peerset/internal/peer"
)

func startNode(t *testing.T, name string) (*manager.Manager, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	port := ln.Addr().(*net.TCPAddr).Port

	connector := NewConnector(nil)

	mgr, err := manager.New(manager.Config{
		Self:           peer.Descriptor{Name: name, Address: "127.0.0.1", Port: port},
		Connector:      connector,
		GossipInterval: 50 * time.Millisecond,
		Fanout:         3,
	})
	require.NoError(t, err)
	connector.Bind(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mgr.Run(ctx) //nolint:errcheck

	listener := NewListener(ln, mgr, nil)
	go listener.Serve() //nolint:errcheck

	return mgr, port
}

func TestTwoNodeJoinConverges(t *testing.T) {
	a, _ := startNode(t, "A")
	b, bPort := startNode(t, "B")

	a.Join(peer.Descriptor{Name: "B", Address: "127.0.0.1", Port: bPort})

	require.Eventually(t, func() bool {
		return len(a.Members()) == 2 && len(b.Members()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.ElementsMatch(t, []string{"A", "B"}, a.Members())
	require.ElementsMatch(t, []string{"A", "B"}, b.Members())
}

func TestThreeNodeConvergenceViaOne(t *testing.T) {
	a, _ := startNode(t, "A")
	b, bPort := startNode(t, "B")
	c, cPort := startNode(t, "C")

	a.Join(peer.Descriptor{Name: "B", Address: "127.0.0.1", Port: bPort})
	a.Join(peer.Descriptor{Name: "C", Address: "127.0.0.1", Port: cPort})

	require.Eventually(t, func() bool {
		return len(a.Members()) == 3 && len(b.Members()) == 3 && len(c.Members()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.ElementsMatch(t, []string{"A", "B", "C"}, b.Members())
	require.ElementsMatch(t, []string{"A", "B", "C"}, c.Members())
}

func TestLeavePropagates(t *testing.T) {
	a, _ := startNode(t, "A")
	b, bPort := startNode(t, "B")

	a.Join(peer.Descriptor{Name: "B", Address: "127.0.0.1", Port: bPort})

	require.Eventually(t, func() bool {
		return len(a.Members()) == 2 && len(b.Members()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	b.Leave()

	require.Eventually(t, func() bool {
		members := a.Members()
		for _, m := range members {
			if m == "B" {
				return false
			}
		}
		return len(members) == 1
	}, 3*time.Second, 10*time.Millisecond)
}
