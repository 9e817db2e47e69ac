// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package peercache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go.ciq.dev/peerset/internal/peer"
)

func TestLookupMissReturnsNotFound(t *testing.T) {
	c := New("http://127.0.0.1:0")

	_, ok, err := c.Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestObserveThenLookupFinds(t *testing.T) {
	c := New("http://127.0.0.1:0")
	c.Observe(peer.Descriptor{Name: "B", Address: "10.0.0.2", Port: 9002})

	d, ok, err := c.Lookup(context.Background(), "B")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, peer.Descriptor{Name: "B", Address: "10.0.0.2", Port: 9002}, d)
}

func TestForgetRemovesLocalObservation(t *testing.T) {
	c := New("http://127.0.0.1:0")
	c.Observe(peer.Descriptor{Name: "B", Address: "10.0.0.2", Port: 9002})
	c.Forget("B")

	_, ok, err := c.Lookup(context.Background(), "B")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddPeerThenRemovePeer(t *testing.T) {
	c := New("http://127.0.0.1:0")

	require.NoError(t, c.AddPeer("http://10.0.0.2:8081", "B"))
	require.Len(t, c.peers, 2)

	c.RemovePeer("http://10.0.0.2:8081", "B")
	require.Len(t, c.peers, 1)
}

func TestRemovePeerIgnoresMismatchedOwner(t *testing.T) {
	c := New("http://127.0.0.1:0")
	require.NoError(t, c.AddPeer("http://10.0.0.2:8081", "B"))

	c.RemovePeer("http://10.0.0.2:8081", "C")
	require.Len(t, c.peers, 2, "a RemovePeer from a non-owning name must not evict the entry")
}

func TestAddPeerRejectsInvalidURL(t *testing.T) {
	c := New("http://127.0.0.1:0")
	err := c.AddPeer("://not-a-url", "B")
	require.Error(t, err)
}
