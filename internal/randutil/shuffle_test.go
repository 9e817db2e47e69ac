// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package randutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShuffleIsPermutation(t *testing.T) {
	s := NewShufflerWithSeed(42)
	items := []string{"A", "B", "C", "D", "E"}

	shuffled := s.Shuffle(items)
	require.ElementsMatch(t, items, shuffled)
	require.Equal(t, items, []string{"A", "B", "C", "D", "E"}, "input slice must not be mutated")
}

func TestTakeFewerThanFanout(t *testing.T) {
	s := NewShufflerWithSeed(1)
	items := []string{"A", "B"}

	require.ElementsMatch(t, items, s.Take(items, 5))
}

func TestTakeExactCount(t *testing.T) {
	s := NewShufflerWithSeed(1)
	items := []string{"A", "B", "C", "D"}

	got := s.Take(items, 2)
	require.Len(t, got, 2)

	seen := map[string]bool{}
	for _, g := range got {
		seen[g] = true
	}
	for g := range seen {
		require.Contains(t, items, g)
	}
}

func TestNewShufflerDistinctSeeds(t *testing.T) {
	a := NewShuffler("node-a")
	b := NewShuffler("node-b")
	require.NotEqual(t, a.rng.Int63(), b.rng.Int63())
}
