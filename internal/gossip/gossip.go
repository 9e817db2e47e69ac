// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package gossip implements anti-entropy dissemination: selecting a random
// fanout-sized subset of known peers and pushing the local membership
// snapshot to each. It owns no membership or connection state itself —
// both are supplied by the manager on every round.
package gossip

import (
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"go.ciq.dev/peerset/internal/connection"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/randutil"
	"go.ciq.dev/peerset/internal/transport"
)

// Engine selects peers and pushes membership snapshots to them. It is not
// a wrapper around any external gossip transport: peer selection,
// dispatch, and failure accounting are all implemented here.
type Engine struct {
	self     string
	fanout   int
	shuffler *randutil.Shuffler
}

// NewEngine returns a gossip Engine for self, selecting up to fanout peers
// per round using shuffler for randomness.
func NewEngine(self string, fanout int, shuffler *randutil.Shuffler) *Engine {
	if fanout < 1 {
		fanout = 1
	}
	return &Engine{self: self, fanout: fanout, shuffler: shuffler}
}

// SelectPeers returns value(membership) \ {self}, shuffled uniformly and
// truncated to Engine.fanout. If fewer peers exist than fanout, every
// other peer is selected.
func (e *Engine) SelectPeers(membership []peer.Descriptor) []string {
	names := make([]string, 0, len(membership))
	for _, d := range membership {
		if d.Name == e.self {
			continue
		}
		names = append(names, d.Name)
	}
	return e.shuffler.Take(names, e.fanout)
}

// Push sends the full local membership snapshot as a receive_state
// envelope to each of targets via its connection table entry. A target
// that is absent or Disconnected is skipped, not retried here — the next
// gossip tick retries naturally, which is sufficient since reachability is
// monotonic toward convergence as long as any overlapping path exists.
// Dispatch failures are aggregated and returned for logging only.
func (e *Engine) Push(table *connection.Table, targets []string, snapshot []byte, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var errs *multierror.Error
	payload := transport.NewReceiveState(snapshot).Encode()

	for _, name := range targets {
		entry, ok := table.Get(name)
		if !ok || entry.State != connection.Connected {
			logger.Debug("gossip skip: not connected", slog.String("peer", name))
			continue
		}

		if err := entry.Handle.Send(payload); err != nil {
			logger.Debug("gossip dispatch failed", slog.String("peer", name), slog.Any("error", err))
			errs = multierror.Append(errs, err)
			continue
		}

		logger.Debug("gossip pushed", slog.String("peer", name))
	}

	return errs.ErrorOrNil()
}
