// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package connection tracks, per peer name, whether the manager currently
// holds a live send handle to that peer, and realizes the invariant that
// every current or pending peer has a table entry.
package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/transport"
)

// connect attempts are retried briefly in-call rather than purely relying
// on the next gossip round, since most connect failures (peer still
// finishing its own startup, a transient dial timeout) clear in
// milliseconds.
const (
	connectInitialInterval = 20 * time.Millisecond
	connectMaxInterval     = 100 * time.Millisecond
	connectMaxElapsedTime  = 150 * time.Millisecond
)

// State tags a connection table entry. Modeled as an explicit two-case
// variant rather than a nullable handle, since null would conflate
// "never seen" (absent from the table) with "known down".
type State int

const (
	// Disconnected means the entry exists but no live handle is held.
	Disconnected State = iota
	// Connected means Entry.Handle is a live send handle.
	Connected
)

// Entry is one connection table value.
type Entry struct {
	State  State
	Handle transport.Handle
}

// DisconnectedEntry is the canonical Disconnected value.
func DisconnectedEntry() Entry { return Entry{State: Disconnected} }

// ConnectedEntry wraps a live handle.
func ConnectedEntry(h transport.Handle) Entry { return Entry{State: Connected, Handle: h} }

// Table maps peer name to connection Entry.
type Table struct {
	entries map[string]Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Get returns the entry for name and whether one exists.
func (t *Table) Get(name string) (Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Set inserts or overwrites the entry for name.
func (t *Table) Set(name string, e Entry) {
	t.entries[name] = e
}

// Delete erases the entry for name, used when a session's termination
// signal reaches the manager. A later establish_connections pass will
// reinsert it as Disconnected and retry.
func (t *Table) Delete(name string) {
	delete(t.entries, name)
}

// Names returns every name currently in the table, in no particular
// order.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.entries))
	for name := range t.entries {
		out = append(out, name)
	}
	return out
}

// candidateSet computes members(membership) ∪ pending, excluding self, with
// duplicates collapsed (a peer appearing both in pending and in membership,
// or joined twice, is processed once).
func candidateSet(self string, membership []peer.Descriptor, pending []peer.Descriptor) []peer.Descriptor {
	seen := make(map[string]peer.Descriptor, len(membership)+len(pending))
	order := make([]string, 0, len(membership)+len(pending))

	add := func(d peer.Descriptor) {
		if d.Name == self {
			return
		}
		if _, ok := seen[d.Name]; !ok {
			order = append(order, d.Name)
		}
		seen[d.Name] = d
	}

	for _, d := range membership {
		add(d)
	}
	for _, d := range pending {
		add(d)
	}

	out := make([]peer.Descriptor, 0, len(order))
	for _, name := range order {
		out = append(out, seen[name])
	}
	return out
}

// EstablishConnections realizes the invariant that every current or
// pending peer (other than self) has a table entry: absent entries and
// Disconnected entries get a connect attempt; Connected entries are left
// untouched so a live connection is never re-dialed. Connect failures are
// aggregated and returned for logging only — per the error taxonomy they
// are not reported to any caller of a manager operation.
func EstablishConnections(
	ctx context.Context,
	self string,
	membership []peer.Descriptor,
	pending []peer.Descriptor,
	table *Table,
	connector transport.Connector,
	mgr transport.ManagerRef,
	logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}

	var errs *multierror.Error

	for _, candidate := range candidateSet(self, membership, pending) {
		entry, ok := table.Get(candidate.Name)
		if ok && entry.State == Connected {
			continue
		}

		attemptID := uuid.NewString()

		var handle transport.Handle
		attempt := func() error {
			h, err := connector.Connect(ctx, candidate, mgr)
			if err != nil {
				return err
			}
			handle = h
			return nil
		}

		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = connectInitialInterval
		eb.MaxInterval = connectMaxInterval
		eb.MaxElapsedTime = connectMaxElapsedTime

		err := backoff.RetryNotify(attempt, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
			logger.Debug("connect attempt failed, retrying",
				slog.String("peer", candidate.Name),
				slog.String("attempt", attemptID),
				slog.Duration("backoff", wait),
				slog.Any("error", err),
			)
		})
		if err != nil {
			logger.Debug("connect attempt exhausted retries",
				slog.String("peer", candidate.Name),
				slog.String("attempt", attemptID),
				slog.Any("error", err),
			)
			table.Set(candidate.Name, DisconnectedEntry())
			errs = multierror.Append(errs, err)
			continue
		}

		table.Set(candidate.Name, ConnectedEntry(handle))
	}

	return errs.ErrorOrNil()
}
