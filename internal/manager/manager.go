// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package manager implements the single-writer manager actor: a channel-
// driven event loop that owns all membership and connection state and
// serializes every operation on it. There is no locking here because there
// is no shared mutable state across goroutines — the state lives only
// inside the loop.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"go.ciq.dev/peerset/internal/actorid"
	"go.ciq.dev/peerset/internal/connection"
	"go.ciq.dev/peerset/internal/crdt"
	"go.ciq.dev/peerset/internal/gossip"
	"go.ciq.dev/peerset/internal/persistence"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/randutil"
	"go.ciq.dev/peerset/internal/transport"
)

const (
	// DefaultGossipInterval is used when Config.GossipInterval is unset.
	DefaultGossipInterval = 2 * time.Second
	// DefaultFanout is used when Config.Fanout is unset.
	DefaultFanout = 3
)

// Config configures a Manager at construction.
type Config struct {
	Self           peer.Descriptor
	DataDir        string
	GossipInterval time.Duration
	Fanout         int
	Connector      transport.Connector
	EventBus       transport.EventBus
	Logger         *slog.Logger
	Tracer         trace.Tracer
}

// Manager is the single owner of ManagerState: the ActorId, the pending
// list, the membership CRDT, and the connection table. Every external
// operation is a request it processes one at a time off m.requests or
// m.events; nothing outside the loop ever touches membership/pending/table
// directly.
type Manager struct {
	self           peer.Descriptor
	actor          actorid.ActorId
	gossipInterval time.Duration

	connector transport.Connector
	bus       transport.EventBus
	logger    *slog.Logger
	tracer    trace.Tracer

	store  *persistence.Store
	engine *gossip.Engine

	membership *crdt.ORSet
	pending    []peer.Descriptor
	table      *connection.Table

	requests chan request
	events   chan event
	done     chan struct{}
}

// New constructs a Manager, loading persisted membership if present or
// seeding {self} otherwise, per §4.5.
func New(cfg Config) (*Manager, error) {
	if cfg.Connector == nil {
		return nil, fmt.Errorf("manager: Connector is required")
	}
	if cfg.Self.Name == "" {
		return nil, fmt.Errorf("manager: Self.Name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("go.ciq.dev/peerset/internal/manager")
	}

	interval := cfg.GossipInterval
	if interval <= 0 {
		interval = DefaultGossipInterval
	}
	fanout := cfg.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}

	actor, err := actorid.New(cfg.Self.Name)
	if err != nil {
		return nil, fmt.Errorf("manager: deriving actor id: %w", err)
	}

	store := persistence.NewStore(cfg.DataDir)

	membership, err := loadOrSeed(store, cfg.Self, actor, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		self:           cfg.Self,
		actor:          actor,
		gossipInterval: interval,
		connector:      cfg.Connector,
		bus:            cfg.EventBus,
		logger:         logger,
		tracer:         tracer,
		store:          store,
		engine:         gossip.NewEngine(cfg.Self.Name, fanout, randutil.NewShuffler(cfg.Self.Name)),
		membership:     membership,
		table:          connection.NewTable(),
		requests:       make(chan request),
		events:         make(chan event, 64),
		done:           make(chan struct{}),
	}

	return m, nil
}

// loadOrSeed loads the persisted membership snapshot, falling back to a
// fresh {self} membership rather than refusing to start if the file is
// absent or cannot be decoded — a disk decode failure at init is treated
// as DecodeFailed, logged, and not fatal.
func loadOrSeed(store *persistence.Store, self peer.Descriptor, actor actorid.ActorId, logger *slog.Logger) (*crdt.ORSet, error) {
	data, found, err := store.Load()
	if err != nil {
		logger.Error("persistence failed reading cluster state", slog.Any("error", err))
		found = false
	}

	if found {
		set, err := crdt.Deserialize(data)
		if err == nil {
			return set, nil
		}
		logger.Warn("decode failed for persisted cluster state, seeding fresh membership",
			slog.Any("error", err))
	}

	set := crdt.New()
	set.Add(self, actor)

	if data, err := set.Serialize(); err != nil {
		logger.Error("serializing fresh membership failed", slog.Any("error", err))
	} else if err := store.Save(data); err != nil {
		logger.Error("persistence failed writing fresh membership", slog.Any("error", err))
	}

	return set, nil
}

// Run drives the event loop until ctx is canceled or Leave terminates the
// manager. The gossip ticker is a timer rescheduled from within its own
// handler so overlapping ticks are impossible; it runs outside the
// errgroup, which supervises only the loop so a loop failure surfaces as
// Run's return value.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(m.done)
		return m.loop(ctx)
	})
	m.scheduleGossip()
	return g.Wait()
}

func (m *Manager) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.requests:
			if m.handleRequest(ctx, req) {
				return nil
			}
		case ev := <-m.events:
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) scheduleGossip() {
	time.AfterFunc(m.gossipInterval, func() {
		select {
		case m.events <- gossipTickEvent{}:
		case <-m.done:
		}
	})
}

// --- transport.ManagerRef ---

// Connected implements transport.ManagerRef: called by a session once its
// handshake with peerName completes, whether the session was dialed by this
// manager or accepted from one.
func (m *Manager) Connected(peerName string, remoteSnapshot []byte, handle transport.Handle) {
	select {
	case m.events <- connectedEvent{name: peerName, snapshot: remoteSnapshot, handle: handle}:
	case <-m.done:
	}
}

// Terminated implements transport.ManagerRef: called when a session's
// connection closes, for any reason.
func (m *Manager) Terminated(peerName string) {
	select {
	case m.events <- terminatedEvent{name: peerName}:
	case <-m.done:
	}
}
