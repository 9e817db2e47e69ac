// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"log/slog"

	"go.ciq.dev/peerset/internal/connection"
	"go.ciq.dev/peerset/internal/crdt"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/transport"
)

// handleRequest dispatches one request/reply. It returns true when the
// loop should terminate after replying — only opLeave does this.
func (m *Manager) handleRequest(ctx context.Context, req request) bool {
	switch req.kind {
	case opMembers:
		req.reply <- response{names: m.memberNames()}

	case opGetLocalState:
		snapshot, err := m.membership.Serialize()
		if err != nil {
			m.logger.Error("serializing local state failed", slog.Any("error", err))
		}
		req.reply <- response{snapshot: snapshot}

	case opGetActor:
		req.reply <- response{actor: m.actor}

	case opJoin:
		m.handleJoin(ctx, req.peerDesc)
		req.reply <- response{}

	case opLeave:
		m.handleLeave(ctx)
		req.reply <- response{}
		return true

	case opUpdateState:
		m.handleUpdateState(ctx, req.snapshot)
		req.reply <- response{}

	case opDeleteState:
		m.handleDeleteState()
		req.reply <- response{}

	case opSendMessage:
		req.reply <- response{err: m.dispatch(req.name, req.payload)}

	case opForwardMessage:
		payload := transport.NewForwardMessage(req.target, req.payload).Encode()
		req.reply <- response{err: m.dispatch(req.name, payload)}

	case opReceiveMessage:
		req.reply <- response{err: m.handleReceiveMessage(ctx, req.envelope)}

	default:
		m.logger.Warn("unknown request kind discarded", slog.Int("kind", int(req.kind)))
		if req.reply != nil {
			req.reply <- response{}
		}
	}

	return false
}

func (m *Manager) handleEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case gossipTickEvent:
		m.handleGossipTick(ctx)
	case connectedEvent:
		m.handleConnected(ctx, e.name, e.snapshot, e.handle)
	case terminatedEvent:
		m.table.Delete(e.name)
	default:
		m.logger.Warn("unknown event discarded")
	}
}

func (m *Manager) memberNames() []string {
	values := m.membership.Value()
	names := make([]string, 0, len(values))
	for _, d := range values {
		names = append(names, d.Name)
	}
	return names
}

// dispatch routes payload to name's connection, per the error taxonomy: an
// absent entry is PeerUnknown (not_yet_connected), a Disconnected entry is
// PeerDisconnected (disconnected).
func (m *Manager) dispatch(name string, payload []byte) error {
	entry, ok := m.table.Get(name)
	if !ok {
		return newError(PeerUnknown, name, nil)
	}
	if entry.State != connection.Connected {
		return newError(PeerDisconnected, name, nil)
	}
	if err := entry.Handle.Send(payload); err != nil {
		m.logger.Debug("send failed, awaiting termination signal", slog.String("peer", name), slog.Any("error", err))
		return newError(PeerDisconnected, name, err)
	}
	return nil
}

func (m *Manager) persist() {
	data, err := m.membership.Serialize()
	if err != nil {
		m.logger.Error("serializing membership failed", slog.Any("error", err))
		return
	}
	if err := m.store.Save(data); err != nil {
		m.logger.Error("persistence failed", slog.Any("error", err))
	}
}

func (m *Manager) publish() {
	if m.bus == nil {
		return
	}
	data, err := m.membership.Serialize()
	if err != nil {
		return
	}
	m.bus.Publish(data)
}

func (m *Manager) establishConnections(ctx context.Context) {
	if err := connection.EstablishConnections(
		ctx, m.self.Name, m.membership.Value(), m.pending, m.table, m.connector, m, m.logger,
	); err != nil {
		m.logger.Debug("establish_connections reported failures", slog.Any("error", err))
	}
}

func (m *Manager) gossipRound(ctx context.Context) {
	_, span := m.tracer.Start(ctx, "gossipRound")
	defer span.End()

	targets := m.engine.SelectPeers(m.membership.Value())
	snapshot, err := m.membership.Serialize()
	if err != nil {
		m.logger.Error("serializing membership for gossip failed", slog.Any("error", err))
		return
	}
	if err := m.engine.Push(m.table, targets, snapshot, m.logger); err != nil {
		m.logger.Debug("gossip round reported failures", slog.Any("error", err))
	}
}

// handleJoin appends peer to pending — duplicate joins accumulate — and
// attempts a connection. The attempt is bounded by the transport layer;
// ConnectFailed is logged and retried by the next gossip tick, never
// reported back to the caller.
func (m *Manager) handleJoin(ctx context.Context, p peer.Descriptor) {
	_, span := m.tracer.Start(ctx, "join")
	defer span.End()

	m.pending = append(m.pending, p)
	m.establishConnections(ctx)
}

// handleLeave removes self from membership, gossips the removal to
// currently-known peers, deletes the persisted state, and signals the
// loop to terminate after replying.
func (m *Manager) handleLeave(ctx context.Context) {
	_, span := m.tracer.Start(ctx, "leave")
	defer span.End()

	m.membership.Remove(m.self, m.actor)
	m.gossipRound(ctx)

	if err := m.store.Delete(); err != nil {
		m.logger.Error("persistence failed deleting cluster state on leave", slog.Any("error", err))
	}

	m.publish()
}

// handleUpdateState merges an externally-supplied snapshot into local
// membership, persists, and attempts connections to any newly-known peers
// using the post-merge membership, so peers learned from the merge are
// dialed right away rather than on the next gossip tick.
func (m *Manager) handleUpdateState(ctx context.Context, snapshot []byte) {
	incoming, err := crdt.Deserialize(snapshot)
	if err != nil {
		m.logger.Warn("decode failed for update_state snapshot, dropping", slog.Any("error", err))
		return
	}

	m.membership.Merge(incoming)
	m.persist()
	m.publish()
	m.establishConnections(ctx)
}

func (m *Manager) handleDeleteState() {
	if err := m.store.Delete(); err != nil {
		m.logger.Error("persistence failed deleting cluster state", slog.Any("error", err))
	}
}

// handleReceiveMessage implements the two inbound envelope kinds.
func (m *Manager) handleReceiveMessage(ctx context.Context, env transport.Envelope) error {
	switch env.Kind {
	case transport.KindReceiveState:
		return m.handleReceiveState(ctx, env.Snapshot)
	case transport.KindForwardMessage:
		if err := m.dispatch(env.Target, env.Payload); err != nil {
			m.logger.Debug("forwarded message dropped", slog.String("target", env.Target), slog.Any("error", err))
		}
		return nil
	default:
		m.logger.Warn("unknown envelope kind discarded", slog.Int("kind", int(env.Kind)))
		return nil
	}
}

func (m *Manager) handleReceiveState(ctx context.Context, snapshot []byte) error {
	_, span := m.tracer.Start(ctx, "receiveState")
	defer span.End()

	incoming, err := crdt.Deserialize(snapshot)
	if err != nil {
		m.logger.Warn("decode failed for inbound receive_state, dropping envelope", slog.Any("error", err))
		return nil
	}

	if m.membership.Equal(incoming) {
		return nil
	}

	m.membership.Merge(incoming)
	m.publish()
	m.establishConnections(ctx)
	m.persist()
	m.gossipRound(ctx)

	return nil
}

// handleConnected implements the Connected signal. The table entry is
// registered whenever a handle is supplied, regardless of pending status,
// since an inbound session (accepted, never dialed via establishConnections)
// has nowhere else to register its handle — without this an accepted
// connection is invisible to dispatch and establishConnections redials the
// same peer outbound, doubling every edge. Membership merge and gossip
// still only fire for peers still pending, matching §4.1 exactly.
func (m *Manager) handleConnected(ctx context.Context, name string, remoteSnapshot []byte, handle transport.Handle) {
	if handle != nil {
		m.table.Set(name, connection.ConnectedEntry(handle))
	}

	idx := -1
	for i, p := range m.pending {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)

	incoming, err := crdt.Deserialize(remoteSnapshot)
	if err != nil {
		m.logger.Warn("decode failed for connected handshake snapshot, dropping", slog.String("peer", name), slog.Any("error", err))
		return
	}

	m.membership.Merge(incoming)
	m.persist()
	m.publish()
	m.gossipRound(ctx)
}

func (m *Manager) handleGossipTick(ctx context.Context) {
	m.establishConnections(ctx)
	m.gossipRound(ctx)
	m.scheduleGossip()
}
