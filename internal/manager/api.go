// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"go.ciq.dev/peerset/internal/actorid"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/transport"
)

// Self returns this node's own descriptor, as supplied at construction.
// It never changes for the lifetime of a Manager, so it is safe to read
// without going through the request channel.
func (m *Manager) Self() peer.Descriptor {
	return m.self
}

// call delivers req and waits for its reply, guarding both the send and the
// wait against the manager having already stopped — m.requests is
// unbuffered and nothing drains it once loop has returned, so an unguarded
// send after Leave (or after Run's context is canceled) would block the
// caller forever. A zero response is returned in that case, matching
// Leave's documented "not guaranteed to be processed" rather than hanging.
func (m *Manager) call(req request) response {
	select {
	case m.requests <- req:
		select {
		case resp := <-req.reply:
			return resp
		case <-m.done:
			return response{}
		}
	case <-m.done:
		return response{}
	}
}

// Members returns the current set of peer names. Never fails.
func (m *Manager) Members() []string {
	reply := make(chan response, 1)
	return m.call(request{kind: opMembers, reply: reply}).names
}

// GetLocalState returns a serializable membership snapshot. Never fails.
func (m *Manager) GetLocalState() []byte {
	reply := make(chan response, 1)
	return m.call(request{kind: opGetLocalState, reply: reply}).snapshot
}

// GetActor returns this process's ActorId. Never fails.
func (m *Manager) GetActor() actorid.ActorId {
	reply := make(chan response, 1)
	return m.call(request{kind: opGetActor, reply: reply}).actor
}

// Join adds p to the pending list and attempts a connection. Never fails
// from the caller's perspective — connection failures are healed by the
// gossip loop.
func (m *Manager) Join(p peer.Descriptor) {
	reply := make(chan response, 1)
	m.call(request{kind: opJoin, peerDesc: p, reply: reply})
}

// Leave removes self from membership, gossips the removal, deletes
// persisted state, and terminates the manager normally. Requests enqueued
// after Leave are not guaranteed to be processed.
func (m *Manager) Leave() {
	reply := make(chan response, 1)
	m.call(request{kind: opLeave, reply: reply})
}

// UpdateState merges snapshot into local membership, persists, and
// attempts connections to any newly-known peers.
func (m *Manager) UpdateState(snapshot []byte) {
	reply := make(chan response, 1)
	m.call(request{kind: opUpdateState, snapshot: snapshot, reply: reply})
}

// DeleteState removes the persisted file; in-memory state is unchanged.
func (m *Manager) DeleteState() {
	reply := make(chan response, 1)
	m.call(request{kind: opDeleteState, reply: reply})
}

// SendMessage dispatches msg to name's connection, returning a *Error with
// Kind PeerUnknown or PeerDisconnected if name has no live connection.
func (m *Manager) SendMessage(name string, msg []byte) error {
	reply := make(chan response, 1)
	return m.call(request{kind: opSendMessage, name: name, payload: msg, reply: reply}).err
}

// ForwardMessage wraps msg as a forward envelope addressed to target and
// dispatches it to name's connection — name is the next hop, target is
// the final recipient on the remote side.
func (m *Manager) ForwardMessage(name, target string, msg []byte) error {
	reply := make(chan response, 1)
	return m.call(request{kind: opForwardMessage, name: name, target: target, payload: msg, reply: reply}).err
}

// ReceiveMessage processes an inbound envelope: receive_state merges a
// remote snapshot and re-gossips; forward_message delivers its payload to
// a locally registered handle by name.
func (m *Manager) ReceiveMessage(env transport.Envelope) error {
	reply := make(chan response, 1)
	return m.call(request{kind: opReceiveMessage, envelope: env, reply: reply}).err
}
