// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"go.ciq.dev/peerset/internal/actorid"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/transport"
)

type opKind int

const (
	opMembers opKind = iota
	opGetLocalState
	opGetActor
	opJoin
	opLeave
	opUpdateState
	opDeleteState
	opSendMessage
	opForwardMessage
	opReceiveMessage
)

// request is a single request/reply delivered to the manager's inbox. The
// manager dequeues and completes one before dequeueing the next — this
// single-writer discipline is the core concurrency invariant.
type request struct {
	kind opKind

	peerDesc peer.Descriptor     // opJoin
	snapshot []byte              // opUpdateState
	name     string              // opSendMessage, opForwardMessage: connection to dispatch on
	target   string              // opForwardMessage: remote handle name to forward to
	payload  []byte              // opSendMessage, opForwardMessage
	envelope transport.Envelope  // opReceiveMessage

	reply chan response
}

type response struct {
	names    []string
	snapshot []byte
	actor    actorid.ActorId
	err      error
}

// event is an inbound signal the manager reacts to that is not itself a
// request/reply: the gossip ticker firing, a session reporting handshake
// completion, or a session reporting its own termination.
type event interface {
	isEvent()
}

type gossipTickEvent struct{}

func (gossipTickEvent) isEvent() {}

type connectedEvent struct {
	name     string
	snapshot []byte
	handle   transport.Handle
}

func (connectedEvent) isEvent() {}

type terminatedEvent struct {
	name string
}

func (terminatedEvent) isEvent() {}
