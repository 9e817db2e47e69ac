// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package transport declares the collaborators the manager depends on by
// interface only: the per-peer session that owns a live connection, and
// the event bus that publishes membership changes to application
// subscribers. Neither has a concrete implementation here — both are
// external to the core per the specification's Non-goals.
package transport

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"go.ciq.dev/peerset/internal/peer"
)

// Handle is an opaque send-channel to a connected peer's session. The
// manager never inspects the session itself, only writes opaque payloads
// through this handle and reacts to its termination signal. A payload is
// either raw application bytes (send_message) or the encoded form of an
// Envelope (gossip pushes and forwarded messages).
type Handle interface {
	Send(payload []byte) error
}

// ManagerRef is the weak reference a session holds back to the manager's
// inbox. A session never holds the manager directly, avoiding cyclic
// ownership between the two.
type ManagerRef interface {
	// Connected is called once a session completes its handshake with
	// peerName, carrying that peer's membership snapshot at handshake time
	// and the Handle the manager should register for sending to it —
	// including for an inbound session the manager never dialed itself, so
	// the connection table holds exactly one entry per peer either way.
	Connected(peerName string, remoteSnapshot []byte, handle Handle)
	// Terminated is called when a session's underlying connection closes,
	// for any reason, including a clean shutdown.
	Terminated(peerName string)
	// ReceiveMessage delivers an inbound wire envelope read off a session's
	// connection to the manager for dispatch by Kind.
	ReceiveMessage(env Envelope) error
}

// Connector starts a subordinate session for descriptor. The returned
// handle is owned by the caller (the connection manager); the session
// reports back to mgr via Connected and Terminated. Connect must return
// within a bounded interval — the core does not itself enforce a timeout,
// but relies on the transport layer to do so.
type Connector interface {
	Connect(ctx context.Context, descriptor peer.Descriptor, mgr ManagerRef) (Handle, error)
}

// EventBus publishes a membership snapshot to application subscribers on
// every membership change. Fire-and-forget: the manager does not wait for
// or react to delivery outcomes.
type EventBus interface {
	Publish(snapshot []byte)
}

// EnvelopeKind distinguishes the wire envelopes peers exchange.
type EnvelopeKind uint8

const (
	// KindReceiveState carries a full serialized membership snapshot.
	KindReceiveState EnvelopeKind = 1
	// KindForwardMessage asks the receiving manager to deliver Payload to
	// its local handle named Target.
	KindForwardMessage EnvelopeKind = 2
)

// Envelope is the opaque-to-transport payload exchanged between peers.
// Only one of Snapshot or (Target, Payload) is meaningful, depending on
// Kind.
type Envelope struct {
	Kind     EnvelopeKind
	Snapshot []byte
	Target   string
	Payload  []byte
}

// NewReceiveState builds a receive_state envelope carrying snapshot.
func NewReceiveState(snapshot []byte) Envelope {
	return Envelope{Kind: KindReceiveState, Snapshot: snapshot}
}

// NewForwardMessage builds a forward_message envelope.
func NewForwardMessage(target string, payload []byte) Envelope {
	return Envelope{Kind: KindForwardMessage, Target: target, Payload: payload}
}

// Encode renders e to its deterministic wire form.
func (e Envelope) Encode() []byte {
	var b []byte
	b = protowire.AppendVarint(b, uint64(e.Kind))

	switch e.Kind {
	case KindReceiveState:
		b = protowire.AppendBytes(b, e.Snapshot)
	case KindForwardMessage:
		b = protowire.AppendBytes(b, []byte(e.Target))
		b = protowire.AppendBytes(b, e.Payload)
	}

	return b
}

// DecodeEnvelope parses the wire form produced by Encode, rejecting
// malformed input with a defined error.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope

	kind, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return e, fmt.Errorf("malformed envelope: kind")
	}
	b := data[n:]
	e.Kind = EnvelopeKind(kind)

	switch e.Kind {
	case KindReceiveState:
		snapshot, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("malformed envelope: snapshot")
		}
		b = b[n:]
		e.Snapshot = snapshot
	case KindForwardMessage:
		target, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("malformed envelope: target")
		}
		b = b[n:]
		e.Target = string(target)

		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("malformed envelope: payload")
		}
		b = b[n:]
		e.Payload = payload
	default:
		return Envelope{}, fmt.Errorf("malformed envelope: unknown kind %d", e.Kind)
	}

	if len(b) != 0 {
		return Envelope{}, fmt.Errorf("malformed envelope: trailing bytes")
	}

	return e, nil
}
