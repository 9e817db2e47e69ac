// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package manager

import "fmt"

// ErrorKind classifies a manager-reported failure. Kinds, not names: two
// errors of the same kind compare equal via errors.Is regardless of the
// wrapped detail.
type ErrorKind int

const (
	// PeerUnknown: send to a name never inserted into the connection
	// table. Reported to the caller as not_yet_connected.
	PeerUnknown ErrorKind = iota + 1
	// PeerDisconnected: send to a name whose entry is currently
	// Disconnected. Reported to the caller as disconnected.
	PeerDisconnected
	// ConnectFailed: connect returned an error. Recorded as Disconnected
	// and retried on the next gossip tick; never reported to a caller.
	ConnectFailed
	// PersistenceFailed: a disk write or delete returned an error.
	// Logged; in-memory state is retained and the manager continues.
	PersistenceFailed
	// DecodeFailed: an inbound snapshot or envelope could not be
	// deserialized. The envelope is dropped and logged; no state change.
	DecodeFailed
)

func (k ErrorKind) String() string {
	switch k {
	case PeerUnknown:
		return "not_yet_connected"
	case PeerDisconnected:
		return "disconnected"
	case ConnectFailed:
		return "connect_failed"
	case PersistenceFailed:
		return "persistence_failed"
	case DecodeFailed:
		return "decode_failed"
	default:
		return "unknown"
	}
}

// Error is a manager-reported failure carrying a stable Kind plus an
// optional wrapped cause.
type Error struct {
	Kind  ErrorKind
	Peer  string
	cause error
}

func newError(kind ErrorKind, peerName string, cause error) *Error {
	return &Error{Kind: kind, Peer: peerName, cause: cause}
}

func (e *Error) Error() string {
	if e.Peer == "" {
		return e.Kind.String()
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Peer, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Peer)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *Error of the same Kind, regardless of
// Peer or wrapped cause — so callers can errors.Is(err, ErrNotYetConnected)
// style sentinels built with the same Kind.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// Sentinel kind markers for errors.Is comparisons, e.g.
// errors.Is(err, ErrNotYetConnected).
var (
	ErrNotYetConnected = &Error{Kind: PeerUnknown}
	ErrDisconnected    = &Error{Kind: PeerDisconnected}
)
