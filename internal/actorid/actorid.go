// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package actorid derives the opaque replica identifier used to tag CRDT
// operations.
package actorid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of an ActorId.
const Size = 20

// ActorId is an opaque binary replica identifier, stable for the lifetime
// of the process that created it. It is never parsed, only compared and
// embedded inside CRDT operations.
type ActorId [Size]byte

// New derives an ActorId from name and a monotonic counter via a
// cryptographic hash. The counter must be strictly increasing across
// restarts within the resolution of the hash; the wall-clock nanosecond
// timestamp at startup satisfies that for any reasonable restart cadence.
func New(name string) (ActorId, error) {
	return newWithCounter(name, uint64(time.Now().UnixNano()))
}

func newWithCounter(name string, counter uint64) (ActorId, error) {
	var id ActorId

	h, err := blake2b.New(Size, nil)
	if err != nil {
		return id, fmt.Errorf("while initializing actor id hash: %w", err)
	}

	if _, err := h.Write([]byte(name)); err != nil {
		return id, fmt.Errorf("while hashing actor name: %w", err)
	}

	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)
	if _, err := h.Write(counterBytes[:]); err != nil {
		return id, fmt.Errorf("while hashing actor counter: %w", err)
	}

	copy(id[:], h.Sum(nil))

	return id, nil
}

// String renders the ActorId as a hex string for logging.
func (id ActorId) String() string {
	return hex.EncodeToString(id[:])
}

// Equal reports whether two ActorIds are identical.
func (id ActorId) Equal(other ActorId) bool {
	return id == other
}

// IsZero reports whether id is the zero value, used to detect an
// uninitialized ActorId.
func (id ActorId) IsZero() bool {
	return id == ActorId{}
}
