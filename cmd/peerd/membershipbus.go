// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net"
	"sync"

	"go.ciq.dev/peerset/internal/crdt"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/peercache"
)

// membershipBus adapts a peercache.Cache into a transport.EventBus: every
// published membership snapshot is diffed against the last one seen, so
// joiners are recorded locally and registered as cache pool peers (assuming
// every node in the cluster runs its cache on the same port, cachePort),
// and leavers are forgotten and deregistered.
type membershipBus struct {
	cache     *peercache.Cache
	cachePort string
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]peer.Descriptor
}

func newMembershipBus(cache *peercache.Cache, cachePort string, logger *slog.Logger) *membershipBus {
	return &membershipBus{cache: cache, cachePort: cachePort, logger: logger, seen: make(map[string]peer.Descriptor)}
}

// Publish implements transport.EventBus.
func (b *membershipBus) Publish(snapshot []byte) {
	set, err := crdt.Deserialize(snapshot)
	if err != nil {
		b.logger.Warn("membership bus: dropping malformed snapshot", "error", err)
		return
	}

	current := make(map[string]peer.Descriptor)
	for _, d := range set.Value() {
		current[d.Name] = d
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, d := range current {
		if _, ok := b.seen[name]; ok {
			continue
		}
		b.cache.Observe(d)
		if err := b.cache.AddPeer(b.cacheURL(d), d.Name); err != nil {
			b.logger.Warn("membership bus: failed to register cache peer",
				"peer", d.Name, "error", err)
		}
	}

	for name, d := range b.seen {
		if _, ok := current[name]; ok {
			continue
		}
		b.cache.Forget(name)
		b.cache.RemovePeer(b.cacheURL(d), name)
	}

	b.seen = current
}

func (b *membershipBus) cacheURL(d peer.Descriptor) string {
	return "http://" + net.JoinHostPort(d.Address, b.cachePort)
}
