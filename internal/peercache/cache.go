// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package peercache maintains a groupcache-backed cache of last-known
// peer descriptor metadata, so that repeated lookups by name (used by
// cmd/peerctl and internal/statusapi) don't require a round trip
// through the manager's request channel.
package peercache

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/mailgun/groupcache/v2"
	"gopkg.in/yaml.v3"

	"go.ciq.dev/peerset/internal/peer"
)

// DefaultCacheSize bounds the descriptor group at 1 MiB; entries are a
// few dozen bytes each, so this comfortably covers large clusters.
const DefaultCacheSize = 1024 * 1024

const descriptorGroup = "peer-descriptors"

// Cache wraps a groupcache.HTTPPool keyed by this node's own address,
// tracking the addresses of peers known to also run a Cache so a lookup
// for a descriptor this node hasn't observed directly can be served by
// whichever peer has.
type Cache struct {
	peerMu sync.Mutex
	peers  map[string]string // cache peer URL -> owning peerset node name
	pool   *groupcache.HTTPPool
	group  *groupcache.Group
	self   string
	server *http.Server

	localMu sync.RWMutex
	local   map[string]peer.Descriptor
}

// New constructs a Cache whose HTTP peer pool advertises selfURL (e.g.
// "http://10.0.0.1:8081") as this node's own cache address.
func New(selfURL string) *Cache {
	pool := groupcache.NewHTTPPoolOpts(selfURL, &groupcache.HTTPPoolOptions{})
	pool.Set(selfURL)

	c := &Cache{
		peers: map[string]string{selfURL: ""},
		pool:  pool,
		self:  selfURL,
		local: make(map[string]peer.Descriptor),
	}

	c.group = groupcache.NewGroup(descriptorGroup, DefaultCacheSize, groupcache.GetterFunc(c.fetch))

	return c
}

// fetch is the groupcache.Getter invoked on a cache miss across the
// whole pool; it only ever has an answer for descriptors observed
// locally, so a miss here means no peer in the pool has seen that name.
func (c *Cache) fetch(_ context.Context, name string, dest groupcache.Sink) error {
	c.localMu.RLock()
	d, ok := c.local[name]
	c.localMu.RUnlock()
	if !ok {
		return fmt.Errorf("no known descriptor for peer %q", name)
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return err
	}

	return dest.SetBytes(data, time.Now().Add(10*time.Minute))
}

// Observe records d as locally known, making it servable to the rest of
// the pool on their next cache miss. cmd/peerd's membershipBus calls it
// for each name newly present in a published membership snapshot; a
// changed descriptor under an already-seen name is not re-observed.
func (c *Cache) Observe(d peer.Descriptor) {
	c.localMu.Lock()
	c.local[d.Name] = d
	c.localMu.Unlock()
}

// Forget drops name from the locally-observed set, mirroring a Leave or
// membership removal. It does not purge the distributed cache entry,
// which simply expires per its TTL.
func (c *Cache) Forget(name string) {
	c.localMu.Lock()
	delete(c.local, name)
	c.localMu.Unlock()
}

// Lookup fetches name's descriptor, either from the local observation
// set or, via groupcache, from whichever pool peer has observed it.
func (c *Cache) Lookup(ctx context.Context, name string) (peer.Descriptor, bool, error) {
	var data []byte
	if err := c.group.Get(ctx, name, groupcache.AllocatingByteSliceSink(&data)); err != nil {
		return peer.Descriptor{}, false, nil //nolint:nilerr // cache miss, not a failure
	}

	var d peer.Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return peer.Descriptor{}, false, fmt.Errorf("while decoding cached descriptor: %w", err)
	}

	return d, true, nil
}

// Serve starts the cache's HTTP peer-to-peer transport on ln. It blocks
// until ln is closed or Stop is called.
func (c *Cache) Serve(ln net.Listener) error {
	c.server = &http.Server{
		Handler:           c.pool,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return c.server.Serve(ln)
}

// Stop gracefully shuts down the cache's HTTP transport, if Serve was
// ever called.
func (c *Cache) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *Cache) setPeers() {
	urls := make([]string, 0, len(c.peers))
	for u := range c.peers {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	c.pool.Set(urls...)
}

// AddPeer registers a cluster peer's cache address so groupcache can
// route lookups to it. name disambiguates ownership when a peer
// reconnects from a different address under the same cache URL slot.
func (c *Cache) AddPeer(cacheURL, name string) error {
	if _, err := url.Parse(cacheURL); err != nil {
		return fmt.Errorf("invalid cache peer URL %q: %w", cacheURL, err)
	}

	c.peerMu.Lock()
	c.peers[cacheURL] = name
	c.setPeers()
	c.peerMu.Unlock()

	return nil
}

// RemovePeer deregisters a cluster peer's cache address, provided name
// still matches the owner recorded by AddPeer.
func (c *Cache) RemovePeer(cacheURL, name string) {
	c.peerMu.Lock()
	if owner, ok := c.peers[cacheURL]; ok && owner == name {
		delete(c.peers, cacheURL)
		c.setPeers()
	}
	c.peerMu.Unlock()
}
