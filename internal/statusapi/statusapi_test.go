// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"go.ciq.dev/peerset/internal/manager"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/peercache"
	"go.ciq.dev/peerset/internal/transport"
)

type noopConnector struct{}

func (noopConnector) Connect(context.Context, peer.Descriptor, transport.ManagerRef) (transport.Handle, error) {
	return nil, nil
}

// newRunningManager mirrors the manager package's own test helper: the
// manager's event loop must be running for any request/reply API call
// (Members, GetActor, ...) to return.
func newRunningManager(t *testing.T, name string) *manager.Manager {
	t.Helper()

	mgr, err := manager.New(manager.Config{Self: peer.Descriptor{Name: name}, Connector: noopConnector{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx) //nolint:errcheck

	t.Cleanup(cancel)
	return mgr
}

func TestHandleHealthz(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleMembers(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/members")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body membersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"A"}, body.Members)
}

func TestHandleActor(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/actor")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body actorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Actor)
}

func TestHandleDescriptorWithoutCache(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/descriptor/B")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleDescriptorFound(t *testing.T) {
	mgr := newRunningManager(t, "A")

	cache := peercache.New("http://127.0.0.1:0")
	cache.Observe(peer.Descriptor{Name: "B", Address: "127.0.0.1", Port: 9001})

	srv := New(mgr, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/descriptor/B")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body descriptorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "B", body.Name)
	require.Equal(t, "127.0.0.1", body.Address)
	require.Equal(t, 9001, body.Port)
}

func TestHandleDescriptorUnknownPeer(t *testing.T) {
	mgr := newRunningManager(t, "A")

	cache := peercache.New("http://127.0.0.1:0")

	srv := New(mgr, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/descriptor/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleJoin(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, err := json.Marshal(joinRequest{Name: "B", Address: "127.0.0.1", Port: 9001})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/join", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// handleJoin blocks on mgr.Join's reply channel, so by the time the
	// response comes back the join has been handled: B sits in pending, and
	// membership only gains B once a connected handshake arrives, which
	// noopConnector never delivers.
	require.Equal(t, []string{"A"}, mgr.Members())
}

func TestHandleJoinRejectsMissingName(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, err := json.Marshal(joinRequest{Address: "127.0.0.1", Port: 9001})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/join", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleLeave(t *testing.T) {
	mgr := newRunningManager(t, "A")

	srv := New(mgr, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/leave", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// handleLeave blocks on mgr.Leave, which returns once the event loop has
	// handled the leave and replied; the loop then exits, and any later
	// request/reply call against mgr returns a zero value.
}
