// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ciq.dev/peerset/internal/actorid"
	"go.ciq.dev/peerset/internal/connection"
	"go.ciq.dev/peerset/internal/crdt"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/transport"
)

type stubHandle struct {
	sent [][]byte
}

func (h *stubHandle) Send(payload []byte) error {
	h.sent = append(h.sent, payload)
	return nil
}

type stubConnector struct {
	fail    map[string]bool
	dialed  []string
	handles map[string]*stubHandle
}

func newStubConnector() *stubConnector {
	return &stubConnector{fail: map[string]bool{}, handles: map[string]*stubHandle{}}
}

func (c *stubConnector) Connect(_ context.Context, d peer.Descriptor, _ transport.ManagerRef) (transport.Handle, error) {
	c.dialed = append(c.dialed, d.Name)
	if c.fail[d.Name] {
		return nil, errors.New("dial refused")
	}
	h := &stubHandle{}
	c.handles[d.Name] = h
	return h, nil
}

// newRunningManager starts the manager's event loop in the background for
// tests exercising the request/reply public API. A long gossip interval
// keeps the periodic tick from interfering with assertions.
func newRunningManager(t *testing.T, self string, dataDir string, connector *stubConnector) *Manager {
	t.Helper()

	m, err := New(Config{
		Self:           peer.Descriptor{Name: self},
		DataDir:        dataDir,
		Connector:      connector,
		GossipInterval: time.Hour,
		Fanout:         3,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx) //nolint:errcheck

	t.Cleanup(cancel)
	return m
}

func TestMembersSeededWithSelf(t *testing.T) {
	m := newRunningManager(t, "A", "", newStubConnector())
	require.Equal(t, []string{"A"}, m.Members())
}

func TestJoinAddsPendingAndAttemptsConnection(t *testing.T) {
	connector := newStubConnector()
	m := newRunningManager(t, "A", "", connector)

	m.Join(peer.Descriptor{Name: "B", Address: "10.0.0.2", Port: 9000})

	require.Eventually(t, func() bool {
		return len(connector.dialed) == 1 && connector.dialed[0] == "B"
	}, time.Second, time.Millisecond)
}

func TestSendMessageUnknownPeerReturnsNotYetConnected(t *testing.T) {
	m := newRunningManager(t, "A", "", newStubConnector())

	err := m.SendMessage("ghost", []byte("hi"))
	require.Error(t, err)

	var merr *Error
	require.True(t, errors.As(err, &merr))
	require.Equal(t, PeerUnknown, merr.Kind)
}

func TestSendMessageDisconnectedPeerReturnsDisconnected(t *testing.T) {
	connector := newStubConnector()
	connector.fail["B"] = true
	m := newRunningManager(t, "A", "", connector)

	m.Join(peer.Descriptor{Name: "B"})

	require.Eventually(t, func() bool {
		return m.SendMessage("B", []byte("hi")) != nil
	}, time.Second, time.Millisecond)

	err := m.SendMessage("B", []byte("hi"))
	var merr *Error
	require.True(t, errors.As(err, &merr))
	require.Equal(t, PeerDisconnected, merr.Kind)
}

func TestSendMessageConnectedDispatchesPayload(t *testing.T) {
	connector := newStubConnector()
	m := newRunningManager(t, "A", "", connector)
	m.Join(peer.Descriptor{Name: "B"})

	require.Eventually(t, func() bool {
		return connector.handles["B"] != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, m.SendMessage("B", []byte("payload")))
	require.Equal(t, [][]byte{[]byte("payload")}, connector.handles["B"].sent)
}

func TestForwardMessageWrapsEnvelope(t *testing.T) {
	connector := newStubConnector()
	m := newRunningManager(t, "A", "", connector)
	m.Join(peer.Descriptor{Name: "B"})

	require.Eventually(t, func() bool { return connector.handles["B"] != nil }, time.Second, time.Millisecond)

	require.NoError(t, m.ForwardMessage("B", "C", []byte("payload")))

	sent := connector.handles["B"].sent
	require.Len(t, sent, 1)

	env, err := transport.DecodeEnvelope(sent[0])
	require.NoError(t, err)
	require.Equal(t, transport.KindForwardMessage, env.Kind)
	require.Equal(t, "C", env.Target)
	require.Equal(t, []byte("payload"), env.Payload)
}

func TestReceiveMessageForwardDeliversToLocalHandle(t *testing.T) {
	connector := newStubConnector()
	m := newRunningManager(t, "A", "", connector)
	m.Join(peer.Descriptor{Name: "C"})

	require.Eventually(t, func() bool { return connector.handles["C"] != nil }, time.Second, time.Millisecond)

	err := m.ReceiveMessage(transport.NewForwardMessage("C", []byte("hi")))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(connector.handles["C"].sent) == 1 }, time.Second, time.Millisecond)
}

func TestUpdateStateMergesAndConnectsNewPeers(t *testing.T) {
	connector := newStubConnector()
	m := newRunningManager(t, "A", "", connector)

	other := crdt.New()
	bActor, err := actorid.New("B")
	require.NoError(t, err)
	other.Add(peer.Descriptor{Name: "B", Address: "10.0.0.2", Port: 7001}, bActor)

	snap, err := other.Serialize()
	require.NoError(t, err)

	m.UpdateState(snap)

	require.ElementsMatch(t, []string{"A", "B"}, m.Members())
	require.Eventually(t, func() bool { return connector.handles["B"] != nil }, time.Second, time.Millisecond)
}

func TestUpdateStateMalformedSnapshotDropped(t *testing.T) {
	m := newRunningManager(t, "A", "", newStubConnector())

	m.UpdateState([]byte{0xff, 0xff, 0xff})

	require.Equal(t, []string{"A"}, m.Members())
}

func TestDeleteStateRemovesFileLeavesMembership(t *testing.T) {
	dir := t.TempDir()
	m := newRunningManager(t, "A", dir, newStubConnector())

	_, found, err := m.store.Load()
	require.NoError(t, err)
	require.True(t, found)

	m.DeleteState()

	_, found, err = m.store.Load()
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, []string{"A"}, m.Members())
}

func TestLeaveRemovesSelfDeletesStateAndTerminates(t *testing.T) {
	dir := t.TempDir()
	m := newRunningManager(t, "A", dir, newStubConnector())

	m.Leave()

	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("manager did not terminate after Leave")
	}

	require.NotContains(t, m.memberNames(), "A")

	_, found, err := m.store.Load()
	require.NoError(t, err)
	require.False(t, found)
}

func TestConnectedSignalIgnoredWhenNotPending(t *testing.T) {
	m, _ := New(Config{Self: peer.Descriptor{Name: "A"}, Connector: newStubConnector()})

	remoteActor, err := actorid.New("X")
	require.NoError(t, err)
	remote := crdt.New()
	remote.Add(peer.Descriptor{Name: "X"}, remoteActor)
	snap, err := remote.Serialize()
	require.NoError(t, err)

	m.handleConnected(context.Background(), "X", snap, nil)

	require.NotContains(t, m.memberNames(), "X", "a connected signal for a peer never pending must be a no-op")
}

func TestConnectedSignalMergesWhenPending(t *testing.T) {
	connector := newStubConnector()
	m, err := New(Config{Self: peer.Descriptor{Name: "A"}, Connector: connector})
	require.NoError(t, err)

	m.pending = append(m.pending, peer.Descriptor{Name: "B"})

	remoteActor, err := actorid.New("B")
	require.NoError(t, err)
	remote := crdt.New()
	remote.Add(peer.Descriptor{Name: "A"}, remoteActor)
	remote.Add(peer.Descriptor{Name: "B"}, remoteActor)
	snap, err := remote.Serialize()
	require.NoError(t, err)

	m.handleConnected(context.Background(), "B", snap, nil)

	require.ElementsMatch(t, []string{"A", "B"}, m.memberNames())
	require.Empty(t, m.pending, "B must be removed from pending once connected")
}

func TestReceiveStateEqualIsNoop(t *testing.T) {
	m, err := New(Config{Self: peer.Descriptor{Name: "A"}, Connector: newStubConnector()})
	require.NoError(t, err)

	local := m.membership.Clone()
	snap, err := local.Serialize()
	require.NoError(t, err)

	err = m.handleReceiveState(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, m.memberNames())
}

func TestReceiveStateMergesAndConnects(t *testing.T) {
	connector := newStubConnector()
	m, err := New(Config{Self: peer.Descriptor{Name: "A"}, Connector: connector})
	require.NoError(t, err)

	remoteActor, err := actorid.New("C")
	require.NoError(t, err)
	remote := m.membership.Clone()
	remote.Add(peer.Descriptor{Name: "C"}, remoteActor)
	snap, err := remote.Serialize()
	require.NoError(t, err)

	err = m.handleReceiveState(context.Background(), snap)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"A", "C"}, m.memberNames())

	entry, ok := m.table.Get("C")
	require.True(t, ok)
	require.Equal(t, connection.Connected, entry.State)
}

func TestGossipTickReestablishesAndPushes(t *testing.T) {
	connector := newStubConnector()
	m, err := New(Config{Self: peer.Descriptor{Name: "A"}, Connector: connector})
	require.NoError(t, err)

	m.table.Set("B", connection.DisconnectedEntry())
	bActor, err := actorid.New("B")
	require.NoError(t, err)
	m.membership.Add(peer.Descriptor{Name: "B"}, bActor)

	m.establishConnections(context.Background())
	m.gossipRound(context.Background())

	entry, ok := m.table.Get("B")
	require.True(t, ok)
	require.Equal(t, connection.Connected, entry.State)
	require.NotEmpty(t, connector.handles["B"].sent)
}
