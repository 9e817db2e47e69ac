// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package tcptransport is a concrete transport.Connector: a plain TCP
// session per peer, framed with a 4-byte length prefix around the
// protowire-encoded envelopes internal/transport already defines. The
// core specifies no transport (internal/transport declares only the
// collaborator interfaces); this package supplies one so cmd/peerd has
// something real to dial.
package tcptransport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.ciq.dev/peerset/internal/manager"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/transport"
)

const maxFrameSize = 16 * 1024 * 1024

// Connector dials peers over plain TCP. Bind must be called with the
// owning manager before the first Connect, since a manager cannot be
// constructed without a transport.Connector in its Config — the
// reference is supplied after both exist.
type Connector struct {
	mgr         *manager.Manager
	logger      *slog.Logger
	dialTimeout time.Duration
}

// NewConnector builds a Connector. logger may be nil, in which case
// slog.Default() is used.
func NewConnector(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger, dialTimeout: 5 * time.Second}
}

// Bind supplies the manager this Connector dials on behalf of. Must be
// called once, after manager.New, before Connect can succeed.
func (c *Connector) Bind(mgr *manager.Manager) {
	c.mgr = mgr
}

// Connect dials descriptor, exchanges initial membership snapshots, and
// reports the result to mgrRef. The returned Handle dispatches further
// payloads over the same connection.
func (c *Connector) Connect(ctx context.Context, descriptor peer.Descriptor, mgrRef transport.ManagerRef) (transport.Handle, error) {
	if c.mgr == nil {
		return nil, fmt.Errorf("tcptransport: Connector not bound to a manager")
	}

	addr := net.JoinHostPort(descriptor.Address, fmt.Sprintf("%d", descriptor.Port))

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: dial %s: %w", addr, err)
	}

	s := newSession(conn, descriptor.Name, mgrRef, c.logger)

	if err := writeFrame(conn, []byte(c.mgr.Self().Name)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcptransport: handshake name write to %s: %w", descriptor.Name, err)
	}
	if err := writeFrame(conn, transport.NewReceiveState(c.mgr.GetLocalState()).Encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcptransport: handshake write to %s: %w", descriptor.Name, err)
	}

	remote, err := readFrame(s.reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcptransport: handshake read from %s: %w", descriptor.Name, err)
	}

	remoteEnv, err := transport.DecodeEnvelope(remote)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcptransport: handshake decode from %s: %w", descriptor.Name, err)
	}

	mgrRef.Connected(descriptor.Name, remoteEnv.Snapshot, s)

	go s.readLoop()

	return s, nil
}

// Listener accepts inbound sessions: the passive side of the same
// handshake Connect performs, used by peers who dialed us first.
type Listener struct {
	ln     net.Listener
	mgr    *manager.Manager
	logger *slog.Logger
}

// NewListener wraps ln, accepting and handshaking sessions on behalf of
// mgr until Serve returns.
func NewListener(ln net.Listener, mgr *manager.Manager, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{ln: ln, mgr: mgr, logger: logger}
}

// Serve accepts connections until ln is closed, handshaking each in its
// own goroutine. It always returns a non-nil error.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go l.handshake(conn)
	}
}

func (l *Listener) handshake(conn net.Conn) {
	reader := bufio.NewReader(conn)

	nameFrame, err := readFrame(reader)
	if err != nil {
		l.logger.Warn("tcptransport: inbound handshake name read failed", "error", err, "remote", conn.RemoteAddr())
		conn.Close()
		return
	}
	peerName := string(nameFrame)
	if peerName == "" {
		l.logger.Warn("tcptransport: inbound handshake missing peer identity", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}

	remote, err := readFrame(reader)
	if err != nil {
		l.logger.Warn("tcptransport: inbound handshake snapshot read failed", "error", err, "peer", peerName)
		conn.Close()
		return
	}

	remoteEnv, err := transport.DecodeEnvelope(remote)
	if err != nil {
		l.logger.Warn("tcptransport: inbound handshake decode failed", "error", err, "peer", peerName)
		conn.Close()
		return
	}

	if err := writeFrame(conn, transport.NewReceiveState(l.mgr.GetLocalState()).Encode()); err != nil {
		l.logger.Warn("tcptransport: inbound handshake reply failed", "error", err, "peer", peerName)
		conn.Close()
		return
	}

	s := &session{conn: conn, reader: reader, peerName: peerName, mgr: l.mgr, logger: l.logger}

	l.mgr.Connected(peerName, remoteEnv.Snapshot, s)

	s.readLoop()
}

// session is a transport.Handle backed by a live net.Conn, and also the
// goroutine that reads inbound frames off it and hands them to the
// manager until the connection closes.
type session struct {
	conn     net.Conn
	reader   *bufio.Reader
	peerName string
	mgr      transport.ManagerRef
	logger   *slog.Logger

	writeMu sync.Mutex
}

func newSession(conn net.Conn, peerName string, mgr transport.ManagerRef, logger *slog.Logger) *session {
	return &session{conn: conn, reader: bufio.NewReader(conn), peerName: peerName, mgr: mgr, logger: logger}
}

// Send implements transport.Handle.
func (s *session) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeFrame(s.conn, payload)
}

func (s *session) readLoop() {
	defer s.conn.Close()
	defer s.mgr.Terminated(s.peerName)

	for {
		frame, err := readFrame(s.reader)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("tcptransport: session read error", "peer", s.peerName, "error", err)
			}
			return
		}

		env, err := transport.DecodeEnvelope(frame)
		if err != nil {
			s.logger.Warn("tcptransport: dropping malformed frame", "peer", s.peerName, "error", err)
			continue
		}

		if err := s.mgr.ReceiveMessage(env); err != nil {
			s.logger.Warn("tcptransport: manager rejected inbound envelope", "peer", s.peerName, "error", err)
		}
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("tcptransport: frame size %d exceeds maximum %d", size, maxFrameSize)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
