// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package persistence holds the atomic load/store of the membership CRDT
// to a single file. If no data directory is configured, persistence is
// disabled and every operation becomes a no-op.
package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

const (
	stateSubdir = "peer_service"
	stateFile   = "cluster_state"
)

// Store persists the membership CRDT's binary encoding to a single file
// under dataDir, or is a no-op store if dataDir is empty.
type Store struct {
	path string
}

// NewStore returns a Store rooted at dataDir. An empty dataDir disables
// persistence.
func NewStore(dataDir string) *Store {
	if dataDir == "" {
		return &Store{}
	}
	return &Store{path: filepath.Join(dataDir, stateSubdir, stateFile)}
}

// Enabled reports whether this store will actually touch disk.
func (s *Store) Enabled() bool {
	return s.path != ""
}

// Load reads the persisted snapshot. It returns (nil, false, nil) when
// persistence is disabled or no file has been written yet.
func (s *Store) Load() (data []byte, found bool, err error) {
	if !s.Enabled() {
		return nil, false, nil
	}

	data, err = os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("while reading %s: %w", s.path, err)
	}
	return data, true, nil
}

// Save writes data to the store atomically: write to a temp file in the
// same directory, then rename over the final path, so a crash mid-write
// leaves either the old or the new content, never a partial one.
func (s *Store) Save(data []byte) error {
	if !s.Enabled() {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("while creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cluster_state-*.tmp")
	if err != nil {
		return fmt.Errorf("while creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("while writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("while closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		var merr *multierror.Error
		merr = multierror.Append(merr, fmt.Errorf("while renaming into place: %w", err))
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			merr = multierror.Append(merr, fmt.Errorf("while cleaning up temp file: %w", rmErr))
		}
		return merr.ErrorOrNil()
	}

	return nil
}

// Delete removes the persisted file. Absence is not an error.
func (s *Store) Delete() error {
	if !s.Enabled() {
		return nil
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("while deleting %s: %w", s.path, err)
	}
	return nil
}
