// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package config loads peerd's configuration: an embedded default,
// overridden by a YAML file at a caller-supplied directory.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go.ciq.dev/peerset/internal/pkg/log"
)

const (
	// DefaultConfigDir is used when no directory is supplied.
	DefaultConfigDir = "/etc/peerd"
	// ConfigFile is the filename looked up inside the config directory.
	ConfigFile = "peerd.yaml"
)

//go:embed default/config.yaml
var defaultConfig string

// Self describes the local node as advertised to peers.
type Self struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Duration wraps time.Duration so it can be written as a YAML string like
// "2s" rather than a raw integer of nanoseconds.
type Duration time.Duration

// UnmarshalYAML parses a duration string via time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// AsDuration returns d as a plain time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Tracing holds the tracing section. The core always instruments join/
// leave/gossipRound/receiveState through the global otel tracer provider;
// Tracing.Enabled is parsed but nothing reads it, so it does not install
// an exporter or otherwise change where those spans go.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
}

// Config is peerd's full recognized configuration surface: the local
// node's advertised identity under self (name, address, port), data_dir,
// gossip_interval, fanout, the logging and tracing sections, and the
// optional status_addr and cache_addr listen addresses. The advertised
// address and port are read only from self.address and self.port;
// top-level peer_ip and peer_port keys are not recognized.
type Config struct {
	Version        string     `yaml:"version"`
	Self           Self       `yaml:"self"`
	DataDir        string     `yaml:"data_dir"`
	GossipInterval Duration   `yaml:"gossip_interval"`
	Fanout         int        `yaml:"fanout"`
	Log            log.Config `yaml:"log"`
	Tracing        Tracing    `yaml:"tracing"`

	// StatusAddr, if set, serves the read-only status API (internal/statusapi)
	// on this address. Empty disables it.
	StatusAddr string `yaml:"status_addr"`
	// CacheAddr, if set, serves the peer descriptor cache (internal/peercache)
	// on this address. Empty disables it.
	CacheAddr string `yaml:"cache_addr"`
}

// Parse loads configuration from dir/peerd.yaml, or from the embedded
// default if dir is empty and no file exists at the default location.
func Parse(dir string) (*Config, error) {
	customDir := dir != ""
	filename := filepath.Join(DefaultConfigDir, ConfigFile)
	if customDir {
		filename = filepath.Join(dir, ConfigFile)
	}

	var configReader io.Reader

	f, err := os.Open(filename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || customDir {
			return nil, fmt.Errorf("while opening %s: %w", filename, err)
		}
		configReader = strings.NewReader(defaultConfig)
	} else {
		defer f.Close()
		configReader = f
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, configReader); err != nil {
		return nil, fmt.Errorf("while reading config: %w", err)
	}

	cfg := new(Config)
	if err := yaml.Unmarshal(buf.Bytes(), cfg); err != nil {
		return nil, fmt.Errorf("while parsing config: %w", err)
	}

	if cfg.Self.Name == "" {
		return nil, fmt.Errorf("self.name is required")
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 3
	}
	if cfg.GossipInterval <= 0 {
		cfg.GossipInterval = Duration(2 * time.Second)
	}

	return cfg, nil
}
