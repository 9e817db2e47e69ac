// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"syscall"

	"go.ciq.dev/peerset/internal/config"
	"go.ciq.dev/peerset/internal/manager"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/peercache"
	"go.ciq.dev/peerset/internal/statusapi"
	"go.ciq.dev/peerset/internal/tcptransport"
	"go.ciq.dev/peerset/pkg/sighandler"
)

func main() {
	peerdCmd := flag.NewFlagSet("peerd", flag.ExitOnError)
	dir := peerdCmd.String("dir", "", "configuration directory")

	if err := peerdCmd.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	configDir := ""
	if dir != nil {
		configDir = *dir
	}

	cfg, err := config.Parse(configDir)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.Log.Logger(nil)
	if err != nil {
		log.Fatal(err)
	}

	errCh := make(chan error, 1)
	_, wait := sighandler.New(errCh, syscall.SIGTERM, syscall.SIGINT)

	connector := tcptransport.NewConnector(logger)

	var bus *membershipBus
	if cfg.CacheAddr != "" {
		_, cachePort, err := net.SplitHostPort(cfg.CacheAddr)
		if err != nil {
			log.Fatal(err)
		}
		cache := peercache.New("http://" + cfg.CacheAddr)
		bus = newMembershipBus(cache, cachePort, logger)
	}

	mgrCfg := manager.Config{
		Self:           peer.Descriptor{Name: cfg.Self.Name, Address: cfg.Self.Address, Port: cfg.Self.Port},
		DataDir:        cfg.DataDir,
		GossipInterval: cfg.GossipInterval.AsDuration(),
		Fanout:         cfg.Fanout,
		Connector:      connector,
		Logger:         logger,
	}
	if bus != nil {
		mgrCfg.EventBus = bus
	}

	mgr, err := manager.New(mgrCfg)
	if err != nil {
		log.Fatal(err)
	}
	connector.Bind(mgr)

	peerLn, err := net.Listen("tcp", net.JoinHostPort(cfg.Self.Address, fmt.Sprintf("%d", cfg.Self.Port)))
	if err != nil {
		log.Fatal(err)
	}
	peerListener := tcptransport.NewListener(peerLn, mgr, logger)

	// The manager's event loop terminates only via an explicit Leave, never
	// via external cancellation, so it runs against context.Background()
	// rather than the sighandler's context.
	go func() {
		errCh <- mgr.Run(context.Background())
	}()
	go func() {
		if err := peerListener.Serve(); err != nil {
			logger.Error("peer listener stopped", "error", err)
		}
	}()

	if bus != nil {
		cacheLn, err := net.Listen("tcp", cfg.CacheAddr)
		if err != nil {
			log.Fatal(err)
		}
		go func() {
			if err := bus.cache.Serve(cacheLn); err != nil && err != http.ErrServerClosed {
				logger.Error("peer cache server stopped", "error", err)
			}
		}()
	}

	var statusServer *http.Server
	if cfg.StatusAddr != "" {
		statusLn, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			log.Fatal(err)
		}
		var cache *peercache.Cache
		if bus != nil {
			cache = bus.cache
		}
		statusServer = &http.Server{Handler: statusapi.New(mgr, cache, logger).Handler()}
		go func() {
			if err := statusServer.Serve(statusLn); err != nil && err != http.ErrServerClosed {
				logger.Error("status server stopped", "error", err)
			}
		}()
	}

	logger.Info("peerd started", "self", cfg.Self.Name, "address", cfg.Self.Address, "port", cfg.Self.Port)

	err = wait(true)

	logger.Info("peerd stopping")
	mgr.Leave()

	if statusServer != nil {
		_ = statusServer.Shutdown(context.Background())
	}
	if bus != nil {
		_ = bus.cache.Stop(context.Background())
	}

	if err != nil {
		log.Fatal(err)
	}
}
