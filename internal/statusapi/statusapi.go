// SPDX-FileCopyrightText: Copyright (c) 2024-2025, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package statusapi exposes a small HTTP surface over a running
// manager.Manager — mostly read-only status (/healthz, /members,
// /actor, /descriptor/{name}), plus the two operator actions (/join,
// /leave) cmd/peerctl needs to drive a remote peerd without a direct
// Go API call.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"go.ciq.dev/peerset/internal/manager"
	"go.ciq.dev/peerset/internal/peer"
	"go.ciq.dev/peerset/internal/peercache"
)

// Server is a thin HTTP façade over a Manager. cache is optional: when
// nil, /descriptor/{name} always reports not found.
type Server struct {
	mgr    *manager.Manager
	cache  *peercache.Cache
	router *mux.Router
	logger *slog.Logger
}

// New builds a Server routing /healthz, /members, /actor, /join, and
// /leave against mgr. cache may be nil if the caller did not enable
// internal/peercache.
func New(mgr *manager.Manager, cache *peercache.Cache, logger *slog.Logger) *Server {
	s := &Server{mgr: mgr, cache: cache, router: mux.NewRouter(), logger: logger}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/members", s.handleMembers).Methods(http.MethodGet)
	s.router.HandleFunc("/actor", s.handleActor).Methods(http.MethodGet)
	s.router.HandleFunc("/descriptor/{name}", s.handleDescriptor).Methods(http.MethodGet)
	s.router.HandleFunc("/join", s.handleJoin).Methods(http.MethodPost)
	s.router.HandleFunc("/leave", s.handleLeave).Methods(http.MethodPost)

	return s
}

// Handler returns the Server's http.Handler, for embedding in a caller-
// managed http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type membersResponse struct {
	Members []string `json:"members"`
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	resp := membersResponse{Members: s.mgr.Members()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode members response", "error", err)
	}
}

type actorResponse struct {
	Actor string `json:"actor"`
}

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	resp := actorResponse{Actor: s.mgr.GetActor().String()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode actor response", "error", err)
	}
}

type descriptorResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (s *Server) handleDescriptor(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if s.cache == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	d, ok, err := s.cache.Lookup(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := descriptorResponse{Name: d.Name, Address: d.Address, Port: d.Port}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode descriptor response", "error", err)
	}
}

type joinRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	s.mgr.Join(peer.Descriptor{Name: req.Name, Address: req.Address, Port: req.Port})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleLeave(w http.ResponseWriter, _ *http.Request) {
	s.mgr.Leave()
	w.WriteHeader(http.StatusAccepted)
}
