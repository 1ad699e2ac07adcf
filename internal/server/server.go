/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the LAN status surface: health, state snapshots
// and Prometheus metrics. It is read only; the board is operated with its
// buttons, not over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/audio"
	"github.com/klangwerk/klangbrett/internal/config"
	"github.com/klangwerk/klangbrett/internal/mapper"
	"github.com/klangwerk/klangbrett/internal/player"
	"github.com/klangwerk/klangbrett/internal/telemetry"
)

// Status is the full engine snapshot served at /status.
type Status struct {
	Player player.Snapshot `json:"player"`
	Mapper mapper.Snapshot `json:"mapper"`
	Cache  audio.Snapshot  `json:"cache"`
}

// Server is the HTTP status surface.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	playerRef   *player.Player
	mapperRef   *mapper.Mapper
	providerRef *audio.Provider

	httpServer *http.Server
}

// New constructs the server and wires its routes.
func New(cfg *config.Config, p *player.Player, m *mapper.Mapper, prov *audio.Provider, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger.With().Str("component", "server").Logger(),
		playerRef:   p,
		mapperRef:   m,
		providerRef: prov,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(10 * time.Second))

	router.Get("/healthz", s.handleHealth)
	router.Get("/status", s.handleStatus)
	router.Handle("/metrics", telemetry.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying http.Server for lifecycle management.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Player: s.playerRef.Snapshot(),
		Mapper: s.mapperRef.Snapshot(),
		Cache:  s.providerRef.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error().Err(err).Msg("encode status")
	}
}
