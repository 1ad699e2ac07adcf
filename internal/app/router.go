/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package app wires the input scanner to the mapper and gates input by
// application mode. In maintenance mode (e.g. while media is being
// updated over USB) board input is ignored entirely.
package app

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/input"
	"github.com/klangwerk/klangbrett/internal/telemetry"
)

// Mode is the application operating mode.
type Mode string

const (
	ModeRun         Mode = "run"
	ModeMaintenance Mode = "maintenance"
)

// EventSink is the routing target. Satisfied by mapper.Mapper.
type EventSink interface {
	HandleEvent(ev input.Event)
}

// Router forwards debounced input to the mapper while the board is in run
// mode.
type Router struct {
	sink   EventSink
	logger zerolog.Logger

	mu   sync.RWMutex
	mode Mode
}

// NewRouter creates a router in run mode.
func NewRouter(sink EventSink, logger zerolog.Logger) *Router {
	return &Router{
		sink:   sink,
		logger: logger.With().Str("component", "app").Logger(),
		mode:   ModeRun,
	}
}

// HandleInput is the scanner handler.
func (r *Router) HandleInput(ev input.Event) {
	telemetry.InputEvents.WithLabelValues(ev.Kind.String()).Inc()

	r.mu.RLock()
	mode := r.mode
	r.mu.RUnlock()
	if mode != ModeRun {
		r.logger.Debug().Str("kind", ev.Kind.String()).Msg("input ignored in maintenance mode")
		return
	}
	r.sink.HandleEvent(ev)
}

// SetMode switches the operating mode.
func (r *Router) SetMode(mode Mode) {
	r.mu.Lock()
	changed := r.mode != mode
	r.mode = mode
	r.mu.Unlock()
	if changed {
		r.logger.Info().Str("mode", string(mode)).Msg("mode changed")
	}
}

// Mode returns the current operating mode.
func (r *Router) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}
