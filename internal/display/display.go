/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package display renders engine events for the operator. This
// implementation writes to the log; an OLED front panel would implement
// the same consumer loop against its own renderer.
package display

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/events"
)

// Display consumes mapper and player events from the bus.
type Display struct {
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates a display consumer.
func New(bus *events.Bus, logger zerolog.Logger) *Display {
	return &Display{
		bus:    bus,
		logger: logger.With().Str("component", "display").Logger(),
	}
}

// Run consumes events until ctx is cancelled.
func (d *Display) Run(ctx context.Context) error {
	actions := d.bus.Subscribe(events.EventActionExecuted)
	started := d.bus.Subscribe(events.EventPlayerStarted)
	stopped := d.bus.Subscribe(events.EventPlayerStopped)
	volume := d.bus.Subscribe(events.EventVolumeChanged)
	page := d.bus.Subscribe(events.EventPageChanged)
	mode := d.bus.Subscribe(events.EventEncoderMode)
	errs := d.bus.Subscribe(events.EventPlayerError)
	defer func() {
		d.bus.Unsubscribe(events.EventActionExecuted, actions)
		d.bus.Unsubscribe(events.EventPlayerStarted, started)
		d.bus.Unsubscribe(events.EventPlayerStopped, stopped)
		d.bus.Unsubscribe(events.EventVolumeChanged, volume)
		d.bus.Unsubscribe(events.EventPageChanged, page)
		d.bus.Unsubscribe(events.EventEncoderMode, mode)
		d.bus.Unsubscribe(events.EventPlayerError, errs)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-actions:
			d.logger.Info().Interface("button", p["button"]).Interface("action", p["action"]).Msg("action")
		case p := <-started:
			d.logger.Info().Interface("clip", p["path"]).Msg("▶ playing")
		case p := <-stopped:
			d.logger.Info().Interface("reason", p["reason"]).Msg("■ stopped")
		case p := <-volume:
			d.logger.Info().Interface("level", p["volume"]).Msg("volume")
		case p := <-page:
			d.logger.Info().Interface("page", p["page"]).Interface("number", p["number"]).Msg("page")
		case p := <-mode:
			d.logger.Info().Interface("mode", p["mode"]).Msg("encoder mode")
		case p := <-errs:
			d.logger.Warn().Interface("clip", p["path"]).Interface("error", p["error"]).Msg("playback error")
		}
	}
}
