/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package input

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/apperr"
)

// NumMatrixButtons is the size of the 4x3 button matrix.
const NumMatrixButtons = 12

// EncoderButton is the logical button ID of the encoder's push switch.
// Matrix buttons are numbered 1..NumMatrixButtons.
const EncoderButton = 0

// EventKind enumerates input event types.
type EventKind int

const (
	Press EventKind = iota + 1
	LongPress
	Release
	RotateCW
	RotateCCW
)

func (k EventKind) String() string {
	switch k {
	case Press:
		return "press"
	case LongPress:
		return "long_press"
	case Release:
		return "release"
	case RotateCW:
		return "rotate_cw"
	case RotateCCW:
		return "rotate_ccw"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one debounced input edge.
type Event struct {
	Kind   EventKind
	Button int // EncoderButton or 1..NumMatrixButtons; unused for rotation
	Time   time.Time
}

// Sample is one raw reading of every input pin.
type Sample struct {
	Buttons       [NumMatrixButtons]bool
	EncoderA      bool
	EncoderB      bool
	EncoderSwitch bool
}

// Sampler reads the hardware. The GPIO matrix driver implements this; tests
// substitute scripted samples.
type Sampler interface {
	Sample() (Sample, error)
}

// Handler receives debounced events on the scanner goroutine. It must not
// block: a slow handler stretches the scan period.
type Handler func(Event)

// Config carries the scanner cadence and per-button thresholds.
type Config struct {
	ScanPeriod      time.Duration
	PressDebounce   time.Duration
	ReleaseDebounce time.Duration
	LongPress       time.Duration
	EncoderDebounce time.Duration
}

// Scanner drives the sample loop: one fixed-period tick reads every pin and
// advances all state machines.
type Scanner struct {
	cfg     Config
	sampler Sampler
	handler Handler
	logger  zerolog.Logger

	buttons   [NumMatrixButtons]*Button
	encBtn    *Button
	encoder   *Encoder
	lastError error
}

// NewScanner constructs a scanner. handler is invoked for every event.
func NewScanner(cfg Config, sampler Sampler, handler Handler, logger zerolog.Logger) (*Scanner, error) {
	if sampler == nil || handler == nil {
		return nil, fmt.Errorf("sampler and handler required: %w", apperr.ErrInvalidArgument)
	}
	if cfg.ScanPeriod <= 0 {
		return nil, fmt.Errorf("scan period must be positive: %w", apperr.ErrInvalidArgument)
	}

	s := &Scanner{
		cfg:     cfg,
		sampler: sampler,
		handler: handler,
		logger:  logger.With().Str("component", "input").Logger(),
		encoder: NewEncoder(EncoderConfig{Debounce: cfg.EncoderDebounce}),
	}
	btnCfg := ButtonConfig{
		PressDebounce:   cfg.PressDebounce,
		ReleaseDebounce: cfg.ReleaseDebounce,
		LongPress:       cfg.LongPress,
	}
	for i := range s.buttons {
		s.buttons[i] = NewButton(btnCfg)
	}
	s.encBtn = NewButton(btnCfg)
	return s, nil
}

// Run executes the scan loop until ctx is cancelled. The ticker keeps the
// period phase-stable regardless of per-tick processing time.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("period", s.cfg.ScanPeriod).
		Dur("long_press", s.cfg.LongPress).
		Msg("input scanner running")

	ticker := time.NewTicker(s.cfg.ScanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("input scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Step(time.Now())
		}
	}
}

// Step runs one scan iteration at the given time. Exposed so tests drive a
// synthetic clock.
func (s *Scanner) Step(now time.Time) {
	sample, err := s.sampler.Sample()
	if err != nil {
		// Log state changes only, not every failing tick.
		if s.lastError == nil {
			s.logger.Error().Err(err).Msg("sample failed")
		}
		s.lastError = err
		return
	}
	if s.lastError != nil {
		s.logger.Info().Msg("sampling recovered")
		s.lastError = nil
	}

	if kind := s.encoder.Update(sample.EncoderA, sample.EncoderB, now); kind != 0 {
		s.handler(Event{Kind: kind, Time: now})
	}
	for _, kind := range s.encBtn.Update(sample.EncoderSwitch, now) {
		s.handler(Event{Kind: kind, Button: EncoderButton, Time: now})
	}
	for i, btn := range s.buttons {
		for _, kind := range btn.Update(sample.Buttons[i], now) {
			s.handler(Event{Kind: kind, Button: i + 1, Time: now})
		}
	}
}
