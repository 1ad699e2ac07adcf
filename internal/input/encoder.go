/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package input

import "time"

// Quadrature transition table indexed by (prev<<2)|current. Valid Gray code
// transitions contribute +1/-1; illegal jumps (both pins flipped) contribute
// nothing.
var quadTable = [16]int{0, 1, -1, 0, -1, 0, 0, 1, 1, 0, 0, -1, 0, -1, 1, 0}

// stepsPerDetent is the number of valid quarter-steps between detents.
const stepsPerDetent = 4

// EncoderConfig carries the decoder's transition debounce.
type EncoderConfig struct {
	Debounce time.Duration
}

// Encoder decodes a two-pin quadrature rotary encoder. Quarter-step
// transitions accumulate until a full detent is reached, so a half-turned
// and returned knob emits nothing.
type Encoder struct {
	cfg EncoderConfig

	prev           uint8
	accum          int
	lastTransition time.Time
	primed         bool
}

// NewEncoder creates a decoder; the first sample only seeds the pin state.
func NewEncoder(cfg EncoderConfig) *Encoder {
	return &Encoder{cfg: cfg}
}

// Update advances the decoder with one pin sample. It returns RotateCW or
// RotateCCW when a full detent completes, and 0 otherwise.
func (e *Encoder) Update(pinA, pinB bool, now time.Time) EventKind {
	var current uint8
	if pinA {
		current |= 0b10
	}
	if pinB {
		current |= 0b01
	}

	if !e.primed {
		e.prev = current
		e.primed = true
		return 0
	}
	if current == e.prev {
		return 0
	}
	// Transitions faster than the debounce window are contact noise.
	if e.cfg.Debounce > 0 && now.Sub(e.lastTransition) < e.cfg.Debounce {
		return 0
	}

	e.accum += quadTable[(e.prev<<2)|current]
	e.prev = current
	e.lastTransition = now

	switch {
	case e.accum >= stepsPerDetent:
		e.accum = 0
		return RotateCW
	case e.accum <= -stepsPerDetent:
		e.accum = 0
		return RotateCCW
	}
	return 0
}
