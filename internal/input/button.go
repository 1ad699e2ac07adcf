/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package input turns raw matrix and encoder pin samples into debounced
// button and rotation events. All state machines are driven by the caller's
// sample clock, so tests feed synthetic timelines without sleeping.
package input

import "time"

// Button state machine states.
type buttonState int

const (
	stateIdle buttonState = iota
	stateDebouncePress
	statePressed
	stateDebounceRelease
)

// ButtonConfig carries the debounce thresholds for one button.
type ButtonConfig struct {
	PressDebounce   time.Duration
	ReleaseDebounce time.Duration
	LongPress       time.Duration
}

// Button debounces a single physical button and reports Press, LongPress and
// Release edges. A press that never survives the debounce window produces no
// events at all.
type Button struct {
	cfg ButtonConfig

	state              buttonState
	stateSince         time.Time
	pressedAt          time.Time
	longPressTriggered bool
}

// NewButton creates a button state machine in the idle state.
func NewButton(cfg ButtonConfig) *Button {
	return &Button{cfg: cfg}
}

// Update advances the state machine with one raw sample. It returns the
// events produced by this sample, in order.
func (b *Button) Update(pressed bool, now time.Time) []EventKind {
	var out []EventKind

	switch b.state {
	case stateIdle:
		if pressed {
			b.state = stateDebouncePress
			b.stateSince = now
		}

	case stateDebouncePress:
		if !pressed {
			// Glitch: never confirmed, no event.
			b.state = stateIdle
			break
		}
		if now.Sub(b.stateSince) >= b.cfg.PressDebounce {
			b.state = statePressed
			// The long press clock starts at the confirmed press, not
			// at first contact.
			b.pressedAt = now
			b.longPressTriggered = false
			out = append(out, Press)
		}

	case statePressed:
		if !pressed {
			b.state = stateDebounceRelease
			b.stateSince = now
			break
		}
		if !b.longPressTriggered && now.Sub(b.pressedAt) >= b.cfg.LongPress {
			b.longPressTriggered = true
			out = append(out, LongPress)
		}

	case stateDebounceRelease:
		if pressed {
			// Bounce during release: still held.
			b.state = statePressed
			break
		}
		if now.Sub(b.stateSince) >= b.cfg.ReleaseDebounce {
			b.state = stateIdle
			out = append(out, Release)
		}
	}

	return out
}

// Held reports whether the button is in a confirmed pressed state.
func (b *Button) Held() bool {
	return b.state == statePressed || b.state == stateDebounceRelease
}
