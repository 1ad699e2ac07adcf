/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mapper

import (
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/input"
)

// HandleEvent dispatches one debounced input event. Dispatch order matters:
// rotation first, then the encoder switch, then release bookkeeping for the
// active button, then PAGE-mode direct selection, then the play_lock
// long-press transition, and only then regular mapping lookup.
func (m *Mapper) HandleEvent(ev input.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case input.RotateCW:
		m.handleRotation(+1)
		return
	case input.RotateCCW:
		m.handleRotation(-1)
		return
	}

	if ev.Button == input.EncoderButton {
		m.handleEncoderSwitch(ev.Kind)
		return
	}
	if ev.Button < 1 || ev.Button > input.NumMatrixButtons {
		return
	}

	// Releases only feed the active-button FSM; they never trigger
	// mappings directly.
	if ev.Kind == input.Release {
		m.handleRelease(ev.Button)
		return
	}

	if m.mode == ModePage && ev.Kind == input.Press {
		m.handleDirectPageSelect(ev.Button)
		return
	}

	if ev.Kind == input.LongPress && ev.Button == m.activeButton && m.fsm == btnPlayLockPending {
		m.fsm = btnPlayLocked
		m.logger.Info().Int("button", ev.Button).Msg("play_lock engaged, clip survives release")
		m.publish(events.EventPlayLockEngaged, events.Payload{"button": ev.Button})
		return
	}

	key := mappingKey{button: ev.Button, event: ev.Kind}
	action, ok := m.currentPage().mappings[key]
	if !ok {
		m.logger.Debug().
			Str("page", m.currentPage().id).
			Int("button", ev.Button).
			Str("event", ev.Kind.String()).
			Msg("no mapping")
		m.publish(events.EventMappingMissing, events.Payload{
			"page":   m.currentPage().id,
			"button": ev.Button,
			"event":  ev.Kind.String(),
		})
		return
	}
	m.execute(ev.Button, ev.Kind, action)
}

func (m *Mapper) handleRotation(direction int) {
	if m.mode == ModeVolume {
		if direction > 0 {
			m.player.VolumeUp()
		} else {
			m.player.VolumeDown()
		}
		return
	}
	// PAGE mode: circular navigation.
	if len(m.pages) < 2 {
		return
	}
	m.selectPage((m.current + direction + len(m.pages)) % len(m.pages))
}

func (m *Mapper) handleEncoderSwitch(kind input.EventKind) {
	if kind != input.Press {
		// Long press on the switch is reserved.
		return
	}
	if m.mode == ModeVolume {
		m.mode = ModePage
	} else {
		m.mode = ModeVolume
	}
	m.logger.Info().Str("mode", string(m.mode)).Msg("encoder mode changed")
	m.publish(events.EventEncoderMode, events.Payload{"mode": string(m.mode)})
}

// handleRelease advances the active-button FSM. Releases of other buttons
// are ignored.
func (m *Mapper) handleRelease(button int) {
	if m.activeButton != button {
		return
	}
	switch m.fsm {
	case btnPlayCut, btnPlayLockPending:
		m.logger.Info().Int("button", button).Msg("released, cutting playback")
		m.stopPlayer()
		m.fsm = btnInitial
	case btnPlayOnce, btnPlayLocked:
		m.fsm = btnInitial
	}
}

// handleDirectPageSelect treats the button number as a page number and
// drops back to VOLUME mode on success.
func (m *Mapper) handleDirectPageSelect(button int) {
	for i, pg := range m.pages {
		if pg.number == button {
			m.mode = ModeVolume
			m.publish(events.EventEncoderMode, events.Payload{"mode": string(m.mode)})
			m.selectPage(i)
			return
		}
	}
	m.logger.Debug().Int("page", button).Int("pages", len(m.pages)).Msg("page does not exist")
}

func (m *Mapper) execute(button int, kind input.EventKind, action Action) {
	m.publish(events.EventActionExecuted, events.Payload{
		"button": button,
		"event":  kind.String(),
		"action": action.Type.String(),
	})

	switch action.Type {
	case ActionStop:
		m.logger.Info().Msg("action: stop")
		m.stopPlayer()
		m.fsm = btnInitial
		m.activeButton = 0
		m.activeFile = ""

	case ActionPlay:
		m.logger.Info().Str("file", action.File).Msg("action: play")
		m.playFile(action.File)
		m.fsm = btnPlayOnce
		m.activeButton = button
		m.activeFile = action.File

	case ActionPlayCut:
		m.logger.Info().Str("file", action.File).Msg("action: play_cut")
		m.playFile(action.File)
		m.fsm = btnPlayCut
		m.activeButton = button
		m.activeFile = action.File

	case ActionPlayLock:
		m.logger.Info().Str("file", action.File).Msg("action: play_lock")
		m.playFile(action.File)
		m.fsm = btnPlayLockPending
		m.activeButton = button
		m.activeFile = action.File
	}
}

func (m *Mapper) playFile(path string) {
	if err := m.player.Play(path); err != nil {
		m.logger.Error().Err(err).Str("file", path).Msg("play command rejected")
	}
}

func (m *Mapper) stopPlayer() {
	if err := m.player.Stop(true); err != nil {
		m.logger.Error().Err(err).Msg("stop command rejected")
	}
}
