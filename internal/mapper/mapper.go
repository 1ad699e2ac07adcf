/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mapper translates debounced input events into playback actions.
// Mappings are keyed by (page, button, event) and loaded from ordered CSV
// sources where later sources overwrite earlier ones.
package mapper

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/input"
)

// EncoderMode selects what rotation does.
type EncoderMode string

const (
	ModeVolume EncoderMode = "volume"
	ModePage   EncoderMode = "page"
)

// buttonFSM tracks the lifecycle of the single active button.
type buttonFSM int

const (
	btnInitial buttonFSM = iota
	btnPlayOnce
	btnPlayCut
	btnPlayLockPending
	btnPlayLocked
)

func (s buttonFSM) String() string {
	switch s {
	case btnPlayOnce:
		return "play_once"
	case btnPlayCut:
		return "play_cut"
	case btnPlayLockPending:
		return "play_lock_pending"
	case btnPlayLocked:
		return "play_locked"
	default:
		return "initial"
	}
}

// PlayerControl is the slice of the player the mapper drives.
type PlayerControl interface {
	Play(path string) error
	Stop(interruptNow bool) error
	VolumeUp()
	VolumeDown()
}

// Preloader queues background cache loads. Satisfied by audio.Provider.
type Preloader interface {
	Preload(path string)
	FlushPreload()
}

type mappingKey struct {
	button int
	event  input.EventKind
}

// page holds one page's mappings.
type page struct {
	id       string
	number   int // 1-based, assigned in load order
	mappings map[mappingKey]Action
}

// Mapper is the event dispatcher. HandleEvent runs on the scanner
// goroutine; snapshots may come from anywhere, hence the mutex.
type Mapper struct {
	player    PlayerControl
	preloader Preloader
	bus       *events.Bus
	logger    zerolog.Logger

	mu           sync.Mutex
	pages        []*page
	current      int
	mode         EncoderMode
	fsm          buttonFSM
	activeButton int
	activeFile   string
}

// Load builds a mapper from the given sources, applied in order. A missing
// source file is skipped; a malformed line fails the whole load. At least
// one source must yield mappings.
func Load(sources []Source, player PlayerControl, preloader Preloader, bus *events.Bus, logger zerolog.Logger) (*Mapper, error) {
	if player == nil {
		return nil, fmt.Errorf("player required: %w", apperr.ErrInvalidArgument)
	}

	m := &Mapper{
		player:    player,
		preloader: preloader,
		bus:       bus,
		logger:    logger.With().Str("component", "mapper").Logger(),
		mode:      ModeVolume,
	}

	loaded := 0
	total := 0
	for _, src := range sources {
		if src.Root == "" || src.File == "" {
			continue
		}
		count, err := m.loadSource(src)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				m.logger.Debug().Str("source", src.Name).Msg("mapping file not found, skipped")
				continue
			}
			return nil, err
		}
		m.logger.Info().Str("source", src.Name).Int("mappings", count).Msg("mappings loaded")
		loaded++
		total += count
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no mapping source could be loaded: %w", apperr.ErrNotFound)
	}

	m.logger.Info().
		Int("pages", len(m.pages)).
		Int("mappings", total).
		Str("page", m.pages[0].id).
		Msg("mapper ready")
	m.publish(events.EventMappingsLoaded, events.Payload{
		"pages":    len(m.pages),
		"mappings": total,
		"page":     m.pages[0].id,
	})

	m.preloadCurrentPage()
	return m, nil
}

func (m *Mapper) loadSource(src Source) (int, error) {
	path := filepath.Join(src.Root, src.File)
	count := 0
	err := forEachLine(path, func(line string, num int) error {
		parsed, perr := parseLine(line, src.Root)
		if perr != nil {
			return fmt.Errorf("%s line %d: %w", src.Name, num, perr)
		}
		m.insert(parsed, src.Name)
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// insert adds a parsed mapping, overwriting a same-key entry.
func (m *Mapper) insert(parsed parsedLine, sourceName string) {
	pg := m.findOrCreatePage(parsed.pageID)
	key := mappingKey{button: parsed.button, event: parsed.event}
	if _, exists := pg.mappings[key]; exists {
		m.logger.Debug().
			Str("source", sourceName).
			Str("page", pg.id).
			Int("button", parsed.button).
			Str("event", parsed.event.String()).
			Msg("overwriting mapping")
	}
	pg.mappings[key] = parsed.action
}

func (m *Mapper) findOrCreatePage(id string) *page {
	for _, pg := range m.pages {
		if pg.id == id {
			return pg
		}
	}
	pg := &page{id: id, number: len(m.pages) + 1, mappings: map[mappingKey]Action{}}
	m.pages = append(m.pages, pg)
	return pg
}

func (m *Mapper) currentPage() *page { return m.pages[m.current] }

// selectPage switches to index and kicks off preloading for it.
func (m *Mapper) selectPage(index int) {
	m.current = index
	pg := m.currentPage()
	m.logger.Info().Str("page", pg.id).Int("number", pg.number).Msg("page changed")
	m.publish(events.EventPageChanged, events.Payload{
		"page":       pg.id,
		"number":     pg.number,
		"page_count": len(m.pages),
	})
	m.preloadCurrentPage()
}

// preloadCurrentPage queues the current page's clips for caching. Each clip
// is queued once under its highest button, in descending button order, after
// flushing requests left over from the previous page.
func (m *Mapper) preloadCurrentPage() {
	if m.preloader == nil {
		return
	}

	highest := map[string]int{}
	for key, action := range m.currentPage().mappings {
		if !action.Type.HasFile() {
			continue
		}
		if key.button > highest[action.File] {
			highest[action.File] = key.button
		}
	}
	if len(highest) == 0 {
		return
	}

	type entry struct {
		file   string
		button int
	}
	entries := make([]entry, 0, len(highest))
	for file, button := range highest {
		entries = append(entries, entry{file, button})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].button > entries[j].button })

	m.preloader.FlushPreload()
	m.logger.Info().Int("files", len(entries)).Str("page", m.currentPage().id).Msg("preloading page clips")
	for _, e := range entries {
		m.preloader.Preload(e.file)
	}
}

func (m *Mapper) publish(eventType events.EventType, payload events.Payload) {
	if m.bus != nil {
		m.bus.Publish(eventType, payload)
	}
}

// Snapshot reports mapper state for the status surface.
type Snapshot struct {
	Page         string      `json:"page"`
	PageNumber   int         `json:"page_number"`
	PageCount    int         `json:"page_count"`
	Mode         EncoderMode `json:"encoder_mode"`
	Mappings     int         `json:"mappings"`
	ButtonState  string      `json:"button_state"`
	ActiveButton int         `json:"active_button"`
}

// Snapshot returns the current mapper state.
func (m *Mapper) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, pg := range m.pages {
		total += len(pg.mappings)
	}
	pg := m.currentPage()
	return Snapshot{
		Page:         pg.id,
		PageNumber:   pg.number,
		PageCount:    len(m.pages),
		Mode:         m.mode,
		Mappings:     total,
		ButtonState:  m.fsm.String(),
		ActiveButton: m.activeButton,
	}
}
