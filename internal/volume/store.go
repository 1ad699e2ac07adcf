/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package volume persists the volume setting across restarts. Saves are
// deferred and coalesced so twirling the knob does not hammer flash.
package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/klangwerk/klangbrett/internal/apperr"
)

// Store loads and saves the volume index.
type Store interface {
	Load() (int, error)
	SaveDeferred(index int)
	Close() error
}

type settingsFile struct {
	Volume int `yaml:"volume"`
}

// FileStore persists to a YAML file. Each SaveDeferred resets a one-shot
// timer; only the last value within the delay window is written.
type FileStore struct {
	path   string
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending int
	dirty   bool
	closed  bool
}

// NewFileStore creates a store writing to path after delay of inactivity.
func NewFileStore(path string, delay time.Duration, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		delay:  delay,
		logger: logger.With().Str("component", "volume").Logger(),
	}
}

// Load reads the saved volume index. A missing file returns ErrNotFound so
// the caller can fall back to its default.
func (s *FileStore) Load() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no saved volume: %w", apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("read %s: %w", s.path, apperr.ErrIO)
	}
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse %s: %v: %w", s.path, err, apperr.ErrFailed)
	}
	return f.Volume, nil
}

// SaveDeferred schedules index to be written after the delay. A newer value
// arriving before the timer fires replaces the old one and restarts the
// window.
func (s *FileStore) SaveDeferred(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = index
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.flush)
		return
	}
	s.timer.Reset(s.delay)
}

func (s *FileStore) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	index := s.pending
	s.dirty = false
	s.mu.Unlock()

	if err := s.write(index); err != nil {
		s.logger.Error().Err(err).Msg("volume save failed")
		return
	}
	s.logger.Debug().Int("volume", index).Msg("volume saved")
}

// write replaces the file atomically.
func (s *FileStore) write(index int) error {
	data, err := yaml.Marshal(settingsFile{Volume: index})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Close flushes any pending save.
func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	dirty := s.dirty
	index := s.pending
	s.dirty = false
	s.mu.Unlock()

	if dirty {
		return s.write(index)
	}
	return nil
}
