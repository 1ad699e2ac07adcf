/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"io"
	"sync"

	"github.com/klangwerk/klangbrett/internal/wav"
)

// Stream is an open PCM source. Reads return interleaved little-endian
// int16 data and io.EOF once exhausted. Close must be called exactly once;
// it releases the cache reference or the underlying file.
type Stream interface {
	Format() wav.Format
	Size() int
	Read(p []byte) (int, error)
	Cached() bool
	Close() error
}

// fileStream reads straight from the filesystem. While any fileStream is
// open the preload worker stays paused to keep media bus contention off
// the playback path.
type fileStream struct {
	f    *wav.File
	p    *Provider
	once sync.Once
}

func (s *fileStream) Format() wav.Format { return s.f.Format() }
func (s *fileStream) Size() int          { return s.f.Size() }
func (s *fileStream) Cached() bool       { return false }

func (s *fileStream) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

func (s *fileStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.f.Close()
		s.p.fileStreamClosed()
	})
	return err
}

// cacheStream reads from a pinned cache entry.
type cacheStream struct {
	p     *Provider
	entry *cacheEntry
	pos   int
	once  sync.Once
}

func (s *cacheStream) Format() wav.Format { return s.entry.format }
func (s *cacheStream) Size() int          { return len(s.entry.data) }
func (s *cacheStream) Cached() bool       { return true }

func (s *cacheStream) Read(p []byte) (int, error) {
	if s.pos >= len(s.entry.data) {
		return 0, io.EOF
	}
	// Reading keeps the entry hot: eviction follows read recency, not
	// open order.
	s.p.mu.Lock()
	s.p.cache.touch(s.entry)
	s.p.mu.Unlock()
	n := copy(p, s.entry.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *cacheStream) Close() error {
	s.once.Do(func() {
		s.p.cacheStreamClosed(s.entry)
	})
	return nil
}
