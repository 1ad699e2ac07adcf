/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio serves PCM streams to the player, transparently from an
// in-memory cache or the filesystem, and preloads mapped clips in the
// background.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/telemetry"
	"github.com/klangwerk/klangbrett/internal/wav"
)

// ChunkSize is the transfer unit for filling cache buffers from disk.
const ChunkSize = 4096

// Config carries the provider's cache and queue dimensions.
type Config struct {
	Slots             int
	Budget            int
	PreloadQueueDepth int
}

// Provider owns the PCM cache and the preload worker.
type Provider struct {
	cfg    Config
	bus    *events.Bus
	logger zerolog.Logger

	mu          sync.Mutex
	cond        *sync.Cond // signalled when activeFiles returns to zero
	cache       *cache
	activeFiles int

	preloadQ chan string
}

// New constructs a provider. Run must be started for preloading to happen;
// Open works without it.
func New(cfg Config, bus *events.Bus, logger zerolog.Logger) (*Provider, error) {
	if cfg.Slots <= 0 || cfg.Budget <= 0 || cfg.PreloadQueueDepth <= 0 {
		return nil, fmt.Errorf("provider config must be positive: %w", apperr.ErrInvalidArgument)
	}
	p := &Provider{
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With().Str("component", "audio").Logger(),
		cache:    newCache(cfg.Slots, cfg.Budget),
		preloadQ: make(chan string, cfg.PreloadQueueDepth),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Open returns a stream for path. A cached clip is served from memory; a
// miss opens the file directly and pauses preloading until the stream is
// closed. The caller owns the stream and must Close it.
func (p *Provider) Open(path string) (Stream, error) {
	p.mu.Lock()
	if e := p.cache.lookup(path); e != nil {
		e.refs++
		p.cache.touch(e)
		p.mu.Unlock()
		telemetry.CacheHits.Inc()
		p.logger.Debug().Str("path", path).Msg("stream from cache")
		return &cacheStream{p: p, entry: e}, nil
	}
	p.mu.Unlock()

	telemetry.CacheMisses.Inc()
	f, err := wav.Open(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.activeFiles++
	p.mu.Unlock()
	p.logger.Debug().Str("path", path).Int("bytes", f.Size()).Msg("stream from file")
	return &fileStream{f: f, p: p}, nil
}

// Preload queues path for background caching. A full queue drops the
// request; preloading is best effort.
func (p *Provider) Preload(path string) {
	select {
	case p.preloadQ <- path:
	default:
		telemetry.PreloadDropped.Inc()
		p.logger.Debug().Str("path", path).Msg("preload queue full, dropped")
	}
}

// FlushPreload discards all pending preload requests.
func (p *Provider) FlushPreload() {
	for {
		select {
		case <-p.preloadQ:
		default:
			return
		}
	}
}

// Run services the preload queue until ctx is cancelled.
func (p *Provider) Run(ctx context.Context) error {
	// Wake the worker out of a contention wait on shutdown.
	go func() {
		<-ctx.Done()
		p.cond.Broadcast()
	}()

	p.logger.Info().
		Int("slots", p.cfg.Slots).
		Int("budget", p.cfg.Budget).
		Msg("preload worker running")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("preload worker stopped")
			return ctx.Err()
		case path := <-p.preloadQ:
			if err := p.preloadOne(ctx, path); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				telemetry.PreloadFailures.Inc()
				p.logger.Warn().Err(err).Str("path", path).Msg("preload failed")
				p.publish(events.EventPreloadFailed, events.Payload{"path": path, "error": err.Error()})
				continue
			}
			p.publish(events.EventPreloadDone, events.Payload{"path": path})
		}
	}
}

// waitIdleStorage blocks while any file-backed stream is open, so preload
// disk reads never compete with live playback.
func (p *Provider) waitIdleStorage(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.activeFiles > 0 && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err()
}

// preloadOne caches a single clip. Storage is yielded to live playback
// before every chunk read, not just at the start: a Play landing mid-preload
// pauses the fill until its stream closes.
func (p *Provider) preloadOne(ctx context.Context, path string) error {
	if err := p.waitIdleStorage(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	if p.cache.lookup(path) != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	f, err := wav.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	p.mu.Lock()
	entry, err := p.cache.reserve(path, f.Size(), f.Format())
	p.mu.Unlock()
	if err != nil {
		return err
	}

	// The reserved buffer is invisible to lookups and eviction until
	// committed, so it is filled without holding the lock.
	total := 0
	for total < len(entry.data) {
		if werr := p.waitIdleStorage(ctx); werr != nil {
			p.mu.Lock()
			p.cache.free(entry)
			p.mu.Unlock()
			return werr
		}
		end := total + ChunkSize
		if end > len(entry.data) {
			end = len(entry.data)
		}
		n, rerr := f.Read(entry.data[total:end])
		total += n
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			p.mu.Lock()
			p.cache.free(entry)
			p.mu.Unlock()
			return rerr
		}
	}
	if total != len(entry.data) {
		p.mu.Lock()
		p.cache.free(entry)
		p.mu.Unlock()
		return fmt.Errorf("%s: short read (%d of %d bytes): %w", path, total, len(entry.data), apperr.ErrIO)
	}

	p.mu.Lock()
	p.cache.commit(entry)
	p.mu.Unlock()
	p.logger.Debug().Str("path", path).Int("bytes", total).Msg("preloaded")
	return nil
}

func (p *Provider) fileStreamClosed() {
	p.mu.Lock()
	p.activeFiles--
	if p.activeFiles == 0 {
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Provider) cacheStreamClosed(e *cacheEntry) {
	p.mu.Lock()
	e.refs--
	p.mu.Unlock()
}

func (p *Provider) publish(eventType events.EventType, payload events.Payload) {
	if p.bus != nil {
		p.bus.Publish(eventType, payload)
	}
}

// Snapshot reports cache occupancy for the status surface.
type Snapshot struct {
	Slots       int `json:"slots"`
	SlotsUsed   int `json:"slots_used"`
	Budget      int `json:"budget_bytes"`
	BytesUsed   int `json:"bytes_used"`
	ActiveFiles int `json:"active_file_streams"`
	QueueDepth  int `json:"preload_queue_depth"`
}

// Snapshot returns current provider state.
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	slotsUsed, bytesUsed := p.cache.stats()
	return Snapshot{
		Slots:       p.cfg.Slots,
		SlotsUsed:   slotsUsed,
		Budget:      p.cfg.Budget,
		BytesUsed:   bytesUsed,
		ActiveFiles: p.activeFiles,
		QueueDepth:  len(p.preloadQ),
	}
}
