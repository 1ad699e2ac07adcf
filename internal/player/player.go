/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player runs the single playback engine: one goroutine owns the
// sink, drains a bounded command queue and moves PCM from the active
// stream to the output one chunk at a time.
package player

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/audio"
	"github.com/klangwerk/klangbrett/internal/events"
	"github.com/klangwerk/klangbrett/internal/sink"
	"github.com/klangwerk/klangbrett/internal/telemetry"
	"github.com/klangwerk/klangbrett/internal/volume"
	"github.com/klangwerk/klangbrett/internal/wav"
)

// chunkFrames is the number of int16 samples moved per loop iteration.
// Small enough that a Stop command is honored within a few milliseconds.
const chunkFrames = 480

// progressInterval throttles Progress events.
const progressInterval = 50 * time.Millisecond

// DefaultVolume is used when no saved volume exists.
const DefaultVolume = 20

// StreamOpener supplies PCM streams by path. Satisfied by audio.Provider.
type StreamOpener interface {
	Open(path string) (audio.Stream, error)
}

// State is the engine's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
)

type command struct {
	play         bool
	path         string
	interruptNow bool
}

// playback is the engine-goroutine-private state of the active clip.
type playback struct {
	stream       audio.Stream
	path         string
	session      string
	played       int
	total        int
	lastProgress time.Time
	buf          []byte
}

// Player is the playback engine. Play/Stop/volume methods are safe from
// any goroutine; everything else happens on the Run goroutine.
type Player struct {
	opener StreamOpener
	out    sink.Sink
	store  volume.Store
	bus    *events.Bus
	logger zerolog.Logger
	cmds   chan command

	volMu    sync.Mutex
	volIndex int

	stateMu    sync.Mutex
	state      State
	statePath  string
	stateTotal int
	statePlay  int
	session    string

	haveFormat bool
	format     wav.Format
}

// Config carries the player queue depth.
type Config struct {
	QueueDepth int
}

// New constructs a player. The saved volume is loaded here; a missing or
// unreadable store falls back to DefaultVolume.
func New(cfg Config, opener StreamOpener, out sink.Sink, store volume.Store, bus *events.Bus, logger zerolog.Logger) (*Player, error) {
	if opener == nil || out == nil {
		return nil, fmt.Errorf("opener and sink required: %w", apperr.ErrInvalidArgument)
	}
	if cfg.QueueDepth <= 0 {
		return nil, fmt.Errorf("queue depth must be positive: %w", apperr.ErrInvalidArgument)
	}

	p := &Player{
		opener:   opener,
		out:      out,
		store:    store,
		bus:      bus,
		logger:   logger.With().Str("component", "player").Logger(),
		cmds:     make(chan command, cfg.QueueDepth),
		volIndex: DefaultVolume,
		state:    StateIdle,
	}

	if store != nil {
		if saved, err := store.Load(); err == nil && saved >= 0 && saved < NumVolumeLevels {
			p.volIndex = saved
		} else if err != nil {
			p.logger.Info().Err(err).Int("default", DefaultVolume).Msg("using default volume")
		}
	}
	telemetry.VolumeLevel.Set(float64(p.volIndex))
	return p, nil
}

// Play asks the engine to play path, replacing any active clip. It fails
// with ErrFailed when the command queue is full.
func (p *Player) Play(path string) error {
	select {
	case p.cmds <- command{play: true, path: path}:
		return nil
	default:
		return fmt.Errorf("player queue full: %w", apperr.ErrFailed)
	}
}

// Stop asks the engine to stop. With interruptNow false the active clip is
// left to finish on its own.
func (p *Player) Stop(interruptNow bool) error {
	select {
	case p.cmds <- command{interruptNow: interruptNow}:
		return nil
	default:
		return fmt.Errorf("player queue full: %w", apperr.ErrFailed)
	}
}

// Run executes the engine loop until ctx is cancelled. Idle it blocks on
// the queue; while playing it polls the queue between chunk transfers so
// commands are picked up mid-clip.
func (p *Player) Run(ctx context.Context) error {
	p.logger.Info().Msg("player ready")
	p.publish(events.EventPlayerReady, events.Payload{"volume": p.Volume()})

	var cur *playback
	for {
		if cur == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd := <-p.cmds:
				cur = p.handle(cmd, cur)
			}
			continue
		}

		select {
		case <-ctx.Done():
			p.finish(cur, "shutdown", nil)
			return ctx.Err()
		case cmd := <-p.cmds:
			cur = p.handle(cmd, cur)
		default:
			cur = p.transfer(cur)
		}
	}
}

func (p *Player) handle(cmd command, cur *playback) *playback {
	if cmd.play {
		if cur != nil {
			// Close before open: the sink is never fed by two streams.
			p.finish(cur, "replaced", nil)
		}
		return p.start(cmd.path)
	}

	if !cmd.interruptNow {
		// Deferred stop: the clip runs to completion.
		p.logger.Info().Msg("deferred stop requested, letting clip finish")
		return cur
	}
	if cur == nil {
		p.logger.Debug().Msg("stop with nothing playing")
		return nil
	}
	p.finish(cur, "stopped", nil)
	return nil
}

func (p *Player) start(path string) *playback {
	stream, err := p.opener.Open(path)
	if err != nil {
		telemetry.PlaybackErrors.Inc()
		p.logger.Error().Err(err).Str("path", path).Msg("open failed")
		p.publish(events.EventPlayerError, events.Payload{"path": path, "error": err.Error()})
		return nil
	}

	format := stream.Format()
	if !p.haveFormat || p.format != format {
		if err := p.out.Configure(format); err != nil {
			telemetry.PlaybackErrors.Inc()
			p.logger.Error().Err(err).Str("path", path).Msg("sink configure failed")
			p.publish(events.EventPlayerError, events.Payload{"path": path, "error": err.Error()})
			stream.Close()
			return nil
		}
		p.haveFormat = true
		p.format = format
	}

	cur := &playback{
		stream:  stream,
		path:    path,
		session: uuid.NewString(),
		total:   stream.Size(),
		buf:     make([]byte, chunkFrames*2),
	}

	p.setState(StatePlaying, cur)
	telemetry.PlaybacksStarted.Inc()
	p.logger.Info().
		Str("path", path).
		Str("session", cur.session).
		Int("bytes", cur.total).
		Bool("cached", stream.Cached()).
		Msg("playback started")
	p.publish(events.EventPlayerStarted, events.Payload{
		"path":    path,
		"session": cur.session,
		"bytes":   cur.total,
		"cached":  stream.Cached(),
	})
	return cur
}

// transfer moves one chunk from the stream to the sink.
func (p *Player) transfer(cur *playback) *playback {
	n, err := cur.stream.Read(cur.buf)
	if n > 0 {
		applyGain(cur.buf[:n], volumeFactors[p.Volume()])
		if _, werr := p.out.Write(cur.buf[:n]); werr != nil {
			p.finish(cur, "error", werr)
			return nil
		}
		cur.played += n
		p.stateMu.Lock()
		p.statePlay = cur.played
		p.stateMu.Unlock()

		if now := time.Now(); now.Sub(cur.lastProgress) >= progressInterval {
			cur.lastProgress = now
			p.publish(events.EventProgress, events.Payload{
				"session": cur.session,
				"played":  cur.played,
				"total":   cur.total,
			})
		}
	}
	if err == io.EOF {
		p.finish(cur, "completed", nil)
		return nil
	}
	if err != nil {
		p.finish(cur, "error", err)
		return nil
	}
	return cur
}

// finish closes the active stream and reports why.
func (p *Player) finish(cur *playback, reason string, cause error) {
	if err := cur.stream.Close(); err != nil {
		p.logger.Warn().Err(err).Str("path", cur.path).Msg("stream close failed")
	}
	p.setState(StateIdle, nil)

	if cause != nil {
		telemetry.PlaybackErrors.Inc()
		p.logger.Error().Err(cause).Str("path", cur.path).Msg("playback failed")
		p.publish(events.EventPlayerError, events.Payload{
			"path":    cur.path,
			"session": cur.session,
			"error":   cause.Error(),
		})
	}

	p.logger.Info().
		Str("path", cur.path).
		Str("session", cur.session).
		Str("reason", reason).
		Int("played", cur.played).
		Msg("playback stopped")
	p.publish(events.EventPlayerStopped, events.Payload{
		"path":    cur.path,
		"session": cur.session,
		"reason":  reason,
		"played":  cur.played,
		"total":   cur.total,
	})
}

// Volume returns the current volume index.
func (p *Player) Volume() int {
	p.volMu.Lock()
	defer p.volMu.Unlock()
	return p.volIndex
}

// SetVolume clamps and applies a volume index. The change takes effect on
// the next chunk and is persisted via the deferred store.
func (p *Player) SetVolume(index int) {
	if index < 0 {
		index = 0
	}
	if index >= NumVolumeLevels {
		index = NumVolumeLevels - 1
	}

	p.volMu.Lock()
	changed := index != p.volIndex
	p.volIndex = index
	p.volMu.Unlock()
	if !changed {
		return
	}

	telemetry.VolumeLevel.Set(float64(index))
	if p.store != nil {
		p.store.SaveDeferred(index)
	}
	p.logger.Info().Int("volume", index).Msg("volume changed")
	p.publish(events.EventVolumeChanged, events.Payload{"volume": index})
}

// VolumeUp raises the volume one step.
func (p *Player) VolumeUp() { p.SetVolume(p.Volume() + 1) }

// VolumeDown lowers the volume one step.
func (p *Player) VolumeDown() { p.SetVolume(p.Volume() - 1) }

func (p *Player) setState(state State, cur *playback) {
	p.stateMu.Lock()
	p.state = state
	if cur != nil {
		p.statePath = cur.path
		p.stateTotal = cur.total
		p.statePlay = cur.played
		p.session = cur.session
	} else {
		p.statePath = ""
		p.stateTotal = 0
		p.statePlay = 0
		p.session = ""
	}
	p.stateMu.Unlock()
}

func (p *Player) publish(eventType events.EventType, payload events.Payload) {
	if p.bus != nil {
		p.bus.Publish(eventType, payload)
	}
}

// Snapshot reports engine state for the status surface.
type Snapshot struct {
	State       State  `json:"state"`
	Path        string `json:"path,omitempty"`
	Session     string `json:"session,omitempty"`
	BytesPlayed int    `json:"bytes_played"`
	BytesTotal  int    `json:"bytes_total"`
	Volume      int    `json:"volume"`
}

// Snapshot returns the current engine state.
func (p *Player) Snapshot() Snapshot {
	p.stateMu.Lock()
	snap := Snapshot{
		State:       p.state,
		Path:        p.statePath,
		Session:     p.session,
		BytesPlayed: p.statePlay,
		BytesTotal:  p.stateTotal,
	}
	p.stateMu.Unlock()
	snap.Volume = p.Volume()
	return snap
}
