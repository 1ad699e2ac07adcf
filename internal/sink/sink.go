/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sink is the output end of the playback path. A Sink accepts
// interleaved little-endian int16 PCM at whatever format it was last
// configured for.
package sink

import (
	"time"

	"github.com/klangwerk/klangbrett/internal/wav"
)

// Sink consumes PCM. Configure may be called between clips when the sample
// layout changes; implementations reconfigure or restart their backend.
type Sink interface {
	Configure(format wav.Format) error
	Write(p []byte) (int, error)
	Close() error
}

// Null discards samples at wall-clock rate, so playback timing behaves like
// real hardware. Used by tests and KLANG_SINK=null development runs.
type Null struct {
	format   wav.Format
	Realtime bool
}

// NewNull creates a discarding sink. With realtime set, writes block for
// the duration the samples would take to play.
func NewNull(realtime bool) *Null {
	return &Null{Realtime: realtime}
}

func (n *Null) Configure(format wav.Format) error {
	n.format = format
	return nil
}

func (n *Null) Write(p []byte) (int, error) {
	if n.Realtime && n.format.SampleRate > 0 {
		bytesPerSecond := n.format.SampleRate * n.format.BytesPerFrame()
		if bytesPerSecond > 0 {
			time.Sleep(time.Duration(len(p)) * time.Second / time.Duration(bytesPerSecond))
		}
	}
	return len(p), nil
}

func (n *Null) Close() error { return nil }
