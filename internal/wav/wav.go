/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package wav opens PCM WAV files and serves their sample data in bounded
// chunks. Only uncompressed 16-bit PCM is accepted; everything the playback
// path consumes is interleaved little-endian int16 frames.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/klangwerk/klangbrett/internal/apperr"
)

const pcmFormat = 1 // WAVE_FORMAT_PCM

// Format describes the sample layout of an open file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// File is an open WAV file positioned at the start of its PCM data.
type File struct {
	f      *os.File
	dec    *gowav.Decoder
	format Format
	size   int // PCM payload bytes
	buf    *audio.IntBuffer
}

// Open opens path and validates its header. The decoder walks the RIFF
// chunk list, so files with LIST/INFO chunks ahead of the data chunk load
// fine.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, apperr.ErrIO)
	}

	dec := gowav.NewDecoder(f)
	dec.ReadInfo()
	if dec.Err() != nil {
		f.Close()
		return nil, fmt.Errorf("read header %s: %v: %w", path, dec.Err(), apperr.ErrNotSupported)
	}
	if dec.WavAudioFormat != pcmFormat {
		f.Close()
		return nil, fmt.Errorf("%s: compressed WAV (format %d): %w", path, dec.WavAudioFormat, apperr.ErrNotSupported)
	}
	if dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("%s: %d-bit samples: %w", path, dec.BitDepth, apperr.ErrNotSupported)
	}
	if dec.NumChans != 1 && dec.NumChans != 2 {
		f.Close()
		return nil, fmt.Errorf("%s: %d channels: %w", path, dec.NumChans, apperr.ErrNotSupported)
	}

	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: no data chunk: %w", path, apperr.ErrNotSupported)
	}

	return &File{
		f:   f,
		dec: dec,
		format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
		size: int(dec.PCMLen()),
	}, nil
}

// Format returns the sample layout.
func (w *File) Format() Format { return w.format }

// Size returns the PCM payload length in bytes.
func (w *File) Size() int { return w.size }

// Read fills dst with interleaved little-endian int16 sample data. It
// returns the number of bytes written and io.EOF once the data chunk is
// exhausted.
func (w *File) Read(dst []byte) (int, error) {
	want := len(dst) / 2
	if want == 0 {
		return 0, fmt.Errorf("read buffer too small: %w", apperr.ErrInvalidArgument)
	}
	if w.buf == nil || len(w.buf.Data) < want {
		w.buf = &audio.IntBuffer{
			Format: &audio.Format{NumChannels: w.format.Channels, SampleRate: w.format.SampleRate},
			Data:   make([]int, want),
		}
	}
	w.buf.Data = w.buf.Data[:want]

	n, err := w.dec.PCMBuffer(w.buf)
	if err != nil {
		return 0, fmt.Errorf("read pcm: %v: %w", err, apperr.ErrIO)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(w.buf.Data[i])))
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n * 2, nil
}

// Close releases the underlying file.
func (w *File) Close() error {
	return w.f.Close()
}
