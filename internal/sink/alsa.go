/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sink

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/klangwerk/klangbrett/internal/wav"
)

// ALSA plays PCM by piping it into an aplay process. The process is
// restarted whenever the configured format changes; between clips of the
// same format it keeps running so there is no device reopen gap.
type ALSA struct {
	bin    string
	logger zerolog.Logger

	mu     sync.Mutex
	format wav.Format
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan struct{} // signals when the process has exited
}

// NewALSA creates an aplay-backed sink. bin is the aplay binary name.
func NewALSA(bin string, logger zerolog.Logger) *ALSA {
	return &ALSA{bin: bin, logger: logger.With().Str("component", "sink").Logger()}
}

// Configure starts (or restarts) the output process for the given format.
func (a *ALSA) Configure(format wav.Format) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cmd != nil && a.format == format {
		select {
		case <-a.done:
			// Process died; fall through and restart.
		default:
			return nil
		}
	}

	if err := a.stopLocked(); err != nil {
		return err
	}

	cmd := exec.Command(a.bin,
		"-q", "-t", "raw", "-f", "S16_LE",
		"-c", strconv.Itoa(format.Channels),
		"-r", strconv.Itoa(format.SampleRate),
		"-")
	cmd.Stderr = nil
	cmd.Stdout = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", a.bin, err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.format = format
	a.done = make(chan struct{})

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		close(done)
		if err != nil {
			a.logger.Debug().Err(err).Msg("output process exited")
		} else {
			a.logger.Info().Msg("output process stopped")
		}
	}(a.done, cmd)

	a.logger.Info().
		Int("rate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("output configured")
	return nil
}

// Write feeds PCM to the output process.
func (a *ALSA) Write(p []byte) (int, error) {
	a.mu.Lock()
	stdin := a.stdin
	a.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("sink not configured")
	}
	return stdin.Write(p)
}

// Close terminates the output process.
func (a *ALSA) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

func (a *ALSA) stopLocked() error {
	cmd := a.cmd
	done := a.done
	if cmd == nil || done == nil {
		return nil
	}
	a.cmd = nil
	if a.stdin != nil {
		_ = a.stdin.Close()
		a.stdin = nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
	}

	return nil
}
