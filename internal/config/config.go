/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sink backend selection.
type SinkBackend string

const (
	SinkALSA SinkBackend = "alsa"
	SinkNull SinkBackend = "null"
)

// Input backend selection.
type InputBackend string

const (
	InputGPIO InputBackend = "gpio"
	InputNone InputBackend = "none"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Media sources, applied in order; later sources overwrite earlier
	// mappings for the same (page, button, event) key.
	FirmwareRoot string // Built-in clip set shipped with the image
	SDRoot       string // Removable media overlay; empty disables it
	MappingFile  string // Mapping file name looked up under each root

	// Input scanning
	InputBackend    InputBackend
	ScanPeriod      time.Duration
	PressDebounce   time.Duration
	ReleaseDebounce time.Duration
	LongPress       time.Duration
	EncoderDebounce time.Duration

	// GPIO layout (sysfs pin numbers)
	MatrixRowPins    []int
	MatrixColPins    []int
	EncoderPinA      int
	EncoderPinB      int
	EncoderPinSwitch int

	// Audio cache
	CacheSlots  int
	CacheBudget int // bytes of PCM the cache may hold

	// Queues
	PlayerQueueDepth  int
	PreloadQueueDepth int

	// Playback
	SinkBackend SinkBackend
	AplayBin    string

	// Volume persistence
	VolumeFile      string
	VolumeSaveDelay time.Duration
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("KLANG_ENV", "development"),
		HTTPBind:    getEnv("KLANG_HTTP_BIND", "127.0.0.1"),
		HTTPPort:    getEnvInt("KLANG_HTTP_PORT", 8090),

		FirmwareRoot: getEnv("KLANG_FIRMWARE_ROOT", "/usr/share/klangbrett/sounds"),
		SDRoot:       getEnv("KLANG_SD_ROOT", ""),
		MappingFile:  getEnv("KLANG_MAPPING_FILE", "mapping.csv"),

		InputBackend:    InputBackend(getEnv("KLANG_INPUT", string(InputGPIO))),
		ScanPeriod:      getEnvMillis("KLANG_SCAN_PERIOD_MS", 5),
		PressDebounce:   getEnvMillis("KLANG_PRESS_DEBOUNCE_MS", 20),
		ReleaseDebounce: getEnvMillis("KLANG_RELEASE_DEBOUNCE_MS", 40),
		LongPress:       getEnvMillis("KLANG_LONG_PRESS_MS", 1500),
		EncoderDebounce: getEnvMicros("KLANG_ENCODER_DEBOUNCE_US", 1000),

		MatrixRowPins:    getEnvInts("KLANG_MATRIX_ROW_PINS", []int{17, 27, 22, 23}),
		MatrixColPins:    getEnvInts("KLANG_MATRIX_COL_PINS", []int{5, 6, 13}),
		EncoderPinA:      getEnvInt("KLANG_ENCODER_PIN_A", 19),
		EncoderPinB:      getEnvInt("KLANG_ENCODER_PIN_B", 26),
		EncoderPinSwitch: getEnvInt("KLANG_ENCODER_PIN_SWITCH", 21),

		CacheSlots:  getEnvInt("KLANG_CACHE_SLOTS", 16),
		CacheBudget: getEnvInt("KLANG_CACHE_BUDGET_BYTES", 2*1024*1024),

		PlayerQueueDepth:  getEnvInt("KLANG_PLAYER_QUEUE_DEPTH", 10),
		PreloadQueueDepth: getEnvInt("KLANG_PRELOAD_QUEUE_DEPTH", 16),

		SinkBackend: SinkBackend(getEnv("KLANG_SINK", string(SinkALSA))),
		AplayBin:    getEnv("KLANG_APLAY_BIN", "aplay"),

		VolumeFile:      getEnv("KLANG_VOLUME_FILE", "/var/lib/klangbrett/volume.yaml"),
		VolumeSaveDelay: getEnvMillis("KLANG_VOLUME_SAVE_DELAY_MS", 5000),
	}

	if cfg.SinkBackend != SinkALSA && cfg.SinkBackend != SinkNull {
		return nil, fmt.Errorf("unsupported sink backend %q", cfg.SinkBackend)
	}

	if cfg.InputBackend != InputGPIO && cfg.InputBackend != InputNone {
		return nil, fmt.Errorf("unsupported input backend %q", cfg.InputBackend)
	}

	if len(cfg.MatrixRowPins)*len(cfg.MatrixColPins) != 12 {
		return nil, fmt.Errorf("matrix must be 12 buttons, got %dx%d pins",
			len(cfg.MatrixRowPins), len(cfg.MatrixColPins))
	}

	if cfg.FirmwareRoot == "" {
		return nil, fmt.Errorf("KLANG_FIRMWARE_ROOT must be provided")
	}

	if cfg.ScanPeriod <= 0 {
		return nil, fmt.Errorf("KLANG_SCAN_PERIOD_MS must be positive")
	}

	if cfg.CacheSlots <= 0 || cfg.CacheBudget <= 0 {
		return nil, fmt.Errorf("cache slots and budget must be positive")
	}

	if cfg.PlayerQueueDepth <= 0 || cfg.PreloadQueueDepth <= 0 {
		return nil, fmt.Errorf("queue depths must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.SinkBackend == SinkNull {
		return nil, fmt.Errorf("KLANG_SINK=null is a development setting")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvInts reads a comma-separated integer list. A malformed list falls
// back to the default wholesale.
func getEnvInts(key string, def []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parts := strings.Split(val, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		parsed, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return def
		}
		out = append(out, parsed)
	}
	return out
}

// getEnvMillis reads an integer millisecond value as a duration.
func getEnvMillis(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Millisecond
}

// getEnvMicros reads an integer microsecond value as a duration.
func getEnvMicros(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Microsecond
}
