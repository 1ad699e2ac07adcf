/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package input

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klangwerk/klangbrett/internal/apperr"
)

const gpioRoot = "/sys/class/gpio"

// GPIOConfig names the sysfs GPIO numbers of the board wiring. Rows are
// driven high one at a time while columns are read; column lines need
// pull-downs. The encoder lines and its push switch are pulled up and
// read active-low.
type GPIOConfig struct {
	RowPins   []int
	ColPins   []int
	PinA      int
	PinB      int
	PinSwitch int
}

// GPIOSampler reads the button matrix and rotary encoder through the sysfs
// GPIO interface. Value files stay open across samples; each read seeks
// back to the start.
type GPIOSampler struct {
	cfg  GPIOConfig
	rows []*os.File
	cols []*os.File
	a    *os.File
	b    *os.File
	sw   *os.File
}

// NewGPIOSampler exports and configures all pins and opens their value
// files. Pins already exported by a previous run are reused.
func NewGPIOSampler(cfg GPIOConfig) (*GPIOSampler, error) {
	if len(cfg.RowPins)*len(cfg.ColPins) != NumMatrixButtons {
		return nil, fmt.Errorf("matrix wiring must cover %d buttons, got %dx%d: %w",
			NumMatrixButtons, len(cfg.RowPins), len(cfg.ColPins), apperr.ErrInvalidArgument)
	}

	s := &GPIOSampler{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	for _, pin := range cfg.RowPins {
		f, err := openPin(pin, "low")
		if err != nil {
			return nil, err
		}
		s.rows = append(s.rows, f)
	}
	for _, pin := range cfg.ColPins {
		f, err := openPin(pin, "in")
		if err != nil {
			return nil, err
		}
		s.cols = append(s.cols, f)
	}

	var err error
	if s.a, err = openPin(cfg.PinA, "in"); err != nil {
		return nil, err
	}
	if s.b, err = openPin(cfg.PinB, "in"); err != nil {
		return nil, err
	}
	if s.sw, err = openPin(cfg.PinSwitch, "in"); err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

// Sample drives each row high in turn and reads the column lines, then
// reads the encoder pins.
func (s *GPIOSampler) Sample() (Sample, error) {
	var sample Sample

	for ri, row := range s.rows {
		if err := writePin(row, true); err != nil {
			return Sample{}, err
		}
		for ci, col := range s.cols {
			pressed, err := readPin(col)
			if err != nil {
				_ = writePin(row, false)
				return Sample{}, err
			}
			sample.Buttons[ri*len(s.cols)+ci] = pressed
		}
		if err := writePin(row, false); err != nil {
			return Sample{}, err
		}
	}

	// Encoder lines idle high.
	raw, err := readPin(s.a)
	if err != nil {
		return Sample{}, err
	}
	sample.EncoderA = !raw
	if raw, err = readPin(s.b); err != nil {
		return Sample{}, err
	}
	sample.EncoderB = !raw
	if raw, err = readPin(s.sw); err != nil {
		return Sample{}, err
	}
	sample.EncoderSwitch = !raw

	return sample, nil
}

// Close releases the value file handles. Pins stay exported so a restart
// picks them up without reconfiguring.
func (s *GPIOSampler) Close() error {
	for _, f := range s.rows {
		_ = f.Close()
	}
	for _, f := range s.cols {
		_ = f.Close()
	}
	for _, f := range []*os.File{s.a, s.b, s.sw} {
		if f != nil {
			_ = f.Close()
		}
	}
	return nil
}

// NullSampler reports every input idle. It stands in for the hardware in
// development runs without GPIO access.
type NullSampler struct{}

func (NullSampler) Sample() (Sample, error) { return Sample{}, nil }

// openPin exports a GPIO, sets its direction ("in", "low" for output
// driven low) and opens its value file.
func openPin(pin int, direction string) (*os.File, error) {
	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(gpioRoot, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", pin, err)
		}
	}
	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte(direction), 0o644); err != nil {
		return nil, fmt.Errorf("configure gpio %d: %w", pin, err)
	}

	flag := os.O_RDONLY
	if direction != "in" {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(filepath.Join(pinDir, "value"), flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open gpio %d value: %w", pin, err)
	}
	return f, nil
}

func readPin(f *os.File) (bool, error) {
	var buf [1]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return false, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	return buf[0] == '1', nil
}

func writePin(f *os.File, high bool) error {
	val := byte('0')
	if high {
		val = '1'
	}
	if _, err := f.WriteAt([]byte{val}, 0); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	return nil
}
