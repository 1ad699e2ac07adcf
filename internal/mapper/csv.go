/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mapper

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klangwerk/klangbrett/internal/apperr"
	"github.com/klangwerk/klangbrett/internal/input"
)

// Source is one mapping file: a media root and the mapping file name under
// it. Clip paths in the file are resolved against Root.
type Source struct {
	Name string // for logs ("firmware", "sdcard")
	Root string
	File string
}

// ActionType enumerates mapping actions.
type ActionType int

const (
	ActionStop ActionType = iota + 1
	ActionPlay
	ActionPlayCut
	ActionPlayLock
)

func (a ActionType) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionPlay:
		return "play"
	case ActionPlayCut:
		return "play_cut"
	case ActionPlayLock:
		return "play_lock"
	default:
		return "unknown"
	}
}

// HasFile reports whether the action references a clip.
func (a ActionType) HasFile() bool {
	return a == ActionPlay || a == ActionPlayCut || a == ActionPlayLock
}

// Action is a parsed mapping target.
type Action struct {
	Type ActionType
	File string // absolute clip path; empty for stop
}

type actionSpec struct {
	typ       ActionType
	minParams int
	maxParams int
}

var actionSpecs = map[string]actionSpec{
	"stop":      {ActionStop, 0, 0},
	"play":      {ActionPlay, 1, 1},
	"play_cut":  {ActionPlayCut, 1, 1},
	"play_lock": {ActionPlayLock, 1, 1},
}

// parsedLine is one validated CSV mapping line.
type parsedLine struct {
	pageID string
	button int
	event  input.EventKind
	action Action
}

func parseEvent(s string) (input.EventKind, error) {
	switch s {
	case "press":
		return input.Press, nil
	case "long_press":
		return input.LongPress, nil
	case "release":
		return input.Release, nil
	default:
		return 0, fmt.Errorf("unknown event %q (valid: press, long_press, release): %w", s, apperr.ErrInvalidArgument)
	}
}

// resolvePath joins a clip path from the CSV to the source root. Leading
// slashes are stripped so absolute-looking entries stay inside the root.
func resolvePath(root, file string) string {
	return filepath.Join(root, strings.TrimLeft(file, "/"))
}

// parseLine validates one CSV line: page,button,event,action[,param].
func parseLine(line, root string) (parsedLine, error) {
	var out parsedLine

	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 4 {
		return out, fmt.Errorf("%d fields, need at least 4 (page,button,event,action): %w", len(fields), apperr.ErrInvalidArgument)
	}

	if fields[0] == "" {
		return out, fmt.Errorf("empty page id: %w", apperr.ErrInvalidArgument)
	}
	out.pageID = fields[0]

	button, err := strconv.Atoi(fields[1])
	if err != nil || button < 1 || button > input.NumMatrixButtons {
		return out, fmt.Errorf("invalid button %q (must be 1-%d): %w", fields[1], input.NumMatrixButtons, apperr.ErrInvalidArgument)
	}
	out.button = button

	event, err := parseEvent(fields[2])
	if err != nil {
		return out, err
	}
	out.event = event

	spec, ok := actionSpecs[fields[3]]
	if !ok {
		return out, fmt.Errorf("unknown action %q: %w", fields[3], apperr.ErrInvalidArgument)
	}
	params := fields[4:]
	if len(params) < spec.minParams {
		return out, fmt.Errorf("action %q needs %d params, got %d: %w", fields[3], spec.minParams, len(params), apperr.ErrInvalidArgument)
	}
	// Extra params are tolerated and ignored.

	out.action = Action{Type: spec.typ}
	if spec.typ.HasFile() {
		if params[0] == "" {
			return out, fmt.Errorf("action %q with empty file: %w", fields[3], apperr.ErrInvalidArgument)
		}
		out.action.File = resolvePath(root, params[0])
	}
	return out, nil
}

// forEachLine streams the mapping file, skipping blanks and # comments, and
// calls fn with each content line and its 1-based number.
func forEachLine(path string, fn func(line string, num int) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("open %s: %w", path, apperr.ErrIO)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	num := 0
	for scanner.Scan() {
		num++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line, num); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, apperr.ErrIO)
	}
	return nil
}

// ValidateFile checks a mapping file without touching mapper state. With
// checkFiles set, referenced clips must exist under root. All bad lines are
// reported, not just the first.
func ValidateFile(path, root string, checkFiles bool) error {
	valid := 0
	var problems []string

	err := forEachLine(path, func(line string, num int) error {
		parsed, err := parseLine(line, root)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", num, err))
			return nil
		}
		if checkFiles && parsed.action.Type.HasFile() {
			if _, err := os.Stat(parsed.action.File); err != nil {
				problems = append(problems, fmt.Sprintf("line %d: clip not found: %s", num, parsed.action.File))
				return nil
			}
		}
		valid++
		return nil
	})
	if err != nil {
		return err
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d error(s):\n%s: %w", len(problems), strings.Join(problems, "\n"), apperr.ErrInvalidState)
	}
	if valid == 0 {
		return fmt.Errorf("no mappings in %s: %w", path, apperr.ErrNotFound)
	}
	return nil
}
