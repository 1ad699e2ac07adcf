/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package apperr

import "errors"

// Shared error classes. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can branch on errors.Is while logs keep the full chain.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrNoMemory        = errors.New("out of memory")
	ErrNotSupported    = errors.New("not supported")
	ErrInvalidState    = errors.New("invalid state")
	ErrIO              = errors.New("i/o error")
	ErrFailed          = errors.New("operation failed")
)
