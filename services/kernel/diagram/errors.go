// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagram

import (
	"errors"
	"fmt"
)

// Package-level error definitions.
var (
	// ErrIncompatible is returned when a rewrite does not fit the diagram or
	// rewrite it is applied to or composed with.
	ErrIncompatible = errors.New("incompatible")

	// ErrDimension is returned when operands have the wrong dimension.
	ErrDimension = errors.New("dimension mismatch")

	// ErrNotGlobular is returned when a generator's boundaries disagree.
	ErrNotGlobular = errors.New("boundaries are not globular")
)

// ModelError describes a failed model operation.
type ModelError struct {
	// Op is the operation, such as "forward", "backward" or "compose".
	Op string

	// Position is the cone or level involved, or -1.
	Position int

	// Reason is a short human readable explanation.
	Reason string

	// Err is the sentinel classifying the failure.
	Err error
}

func (e *ModelError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("%s at %d: %s: %v", e.Op, e.Position, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

func incompatible(op string, pos int, format string, args ...any) error {
	return &ModelError{Op: op, Position: pos, Reason: fmt.Sprintf(format, args...), Err: ErrIncompatible}
}

func dimensionError(op string, format string, args ...any) error {
	return &ModelError{Op: op, Position: -1, Reason: fmt.Sprintf(format, args...), Err: ErrDimension}
}
