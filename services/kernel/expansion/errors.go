// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expansion

import (
	"errors"
	"fmt"
)

// ErrNoValidExpansion is matched by every *ExpansionError.
var ErrNoValidExpansion = errors.New("no valid expansion")

// ExpansionError explains why a position cannot be expanded.
type ExpansionError struct {
	Path   []int
	Reason string
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("no valid expansion at %v: %s", e.Path, e.Reason)
}

// Unwrap returns ErrNoValidExpansion.
func (e *ExpansionError) Unwrap() error {
	return ErrNoValidExpansion
}

func noExpansion(path []int, format string, args ...any) error {
	return &ExpansionError{Path: append([]int(nil), path...), Reason: fmt.Sprintf(format, args...)}
}
