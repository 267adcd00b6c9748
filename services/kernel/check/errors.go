// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed matches every *StructuralError with errors.Is.
var ErrMalformed = errors.New("malformed diagram")

// Kind classifies a malformation.
type Kind string

const (
	// KindDimension: a source, rewrite, cospan or slice has the wrong dimension.
	KindDimension Kind = "dimension_mismatch"

	// KindBoundary: a level's rewrite does not apply to the slice it starts from.
	KindBoundary Kind = "incompatible_boundary"

	// KindConeOrder: cones overlap or are out of order.
	KindConeOrder Kind = "cone_order"

	// KindConeShape: a cone has a different number of slices than sources.
	KindConeShape Kind = "cone_shape"

	// KindCommutativity: a cone's slices do not commute with its cospans.
	KindCommutativity Kind = "not_commutative"

	// KindSliceTyping: a cone slice does not map the actual singular slices.
	KindSliceTyping Kind = "slice_typing"

	// KindAtom: an atomic rewrite does not increase dimension.
	KindAtom Kind = "atom_dimension"
)

// Malformation is one located violation.
type Malformation struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (m Malformation) String() string {
	if m.Path == "" {
		return fmt.Sprintf("%s: %s", m.Kind, m.Message)
	}
	return fmt.Sprintf("%s at %s: %s", m.Kind, m.Path, m.Message)
}

// StructuralError carries every malformation found in one check.
type StructuralError struct {
	Errors []Malformation
}

func (e *StructuralError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "malformed diagram"
	case 1:
		return "malformed diagram: " + e.Errors[0].String()
	}
	parts := make([]string, len(e.Errors))
	for i, m := range e.Errors {
		parts[i] = m.String()
	}
	return fmt.Sprintf("malformed diagram: %d errors: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Is reports whether target is ErrMalformed.
func (e *StructuralError) Is(target error) bool {
	return target == ErrMalformed
}

// AsError returns nil for an empty list and a *StructuralError otherwise.
func AsError(ms []Malformation) error {
	if len(ms) == 0 {
		return nil
	}
	return &StructuralError{Errors: ms}
}

func prefix(p string, ms []Malformation) []Malformation {
	if len(ms) == 0 {
		return nil
	}
	out := make([]Malformation, len(ms))
	for i, m := range ms {
		out[i] = m
		if m.Path == "" {
			out[i].Path = p
		} else {
			out[i].Path = p + "." + m.Path
		}
	}
	return out
}
