// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contraction

import (
	"errors"
	"fmt"
)

// Package-level error definitions.
var (
	// ErrFailure: the levels have no colimit, or it is not unique without a bias.
	ErrFailure = errors.New("contraction failed")

	// ErrOutOfBounds: the addressed levels do not exist.
	ErrOutOfBounds = errors.New("contraction out of bounds")
)

// Kind classifies a ContractionError.
type Kind string

const (
	KindFailure     Kind = "failure"
	KindOutOfBounds Kind = "out_of_bounds"
)

// ContractionError describes why a contraction did not produce a diagram.
type ContractionError struct {
	Kind   Kind
	Height int
	Reason string
}

func (e *ContractionError) Error() string {
	return fmt.Sprintf("contraction %s at height %d: %s", e.Kind, e.Height, e.Reason)
}

// Unwrap maps the kind to its sentinel.
func (e *ContractionError) Unwrap() error {
	if e.Kind == KindOutOfBounds {
		return ErrOutOfBounds
	}
	return ErrFailure
}

// failure is a colimit failure whose height is filled in by Contract.
func failure(format string, args ...any) error {
	return &ContractionError{Kind: KindFailure, Height: -1, Reason: fmt.Sprintf(format, args...)}
}

// Bias breaks ties between merge groups that the diagram leaves unordered.
type Bias int

const (
	// BiasNone: unordered groups make the contraction fail.
	BiasNone Bias = iota
	// BiasLower: content from the lower level goes first.
	BiasLower
	// BiasHigher: content from the higher level goes first.
	BiasHigher
)

func (b Bias) String() string {
	switch b {
	case BiasLower:
		return "lower"
	case BiasHigher:
		return "higher"
	}
	return "none"
}

// ParseBias parses "none", "lower" or "higher".
func ParseBias(s string) (Bias, error) {
	switch s {
	case "", "none":
		return BiasNone, nil
	case "lower", "left":
		return BiasLower, nil
	case "higher", "right":
		return BiasHigher, nil
	}
	return BiasNone, fmt.Errorf("unknown bias %q", s)
}
