// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"errors"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/expansion"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/normalize"
)

// Code is a short, stable classification of an operation result for
// editors and HTTP clients.
type Code string

const (
	CodeOK                Code = "ok"
	CodeMalformed         Code = "malformed"
	CodeContractionFailed Code = "contraction_failed"
	CodeOutOfBounds       Code = "out_of_bounds"
	CodeNoValidExpansion  Code = "no_valid_expansion"
	CodeNotRemovable      Code = "not_removable"
	CodeEncodingMalformed Code = "encoding_malformed"
	CodeVersionMismatch   Code = "version_mismatch"
	CodeIncompatible      Code = "incompatible"
	CodeDimensionMismatch Code = "dimension_mismatch"
	CodeNotGlobular       Code = "not_globular"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeInternal          Code = "internal"
)

// ErrInvalidArgument is returned for requests the kernel rejects before
// running any algorithm, such as an unknown direction.
var ErrInvalidArgument = errors.New("invalid argument")

// Classification is the result of Classify.
type Classification struct {
	Code Code `json:"code"`

	// Malformations is the full list for CodeMalformed.
	Malformations []check.Malformation `json:"malformations,omitempty"`
}

// Classify maps an error returned by the kernel to its Code. A nil error
// is CodeOK; anything unrecognized is CodeInternal.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Code: CodeOK}
	}

	var structural *check.StructuralError
	if errors.As(err, &structural) {
		return Classification{Code: CodeMalformed, Malformations: structural.Errors}
	}

	var contractionErr *contraction.ContractionError
	if errors.As(err, &contractionErr) {
		if contractionErr.Kind == contraction.KindOutOfBounds {
			return Classification{Code: CodeOutOfBounds}
		}
		return Classification{Code: CodeContractionFailed}
	}

	var codecErr *codec.CodecError
	if errors.As(err, &codecErr) {
		if codecErr.Kind == codec.KindVersionMismatch {
			return Classification{Code: CodeVersionMismatch}
		}
		return Classification{Code: CodeEncodingMalformed}
	}

	switch {
	case errors.Is(err, expansion.ErrNoValidExpansion):
		return Classification{Code: CodeNoValidExpansion}
	case errors.Is(err, normalize.ErrNotRemovable):
		return Classification{Code: CodeNotRemovable}
	case errors.Is(err, diagram.ErrIncompatible):
		return Classification{Code: CodeIncompatible}
	case errors.Is(err, diagram.ErrDimension):
		return Classification{Code: CodeDimensionMismatch}
	case errors.Is(err, diagram.ErrNotGlobular):
		return Classification{Code: CodeNotGlobular}
	case errors.Is(err, ErrInvalidArgument):
		return Classification{Code: CodeInvalidArgument}
	}
	return Classification{Code: CodeInternal}
}
