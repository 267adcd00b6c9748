// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"errors"
	"fmt"
)

// Package-level error definitions.
var (
	// ErrMalformed: the input is not a valid encoding.
	ErrMalformed = errors.New("malformed encoding")

	// ErrVersionMismatch: the input was written by an unsupported version.
	ErrVersionMismatch = errors.New("unsupported encoding version")
)

// Kind classifies a CodecError.
type Kind string

const (
	KindMalformed       Kind = "malformed"
	KindVersionMismatch Kind = "version_mismatch"
)

// CodecError describes a rejected input.
type CodecError struct {
	Kind Kind
	// Offset is the byte offset in the binary body, or -1.
	Offset int
	Reason string
}

func (e *CodecError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("codec %s at offset %d: %s", e.Kind, e.Offset, e.Reason)
	}
	return fmt.Sprintf("codec %s: %s", e.Kind, e.Reason)
}

// Unwrap maps the kind to its sentinel.
func (e *CodecError) Unwrap() error {
	if e.Kind == KindVersionMismatch {
		return ErrVersionMismatch
	}
	return ErrMalformed
}

func malformed(offset int, format string, args ...any) error {
	return &CodecError{Kind: KindMalformed, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func versionMismatch(format string, args ...any) error {
	return &CodecError{Kind: KindVersionMismatch, Offset: -1, Reason: fmt.Sprintf(format, args...)}
}
