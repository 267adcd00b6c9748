// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intern provides hash-consed tables of immutable values.
//
// Every value is stored once per table and referred to by a Handle. Two
// handles from the same table are equal exactly when the values they refer
// to are structurally equal, so equality checks on interned content are
// constant time. Entries are reference counted and reclaimed only when the
// owner calls Collect.
package intern

import (
	"encoding/binary"
	"fmt"
)

// Handle identifies an entry in a Table.
//
// The zero Handle is never issued and can be used as "absent". A handle
// stays valid until its entry is reclaimed by a collection pass; using it
// afterwards is a programming error and panics.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// Index returns the slot index of the handle.
func (h Handle) Index() uint32 {
	return h.index
}

// AppendKey appends a fixed-width encoding of h, for use inside structural
// keys of parent entries.
func (h Handle) AppendKey(dst []byte) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(h.index)<<32|uint64(h.gen))
}

// Compare orders handles by interning slot, then generation.
//
// The order is total and stable for the life of a table, but it depends on
// interning history and must never be persisted.
func (h Handle) Compare(o Handle) int {
	switch {
	case h.index < o.index:
		return -1
	case h.index > o.index:
		return 1
	case h.gen < o.gen:
		return -1
	case h.gen > o.gen:
		return 1
	}
	return 0
}

// String returns a debug representation such as "#12.1".
func (h Handle) String() string {
	if h.IsZero() {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

// DefectError is the panic value raised when a table invariant is broken,
// such as dereferencing a reclaimed handle or releasing below zero.
type DefectError struct {
	Table  string
	Handle Handle
	Reason string
}

func (e *DefectError) Error() string {
	return fmt.Sprintf("intern: %s: %s %s", e.Table, e.Reason, e.Handle)
}
