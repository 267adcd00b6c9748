// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intern

import (
	"github.com/cespare/xxhash/v2"
)

// KeyFunc appends the structural key of v to dst and returns the result.
//
// Two values must produce the same key exactly when they are structurally
// equal. Child entries are encoded by their handles.
type KeyFunc[T any] func(dst []byte, v T) []byte

// Hooks let the owner of a table maintain references held by entries.
//
// OnCreate runs once when a value is first interned and normally retains the
// value's children. OnFree runs when the entry is reclaimed and normally
// releases them again.
type Hooks[T any] struct {
	OnCreate func(h Handle, v T)
	OnFree   func(h Handle, v T)
}

// Stats reports table counters.
type Stats struct {
	// Interned is the number of entries ever created.
	Interned uint64

	// Hits is the number of Intern calls answered by an existing entry.
	Hits uint64

	// Live is the number of entries currently allocated.
	Live int

	// Freed is the number of entries reclaimed by collection.
	Freed uint64
}

type slot[T any] struct {
	value T
	key   string
	hash  uint64
	gen   uint32
	refs  int32
	live  bool
}

// Table is a hash-consing arena for values of type T.
//
// Thread Safety:
//
//	Not safe for concurrent use. A table belongs to a single store whose
//	owner serialises access.
type Table[T any] struct {
	name    string
	key     KeyFunc[T]
	hooks   Hooks[T]
	slots   []slot[T]
	free    []uint32
	buckets map[uint64][]uint32
	pending []Handle
	scratch []byte
	stats   Stats
}

// NewTable creates an empty table.
func NewTable[T any](name string, key KeyFunc[T], hooks Hooks[T]) *Table[T] {
	return &Table[T]{
		name:    name,
		key:     key,
		hooks:   hooks,
		buckets: make(map[uint64][]uint32),
	}
}

// Name returns the table name used in diagnostics.
func (t *Table[T]) Name() string {
	return t.name
}

// Intern returns the handle of the entry structurally equal to v, creating
// it if needed.
//
// Description:
//
//	The structural key of v is hashed with xxhash64 and looked up in the
//	bucket index. Candidates are confirmed by comparing full keys, so hash
//	collisions never merge distinct values. New entries start with a zero
//	external count and are queued for the next collection unless retained.
//
// Outputs:
//
//	Handle - The canonical handle of v.
//	bool - True if the entry was created by this call.
func (t *Table[T]) Intern(v T) (Handle, bool) {
	t.scratch = t.key(t.scratch[:0], v)
	sum := xxhash.Sum64(t.scratch)
	for _, idx := range t.buckets[sum] {
		s := &t.slots[idx]
		if s.key == string(t.scratch) {
			t.stats.Hits++
			return Handle{index: idx, gen: s.gen}, false
		}
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.key = string(t.scratch)
	s.hash = sum
	s.refs = 0
	s.live = true

	h := Handle{index: idx, gen: s.gen}
	t.buckets[sum] = append(t.buckets[sum], idx)
	t.pending = append(t.pending, h)
	t.stats.Interned++
	t.stats.Live++

	if t.hooks.OnCreate != nil {
		t.hooks.OnCreate(h, v)
	}
	return h, true
}

// Get returns the value behind h. It panics with a *DefectError if h was
// reclaimed or never issued by this table.
func (t *Table[T]) Get(h Handle) T {
	return t.slot(h).value
}

// Valid reports whether h refers to a live entry of this table.
func (t *Table[T]) Valid(h Handle) bool {
	if h.IsZero() || int(h.index) >= len(t.slots) {
		return false
	}
	s := &t.slots[h.index]
	return s.live && s.gen == h.gen
}

// Retain increments the reference count of h.
func (t *Table[T]) Retain(h Handle) {
	t.slot(h).refs++
}

// Release decrements the reference count of h. An entry whose count drops
// to zero is queued for the next collection; it is not freed immediately.
func (t *Table[T]) Release(h Handle) {
	s := t.slot(h)
	if s.refs <= 0 {
		panic(&DefectError{Table: t.name, Handle: h, Reason: "release of unreferenced entry"})
	}
	s.refs--
	if s.refs == 0 {
		t.pending = append(t.pending, h)
	}
}

// Refs returns the current reference count of h.
func (t *Table[T]) Refs(h Handle) int {
	return int(t.slot(h).refs)
}

// Sweep reclaims every queued entry whose count is still zero.
//
// OnFree hooks run for each reclaimed entry and may queue more work in this
// or other tables; Sweep keeps draining its own queue until it is empty.
// Returns the number of entries reclaimed.
func (t *Table[T]) Sweep() int {
	freed := 0
	for len(t.pending) > 0 {
		n := len(t.pending) - 1
		h := t.pending[n]
		t.pending = t.pending[:n]

		if !t.Valid(h) {
			continue
		}
		s := &t.slots[h.index]
		if s.refs != 0 {
			continue
		}

		v := s.value
		t.unlink(h.index, s.hash)
		var zero T
		s.value = zero
		s.key = ""
		s.live = false
		t.free = append(t.free, h.index)
		t.stats.Live--
		t.stats.Freed++
		freed++

		if t.hooks.OnFree != nil {
			t.hooks.OnFree(h, v)
		}
	}
	return freed
}

// Stats returns a snapshot of the table counters.
func (t *Table[T]) Stats() Stats {
	return t.stats
}

func (t *Table[T]) slot(h Handle) *slot[T] {
	if !t.Valid(h) {
		panic(&DefectError{Table: t.name, Handle: h, Reason: "stale handle"})
	}
	return &t.slots[h.index]
}

func (t *Table[T]) unlink(idx uint32, sum uint64) {
	bucket := t.buckets[sum]
	for i, candidate := range bucket {
		if candidate == idx {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.buckets, sum)
		return
	}
	t.buckets[sum] = bucket
}

// Sweeper is implemented by every Table.
type Sweeper interface {
	Sweep() int
}

// Collect sweeps the given tables until none of them reclaims anything, so
// that releases cascading across tables are fully processed. Returns the
// total number of entries reclaimed.
func Collect(tables ...Sweeper) int {
	total := 0
	for {
		n := 0
		for _, t := range tables {
			n += t.Sweep()
		}
		if n == 0 {
			return total
		}
		total += n
	}
}
