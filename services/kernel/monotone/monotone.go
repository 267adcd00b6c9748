// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monotone enumerates monotone sequences and cartesian products
// without materializing them.
package monotone

import (
	"errors"
	"slices"
)

// ErrEmptyRange is returned when a coordinate has no admissible value.
var ErrEmptyRange = errors.New("empty range")

// Range is the half-open interval [Lo, Hi).
type Range struct {
	Lo int
	Hi int
}

// Sequences iterates over nondecreasing sequences x with
// ranges[i].Lo <= x[i] < ranges[i].Hi, in lexicographic order.
//
// Description:
//
//	Each step advances the rightmost coordinate that can still grow and
//	resets everything to its right to the smallest value compatible with
//	monotonicity. A sequence of length zero has exactly one element.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Sequences struct {
	ranges  []Range
	cur     []int
	started bool
	done    bool
}

// NewSequences creates an iterator over the given ranges.
func NewSequences(ranges []Range) *Sequences {
	return &Sequences{
		ranges: slices.Clone(ranges),
		cur:    make([]int, len(ranges)),
	}
}

// Next advances to the next sequence and reports whether there is one.
func (s *Sequences) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		if !s.fill(0) {
			s.done = true
			return false
		}
		return true
	}
	for k := len(s.cur) - 1; k >= 0; k-- {
		for s.cur[k]+1 < s.ranges[k].Hi {
			s.cur[k]++
			if s.fill(k + 1) {
				return true
			}
		}
	}
	s.done = true
	return false
}

// Value returns the current sequence. The slice is reused by Next.
func (s *Sequences) Value() []int {
	return s.cur
}

// fill sets coordinates from..end to their smallest admissible values.
func (s *Sequences) fill(from int) bool {
	for i := from; i < len(s.cur); i++ {
		v := s.ranges[i].Lo
		if i > 0 && s.cur[i-1] > v {
			v = s.cur[i-1]
		}
		if v >= s.ranges[i].Hi {
			return false
		}
		s.cur[i] = v
	}
	return true
}

// Collect returns up to limit sequences. A limit of zero means no limit.
func Collect(ranges []Range, limit int) [][]int {
	var out [][]int
	it := NewSequences(ranges)
	for it.Next() {
		out = append(out, slices.Clone(it.Value()))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Cartesian products
// -----------------------------------------------------------------------------

// Odometer iterates over the cartesian product of index ranges
// [0, sizes[i]), rightmost digit fastest.
type Odometer struct {
	sizes   []int
	cur     []int
	started bool
	done    bool
}

// NewOdometer creates a product iterator. Any size of zero makes the
// product empty; no sizes give a single empty tuple.
func NewOdometer(sizes []int) (*Odometer, error) {
	for _, n := range sizes {
		if n < 0 {
			return nil, ErrEmptyRange
		}
	}
	return &Odometer{sizes: slices.Clone(sizes), cur: make([]int, len(sizes))}, nil
}

// Next advances to the next tuple.
func (o *Odometer) Next() bool {
	if o.done {
		return false
	}
	if !o.started {
		o.started = true
		for _, n := range o.sizes {
			if n == 0 {
				o.done = true
				return false
			}
		}
		return true
	}
	for k := len(o.cur) - 1; k >= 0; k-- {
		o.cur[k]++
		if o.cur[k] < o.sizes[k] {
			return true
		}
		o.cur[k] = 0
	}
	o.done = true
	return false
}

// Value returns the current tuple. The slice is reused by Next.
func (o *Odometer) Value() []int {
	return o.cur
}
