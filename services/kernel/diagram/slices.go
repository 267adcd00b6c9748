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
	"fmt"
	"slices"
)

// sliceSet is the memoized slice sequence of one diagram. Successful sets
// hold a reference on every slice.
type sliceSet struct {
	regular  []Diagram
	singular []Diagram
	err      error
}

func (s *Store) slicesOf(d Diagram) *sliceSet {
	if set, ok := s.memo[d]; ok {
		return set
	}

	dn := s.diagrams.Get(d.h)
	set := &sliceSet{}
	if dn.dim == 0 {
		set.err = dimensionError("slices", "0-diagrams have no slices")
		s.memo[d] = set
		return set
	}

	regular := make([]Diagram, 0, len(dn.cospans)+1)
	singular := make([]Diagram, 0, len(dn.cospans))
	cur := dn.source
	regular = append(regular, cur)
	for i, c := range dn.cospans {
		sing, err := s.RewriteForward(cur, c.Forward)
		if err != nil {
			set.err = fmt.Errorf("level %d forward: %w", i, err)
			s.memo[d] = set
			return set
		}
		next, err := s.RewriteBackward(sing, c.Backward)
		if err != nil {
			set.err = fmt.Errorf("level %d backward: %w", i, err)
			s.memo[d] = set
			return set
		}
		singular = append(singular, sing)
		regular = append(regular, next)
		cur = next
	}

	for _, r := range regular {
		s.diagrams.Retain(r.h)
	}
	for _, sg := range singular {
		s.diagrams.Retain(sg.h)
	}
	set.regular = regular
	set.singular = singular
	s.memo[d] = set
	return set
}

func (s *Store) dropSlices(d Diagram) {
	set, ok := s.memo[d]
	if !ok {
		return
	}
	delete(s.memo, d)
	for _, r := range set.regular {
		s.diagrams.Release(r.h)
	}
	for _, sg := range set.singular {
		s.diagrams.Release(sg.h)
	}
}

// Slices returns the regular and singular slices of d.
//
// Description:
//
//	regular has Size(d)+1 entries, starting with the source and ending with
//	the target; singular has Size(d) entries. The result is memoized per
//	handle, including failures.
//
// Outputs:
//
//	[]Diagram - Regular slices (copy).
//	[]Diagram - Singular slices (copy).
//	error - Non-nil if a level's rewrites do not apply in sequence.
func (s *Store) Slices(d Diagram) ([]Diagram, []Diagram, error) {
	set := s.slicesOf(d)
	if set.err != nil {
		return nil, nil, set.err
	}
	return slices.Clone(set.regular), slices.Clone(set.singular), nil
}

// RegularSlice returns regular slice i of d.
func (s *Store) RegularSlice(d Diagram, i int) (Diagram, error) {
	set := s.slicesOf(d)
	if set.err != nil {
		return Diagram{}, set.err
	}
	if i < 0 || i >= len(set.regular) {
		return Diagram{}, fmt.Errorf("regular height %d out of range [0,%d]", i, len(set.regular)-1)
	}
	return set.regular[i], nil
}

// SingularSlice returns singular slice i of d.
func (s *Store) SingularSlice(d Diagram, i int) (Diagram, error) {
	set := s.slicesOf(d)
	if set.err != nil {
		return Diagram{}, set.err
	}
	if i < 0 || i >= len(set.singular) {
		return Diagram{}, fmt.Errorf("singular height %d out of range [0,%d)", i, len(set.singular))
	}
	return set.singular[i], nil
}

// Target returns the target boundary of a diagram of positive dimension.
func (s *Store) Target(d Diagram) (Diagram, error) {
	set := s.slicesOf(d)
	if set.err != nil {
		return Diagram{}, set.err
	}
	return set.regular[len(set.regular)-1], nil
}
