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
)

// FromGenerator returns the diagram consisting of the single generator g
// with the given boundaries.
//
// Description:
//
//	A generator of dimension 0 is its own point. Otherwise the result has
//	one level whose rewrites collapse the whole source, respectively the
//	whole target, onto g. The boundaries must have dimension g.Dim-1 and be
//	globular: from dimension 1 upwards they share their own source and
//	target.
//
// Outputs:
//
//	Diagram - The generator diagram.
//	error - *ModelError wrapping ErrDimension or ErrNotGlobular.
func (s *Store) FromGenerator(g Generator, source, target Diagram) (Diagram, error) {
	if g.Dim == 0 {
		return s.Point(g), nil
	}
	want := int(g.Dim) - 1
	if s.Dim(source) != want || s.Dim(target) != want {
		return Diagram{}, dimensionError("generator", "%s needs boundaries of dimension %d, got %d and %d",
			g, want, s.Dim(source), s.Dim(target))
	}
	if want > 0 {
		if s.Source(source) != s.Source(target) {
			return Diagram{}, &ModelError{Op: "generator", Position: -1, Reason: "source boundaries differ", Err: ErrNotGlobular}
		}
		st, err := s.Target(source)
		if err != nil {
			return Diagram{}, err
		}
		tt, err := s.Target(target)
		if err != nil {
			return Diagram{}, err
		}
		if st != tt {
			return Diagram{}, &ModelError{Op: "generator", Position: -1, Reason: "target boundaries differ", Err: ErrNotGlobular}
		}
	}

	forward, err := s.coneOverGenerator(g, source)
	if err != nil {
		return Diagram{}, err
	}
	backward, err := s.coneOverGenerator(g, target)
	if err != nil {
		return Diagram{}, err
	}
	return s.NewDiagram(source, []Cospan{{Forward: forward, Backward: backward}}), nil
}

// coneOverGenerator builds the rewrite that collapses all of base onto g.
func (s *Store) coneOverGenerator(g Generator, base Diagram) (Rewrite, error) {
	if gen, ok := s.Generator(base); ok {
		if gen.Dim >= g.Dim {
			return Rewrite{}, dimensionError("generator", "%s cannot cover %s", g, gen)
		}
		return s.Atom(gen, g), nil
	}

	regular, singular, err := s.Slices(base)
	if err != nil {
		return Rewrite{}, err
	}
	forward, err := s.coneOverGenerator(g, regular[0])
	if err != nil {
		return Rewrite{}, err
	}
	backward, err := s.coneOverGenerator(g, regular[len(regular)-1])
	if err != nil {
		return Rewrite{}, err
	}
	slices := make([]Rewrite, len(singular))
	for i, sg := range singular {
		slices[i], err = s.coneOverGenerator(g, sg)
		if err != nil {
			return Rewrite{}, err
		}
	}
	cone := s.NewCone(0, s.Cospans(base), Cospan{Forward: forward, Backward: backward}, slices)
	return s.NewRewrite(s.Dim(base), []Cone{cone}), nil
}

// ComposeDiagrams stacks b on top of a. Both must have the same positive
// dimension and the target of a must be the source of b.
func (s *Store) ComposeDiagrams(a, b Diagram) (Diagram, error) {
	if s.Dim(a) != s.Dim(b) || s.Dim(a) == 0 {
		return Diagram{}, dimensionError("compose", "cannot stack diagrams of dimension %d and %d", s.Dim(a), s.Dim(b))
	}
	target, err := s.Target(a)
	if err != nil {
		return Diagram{}, err
	}
	if target != s.Source(b) {
		return Diagram{}, incompatible("compose", -1, "target of the first diagram is not the source of the second")
	}
	levels := append(s.Cospans(a), s.Cospans(b)...)
	return s.NewDiagram(s.Source(a), levels), nil
}

// Attach whiskers g into the target of d at the given level offset and
// stacks it on top of d.
//
// Description:
//
//	g's source must occur in d's target starting at regular height offset:
//	the levels match and the regular slice at offset equals g's own source.
//	Every level of g is shifted by offset so that it acts on the surrounding
//	context unchanged. For 1-diagrams the context is a point and the offset
//	must be zero.
func (s *Store) Attach(d, g Diagram, offset int) (Diagram, error) {
	if s.Dim(d) != s.Dim(g) || s.Dim(d) == 0 {
		return Diagram{}, dimensionError("attach", "cannot attach a %d-diagram to a %d-diagram", s.Dim(g), s.Dim(d))
	}
	context, err := s.Target(d)
	if err != nil {
		return Diagram{}, err
	}
	whiskered, err := s.Whisker(g, context, offset)
	if err != nil {
		return Diagram{}, err
	}
	return s.ComposeDiagrams(d, whiskered)
}

// Whisker embeds g into a larger context whose levels contain g's source at
// the given offset.
func (s *Store) Whisker(g, context Diagram, offset int) (Diagram, error) {
	inner := s.Source(g)
	if s.Dim(context) != s.Dim(inner) {
		return Diagram{}, dimensionError("whisker", "context of dimension %d for a source of dimension %d", s.Dim(context), s.Dim(inner))
	}
	if s.Dim(context) == 0 {
		if offset != 0 || context != inner {
			return Diagram{}, incompatible("whisker", offset, "point context must equal the source")
		}
		return g, nil
	}

	n := s.Size(inner)
	if offset < 0 || offset+n > s.Size(context) {
		return Diagram{}, incompatible("whisker", offset, "source of %d levels does not fit %d levels", n, s.Size(context))
	}
	for i := 0; i < n; i++ {
		if s.Cospan(context, offset+i) != s.Cospan(inner, i) {
			return Diagram{}, incompatible("whisker", offset+i, "level differs from the attached source")
		}
	}
	at, err := s.RegularSlice(context, offset)
	if err != nil {
		return Diagram{}, err
	}
	if at != s.Source(inner) {
		return Diagram{}, incompatible("whisker", offset, "regular slice differs from the attached source boundary")
	}

	levels := s.Cospans(g)
	for i, c := range levels {
		levels[i] = Cospan{
			Forward:  s.shiftRewrite(c.Forward, offset),
			Backward: s.shiftRewrite(c.Backward, offset),
		}
	}
	return s.NewDiagram(context, levels), nil
}

func (s *Store) shiftRewrite(r Rewrite, by int) Rewrite {
	if by == 0 || s.IsIdentity(r) {
		return r
	}
	cones := s.Cones(r)
	for i, c := range cones {
		cones[i] = c.WithIndex(c.Index + by)
	}
	return s.NewRewrite(s.RewriteDim(r), cones)
}

// Describe renders a compact structural summary for logs and the CLI.
func (s *Store) Describe(d Diagram) string {
	if g, ok := s.Generator(d); ok {
		return g.String()
	}
	return fmt.Sprintf("%d-diagram with %d levels", s.Dim(d), s.Size(d))
}
