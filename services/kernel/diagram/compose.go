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

// Compose returns f followed by g, where f: A → B and g: B → C.
//
// Description:
//
//	Dimension 0 composes atoms end to end. In higher dimensions each cone of
//	g absorbs the cones of f whose targets land inside it; slices compose
//	pointwise. Cones of f outside every cone of g are kept unchanged.
//
// Outputs:
//
//	Rewrite - The composite A → C.
//	error - *ModelError if f's target cannot be g's source.
func (s *Store) Compose(f, g Rewrite) (Rewrite, error) {
	fn := s.rewrites.Get(f.h)
	gn := s.rewrites.Get(g.h)
	if fn.dim != gn.dim {
		return Rewrite{}, dimensionError("compose", "rewrites of dimension %d and %d", fn.dim, gn.dim)
	}

	if fn.dim == 0 {
		switch {
		case !fn.atomic:
			return g, nil
		case !gn.atomic:
			return f, nil
		case fn.tgt != gn.src:
			return Rewrite{}, incompatible("compose", -1, "atom ends at %s, next starts at %s", fn.tgt, gn.src)
		}
		if fn.src.Dim >= gn.tgt.Dim {
			return Rewrite{}, incompatible("compose", -1, "composite %s → %s does not raise dimension", fn.src, gn.tgt)
		}
		return s.Atom(fn.src, gn.tgt), nil
	}
	if len(fn.cones) == 0 {
		return g, nil
	}
	if len(gn.cones) == 0 {
		return f, nil
	}

	fs := s.coneSpans(f)
	out := make([]Cone, 0, len(fs)+len(gn.cones))
	fi := 0
	shift := 0

	for k, gc := range gn.cones {
		gcn := s.cones.Get(gc.ref)

		for fi < len(fs) && fs[fi].target < gc.Index {
			out = append(out, fs[fi].cone)
			shift += len(fs[fi].node.source) - 1
			fi++
		}

		start := gc.Index + shift
		source := make([]Cospan, 0, len(gcn.source))
		slices := make([]Rewrite, 0, len(gcn.source))
		for j, gs := range gcn.source {
			b := gc.Index + j
			if fi < len(fs) && fs[fi].target == b {
				fc := fs[fi].node
				if fc.target != gs {
					return Rewrite{}, incompatible("compose", k, "cone of first rewrite ends in a different cospan than the second rewrite consumes at %d", b)
				}
				for m, src := range fc.source {
					sl, err := s.Compose(fc.slices[m], gcn.slices[j])
					if err != nil {
						return Rewrite{}, err
					}
					source = append(source, src)
					slices = append(slices, sl)
				}
				shift += len(fc.source) - 1
				fi++
				continue
			}
			source = append(source, gs)
			slices = append(slices, gcn.slices[j])
		}
		out = append(out, s.NewCone(start, source, gcn.target, slices))
	}
	out = append(out, coneList(fs[fi:])...)

	return s.NewRewrite(fn.dim, out), nil
}

func coneList(spans []coneSpan) []Cone {
	out := make([]Cone, len(spans))
	for i, span := range spans {
		out[i] = span.cone
	}
	return out
}

// ComposeAll composes a non-empty path of rewrites left to right.
func (s *Store) ComposeAll(path []Rewrite) (Rewrite, error) {
	if len(path) == 0 {
		return Rewrite{}, dimensionError("compose", "empty path")
	}
	acc := path[0]
	for _, r := range path[1:] {
		next, err := s.Compose(acc, r)
		if err != nil {
			return Rewrite{}, err
		}
		acc = next
	}
	return acc, nil
}
