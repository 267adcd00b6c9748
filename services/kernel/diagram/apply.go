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

// RewriteForward applies r to d, producing the target of r.
//
// Description:
//
//	For a 0-diagram the rewrite must be the identity or an atom starting at
//	d's generator. For higher diagrams every cone's source cospans must
//	appear in d at the cone's index; they are replaced by the cone target.
//
// Outputs:
//
//	Diagram - The target of r.
//	error - *ModelError wrapping ErrIncompatible or ErrDimension.
func (s *Store) RewriteForward(d Diagram, r Rewrite) (Diagram, error) {
	dn := s.diagrams.Get(d.h)
	rn := s.rewrites.Get(r.h)
	if dn.dim != rn.dim {
		return Diagram{}, dimensionError("forward", "rewrite of dimension %d on diagram of dimension %d", rn.dim, dn.dim)
	}

	if dn.dim == 0 {
		if !rn.atomic {
			return d, nil
		}
		if rn.src != dn.gen {
			return Diagram{}, incompatible("forward", -1, "atom starts at %s, diagram is %s", rn.src, dn.gen)
		}
		return s.Point(rn.tgt), nil
	}
	if len(rn.cones) == 0 {
		return d, nil
	}

	out := make([]Cospan, 0, len(dn.cospans))
	pos := 0
	for k, c := range rn.cones {
		cn := s.cones.Get(c.ref)
		if c.Index < pos || c.Index+len(cn.source) > len(dn.cospans) {
			return Diagram{}, incompatible("forward", k, "cone at %d spanning %d does not fit %d levels", c.Index, len(cn.source), len(dn.cospans))
		}
		out = append(out, dn.cospans[pos:c.Index]...)
		for j, sc := range cn.source {
			if dn.cospans[c.Index+j] != sc {
				return Diagram{}, incompatible("forward", k, "source cospan %d differs from level %d", j, c.Index+j)
			}
		}
		out = append(out, cn.target)
		pos = c.Index + len(cn.source)
	}
	out = append(out, dn.cospans[pos:]...)
	return s.NewDiagram(dn.source, out), nil
}

// RewriteBackward applies r in reverse: d must be the target of r and the
// result is its source.
func (s *Store) RewriteBackward(d Diagram, r Rewrite) (Diagram, error) {
	dn := s.diagrams.Get(d.h)
	rn := s.rewrites.Get(r.h)
	if dn.dim != rn.dim {
		return Diagram{}, dimensionError("backward", "rewrite of dimension %d on diagram of dimension %d", rn.dim, dn.dim)
	}

	if dn.dim == 0 {
		if !rn.atomic {
			return d, nil
		}
		if rn.tgt != dn.gen {
			return Diagram{}, incompatible("backward", -1, "atom ends at %s, diagram is %s", rn.tgt, dn.gen)
		}
		return s.Point(rn.src), nil
	}
	if len(rn.cones) == 0 {
		return d, nil
	}

	out := make([]Cospan, 0, len(dn.cospans))
	pos := 0
	offset := 0
	for k, c := range rn.cones {
		cn := s.cones.Get(c.ref)
		t := c.Index - offset
		if t < pos || t >= len(dn.cospans) {
			return Diagram{}, incompatible("backward", k, "cone target position %d outside %d levels", t, len(dn.cospans))
		}
		out = append(out, dn.cospans[pos:t]...)
		if dn.cospans[t] != cn.target {
			return Diagram{}, incompatible("backward", k, "target cospan differs from level %d", t)
		}
		out = append(out, cn.source...)
		pos = t + 1
		offset += len(cn.source) - 1
	}
	out = append(out, dn.cospans[pos:]...)
	return s.NewDiagram(dn.source, out), nil
}

// -----------------------------------------------------------------------------
// Singular and regular maps
// -----------------------------------------------------------------------------

// coneSpan locates one cone in both source and target coordinates.
type coneSpan struct {
	cone   Cone
	node   coneNode
	target int
}

func (s *Store) coneSpans(r Rewrite) []coneSpan {
	rn := s.rewrites.Get(r.h)
	out := make([]coneSpan, len(rn.cones))
	offset := 0
	for k, c := range rn.cones {
		cn := s.cones.Get(c.ref)
		out[k] = coneSpan{cone: c, node: cn, target: c.Index - offset}
		offset += len(cn.source) - 1
	}
	return out
}

// TargetSize returns the number of levels of the target of r when applied
// to a diagram with sourceSize levels.
func (s *Store) TargetSize(r Rewrite, sourceSize int) int {
	size := sourceSize
	for _, c := range s.rewrites.Get(r.h).cones {
		size -= s.ConeLen(c) - 1
	}
	return size
}

// SingularImage returns, for each of the sourceSize singular heights of the
// source of r, the singular height of the target it is mapped to.
func (s *Store) SingularImage(r Rewrite, sourceSize int) []int {
	img := make([]int, sourceSize)
	offset := 0
	i := 0
	for _, span := range s.coneSpans(r) {
		for ; i < span.cone.Index && i < sourceSize; i++ {
			img[i] = i - offset
		}
		for j := 0; j < len(span.node.source) && i < sourceSize; j++ {
			img[i] = span.target
			i++
		}
		offset += len(span.node.source) - 1
	}
	for ; i < sourceSize; i++ {
		img[i] = i - offset
	}
	return img
}

// RegularImage returns, for each of the targetSize+1 regular heights of the
// target of r, the regular height of the source it comes from.
func (s *Store) RegularImage(r Rewrite, sourceSize int) []int {
	img := s.SingularImage(r, sourceSize)
	targetSize := s.TargetSize(r, sourceSize)
	out := make([]int, targetSize+1)
	i := 0
	for j := 0; j <= targetSize; j++ {
		for i < len(img) && img[i] < j {
			i++
		}
		out[j] = i
	}
	return out
}

// SliceOf returns the rewrite r induces on singular height i of its
// source: the cone slice when i is inside a cone, the identity otherwise.
func (s *Store) SliceOf(r Rewrite, i int) Rewrite {
	rn := s.rewrites.Get(r.h)
	if rn.dim == 0 {
		panic(&ModelError{Op: "slice", Position: i, Reason: "rewrite has dimension 0", Err: ErrDimension})
	}
	for _, c := range rn.cones {
		if i < c.Index {
			break
		}
		cn := s.cones.Get(c.ref)
		if i < c.Index+len(cn.source) {
			return cn.slices[i-c.Index]
		}
	}
	return s.IdentityRewrite(rn.dim - 1)
}

// ConeOver returns the cone of r whose target sits at singular height j of
// the target, if any.
func (s *Store) ConeOver(r Rewrite, j int) (Cone, bool) {
	for _, span := range s.coneSpans(r) {
		if span.target == j {
			return span.cone, true
		}
		if span.target > j {
			break
		}
	}
	return Cone{}, false
}

// ConeTargetHeights returns the target singular height of each cone of r.
func (s *Store) ConeTargetHeights(r Rewrite) []int {
	spans := s.coneSpans(r)
	out := make([]int, len(spans))
	for k, span := range spans {
		out[k] = span.target
	}
	return out
}
