// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package check verifies that diagrams and rewrites are well-formed.
//
// Every violation found in one pass is reported with the path to the
// offending part, and results are cached per handle so that re-checking a
// shared sub-diagram is free.
package check

import (
	"fmt"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// Stats reports cache counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Checker validates diagrams in one store.
//
// Description:
//
//	Checks dimensions, boundary compatibility of every level, cone order and
//	shape, cone commutativity and slice typing, recursively through every
//	slice and sub-rewrite. Cached entries hold a reference on the checked
//	handle until Purge.
//
// Thread Safety:
//
//	Not safe for concurrent use; owned by the same owner as the store.
type Checker struct {
	st       *diagram.Store
	diagrams map[diagram.Diagram][]Malformation
	rewrites map[diagram.Rewrite][]Malformation
	hits     uint64
	misses   uint64
}

// New creates a checker for st.
func New(st *diagram.Store) *Checker {
	return &Checker{
		st:       st,
		diagrams: make(map[diagram.Diagram][]Malformation),
		rewrites: make(map[diagram.Rewrite][]Malformation),
	}
}

// Diagram checks d and returns nil or a *StructuralError.
func (c *Checker) Diagram(d diagram.Diagram) error {
	return AsError(c.CheckDiagram(d))
}

// Rewrite checks r and returns nil or a *StructuralError.
func (c *Checker) Rewrite(r diagram.Rewrite) error {
	return AsError(c.CheckRewrite(r))
}

// CheckDiagram returns every malformation of d. The result is shared with
// the cache and must not be modified.
func (c *Checker) CheckDiagram(d diagram.Diagram) []Malformation {
	if ms, ok := c.diagrams[d]; ok {
		c.hits++
		return ms
	}
	c.misses++
	ms := c.checkDiagram(d)
	c.st.RetainDiagram(d)
	c.diagrams[d] = ms
	return ms
}

// CheckRewrite returns every malformation of r.
func (c *Checker) CheckRewrite(r diagram.Rewrite) []Malformation {
	if ms, ok := c.rewrites[r]; ok {
		c.hits++
		return ms
	}
	c.misses++
	ms := c.checkRewrite(r)
	c.st.RetainRewrite(r)
	c.rewrites[r] = ms
	return ms
}

// Stats returns the cache counters.
func (c *Checker) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.diagrams) + len(c.rewrites)}
}

// Purge empties the cache and releases the handles it held.
func (c *Checker) Purge() {
	for d := range c.diagrams {
		c.st.ReleaseDiagram(d)
	}
	for r := range c.rewrites {
		c.st.ReleaseRewrite(r)
	}
	c.diagrams = make(map[diagram.Diagram][]Malformation)
	c.rewrites = make(map[diagram.Rewrite][]Malformation)
}

// -----------------------------------------------------------------------------
// Diagrams
// -----------------------------------------------------------------------------

func (c *Checker) checkDiagram(d diagram.Diagram) []Malformation {
	st := c.st
	n := st.Dim(d)
	if n == 0 {
		return nil
	}

	var out []Malformation
	source := st.Source(d)
	out = append(out, prefix("source", c.CheckDiagram(source))...)

	cospans := st.Cospans(d)
	dimsOK := true
	for i, cs := range cospans {
		for _, side := range sides(cs) {
			p := fmt.Sprintf("cospan[%d].%s", i, side.name)
			if got := st.RewriteDim(side.r); got != n-1 {
				out = append(out, Malformation{
					Kind:    KindDimension,
					Path:    p,
					Message: fmt.Sprintf("rewrite has dimension %d, expected %d", got, n-1),
				})
				dimsOK = false
				continue
			}
			out = append(out, prefix(p, c.CheckRewrite(side.r))...)
		}
	}
	if !dimsOK {
		return out
	}

	regular := []diagram.Diagram{source}
	singular := make([]diagram.Diagram, 0, len(cospans))
	cur := source
	for i, cs := range cospans {
		sing, err := st.RewriteForward(cur, cs.Forward)
		if err != nil {
			return append(out, Malformation{Kind: KindBoundary, Path: fmt.Sprintf("cospan[%d].forward", i), Message: err.Error()})
		}
		next, err := st.RewriteBackward(sing, cs.Backward)
		if err != nil {
			return append(out, Malformation{Kind: KindBoundary, Path: fmt.Sprintf("cospan[%d].backward", i), Message: err.Error()})
		}
		singular = append(singular, sing)
		regular = append(regular, next)
		cur = next
	}

	for i, sing := range singular {
		out = append(out, prefix(fmt.Sprintf("singular[%d]", i), c.CheckDiagram(sing))...)
	}
	for i := 1; i < len(regular); i++ {
		out = append(out, prefix(fmt.Sprintf("regular[%d]", i), c.CheckDiagram(regular[i]))...)
	}
	if len(out) > 0 {
		return out
	}

	for i, cs := range cospans {
		out = append(out, c.typing(fmt.Sprintf("cospan[%d].forward", i), regular[i], singular[i], cs.Forward)...)
		out = append(out, c.typing(fmt.Sprintf("cospan[%d].backward", i), regular[i+1], singular[i], cs.Backward)...)
	}
	return out
}

type side struct {
	name string
	r    diagram.Rewrite
}

func sides(cs diagram.Cospan) [2]side {
	return [2]side{{"forward", cs.Forward}, {"backward", cs.Backward}}
}

// typing checks that every slice of r maps the singular slice of from to
// the singular slice of to it lands on.
func (c *Checker) typing(p string, from, to diagram.Diagram, r diagram.Rewrite) []Malformation {
	st := c.st
	if st.Dim(from) == 0 {
		return nil
	}
	_, fromSing, err := st.Slices(from)
	if err != nil {
		return []Malformation{{Kind: KindBoundary, Path: p, Message: err.Error()}}
	}
	_, toSing, err := st.Slices(to)
	if err != nil {
		return []Malformation{{Kind: KindBoundary, Path: p, Message: err.Error()}}
	}

	var out []Malformation
	img := st.SingularImage(r, len(fromSing))
	for i, sing := range fromSing {
		hp := fmt.Sprintf("%s.height[%d]", p, i)
		if img[i] < 0 || img[i] >= len(toSing) {
			out = append(out, Malformation{Kind: KindSliceTyping, Path: hp, Message: "height maps outside the target"})
			continue
		}
		got, err := st.RewriteForward(sing, st.SliceOf(r, i))
		if err != nil {
			out = append(out, Malformation{Kind: KindSliceTyping, Path: hp, Message: err.Error()})
			continue
		}
		if got != toSing[img[i]] {
			out = append(out, Malformation{
				Kind:    KindSliceTyping,
				Path:    hp,
				Message: fmt.Sprintf("slice lands on a different diagram than singular height %d of the target", img[i]),
			})
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Rewrites
// -----------------------------------------------------------------------------

func (c *Checker) checkRewrite(r diagram.Rewrite) []Malformation {
	st := c.st
	n := st.RewriteDim(r)
	if n == 0 {
		if src, tgt, ok := st.AtomOf(r); ok && src.Dim >= tgt.Dim {
			return []Malformation{{
				Kind:    KindAtom,
				Message: fmt.Sprintf("atom %s → %s does not increase dimension", src, tgt),
			}}
		}
		return nil
	}

	var out []Malformation
	end := 0
	for k, cone := range st.Cones(r) {
		p := fmt.Sprintf("cone[%d]", k)
		source := st.ConeSource(cone)
		target := st.ConeTarget(cone)
		slices := st.ConeSlices(cone)

		if cone.Index < end {
			out = append(out, Malformation{
				Kind:    KindConeOrder,
				Path:    p,
				Message: fmt.Sprintf("cone at %d overlaps or precedes the previous cone ending at %d", cone.Index, end),
			})
		}
		if cone.Index+len(source) > end {
			end = cone.Index + len(source)
		}
		if len(slices) != len(source) {
			out = append(out, Malformation{
				Kind:    KindConeShape,
				Path:    p,
				Message: fmt.Sprintf("%d slices for %d source cospans", len(slices), len(source)),
			})
			continue
		}

		parts := c.coneParts(p, source, target, slices)
		bad := false
		for _, part := range parts {
			if got := st.RewriteDim(part.r); got != n-1 {
				out = append(out, Malformation{
					Kind:    KindDimension,
					Path:    part.path,
					Message: fmt.Sprintf("rewrite has dimension %d, expected %d", got, n-1),
				})
				bad = true
				continue
			}
			if ms := c.CheckRewrite(part.r); len(ms) > 0 {
				out = append(out, prefix(part.path, ms)...)
				bad = true
			}
		}
		if bad {
			continue
		}
		out = append(out, c.commutes(p, source, target, slices)...)
	}
	return out
}

type conePart struct {
	path string
	r    diagram.Rewrite
}

func (c *Checker) coneParts(p string, source []diagram.Cospan, target diagram.Cospan, slices []diagram.Rewrite) []conePart {
	parts := make([]conePart, 0, 2*len(source)+2+len(slices))
	for j, cs := range source {
		for _, s := range sides(cs) {
			parts = append(parts, conePart{fmt.Sprintf("%s.source[%d].%s", p, j, s.name), s.r})
		}
	}
	for _, s := range sides(target) {
		parts = append(parts, conePart{fmt.Sprintf("%s.target.%s", p, s.name), s.r})
	}
	for j, sl := range slices {
		parts = append(parts, conePart{fmt.Sprintf("%s.slice[%d]", p, j), sl})
	}
	return parts
}

// commutes checks that the slices of a cone form a cocone from the source
// zig-zag to the target cospan.
func (c *Checker) commutes(p string, source []diagram.Cospan, target diagram.Cospan, slices []diagram.Rewrite) []Malformation {
	st := c.st
	fail := func(msg string) []Malformation {
		return []Malformation{{Kind: KindCommutativity, Path: p, Message: msg}}
	}

	m := len(source)
	if m == 0 {
		if target.Forward != target.Backward {
			return fail("empty cone must target a level whose rewrites coincide")
		}
		return nil
	}

	first, err := st.Compose(source[0].Forward, slices[0])
	if err != nil {
		return fail("first slice: " + err.Error())
	}
	if first != target.Forward {
		return fail("first slice does not commute with the target forward rewrite")
	}
	for j := 0; j+1 < m; j++ {
		left, err := st.Compose(source[j].Backward, slices[j])
		if err != nil {
			return fail(fmt.Sprintf("slice %d: %v", j, err))
		}
		right, err := st.Compose(source[j+1].Forward, slices[j+1])
		if err != nil {
			return fail(fmt.Sprintf("slice %d: %v", j+1, err))
		}
		if left != right {
			return fail(fmt.Sprintf("slices %d and %d disagree on the regular slice between them", j, j+1))
		}
	}
	last, err := st.Compose(source[m-1].Backward, slices[m-1])
	if err != nil {
		return fail("last slice: " + err.Error())
	}
	if last != target.Backward {
		return fail("last slice does not commute with the target backward rewrite")
	}
	return nil
}
