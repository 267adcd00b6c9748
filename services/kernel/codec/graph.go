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
	"cmp"
	"slices"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/intern"
)

// graph is the encoded form of one diagram.
type graph struct {
	root    Key
	entries []*entry
}

// -----------------------------------------------------------------------------
// Handles to entries
// -----------------------------------------------------------------------------

type itemTag uint8

const (
	tagDiagram itemTag = iota
	tagRewrite
	tagCone
)

type item struct {
	tag   itemTag
	d     diagram.Diagram
	r     diagram.Rewrite
	c     diagram.Cone
	ready bool
}

// walker assigns Merkle keys to handles, children first.
type walker struct {
	st       *diagram.Store
	diagrams map[diagram.Diagram]Key
	rewrites map[diagram.Rewrite]Key
	cones    map[intern.Handle]Key
	byKey    map[Key]*entry
	scratch  []byte
}

func (c *Codec) graph(d diagram.Diagram) *graph {
	w := &walker{
		st:       c.st,
		diagrams: make(map[diagram.Diagram]Key),
		rewrites: make(map[diagram.Rewrite]Key),
		cones:    make(map[intern.Handle]Key),
		byKey:    make(map[Key]*entry),
	}
	w.walk(d)

	entries := make([]*entry, 0, len(w.byKey))
	for _, e := range w.byKey {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		if n := cmp.Compare(a.height, b.height); n != 0 {
			return n
		}
		return cmp.Compare(a.key, b.key)
	})
	return &graph{root: w.diagrams[d], entries: entries}
}

func (w *walker) done(it item) bool {
	var ok bool
	switch it.tag {
	case tagDiagram:
		_, ok = w.diagrams[it.d]
	case tagRewrite:
		_, ok = w.rewrites[it.r]
	case tagCone:
		_, ok = w.cones[it.c.Ref()]
	}
	return ok
}

func (w *walker) walk(root diagram.Diagram) {
	st := w.st
	stack := []item{{tag: tagDiagram, d: root}}
	for len(stack) > 0 {
		top := len(stack) - 1
		it := stack[top]
		if w.done(it) {
			stack = stack[:top]
			continue
		}
		if it.ready {
			stack = stack[:top]
			w.emit(it)
			continue
		}
		stack[top].ready = true

		switch it.tag {
		case tagDiagram:
			if st.Dim(it.d) == 0 {
				continue
			}
			stack = append(stack, item{tag: tagDiagram, d: st.Source(it.d)})
			for _, cs := range st.Cospans(it.d) {
				stack = append(stack, item{tag: tagRewrite, r: cs.Forward}, item{tag: tagRewrite, r: cs.Backward})
			}
		case tagRewrite:
			for _, c := range st.Cones(it.r) {
				stack = append(stack, item{tag: tagCone, c: c})
			}
		case tagCone:
			for _, cs := range st.ConeSource(it.c) {
				stack = append(stack, item{tag: tagRewrite, r: cs.Forward}, item{tag: tagRewrite, r: cs.Backward})
			}
			target := st.ConeTarget(it.c)
			stack = append(stack, item{tag: tagRewrite, r: target.Forward}, item{tag: tagRewrite, r: target.Backward})
			for _, s := range st.ConeSlices(it.c) {
				stack = append(stack, item{tag: tagRewrite, r: s})
			}
		}
	}
}

func (w *walker) pair(cs diagram.Cospan) keyPair {
	return keyPair{w.rewrites[cs.Forward], w.rewrites[cs.Backward]}
}

// emit builds the entry of an item whose children all have keys.
func (w *walker) emit(it item) {
	st := w.st
	e := &entry{}
	switch it.tag {
	case tagDiagram:
		if g, ok := st.Generator(it.d); ok {
			e.kind = kindPoint
			e.gen = g
			break
		}
		e.kind = kindDiagram
		e.dim = uint32(st.Dim(it.d))
		e.source = w.diagrams[st.Source(it.d)]
		for _, cs := range st.Cospans(it.d) {
			e.cospans = append(e.cospans, w.pair(cs))
		}
	case tagRewrite:
		dim := st.RewriteDim(it.r)
		switch src, tgt, atomic := st.AtomOf(it.r); {
		case st.IsIdentity(it.r):
			e.kind = kindIdentity
			e.dim = uint32(dim)
		case atomic:
			e.kind = kindAtom
			e.gen, e.tgt = src, tgt
		default:
			e.kind = kindRewrite
			e.dim = uint32(dim)
			for _, c := range st.Cones(it.r) {
				e.cones = append(e.cones, coneRef{index: uint32(c.Index), cone: w.cones[c.Ref()]})
			}
		}
	case tagCone:
		e.kind = kindCone
		for _, cs := range st.ConeSource(it.c) {
			e.cospans = append(e.cospans, w.pair(cs))
		}
		e.target = w.pair(st.ConeTarget(it.c))
		for _, s := range st.ConeSlices(it.c) {
			e.slices = append(e.slices, w.rewrites[s])
		}
	}

	e.key, w.scratch = merkleKey(e, w.scratch)
	for _, child := range e.children() {
		if h := w.byKey[child].height + 1; h > e.height {
			e.height = h
		}
	}
	if _, ok := w.byKey[e.key]; !ok {
		w.byKey[e.key] = e
	}

	switch it.tag {
	case tagDiagram:
		w.diagrams[it.d] = e.key
	case tagRewrite:
		w.rewrites[it.r] = e.key
	case tagCone:
		w.cones[it.c.Ref()] = e.key
	}
}

// -----------------------------------------------------------------------------
// Entries to handles
// -----------------------------------------------------------------------------

type decodedCone struct {
	dim    int
	source []diagram.Cospan
	target diagram.Cospan
	slices []diagram.Rewrite
}

type builder struct {
	st       *diagram.Store
	byKey    map[Key]*entry
	diagrams map[Key]diagram.Diagram
	rewrites map[Key]diagram.Rewrite
	cones    map[Key]decodedCone
}

const (
	unvisited uint8 = iota
	visiting
	finished
)

type frame struct {
	key      Key
	expanded bool
}

// build rebuilds the handle graph below g.root.
//
// Description:
//
//	Depth-first with an explicit stack, so nesting depth is bounded only by
//	memory. Entries on the current path are marked, which turns a cycle
//	into an error instead of endless work. Every reference must name an
//	entry of the right category and dimension; everything else is left to
//	the checker.
func (c *Codec) build(g *graph) (diagram.Diagram, error) {
	b := &builder{
		st:       c.st,
		byKey:    make(map[Key]*entry, len(g.entries)),
		diagrams: make(map[Key]diagram.Diagram),
		rewrites: make(map[Key]diagram.Rewrite),
		cones:    make(map[Key]decodedCone),
	}
	for _, e := range g.entries {
		if _, dup := b.byKey[e.key]; dup {
			return diagram.Diagram{}, malformed(-1, "duplicate entry %s", e.key)
		}
		b.byKey[e.key] = e
	}
	root, ok := b.byKey[g.root]
	if !ok {
		return diagram.Diagram{}, malformed(-1, "root %s has no entry", g.root)
	}
	if !root.kind.isDiagram() {
		return diagram.Diagram{}, malformed(-1, "root %s is a %s, not a diagram", g.root, root.kind)
	}

	state := make(map[Key]uint8, len(g.entries))
	stack := []frame{{key: g.root}}
	for len(stack) > 0 {
		top := len(stack) - 1
		f := stack[top]
		if state[f.key] == finished {
			stack = stack[:top]
			continue
		}
		e := b.byKey[f.key]
		if f.expanded {
			if err := b.make(e); err != nil {
				return diagram.Diagram{}, err
			}
			state[f.key] = finished
			stack = stack[:top]
			continue
		}

		stack[top].expanded = true
		state[f.key] = visiting
		for _, child := range e.children() {
			if _, ok := b.byKey[child]; !ok {
				return diagram.Diagram{}, malformed(-1, "%s %s refers to missing entry %s", e.kind, e.key, child)
			}
			switch state[child] {
			case visiting:
				return diagram.Diagram{}, malformed(-1, "cycle through entry %s", child)
			case unvisited:
				stack = append(stack, frame{key: child})
			}
		}
	}

	if len(state) != len(b.byKey) {
		return diagram.Diagram{}, malformed(-1, "%d entries are not reachable from the root", len(b.byKey)-len(state))
	}
	return b.diagrams[g.root], nil
}

func (b *builder) diagram(e *entry, k Key) (diagram.Diagram, error) {
	d, ok := b.diagrams[k]
	if !ok {
		return diagram.Diagram{}, malformed(-1, "%s %s refers to %s, which is not a diagram", e.kind, e.key, k)
	}
	return d, nil
}

func (b *builder) rewrite(e *entry, k Key, dim int) (diagram.Rewrite, error) {
	r, ok := b.rewrites[k]
	if !ok {
		return diagram.Rewrite{}, malformed(-1, "%s %s refers to %s, which is not a rewrite", e.kind, e.key, k)
	}
	if got := b.st.RewriteDim(r); got != dim {
		return diagram.Rewrite{}, malformed(-1, "%s %s refers to a rewrite of dimension %d, expected %d", e.kind, e.key, got, dim)
	}
	return r, nil
}

func (b *builder) cospan(e *entry, p keyPair, dim int) (diagram.Cospan, error) {
	f, err := b.rewrite(e, p[0], dim)
	if err != nil {
		return diagram.Cospan{}, err
	}
	g, err := b.rewrite(e, p[1], dim)
	if err != nil {
		return diagram.Cospan{}, err
	}
	return diagram.Cospan{Forward: f, Backward: g}, nil
}

// make interns the handle of an entry whose children are built.
func (b *builder) make(e *entry) error {
	st := b.st
	switch e.kind {
	case kindPoint:
		b.diagrams[e.key] = st.Point(e.gen)

	case kindDiagram:
		source, err := b.diagram(e, e.source)
		if err != nil {
			return err
		}
		if int(e.dim) != st.Dim(source)+1 {
			return malformed(-1, "diagram %s has dimension %d over a source of dimension %d", e.key, e.dim, st.Dim(source))
		}
		cospans := make([]diagram.Cospan, len(e.cospans))
		for i, p := range e.cospans {
			if cospans[i], err = b.cospan(e, p, int(e.dim)-1); err != nil {
				return err
			}
		}
		b.diagrams[e.key] = st.NewDiagram(source, cospans)

	case kindIdentity:
		b.rewrites[e.key] = st.IdentityRewrite(int(e.dim))

	case kindAtom:
		if e.gen == e.tgt {
			return malformed(-1, "atom %s has equal endpoints", e.key)
		}
		b.rewrites[e.key] = st.Atom(e.gen, e.tgt)

	case kindRewrite:
		if e.dim == 0 || len(e.cones) == 0 {
			return malformed(-1, "rewrite %s of dimension %d with %d cones", e.key, e.dim, len(e.cones))
		}
		cones := make([]diagram.Cone, len(e.cones))
		for i, ref := range e.cones {
			dc, ok := b.cones[ref.cone]
			if !ok {
				return malformed(-1, "rewrite %s refers to %s, which is not a cone", e.key, ref.cone)
			}
			if dc.dim != int(e.dim)-1 {
				return malformed(-1, "rewrite %s of dimension %d holds a cone of dimension %d", e.key, e.dim, dc.dim)
			}
			cones[i] = st.NewCone(int(ref.index), dc.source, dc.target, dc.slices)
		}
		b.rewrites[e.key] = st.NewRewrite(int(e.dim), cones)

	case kindCone:
		first, ok := b.rewrites[e.target[0]]
		if !ok {
			return malformed(-1, "cone %s refers to %s, which is not a rewrite", e.key, e.target[0])
		}
		dim := st.RewriteDim(first)
		target, err := b.cospan(e, e.target, dim)
		if err != nil {
			return err
		}
		dc := decodedCone{dim: dim, target: target}
		for _, p := range e.cospans {
			cs, err := b.cospan(e, p, dim)
			if err != nil {
				return err
			}
			dc.source = append(dc.source, cs)
		}
		for _, k := range e.slices {
			r, err := b.rewrite(e, k, dim)
			if err != nil {
				return err
			}
			dc.slices = append(dc.slices, r)
		}
		b.cones[e.key] = dc

	default:
		return malformed(-1, "unknown entry kind %d", uint8(e.kind))
	}
	return nil
}
