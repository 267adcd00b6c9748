// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize computes canonical representatives of diagrams.
//
// Two diagrams are equivalent when they differ only by removable levels:
// levels whose forward and backward rewrites coincide and introduce no
// cell of the diagram's own dimension. Removable levels are stripped at
// every dimension, from the source and the slices upwards, so equivalent
// diagrams share one handle.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// ErrNotRemovable is returned by Smooth for a level that carries content.
var ErrNotRemovable = errors.New("level is not removable")

// Result is a normal form.
type Result struct {
	// Diagram is the normal form.
	Diagram diagram.Diagram

	// Degeneracy maps the normal form onto the input by re-inserting the
	// removed levels. It is zero when Lowered is set.
	Degeneracy diagram.Rewrite

	// Sink holds the sink rewrites factored through Degeneracy.
	Sink []diagram.Rewrite

	// Lowered is set when levels were removed below the top dimension.
	// The normal form then has a different boundary from the input and no
	// single rewrite relates the two.
	Lowered bool
}

// Stats reports cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	ShortCircuits uint64
	Entries       int
}

type memoKey struct {
	d    diagram.Diagram
	sink string
}

// Normalizer memoizes normal forms per diagram and sink.
//
// Thread Safety:
//
//	Not safe for concurrent use; owned by the same owner as the store.
type Normalizer struct {
	st      *diagram.Store
	checker *check.Checker
	logger  *slog.Logger
	memo    map[memoKey]Result
	inert   map[inertKey]bool
	forms   map[diagram.Diagram]*form
	stats   Stats
}

// form is the recursive normal form of one diagram.
type form struct {
	normal diagram.Diagram

	// keep maps each level of the input to its position in normal, or -1
	// when the level was removed.
	keep []int

	// lowered is set when something below the top dimension changed.
	lowered bool
	ok      bool
}

type inertKey struct {
	r   diagram.Rewrite
	dim int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithChecker shares a checker, so verified handles are not checked twice.
func WithChecker(c *check.Checker) Option {
	return func(n *Normalizer) {
		if c != nil {
			n.checker = c
		}
	}
}

// New creates a normalizer for st.
func New(st *diagram.Store, opts ...Option) *Normalizer {
	n := &Normalizer{
		st:     st,
		logger: slog.Default(),
		memo:   make(map[memoKey]Result),
		inert:  make(map[inertKey]bool),
		forms:  make(map[diagram.Diagram]*form),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.checker == nil {
		n.checker = check.New(st)
	}
	return n
}

// Normalize returns the normal form of d.
func (n *Normalizer) Normalize(d diagram.Diagram) Result {
	return n.NormalizeWithSink(d, nil)
}

// NormalizeWithSink returns the normal form of d relative to sink.
//
// Description:
//
//	Without a sink, the source and every slice are normalized first and
//	each level's rewrites are carried across to the normalized slices
//	before removable levels are stripped. When that changes anything below
//	the top dimension the result is Lowered. When a rewrite cannot be
//	carried across, only the top dimension is normalized.
//
//	Every sink rewrite starts at d, so with a sink only top-level levels
//	are removed. A removable level stays when some sink rewrite sees it on
//	its own, outside a cone that merges it with other levels. An identity
//	rewrite in the sink sees every level, so d is returned unchanged
//	without inspecting its levels. The result and the normal form's own
//	entry are memoized; cache entries hold references on their handles
//	until Purge.
func (n *Normalizer) NormalizeWithSink(d diagram.Diagram, sink []diagram.Rewrite) Result {
	key := memoKey{d: d, sink: sinkKey(sink)}
	if res, ok := n.memo[key]; ok {
		n.stats.Hits++
		return res
	}
	n.stats.Misses++

	st := n.st
	dim := st.Dim(d)
	if dim == 0 || n.hasIdentity(sink) {
		if dim > 0 {
			n.stats.ShortCircuits++
		}
		res := Result{Diagram: d, Degeneracy: st.IdentityRewrite(dim), Sink: cloneSink(sink)}
		n.store(key, res)
		return res
	}

	if len(sink) == 0 {
		if f := n.form(d); f.ok && f.lowered {
			err := n.checker.Diagram(f.normal)
			if err == nil {
				res := Result{Diagram: f.normal, Lowered: true}
				n.store(key, res)
				n.store(memoKey{d: f.normal}, Result{Diagram: f.normal, Degeneracy: st.IdentityRewrite(dim)})
				n.logger.Debug("normalized below the top dimension",
					slog.String("input", d.String()),
					slog.String("normal", f.normal.String()))
				return res
			}
			n.logger.Debug("lowered form rejected", slog.String("input", d.String()), slog.String("error", err.Error()))
		}
	}

	cospans := st.Cospans(d)
	kept := make([]diagram.Cospan, 0, len(cospans))
	var inserts []diagram.Cone
	for i, cs := range cospans {
		if n.removable(cs, dim) && n.mergedInSink(sink, i) {
			inserts = append(inserts, st.NewCone(len(kept), nil, cs, nil))
			continue
		}
		kept = append(kept, cs)
	}
	if len(inserts) == 0 {
		res := Result{Diagram: d, Degeneracy: st.IdentityRewrite(dim), Sink: cloneSink(sink)}
		n.store(key, res)
		return res
	}

	normal := st.NewDiagram(st.Source(d), kept)
	degeneracy := st.NewRewrite(dim, inserts)
	factored := make([]diagram.Rewrite, len(sink))
	for k, s := range sink {
		f, err := st.Compose(degeneracy, s)
		if err != nil {
			// The sink does not start at d; keep the diagram as it is.
			n.logger.Debug("sink does not compose with degeneracy", slog.Int("index", k), slog.String("error", err.Error()))
			res := Result{Diagram: d, Degeneracy: st.IdentityRewrite(dim), Sink: cloneSink(sink)}
			n.store(key, res)
			return res
		}
		factored[k] = f
	}

	res := Result{Diagram: normal, Degeneracy: degeneracy, Sink: factored}
	n.store(key, res)
	n.store(memoKey{d: normal, sink: sinkKey(factored)}, Result{
		Diagram:    normal,
		Degeneracy: st.IdentityRewrite(dim),
		Sink:       cloneSink(factored),
	})
	n.logger.Debug("normalized",
		slog.String("input", d.String()),
		slog.String("normal", normal.String()),
		slog.Int("removed", len(inserts)))
	return res
}

// Smooth removes one removable level of d and returns the smaller diagram
// together with the rewrite re-inserting the level.
func (n *Normalizer) Smooth(d diagram.Diagram, level int) (diagram.Diagram, diagram.Rewrite, error) {
	st := n.st
	dim := st.Dim(d)
	if dim == 0 || level < 0 || level >= st.Size(d) {
		return diagram.Diagram{}, diagram.Rewrite{}, fmt.Errorf("%w: level %d does not exist", ErrNotRemovable, level)
	}
	cs := st.Cospan(d, level)
	if !n.removable(cs, dim) {
		return diagram.Diagram{}, diagram.Rewrite{}, fmt.Errorf("%w: level %d carries %d-dimensional content", ErrNotRemovable, level, dim)
	}
	cospans := st.Cospans(d)
	smoothed := st.NewDiagram(st.Source(d), append(cospans[:level:level], cospans[level+1:]...))
	return smoothed, st.NewRewrite(dim, []diagram.Cone{st.NewCone(level, nil, cs, nil)}), nil
}

// Equivalent reports whether a and b have the same normal form.
func (n *Normalizer) Equivalent(a, b diagram.Diagram) bool {
	return n.Normalize(a).Diagram == n.Normalize(b).Diagram
}

// Commutes reports whether two composable paths of rewrites agree.
func (n *Normalizer) Commutes(p, q []diagram.Rewrite) (bool, error) {
	cp, err := n.st.ComposeAll(p)
	if err != nil {
		return false, err
	}
	cq, err := n.st.ComposeAll(q)
	if err != nil {
		return false, err
	}
	return cp == cq, nil
}

// Stats returns the cache counters.
func (n *Normalizer) Stats() Stats {
	s := n.stats
	s.Entries = len(n.memo)
	return s
}

// Purge empties the cache and releases the handles it held.
func (n *Normalizer) Purge() {
	for key, res := range n.memo {
		n.release(key, res)
	}
	for x, f := range n.forms {
		n.st.ReleaseDiagram(x)
		if f.ok {
			n.st.ReleaseDiagram(f.normal)
		}
	}
	n.memo = make(map[memoKey]Result)
	n.inert = make(map[inertKey]bool)
	n.forms = make(map[diagram.Diagram]*form)
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (n *Normalizer) store(key memoKey, res Result) {
	if _, ok := n.memo[key]; ok {
		return
	}
	st := n.st
	st.RetainDiagram(key.d)
	st.RetainDiagram(res.Diagram)
	if !res.Degeneracy.IsZero() {
		st.RetainRewrite(res.Degeneracy)
	}
	for _, s := range res.Sink {
		st.RetainRewrite(s)
	}
	n.memo[key] = res
}

func (n *Normalizer) release(key memoKey, res Result) {
	st := n.st
	st.ReleaseDiagram(key.d)
	st.ReleaseDiagram(res.Diagram)
	if !res.Degeneracy.IsZero() {
		st.ReleaseRewrite(res.Degeneracy)
	}
	for _, s := range res.Sink {
		st.ReleaseRewrite(s)
	}
}

func (n *Normalizer) hasIdentity(sink []diagram.Rewrite) bool {
	for _, s := range sink {
		if n.st.IsIdentity(s) {
			return true
		}
	}
	return false
}

// removable reports whether a level does nothing up to equivalence.
func (n *Normalizer) removable(cs diagram.Cospan, dim int) bool {
	return cs.Forward == cs.Backward && n.contentFree(cs.Forward, dim)
}

// contentFree reports whether r reaches no generator of dimension dim or
// higher.
func (n *Normalizer) contentFree(r diagram.Rewrite, dim int) bool {
	key := inertKey{r: r, dim: dim}
	if v, ok := n.inert[key]; ok {
		return v
	}
	st := n.st
	free := true
	if st.RewriteDim(r) == 0 {
		if _, tgt, ok := st.AtomOf(r); ok && int(tgt.Dim) >= dim {
			free = false
		}
	} else {
	cones:
		for _, c := range st.Cones(r) {
			target := st.ConeTarget(c)
			parts := append([]diagram.Rewrite{target.Forward, target.Backward}, st.ConeSlices(c)...)
			for _, p := range parts {
				if !n.contentFree(p, dim) {
					free = false
					break cones
				}
			}
		}
	}
	n.inert[key] = free
	return free
}

// form returns the recursive normal form of x.
func (n *Normalizer) form(x diagram.Diagram) *form {
	if f, ok := n.forms[x]; ok {
		return f
	}
	f := &form{}
	if n.st.Dim(x) == 0 {
		f.normal, f.ok = x, true
	} else {
		n.buildForm(x, f)
	}
	n.forms[x] = f
	n.st.RetainDiagram(x)
	if f.ok {
		n.st.RetainDiagram(f.normal)
	}
	return f
}

func (n *Normalizer) buildForm(x diagram.Diagram, f *form) {
	st := n.st
	dim := st.Dim(x)
	regular, singular, err := st.Slices(x)
	if err != nil {
		return
	}
	src := n.form(regular[0])
	if !src.ok {
		return
	}
	lowered := src.normal != regular[0]

	cospans := st.Cospans(x)
	keep := make([]int, len(cospans))
	levels := make([]diagram.Cospan, 0, len(cospans))
	for i, cs := range cospans {
		keep[i] = -1
		if n.removable(cs, dim) {
			continue
		}
		fwd, ok := n.lift(cs.Forward, regular[i], singular[i])
		if !ok {
			return
		}
		bwd, ok := n.lift(cs.Backward, regular[i+1], singular[i])
		if !ok {
			return
		}
		lifted := diagram.Cospan{Forward: fwd, Backward: bwd}
		if lifted != cs {
			lowered = true
		}
		if n.removable(lifted, dim) {
			continue
		}
		keep[i] = len(levels)
		levels = append(levels, lifted)
	}
	f.normal = st.NewDiagram(src.normal, levels)
	f.keep = keep
	f.lowered = lowered
	f.ok = true
}

// lift carries r, a rewrite from x to y, across to the normal forms of x
// and y. Cones whose levels were all removed are dropped; cones keep only
// the sources that survived.
func (n *Normalizer) lift(r diagram.Rewrite, x, y diagram.Diagram) (diagram.Rewrite, bool) {
	st := n.st
	dim := st.RewriteDim(r)
	if dim == 0 {
		return r, true
	}
	fx, fy := n.form(x), n.form(y)
	if !fx.ok || !fy.ok {
		return diagram.Rewrite{}, false
	}
	if fx.normal == x && fy.normal == y {
		return r, true
	}
	_, xs, err := st.Slices(x)
	if err != nil {
		return diagram.Rewrite{}, false
	}
	_, ys, err := st.Slices(y)
	if err != nil {
		return diagram.Rewrite{}, false
	}
	xc, yc := st.Cospans(fx.normal), st.Cospans(fy.normal)

	// p walks the levels of x; shift is how many more levels of x than of
	// y the cones so far consumed; kept counts surviving levels of x
	// before p.
	p, shift, kept := 0, 0, 0
	untouched := func(to int) bool {
		for ; p < to; p++ {
			q := p - shift
			if q < 0 || q >= len(fy.keep) || (fx.keep[p] < 0) != (fy.keep[q] < 0) {
				return false
			}
			if fx.keep[p] >= 0 {
				kept++
			}
		}
		return true
	}

	var cones []diagram.Cone
	for _, c := range st.Cones(r) {
		lo, length := c.Index, st.ConeLen(c)
		if lo < p || lo+length > len(fx.keep) || !untouched(lo) {
			return diagram.Rewrite{}, false
		}
		t := lo - shift
		if t < 0 || t >= len(fy.keep) {
			return diagram.Rewrite{}, false
		}
		if fy.keep[t] < 0 {
			for j := 0; j < length; j++ {
				if fx.keep[lo+j] >= 0 {
					return diagram.Rewrite{}, false
				}
			}
		} else {
			slices := st.ConeSlices(c)
			if len(slices) != length {
				return diagram.Rewrite{}, false
			}
			index := kept
			var source []diagram.Cospan
			var lifted []diagram.Rewrite
			for j := 0; j < length; j++ {
				k := fx.keep[lo+j]
				if k < 0 {
					continue
				}
				s, ok := n.lift(slices[j], xs[lo+j], ys[t])
				if !ok {
					return diagram.Rewrite{}, false
				}
				source = append(source, xc[k])
				lifted = append(lifted, s)
				kept++
			}
			target := yc[fy.keep[t]]
			if len(source) == 0 && target.Forward != target.Backward {
				return diagram.Rewrite{}, false
			}
			cones = append(cones, st.NewCone(index, source, target, lifted))
		}
		p = lo + length
		shift += length - 1
	}
	if !untouched(len(fx.keep)) || len(fx.keep)-shift != len(fy.keep) {
		return diagram.Rewrite{}, false
	}

	out := st.NewRewrite(dim, cones)
	got, err := st.RewriteForward(fx.normal, out)
	if err != nil || got != fy.normal {
		return diagram.Rewrite{}, false
	}
	return out, true
}

// mergedInSink reports whether every sink rewrite folds level i into a
// cone together with other levels.
func (n *Normalizer) mergedInSink(sink []diagram.Rewrite, i int) bool {
	st := n.st
	for _, s := range sink {
		inside := false
		for _, c := range st.Cones(s) {
			if c.Index <= i && i < c.Index+st.ConeLen(c) {
				inside = st.ConeLen(c) >= 2
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

func sinkKey(sink []diagram.Rewrite) string {
	if len(sink) == 0 {
		return ""
	}
	var b strings.Builder
	buf := make([]byte, 0, 8)
	for _, s := range sink {
		buf = s.Handle().AppendKey(buf[:0])
		b.Write(buf)
	}
	return b.String()
}

func cloneSink(sink []diagram.Rewrite) []diagram.Rewrite {
	if len(sink) == 0 {
		return nil
	}
	return append([]diagram.Rewrite(nil), sink...)
}
