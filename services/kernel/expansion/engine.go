// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expansion unfolds one singular level of a diagram into two.
//
// It is the partial inverse of contraction: the part of a level addressed
// by a path is separated from the rest, and the level's rewrites are
// lifted through the separation by factorization.
package expansion

import (
	"errors"
	"log/slog"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// DefaultMaxCandidates bounds the factorization candidates tried per
// expansion.
const DefaultMaxCandidates = 4096

// Config configures an Engine.
type Config struct {
	// MaxCandidates limits assembled factorization candidates per call.
	MaxCandidates int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxCandidates: DefaultMaxCandidates}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		e.config = c
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithChecker shares a checker with the caller.
func WithChecker(c *check.Checker) Option {
	return func(e *Engine) {
		if c != nil {
			e.checker = c
		}
	}
}

// Stats counts engine work.
type Stats struct {
	Expansions uint64
	Failures   uint64
	Candidates uint64
}

// Result is a successful expansion.
type Result struct {
	// Diagram has one more level than the input.
	Diagram diagram.Diagram

	// Rewrite contracts Diagram back onto the input.
	Rewrite diagram.Rewrite
}

// Engine computes expansions in one store.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Engine struct {
	st      *diagram.Store
	checker *check.Checker
	config  Config
	logger  *slog.Logger
	stats   Stats
	budget  int
}

// New creates an engine for st.
func New(st *diagram.Store, opts ...Option) *Engine {
	e := &Engine{
		st:     st,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.checker == nil {
		e.checker = check.New(st)
	}
	return e
}

// Stats returns the work counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Expand unfolds the level of d addressed by path.
func (e *Engine) Expand(d diagram.Diagram, path []int, dir diagram.Direction) (diagram.Diagram, error) {
	res, err := e.ExpandWithRewrite(d, path, dir)
	if err != nil {
		return diagram.Diagram{}, err
	}
	return res.Diagram, nil
}

// ExpandWithRewrite unfolds the level of d addressed by path.
//
// Description:
//
//	path[0] is a singular height of d and path[1] a singular height of
//	that slice; further entries descend into deeper slices. The addressed
//	part is split off into its own level, placed before the rest of the
//	level for Forward and after it for Backward.
//
// Outputs:
//
//	Result - The expanded diagram and the rewrite contracting it back.
//	error - *ExpansionError wrapping ErrNoValidExpansion.
func (e *Engine) ExpandWithRewrite(d diagram.Diagram, path []int, dir diagram.Direction) (Result, error) {
	e.stats.Expansions++
	e.budget = e.config.MaxCandidates
	res, err := e.expand(d, path, dir)
	if err == nil {
		err = e.checker.Diagram(res.Diagram)
		if err != nil {
			err = noExpansion(path, "expanded diagram is malformed: %v", err)
		}
	}
	if err != nil {
		e.stats.Failures++
		e.logger.Debug("expansion failed",
			slog.Any("path", path),
			slog.String("direction", dir.String()),
			slog.String("error", err.Error()))
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) expand(d diagram.Diagram, path []int, dir diagram.Direction) (Result, error) {
	st := e.st
	if len(path) < 2 {
		return Result{}, noExpansion(path, "path needs a level and a height inside it")
	}
	n := st.Dim(d)
	if n < len(path) {
		return Result{}, noExpansion(path, "path is deeper than the %d-diagram", n)
	}
	h := path[0]
	if h < 0 || h >= st.Size(d) {
		return Result{}, noExpansion(path, "level %d outside 0..%d", h, st.Size(d)-1)
	}
	if len(path) == 2 {
		return e.split(d, path, dir)
	}

	_, singular, err := st.Slices(d)
	if err != nil {
		return Result{}, noExpansion(path, "%v", err)
	}
	inner, err := e.expand(singular[h], path[1:], dir)
	if err != nil {
		return Result{}, noExpansion(path, "%s", reason(err))
	}
	if err := e.checker.Diagram(inner.Diagram); err != nil {
		return Result{}, noExpansion(path, "expanded slice is malformed")
	}

	regular, _, err := st.Slices(d)
	if err != nil {
		return Result{}, noExpansion(path, "%v", err)
	}
	cs := st.Cospan(d, h)
	forward, err := e.factorize(regular[h], inner.Diagram, cs.Forward, inner.Rewrite)
	if err != nil {
		return Result{}, noExpansion(path, "forward rewrite does not factor through the expansion")
	}
	backward, err := e.factorize(regular[h+1], inner.Diagram, cs.Backward, inner.Rewrite)
	if err != nil {
		return Result{}, noExpansion(path, "backward rewrite does not factor through the expansion")
	}

	level := diagram.Cospan{Forward: forward, Backward: backward}
	out := replaceLevel(st, d, h, level)
	cone := st.NewCone(h, []diagram.Cospan{level}, cs, []diagram.Rewrite{inner.Rewrite})
	return Result{Diagram: out, Rewrite: st.NewRewrite(n, []diagram.Cone{cone})}, nil
}

// -----------------------------------------------------------------------------
// Base case
// -----------------------------------------------------------------------------

// part locates the source range of a rewrite that lands on one singular
// height of its target.
type part struct {
	lo, hi int
	cone   diagram.Cone
	ok     bool
}

func reason(err error) string {
	var ee *ExpansionError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return err.Error()
}

func locate(st *diagram.Store, r diagram.Rewrite, i int) part {
	cones := st.Cones(r)
	targets := st.ConeTargetHeights(r)
	shift := 0
	for k, c := range cones {
		switch {
		case targets[k] == i:
			return part{lo: c.Index, hi: c.Index + st.ConeLen(c), cone: c, ok: true}
		case targets[k] > i:
			return part{lo: i + shift, hi: i + shift + 1}
		}
		shift += st.ConeLen(c) - 1
	}
	return part{lo: i + shift, hi: i + shift + 1}
}

// others returns the cones of r except the one over height i; cones beyond
// it move by delta.
func others(st *diagram.Store, r diagram.Rewrite, i, delta int) []diagram.Cone {
	cones := st.Cones(r)
	targets := st.ConeTargetHeights(r)
	out := make([]diagram.Cone, 0, len(cones))
	for k, c := range cones {
		switch {
		case targets[k] < i:
			out = append(out, c)
		case targets[k] > i:
			out = append(out, c.WithIndex(c.Index+delta))
		}
	}
	return out
}

// single returns the part of r over height i as a cone placed at index.
func single(st *diagram.Store, r diagram.Rewrite, p part, source []diagram.Cospan, target diagram.Cospan, index int) diagram.Cone {
	if p.ok {
		return p.cone.WithIndex(index)
	}
	return st.NewCone(index, source[p.lo:p.hi], target, []diagram.Rewrite{st.IdentityRewrite(st.RewriteDim(r) - 1)})
}

func splice(parts ...[]diagram.Cospan) []diagram.Cospan {
	var out []diagram.Cospan
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func replaceLevel(st *diagram.Store, d diagram.Diagram, h int, levels ...diagram.Cospan) diagram.Diagram {
	cospans := st.Cospans(d)
	return st.NewDiagram(st.Source(d), splice(cospans[:h], levels, cospans[h+1:]))
}

// split separates height path[1] of the singular slice at level path[0].
func (e *Engine) split(d diagram.Diagram, path []int, dir diagram.Direction) (Result, error) {
	st := e.st
	n := st.Dim(d)
	h, i := path[0], path[1]

	regular, singular, err := st.Slices(d)
	if err != nil {
		return Result{}, noExpansion(path, "%v", err)
	}
	s := singular[h]
	if i < 0 || i >= st.Size(s) {
		return Result{}, noExpansion(path, "height %d outside the singular slice of level %d", i, h)
	}
	cs := st.Cospan(d, h)
	f, g := cs.Forward, cs.Backward
	fp, gp := locate(st, f, i), locate(st, g, i)
	if !fp.ok && !gp.ok {
		return Result{}, noExpansion(path, "nothing happens at height %d", i)
	}

	r0, r1 := st.Cospans(regular[h]), st.Cospans(regular[h+1])
	sc := st.Cospans(s)
	target := sc[i]
	dim := n - 1

	var first, second diagram.Cospan
	var low, high diagram.Rewrite
	if dir == diagram.Forward {
		// The addressed part happens first. The regular slice between the
		// two new levels is r0 with [fp.lo, fp.hi) replaced by r1[gp.lo:gp.hi].
		first = diagram.Cospan{
			Forward:  st.NewRewrite(dim, []diagram.Cone{single(st, f, fp, r0, target, fp.lo)}),
			Backward: st.NewRewrite(dim, []diagram.Cone{single(st, g, gp, r1, target, fp.lo)}),
		}
		second = diagram.Cospan{
			Forward:  st.NewRewrite(dim, others(st, f, i, (gp.hi-gp.lo)-(fp.hi-fp.lo))),
			Backward: st.NewRewrite(dim, others(st, g, i, 0)),
		}
		low = st.NewRewrite(dim, others(st, f, i, 1-(fp.hi-fp.lo)))
		high = st.NewRewrite(dim, []diagram.Cone{single(st, g, gp, r1, target, i)})
		if st.IsIdentity(second.Forward) && st.IsIdentity(second.Backward) {
			return Result{}, noExpansion(path, "nothing remains at level %d besides height %d", h, i)
		}
	} else {
		// The addressed part happens last. The regular slice between the
		// two new levels is r1 with [gp.lo, gp.hi) replaced by r0[fp.lo:fp.hi].
		first = diagram.Cospan{
			Forward:  st.NewRewrite(dim, others(st, f, i, 0)),
			Backward: st.NewRewrite(dim, others(st, g, i, (fp.hi-fp.lo)-(gp.hi-gp.lo))),
		}
		second = diagram.Cospan{
			Forward:  st.NewRewrite(dim, []diagram.Cone{single(st, f, fp, r0, target, gp.lo)}),
			Backward: st.NewRewrite(dim, []diagram.Cone{single(st, g, gp, r1, target, gp.lo)}),
		}
		low = st.NewRewrite(dim, []diagram.Cone{single(st, f, fp, r0, target, i)})
		high = st.NewRewrite(dim, others(st, g, i, 1-(gp.hi-gp.lo)))
		if st.IsIdentity(first.Forward) && st.IsIdentity(first.Backward) {
			return Result{}, noExpansion(path, "nothing remains at level %d besides height %d", h, i)
		}
	}

	out := replaceLevel(st, d, h, first, second)
	cone := st.NewCone(h, []diagram.Cospan{first, second}, cs, []diagram.Rewrite{low, high})
	return Result{Diagram: out, Rewrite: st.NewRewrite(n, []diagram.Cone{cone})}, nil
}
