// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contraction merges two adjacent levels of a diagram into one by
// computing the colimit of the span between their singular slices.
package contraction

import (
	"errors"
	"log/slog"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// DefaultMaxHeights bounds the singular heights of one colimit problem.
const DefaultMaxHeights = 1 << 16

// Config configures an Engine.
type Config struct {
	// MaxHeights limits the singular heights merged in one colimit
	// problem. Zero means no limit.
	MaxHeights int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxHeights: DefaultMaxHeights}
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

// WithChecker shares a checker, and its cache, with the caller.
func WithChecker(c *check.Checker) Option {
	return func(e *Engine) {
		if c != nil {
			e.checker = c
		}
	}
}

// Stats counts engine work.
type Stats struct {
	Contractions uint64
	Failures     uint64
	Colimits     uint64
	Shortcuts    uint64
}

// Result is a successful contraction.
type Result struct {
	// Diagram is the contracted diagram, one level shorter.
	Diagram diagram.Diagram

	// Rewrite maps the input diagram onto Diagram.
	Rewrite diagram.Rewrite
}

// Engine computes contractions in one store.
//
// Thread Safety:
//
//	Not safe for concurrent use; owned by the same owner as the store.
type Engine struct {
	st      *diagram.Store
	checker *check.Checker
	config  Config
	logger  *slog.Logger
	stats   Stats
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

// Contract merges two adjacent levels of d and returns the contracted
// diagram.
func (e *Engine) Contract(d diagram.Diagram, height int, dir diagram.Direction, bias Bias) (diagram.Diagram, error) {
	res, err := e.ContractWithRewrite(d, height, dir, bias)
	if err != nil {
		return diagram.Diagram{}, err
	}
	return res.Diagram, nil
}

// ContractWithRewrite merges two adjacent levels of d.
//
// Description:
//
//	Forward merges levels height and height+1; Backward merges height-1
//	and height. The two singular slices and the regular slice between
//	them form a span whose colimit becomes the new singular slice. Parts
//	of the two levels that do not interact are placed side by side; parts
//	that the diagram leaves unordered are ordered by bias.
//
// Inputs:
//
//	d - A well-formed diagram of dimension at least 1.
//	height - Level index addressed by dir.
//	dir - Which neighbour merges with height.
//	bias - Tie breaker for unordered content.
//
// Outputs:
//
//	Result - The contracted diagram and the rewrite from d onto it.
//	error - *ContractionError wrapping ErrOutOfBounds or ErrFailure.
func (e *Engine) ContractWithRewrite(d diagram.Diagram, height int, dir diagram.Direction, bias Bias) (Result, error) {
	e.stats.Contractions++
	res, err := e.contract(d, height, dir, bias)
	if err != nil {
		e.stats.Failures++
		var ce *ContractionError
		if errors.As(err, &ce) && ce.Height < 0 {
			ce.Height = height
		}
		e.logger.Debug("contraction failed",
			slog.Int("height", height),
			slog.String("direction", dir.String()),
			slog.String("bias", bias.String()),
			slog.String("error", err.Error()))
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) contract(d diagram.Diagram, height int, dir diagram.Direction, bias Bias) (Result, error) {
	st := e.st
	n := st.Dim(d)
	size := 0
	if n > 0 {
		size = st.Size(d)
	}
	lo := height
	if dir == diagram.Backward {
		lo = height - 1
	}
	if n == 0 || lo < 0 || lo+1 >= size {
		return Result{}, &ContractionError{
			Kind:   KindOutOfBounds,
			Height: height,
			Reason: "no two adjacent levels at this height",
		}
	}

	regular, singular, err := st.Slices(d)
	if err != nil {
		return Result{}, failure("%v", err)
	}
	c0 := st.Cospan(d, lo)
	c1 := st.Cospan(d, lo+1)

	span := &problem{
		nodes: []node{
			{d: singular[lo], origin: 0},
			{d: regular[lo+1], origin: 1},
			{d: singular[lo+1], origin: 2},
		},
		edges: []edge{
			{src: 1, dst: 0, r: c0.Backward},
			{src: 1, dst: 2, r: c1.Forward},
		},
	}
	cc, err := e.colimit(span, bias)
	if err != nil {
		return Result{}, err
	}

	forward, err := st.Compose(c0.Forward, cc.legs[0])
	if err != nil {
		return Result{}, failure("%v", err)
	}
	backward, err := st.Compose(c1.Backward, cc.legs[2])
	if err != nil {
		return Result{}, failure("%v", err)
	}
	level := diagram.Cospan{Forward: forward, Backward: backward}

	cospans := st.Cospans(d)
	merged := make([]diagram.Cospan, 0, len(cospans)-1)
	merged = append(merged, cospans[:lo]...)
	merged = append(merged, level)
	merged = append(merged, cospans[lo+2:]...)
	out := st.NewDiagram(st.Source(d), merged)

	cone := st.NewCone(lo, []diagram.Cospan{c0, c1}, level, []diagram.Rewrite{cc.legs[0], cc.legs[2]})
	r := st.NewRewrite(n, []diagram.Cone{cone})

	if err := e.checker.Diagram(out); err != nil {
		return Result{}, failure("contracted diagram is malformed: %v", err)
	}
	e.logger.Debug("contracted",
		slog.Int("level", lo),
		slog.Int("dimension", n),
		slog.String("result", out.String()))
	return Result{Diagram: out, Rewrite: r}, nil
}
