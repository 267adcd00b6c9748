// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fixtures builds a small signature and a family of diagrams over
// it. Tests use them as shared inputs and the CLI demo command writes them
// out as starter files.
package fixtures

import (
	"fmt"
	"testing"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// World is the signature
//
//	*           (0-cell)
//	a: * → *    (1-cell)
//	α, β: 1 → 1 (scalars on the identity of *)
//	σ, τ: a → a (2-cells on a)
//
// together with the generator diagrams and a few composites.
type World struct {
	Store *diagram.Store
	Sig   *diagram.Signature

	Star  diagram.Generator
	A     diagram.Generator
	Alpha diagram.Generator
	Beta  diagram.Generator
	Sigma diagram.Generator
	Tau   diagram.Generator

	// Point is the 0-diagram *.
	Point diagram.Diagram
	// Empty is the identity 1-diagram on *.
	Empty diagram.Diagram
	// Arrow is the 1-diagram a.
	Arrow diagram.Diagram
	// Arrows is a followed by a.
	Arrows diagram.Diagram

	AlphaD diagram.Diagram
	BetaD  diagram.Diagram
	SigmaD diagram.Diagram
	TauD   diagram.Diagram
}

// Build creates the world in st.
func Build(st *diagram.Store) (*World, error) {
	sig := diagram.NewSignature()
	w := &World{
		Store: st,
		Sig:   sig,
		Star:  sig.MustAdd("*", 0),
		A:     sig.MustAdd("a", 1),
		Alpha: sig.MustAdd("alpha", 2),
		Beta:  sig.MustAdd("beta", 2),
		Sigma: sig.MustAdd("sigma", 2),
		Tau:   sig.MustAdd("tau", 2),
	}

	var err error
	w.Point = st.Point(w.Star)
	w.Empty = st.Identity(w.Point)
	if w.Arrow, err = st.FromGenerator(w.A, w.Point, w.Point); err != nil {
		return nil, fmt.Errorf("arrow: %w", err)
	}
	if w.Arrows, err = st.ComposeDiagrams(w.Arrow, w.Arrow); err != nil {
		return nil, fmt.Errorf("arrows: %w", err)
	}
	if w.AlphaD, err = st.FromGenerator(w.Alpha, w.Empty, w.Empty); err != nil {
		return nil, fmt.Errorf("alpha: %w", err)
	}
	if w.BetaD, err = st.FromGenerator(w.Beta, w.Empty, w.Empty); err != nil {
		return nil, fmt.Errorf("beta: %w", err)
	}
	if w.SigmaD, err = st.FromGenerator(w.Sigma, w.Arrow, w.Arrow); err != nil {
		return nil, fmt.Errorf("sigma: %w", err)
	}
	if w.TauD, err = st.FromGenerator(w.Tau, w.Arrow, w.Arrow); err != nil {
		return nil, fmt.Errorf("tau: %w", err)
	}
	return w, nil
}

// New builds a world in a fresh store and fails the test on error.
func New(tb testing.TB) *World {
	tb.Helper()
	w, err := Build(diagram.NewStore())
	if err != nil {
		tb.Fatalf("building fixtures: %v", err)
	}
	return w
}

// ScalarPair is α followed by β.
func (w *World) ScalarPair() (diagram.Diagram, error) {
	return w.Store.ComposeDiagrams(w.AlphaD, w.BetaD)
}

// SideBySide is σ on the left a, followed by τ on the right a.
func (w *World) SideBySide() (diagram.Diagram, error) {
	d, err := w.Store.Attach(w.Store.Identity(w.Arrows), w.SigmaD, 0)
	if err != nil {
		return diagram.Diagram{}, err
	}
	return w.Store.Attach(d, w.TauD, 1)
}

// IdentityLevels is the 1-diagram on * with k levels that do nothing.
func (w *World) IdentityLevels(k int) diagram.Diagram {
	id := w.Store.IdentityRewrite(0)
	levels := make([]diagram.Cospan, k)
	for i := range levels {
		levels[i] = diagram.Cospan{Forward: id, Backward: id}
	}
	return w.Store.NewDiagram(w.Point, levels)
}

// Bubble is the 2-diagram on the empty 1-diagram with one level in which
// a appears and disappears again. The level carries no 2-dimensional
// content and can be smoothed away.
func (w *World) Bubble() diagram.Diagram {
	st := w.Store
	arrow := st.Cospan(w.Arrow, 0)
	insert := st.NewRewrite(1, []diagram.Cone{st.NewCone(0, nil, arrow, nil)})
	return st.NewDiagram(w.Empty, []diagram.Cospan{{Forward: insert, Backward: insert}})
}

// All returns the named fixture diagrams, for demos.
func (w *World) All() (map[string]diagram.Diagram, error) {
	pair, err := w.ScalarPair()
	if err != nil {
		return nil, err
	}
	side, err := w.SideBySide()
	if err != nil {
		return nil, err
	}
	return map[string]diagram.Diagram{
		"arrow":        w.Arrow,
		"arrows":       w.Arrows,
		"alpha":        w.AlphaD,
		"sigma":        w.SigmaD,
		"scalar-pair":  pair,
		"side-by-side": side,
		"identity-3":   w.IdentityLevels(3),
		"bubble":       w.Bubble(),
	}, nil
}
