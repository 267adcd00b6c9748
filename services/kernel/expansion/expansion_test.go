// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expansion_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/expansion"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/fixtures"
)

func contracted(t *testing.T, w *fixtures.World, d diagram.Diagram, bias contraction.Bias) contraction.Result {
	t.Helper()
	res, err := contraction.New(w.Store).ContractWithRewrite(d, 0, diagram.Forward, bias)
	require.NoError(t, err)
	return res
}

func TestExpand_UndoesScalarContraction(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	pair, err := w.ScalarPair()
	require.NoError(t, err)
	reversed, err := st.ComposeDiagrams(w.BetaD, w.AlphaD)
	require.NoError(t, err)

	merged := contracted(t, w, pair, contraction.BiasLower).Diagram

	tests := []struct {
		name string
		path []int
		dir  diagram.Direction
		want diagram.Diagram
	}{
		{name: "alpha first", path: []int{0, 0}, dir: diagram.Forward, want: pair},
		{name: "beta first", path: []int{0, 1}, dir: diagram.Forward, want: reversed},
		{name: "alpha last", path: []int{0, 0}, dir: diagram.Backward, want: reversed},
		{name: "beta last", path: []int{0, 1}, dir: diagram.Backward, want: pair},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := expansion.New(st)
			res, err := e.ExpandWithRewrite(merged, tt.path, tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Diagram)

			back, err := st.RewriteForward(res.Diagram, res.Rewrite)
			require.NoError(t, err)
			assert.Equal(t, merged, back)
		})
	}
}

func TestExpand_UndoesSideBySideContraction(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	side, err := w.SideBySide()
	require.NoError(t, err)

	merged := contracted(t, w, side, contraction.BiasNone).Diagram
	out, err := expansion.New(st).Expand(merged, []int{0, 0}, diagram.Forward)
	require.NoError(t, err)
	assert.Equal(t, side, out)
	assert.NoError(t, check.New(st).Diagram(out))
}

func TestExpand_NoValidExpansion(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	pair, err := w.ScalarPair()
	require.NoError(t, err)
	id := st.IdentityRewrite(1)
	idle := st.NewDiagram(w.Arrow, []diagram.Cospan{{Forward: id, Backward: id}})

	tests := []struct {
		name string
		d    diagram.Diagram
		path []int
	}{
		{name: "single cell at the boundary", d: w.AlphaD, path: []int{0, 0}},
		{name: "nothing happens at the height", d: idle, path: []int{0, 0}},
		{name: "level out of range", d: pair, path: []int{2, 0}},
		{name: "negative level", d: pair, path: []int{-1, 0}},
		{name: "height out of range", d: pair, path: []int{0, 1}},
		{name: "path too short", d: pair, path: []int{0}},
		{name: "path too deep", d: pair, path: []int{0, 0, 0}},
		{name: "one dimensional", d: w.Arrows, path: []int{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := expansion.New(st)
			for _, dir := range []diagram.Direction{diagram.Forward, diagram.Backward} {
				_, err := e.Expand(tt.d, tt.path, dir)
				require.Error(t, err)
				assert.True(t, errors.Is(err, expansion.ErrNoValidExpansion))

				var ee *expansion.ExpansionError
				require.True(t, errors.As(err, &ee))
				assert.Equal(t, tt.path, ee.Path)
			}
			assert.Equal(t, uint64(2), e.Stats().Failures)
		})
	}
}

func TestExpand_IdentityOnBothSides(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	side, err := w.SideBySide()
	require.NoError(t, err)

	// Level 0 of the side-by-side diagram only touches height 0.
	_, err = expansion.New(st).Expand(side, []int{0, 1}, diagram.Forward)
	assert.True(t, errors.Is(err, expansion.ErrNoValidExpansion))
}

func TestExpand_LiftsThroughDeeperSlices(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	side, err := w.SideBySide()
	require.NoError(t, err)

	// A 3-diagram whose only level squeezes the side-by-side diagram into
	// its contraction and back.
	cr := contracted(t, w, side, contraction.BiasNone).Rewrite
	d := st.NewDiagram(side, []diagram.Cospan{{Forward: cr, Backward: cr}})
	require.NoError(t, check.New(st).Diagram(d))

	e := expansion.New(st)
	res, err := e.ExpandWithRewrite(d, []int{0, 0, 0}, diagram.Forward)
	require.NoError(t, err)

	id := st.IdentityRewrite(2)
	assert.Equal(t, st.NewDiagram(side, []diagram.Cospan{{Forward: id, Backward: id}}), res.Diagram)
	assert.Greater(t, e.Stats().Candidates, uint64(0))

	back, err := st.RewriteForward(res.Diagram, res.Rewrite)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestExpand_CandidateBudget(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	side, err := w.SideBySide()
	require.NoError(t, err)

	cr := contracted(t, w, side, contraction.BiasNone).Rewrite
	d := st.NewDiagram(side, []diagram.Cospan{{Forward: cr, Backward: cr}})

	e := expansion.New(st, expansion.WithConfig(expansion.Config{MaxCandidates: 0}))
	_, err = e.Expand(d, []int{0, 0, 0}, diagram.Forward)
	assert.True(t, errors.Is(err, expansion.ErrNoValidExpansion))
}
