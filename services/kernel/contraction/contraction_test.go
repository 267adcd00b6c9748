// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contraction_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/fixtures"
)

func level(t *testing.T, st *diagram.Store, d diagram.Diagram) diagram.Cospan {
	t.Helper()
	sing, err := st.SingularSlice(d, 0)
	require.NoError(t, err)
	return st.Cospan(sing, 0)
}

func TestContract_ScalarsWithBias(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	pair, err := w.ScalarPair()
	require.NoError(t, err)

	csAlpha := level(t, st, w.AlphaD)
	csBeta := level(t, st, w.BetaD)

	tests := []struct {
		name string
		bias contraction.Bias
		want []diagram.Cospan
	}{
		{name: "lower", bias: contraction.BiasLower, want: []diagram.Cospan{csAlpha, csBeta}},
		{name: "higher", bias: contraction.BiasHigher, want: []diagram.Cospan{csBeta, csAlpha}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := contraction.New(st)
			res, err := e.ContractWithRewrite(pair, 0, diagram.Forward, tt.bias)
			require.NoError(t, err)

			assert.Equal(t, 1, st.Size(res.Diagram))
			assert.Equal(t, w.Empty, st.Source(res.Diagram))
			sing, err := st.SingularSlice(res.Diagram, 0)
			require.NoError(t, err)
			assert.Equal(t, st.NewDiagram(w.Point, tt.want), sing)

			got, err := st.RewriteForward(pair, res.Rewrite)
			require.NoError(t, err)
			assert.Equal(t, res.Diagram, got)
			assert.NoError(t, check.New(st).Rewrite(res.Rewrite))
		})
	}
}

func TestContract_ScalarsWithoutBiasFail(t *testing.T) {
	w := fixtures.New(t)
	pair, err := w.ScalarPair()
	require.NoError(t, err)

	e := contraction.New(w.Store)
	_, err = e.Contract(pair, 0, diagram.Forward, contraction.BiasNone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contraction.ErrFailure))

	var ce *contraction.ContractionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, contraction.KindFailure, ce.Kind)
	assert.Equal(t, 0, ce.Height)
	assert.Equal(t, uint64(1), e.Stats().Failures)
}

func TestContract_IndependentCells(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	side, err := w.SideBySide()
	require.NoError(t, err)

	e := contraction.New(st)
	for _, bias := range []contraction.Bias{contraction.BiasNone, contraction.BiasLower, contraction.BiasHigher} {
		out, err := e.Contract(side, 0, diagram.Forward, bias)
		require.NoError(t, err, bias.String())
		assert.Equal(t, 1, st.Size(out))
		assert.Equal(t, w.Arrows, st.Source(out))

		sing, err := st.SingularSlice(out, 0)
		require.NoError(t, err)
		want := st.NewDiagram(w.Point, []diagram.Cospan{level(t, st, w.SigmaD), level(t, st, w.TauD)})
		assert.Equal(t, want, sing)

		target, err := st.Target(out)
		require.NoError(t, err)
		assert.Equal(t, w.Arrows, target)
	}
}

func TestContract_BackwardAddressesLowerNeighbour(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	side, err := w.SideBySide()
	require.NoError(t, err)

	e := contraction.New(st)
	fwd, err := e.Contract(side, 0, diagram.Forward, contraction.BiasNone)
	require.NoError(t, err)
	bwd, err := e.Contract(side, 1, diagram.Backward, contraction.BiasNone)
	require.NoError(t, err)
	assert.Equal(t, fwd, bwd)
}

func TestContract_IdentityLevels(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store
	d := w.IdentityLevels(2)

	e := contraction.New(st)
	res, err := e.ContractWithRewrite(d, 0, diagram.Forward, contraction.BiasNone)
	require.NoError(t, err)
	assert.Equal(t, w.IdentityLevels(1), res.Diagram)
	assert.GreaterOrEqual(t, e.Stats().Shortcuts, uint64(1))

	got, err := st.RewriteForward(d, res.Rewrite)
	require.NoError(t, err)
	assert.Equal(t, res.Diagram, got)
}

func TestContract_OutOfBounds(t *testing.T) {
	w := fixtures.New(t)
	pair, err := w.ScalarPair()
	require.NoError(t, err)

	tests := []struct {
		name   string
		d      diagram.Diagram
		height int
		dir    diagram.Direction
	}{
		{name: "point", d: w.Point, height: 0, dir: diagram.Forward},
		{name: "single level", d: w.AlphaD, height: 0, dir: diagram.Forward},
		{name: "past the top", d: pair, height: 1, dir: diagram.Forward},
		{name: "below the bottom", d: pair, height: 0, dir: diagram.Backward},
		{name: "negative", d: pair, height: -1, dir: diagram.Forward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := contraction.New(w.Store)
			_, err := e.Contract(tt.d, tt.height, tt.dir, contraction.BiasLower)
			require.Error(t, err)
			assert.True(t, errors.Is(err, contraction.ErrOutOfBounds))
			assert.False(t, errors.Is(err, contraction.ErrFailure))
		})
	}
}

func TestContract_HeightLimit(t *testing.T) {
	w := fixtures.New(t)
	side, err := w.SideBySide()
	require.NoError(t, err)

	e := contraction.New(w.Store, contraction.WithConfig(contraction.Config{MaxHeights: 1}))
	_, err = e.Contract(side, 0, diagram.Forward, contraction.BiasNone)
	assert.True(t, errors.Is(err, contraction.ErrFailure))
}

func TestParseBias(t *testing.T) {
	for in, want := range map[string]contraction.Bias{
		"":       contraction.BiasNone,
		"none":   contraction.BiasNone,
		"lower":  contraction.BiasLower,
		"left":   contraction.BiasLower,
		"higher": contraction.BiasHigher,
		"right":  contraction.BiasHigher,
	} {
		got, err := contraction.ParseBias(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := contraction.ParseBias("sideways")
	assert.Error(t, err)
}
