// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(n int, edges [][2]int) *Digraph {
	g := NewDigraph(n)
	for _, e := range edges {
		g.AddEdge(e[0], e[1])
	}
	return g
}

func sortedSCCs(c Components) [][]int {
	out := make([][]int, len(c.SCCs))
	for i, scc := range c.SCCs {
		cp := append([]int(nil), scc...)
		sort.Ints(cp)
		out[i] = cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestStronglyConnected(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		c, err := StronglyConnected(NewDigraph(0), DefaultTarjanConfig())
		require.NoError(t, err)
		assert.Empty(t, c.SCCs)
		assert.False(t, c.Cyclic)
	})

	t.Run("acyclic chain", func(t *testing.T) {
		g := buildGraph(3, [][2]int{{0, 1}, {1, 2}})
		c, err := StronglyConnected(g, DefaultTarjanConfig())
		require.NoError(t, err)
		assert.Len(t, c.SCCs, 3)
		assert.False(t, c.Cyclic)
		// Reverse topological order: the sink comes first.
		assert.Equal(t, []int{2}, c.SCCs[0])
		assert.Equal(t, []int{0}, c.SCCs[2])
	})

	t.Run("two cycles joined by an edge", func(t *testing.T) {
		g := buildGraph(5, [][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 3}, {3, 4}, {4, 2}})
		c, err := StronglyConnected(g, DefaultTarjanConfig())
		require.NoError(t, err)
		assert.True(t, c.Cyclic)
		assert.Equal(t, [][]int{{0, 1}, {2, 3, 4}}, sortedSCCs(c))
		assert.Equal(t, c.NodeToSCC[0], c.NodeToSCC[1])
		assert.NotEqual(t, c.NodeToSCC[1], c.NodeToSCC[2])
	})

	t.Run("self loop is not cyclic", func(t *testing.T) {
		g := buildGraph(1, [][2]int{{0, 0}})
		c, err := StronglyConnected(g, DefaultTarjanConfig())
		require.NoError(t, err)
		assert.False(t, c.Cyclic)
	})

	t.Run("deep path does not recurse", func(t *testing.T) {
		const n = 200000
		g := NewDigraph(n)
		for i := 0; i+1 < n; i++ {
			g.AddEdge(i, i+1)
		}
		g.AddEdge(n-1, 0)
		c, err := StronglyConnected(g, DefaultTarjanConfig())
		require.NoError(t, err)
		assert.Len(t, c.SCCs, 1)
		assert.Len(t, c.SCCs[0], n)
	})

	t.Run("node limit", func(t *testing.T) {
		_, err := StronglyConnected(NewDigraph(10), TarjanConfig{MaxNodes: 5})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTooLarge))
		var algErr *AlgorithmError
		assert.True(t, errors.As(err, &algErr))
	})
}

func TestCondenseAndLinearize(t *testing.T) {
	// 0 <-> 1 -> 2, 3 isolated
	g := buildGraph(4, [][2]int{{0, 1}, {1, 0}, {1, 2}})
	c, err := StronglyConnected(g, DefaultTarjanConfig())
	require.NoError(t, err)
	dag := Condense(g, c)
	assert.Equal(t, 3, dag.Len())

	_, err = Linearize(dag, nil)
	assert.True(t, errors.Is(err, ErrNotTotal), "component of 3 is incomparable")

	lowest := func(ready []int) (int, bool) { return ready[0], true }
	order, err := Linearize(dag, lowest)
	require.NoError(t, err)
	assert.Len(t, order, 3)

	pos := make(map[int]int)
	for i, v := range order {
		pos[v] = i
	}
	assert.Less(t, pos[c.NodeToSCC[0]], pos[c.NodeToSCC[2]])

	refuse := func([]int) (int, bool) { return 0, false }
	_, err = Linearize(dag, refuse)
	assert.True(t, errors.Is(err, ErrNotTotal))
}

func TestLinearize_Chain(t *testing.T) {
	dag := buildGraph(3, [][2]int{{2, 0}, {0, 1}})
	order, err := Linearize(dag, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 1}, order)
}

func TestUnionFind(t *testing.T) {
	u := NewUnionFind(6)
	u.Union(0, 3)
	u.Union(3, 5)
	u.Union(1, 2)

	assert.Equal(t, u.Find(0), u.Find(5))
	assert.NotEqual(t, u.Find(0), u.Find(1))

	classes, k := u.Classes()
	assert.Equal(t, 3, k)
	assert.Equal(t, []int{0, 1, 1, 0, 2, 0}, classes)
}
