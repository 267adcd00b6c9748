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
	"slices"
)

// ErrNotTotal is returned by Linearize when the graph does not determine a
// single order and the chooser declines to break the tie.
var ErrNotTotal = errors.New("order is not total")

// Linearize returns a topological order of an acyclic graph.
//
// Description:
//
//	Kahn's algorithm. While exactly one node is ready it is taken; when
//	several are ready at once they are incomparable and choose decides
//	which goes next. The ready slice passed to choose is sorted ascending.
//
// Inputs:
//
//	dag - An acyclic graph, typically the output of Condense.
//	choose - Tie breaker; nil means ties are an error.
//
// Outputs:
//
//	[]int - Every node exactly once, in order.
//	error - ErrNotTotal if a tie was not broken, ErrInvalidInput on cycles.
func Linearize(dag *Digraph, choose func(ready []int) (int, bool)) ([]int, error) {
	n := dag.Len()
	indegree := make([]int, n)
	for v := 0; v < n; v++ {
		for _, w := range dag.adj[v] {
			indegree[w]++
		}
	}

	var ready []int
	for v := 0; v < n; v++ {
		if indegree[v] == 0 {
			ready = append(ready, v)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		pick := 0
		if len(ready) > 1 {
			if choose == nil {
				return nil, &AlgorithmError{Algorithm: "linearize", Operation: "Linearize", Err: ErrNotTotal}
			}
			slices.Sort(ready)
			v, ok := choose(ready)
			if !ok {
				return nil, &AlgorithmError{Algorithm: "linearize", Operation: "Linearize", Err: ErrNotTotal}
			}
			pick = slices.Index(ready, v)
			if pick < 0 {
				return nil, &AlgorithmError{Algorithm: "linearize", Operation: "Linearize", Err: ErrInvalidInput}
			}
		}
		v := ready[pick]
		ready = slices.Delete(ready, pick, pick+1)
		order = append(order, v)
		for _, w := range dag.adj[v] {
			indegree[w]--
			if indegree[w] == 0 {
				ready = append(ready, w)
			}
		}
	}

	if len(order) != n {
		return nil, &AlgorithmError{Algorithm: "linearize", Operation: "Linearize", Err: ErrInvalidInput}
	}
	return order, nil
}

// -----------------------------------------------------------------------------
// Union-find
// -----------------------------------------------------------------------------

// UnionFind maintains a partition of 0..N-1.
type UnionFind struct {
	parent []int
	size   []int
}

// NewUnionFind creates n singleton classes.
func NewUnionFind(n int) *UnionFind {
	u := &UnionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
		u.size[i] = 1
	}
	return u
}

// Find returns the representative of x's class.
func (u *UnionFind) Find(x int) int {
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// Union merges the classes of a and b.
func (u *UnionFind) Union(a, b int) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}

// Classes numbers the classes densely in order of their smallest member and
// returns the class of every element plus the number of classes.
func (u *UnionFind) Classes() ([]int, int) {
	n := len(u.parent)
	ids := make(map[int]int)
	out := make([]int, n)
	for x := 0; x < n; x++ {
		r := u.Find(x)
		id, ok := ids[r]
		if !ok {
			id = len(ids)
			ids[r] = id
		}
		out[x] = id
	}
	return out, len(ids)
}
