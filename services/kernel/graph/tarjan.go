// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the small integer-indexed graph algorithms used by the
// contraction engine: strongly connected components, union-find and total
// order checks on condensations.
package graph

import (
	"errors"
	"fmt"
)

// Package-level error definitions.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTooLarge     = errors.New("graph exceeds node limit")
)

// AlgorithmError wraps algorithm-specific errors.
type AlgorithmError struct {
	Algorithm string
	Operation string
	Err       error
}

func (e *AlgorithmError) Error() string {
	return e.Algorithm + "." + e.Operation + ": " + e.Err.Error()
}

func (e *AlgorithmError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Digraph
// -----------------------------------------------------------------------------

// Digraph is a directed graph over nodes 0..N-1 stored as adjacency lists.
type Digraph struct {
	adj [][]int
}

// NewDigraph creates a graph with n nodes and no edges.
func NewDigraph(n int) *Digraph {
	return &Digraph{adj: make([][]int, n)}
}

// Len returns the number of nodes.
func (g *Digraph) Len() int {
	return len(g.adj)
}

// AddEdge adds the edge from → to. Duplicate edges are allowed.
func (g *Digraph) AddEdge(from, to int) {
	g.adj[from] = append(g.adj[from], to)
}

// Successors returns the out-neighbours of v. The slice must not be
// modified.
func (g *Digraph) Successors(v int) []int {
	return g.adj[v]
}

// -----------------------------------------------------------------------------
// Tarjan's Strongly Connected Components Algorithm
// -----------------------------------------------------------------------------

// TarjanConfig configures the SCC computation.
type TarjanConfig struct {
	// MaxNodes limits the number of nodes to process. Zero means no limit.
	MaxNodes int
}

// DefaultTarjanConfig returns the default configuration.
func DefaultTarjanConfig() TarjanConfig {
	return TarjanConfig{MaxNodes: 1 << 20}
}

// Components is the result of an SCC decomposition.
type Components struct {
	// SCCs lists the components in reverse topological order: if there is
	// an edge from component a to component b then b comes before a.
	SCCs [][]int

	// NodeToSCC maps each node to its component index in SCCs.
	NodeToSCC []int

	// Cyclic is true if any component has more than one node.
	Cyclic bool
}

// frame is one suspended call of the depth-first search.
type frame struct {
	node int
	next int
}

// StronglyConnected computes the strongly connected components of g.
//
// Description:
//
//	Tarjan's algorithm driven by an explicit stack of frames instead of
//	recursion, so graphs of any depth are handled without growing the Go
//	call stack. Runs in O(V + E).
//
// Outputs:
//
//	Components - Components in reverse topological order.
//	error - *AlgorithmError wrapping ErrTooLarge when the node limit is hit.
func StronglyConnected(g *Digraph, config TarjanConfig) (Components, error) {
	n := g.Len()
	if config.MaxNodes > 0 && n > config.MaxNodes {
		return Components{}, &AlgorithmError{
			Algorithm: "tarjan_scc",
			Operation: "StronglyConnected",
			Err:       fmt.Errorf("%w: %d > %d", ErrTooLarge, n, config.MaxNodes),
		}
	}

	const unvisited = -1
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}

	out := Components{NodeToSCC: make([]int, n)}
	var stack []int
	var calls []frame
	counter := 0

	for root := 0; root < n; root++ {
		if index[root] != unvisited {
			continue
		}
		index[root] = counter
		lowlink[root] = counter
		counter++
		stack = append(stack, root)
		onStack[root] = true
		calls = append(calls, frame{node: root})

		for len(calls) > 0 {
			top := &calls[len(calls)-1]
			v := top.node

			if top.next < len(g.adj[v]) {
				w := g.adj[v][top.next]
				top.next++
				if index[w] == unvisited {
					index[w] = counter
					lowlink[w] = counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					calls = append(calls, frame{node: w})
				} else if onStack[w] && index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
				continue
			}

			// All successors done: close v.
			calls = calls[:len(calls)-1]
			if len(calls) > 0 {
				parent := calls[len(calls)-1].node
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}
			if lowlink[v] != index[v] {
				continue
			}

			id := len(out.SCCs)
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				out.NodeToSCC[w] = id
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				out.Cyclic = true
			}
			out.SCCs = append(out.SCCs, scc)
		}
	}
	return out, nil
}

// Condense returns the graph of components of g, without self loops or
// duplicate edges.
func Condense(g *Digraph, c Components) *Digraph {
	k := len(c.SCCs)
	dag := NewDigraph(k)
	seen := make(map[[2]int]struct{})
	for v := 0; v < g.Len(); v++ {
		for _, w := range g.adj[v] {
			a, b := c.NodeToSCC[v], c.NodeToSCC[w]
			if a == b {
				continue
			}
			if _, ok := seen[[2]int{a, b}]; ok {
				continue
			}
			seen[[2]int{a, b}] = struct{}{}
			dag.AddEdge(a, b)
		}
	}
	return dag
}
