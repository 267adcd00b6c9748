// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contraction

import (
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/graph"
)

// node is one diagram of a colimit problem. origin is the index of the
// top-level node it descends from and drives the bias.
type node struct {
	d      diagram.Diagram
	origin int
}

// edge is a rewrite from nodes[src] to nodes[dst].
type edge struct {
	src int
	dst int
	r   diagram.Rewrite
}

type problem struct {
	nodes []node
	edges []edge
}

// cocone is a colimit: the apex and one leg per problem node.
type cocone struct {
	apex diagram.Diagram
	legs []diagram.Rewrite
}

// maxShortcutCandidates bounds how many sink nodes the terminal-node
// shortcut tries before falling back to the general construction.
const maxShortcutCandidates = 8

// colimit solves p.
//
// Description:
//
//	Problems that are already their own colimit are answered directly: all
//	nodes equal with identity edges, or a node every other node rewrites
//	into. Otherwise dimension 0 picks the top generator and higher
//	dimensions decompose into merge groups solved one dimension down.
func (e *Engine) colimit(p *problem, bias Bias) (cocone, error) {
	e.stats.Colimits++
	if len(p.nodes) == 0 {
		return cocone{}, failure("empty colimit problem")
	}
	dim := e.st.Dim(p.nodes[0].d)
	for i, n := range p.nodes {
		if e.st.Dim(n.d) != dim {
			return cocone{}, failure("node %d has dimension %d, expected %d", i, e.st.Dim(n.d), dim)
		}
	}

	if cc, ok := e.identityShortcut(p, dim); ok {
		e.stats.Shortcuts++
		return cc, nil
	}
	if cc, ok := e.terminalShortcut(p, dim); ok {
		e.stats.Shortcuts++
		return cc, nil
	}

	var (
		cc  cocone
		err error
	)
	if dim == 0 {
		cc, err = e.colimit0(p)
	} else {
		cc, err = e.colimitN(p, dim, bias)
	}
	if err != nil {
		return cocone{}, err
	}
	if !e.commutes(p, cc) {
		return cocone{}, failure("merged legs do not commute with the %d-dimensional rewrites", dim)
	}
	return cc, nil
}

func (e *Engine) identityShortcut(p *problem, dim int) (cocone, bool) {
	first := p.nodes[0].d
	for _, n := range p.nodes[1:] {
		if n.d != first {
			return cocone{}, false
		}
	}
	for _, ed := range p.edges {
		if !e.st.IsIdentity(ed.r) {
			return cocone{}, false
		}
	}
	id := e.st.IdentityRewrite(dim)
	legs := make([]diagram.Rewrite, len(p.nodes))
	for i := range legs {
		legs[i] = id
	}
	return cocone{apex: first, legs: legs}, true
}

// terminalShortcut looks for a node that is itself the colimit: a sink
// with an identity leg such that all other legs follow from the edges.
func (e *Engine) terminalShortcut(p *problem, dim int) (cocone, bool) {
	out := make([]int, len(p.nodes))
	for _, ed := range p.edges {
		if !e.st.IsIdentity(ed.r) {
			out[ed.src]++
		}
	}
	tried := 0
	for t := range p.nodes {
		if out[t] != 0 {
			continue
		}
		if tried == maxShortcutCandidates {
			break
		}
		tried++
		if cc, ok := e.propagate(p, t, dim); ok {
			return cc, true
		}
	}
	return cocone{}, false
}

// propagate derives legs backwards along edges from an identity leg at t,
// and forwards along identity edges.
func (e *Engine) propagate(p *problem, t, dim int) (cocone, bool) {
	legs := make([]diagram.Rewrite, len(p.nodes))
	known := make([]bool, len(p.nodes))
	legs[t] = e.st.IdentityRewrite(dim)
	known[t] = true
	remaining := len(p.nodes) - 1

	for changed := true; changed && remaining > 0; {
		changed = false
		for _, ed := range p.edges {
			switch {
			case known[ed.dst] && !known[ed.src]:
				leg, err := e.st.Compose(ed.r, legs[ed.dst])
				if err != nil {
					return cocone{}, false
				}
				legs[ed.src] = leg
				known[ed.src] = true
				remaining--
				changed = true
			case known[ed.src] && !known[ed.dst] && e.st.IsIdentity(ed.r):
				legs[ed.dst] = legs[ed.src]
				known[ed.dst] = true
				remaining--
				changed = true
			}
		}
	}
	if remaining > 0 {
		return cocone{}, false
	}
	cc := cocone{apex: p.nodes[t].d, legs: legs}
	if !e.commutes(p, cc) {
		return cocone{}, false
	}
	return cc, true
}

func (e *Engine) commutes(p *problem, cc cocone) bool {
	for _, ed := range p.edges {
		via, err := e.st.Compose(ed.r, cc.legs[ed.dst])
		if err != nil || via != cc.legs[ed.src] {
			return false
		}
	}
	return true
}

// colimit0 merges generators: the unique generator of highest dimension
// absorbs all others.
func (e *Engine) colimit0(p *problem) (cocone, error) {
	st := e.st
	gens := make([]diagram.Generator, len(p.nodes))
	top := 0
	for i, n := range p.nodes {
		gens[i], _ = st.Generator(n.d)
		if gens[i].Dim > gens[top].Dim {
			top = i
		}
	}
	for _, g := range gens {
		if g.Dim == gens[top].Dim && g != gens[top] {
			return cocone{}, failure("generators %s and %s of dimension %d cannot be identified", gens[top], g, g.Dim)
		}
	}
	legs := make([]diagram.Rewrite, len(p.nodes))
	for i, g := range gens {
		legs[i] = st.Atom(g, gens[top])
	}
	return cocone{apex: p.nodes[top].d, legs: legs}, nil
}

// -----------------------------------------------------------------------------
// Higher dimensions
// -----------------------------------------------------------------------------

// layout holds the slices of every node and the flat numbering of their
// singular heights.
type layout struct {
	regular  [][]diagram.Diagram
	singular [][]diagram.Diagram
	base     []int
}

func (l *layout) total() int { return l.base[len(l.base)-1] }

// colimitN solves a problem over diagrams of dimension dim ≥ 1.
//
// Description:
//
//	1. Singular heights related by an edge are identified (union-find).
//	2. Classes are ordered by the height order inside each node; strongly
//	   connected classes collapse into one merge group (iterative Tarjan).
//	3. The condensation must be a total order; ties go to the bias.
//	4. Each merge group becomes one level of the apex, computed as the
//	   colimit of the slices in the group together with the regular slices
//	   around it.
//	5. Every node's leg maps the heights in each group onto that level.
func (e *Engine) colimitN(p *problem, dim int, bias Bias) (cocone, error) {
	st := e.st
	n := len(p.nodes)

	lay := layout{
		regular:  make([][]diagram.Diagram, n),
		singular: make([][]diagram.Diagram, n),
		base:     make([]int, n+1),
	}
	for v, nd := range p.nodes {
		regular, singular, err := st.Slices(nd.d)
		if err != nil {
			return cocone{}, failure("node %d: %v", v, err)
		}
		lay.regular[v] = regular
		lay.singular[v] = singular
		lay.base[v+1] = lay.base[v] + len(singular)
	}
	total := lay.total()
	if e.config.MaxHeights > 0 && total > e.config.MaxHeights {
		return cocone{}, failure("%d singular heights exceed the limit of %d", total, e.config.MaxHeights)
	}

	source := st.Source(p.nodes[0].d)
	for v, nd := range p.nodes {
		if st.Source(nd.d) != source {
			return cocone{}, failure("node %d has a different source boundary", v)
		}
	}

	// 1. Identify heights.
	images := make([][]int, len(p.edges))
	regImages := make([][]int, len(p.edges))
	uf := graph.NewUnionFind(total)
	for k, ed := range p.edges {
		img := st.SingularImage(ed.r, len(lay.singular[ed.src]))
		for i, j := range img {
			if j < 0 || j >= len(lay.singular[ed.dst]) {
				return cocone{}, failure("edge %d maps height %d outside its target", k, i)
			}
			uf.Union(lay.base[ed.src]+i, lay.base[ed.dst]+j)
		}
		images[k] = img
		regImages[k] = st.RegularImage(ed.r, len(lay.singular[ed.src]))
		if len(regImages[k]) != len(lay.regular[ed.dst]) {
			return cocone{}, failure("edge %d does not produce its target", k)
		}
	}
	class, classes := uf.Classes()

	// 2. Order classes and find merge groups.
	order := graph.NewDigraph(classes)
	for v := 0; v < n; v++ {
		for x := lay.base[v]; x+1 < lay.base[v+1]; x++ {
			order.AddEdge(class[x], class[x+1])
		}
	}
	comps, err := graph.StronglyConnected(order, graph.TarjanConfig{MaxNodes: e.config.MaxHeights})
	if err != nil {
		return cocone{}, failure("%v", err)
	}

	// 3. Linearize with the bias.
	k := len(comps.SCCs)
	low := make([]int, k)
	high := make([]int, k)
	for c := range low {
		low[c] = int(^uint(0) >> 1)
		high[c] = -1
	}
	for v := 0; v < n; v++ {
		origin := p.nodes[v].origin
		for x := lay.base[v]; x < lay.base[v+1]; x++ {
			c := comps.NodeToSCC[class[x]]
			low[c] = min(low[c], origin)
			high[c] = max(high[c], origin)
		}
	}
	linear, err := graph.Linearize(graph.Condense(order, comps), chooser(bias, low, high))
	if err != nil {
		return cocone{}, failure("singular heights cannot be ordered: %v", err)
	}
	rank := make([]int, k)
	for pos, c := range linear {
		rank[c] = pos
	}
	group := make([]int, total)
	for x := range group {
		group[x] = rank[comps.NodeToSCC[class[x]]]
	}

	// reg[v][q]: regular height of node v just below group q.
	reg := make([][]int, n)
	for v := 0; v < n; v++ {
		reg[v] = make([]int, k+1)
		counts := make([]int, k)
		for x := lay.base[v]; x < lay.base[v+1]; x++ {
			counts[group[x]]++
		}
		for q := 0; q < k; q++ {
			reg[v][q+1] = reg[v][q] + counts[q]
		}
	}
	for q := 0; q <= k; q++ {
		want := lay.regular[0][reg[0][q]]
		for v := 1; v < n; v++ {
			if lay.regular[v][reg[v][q]] != want {
				return cocone{}, failure("regular slices below merged height %d disagree", q)
			}
		}
	}

	// 4. Solve every merge group one dimension down.
	levels := make([]diagram.Cospan, k)
	sliceLegs := make([][]diagram.Rewrite, n)
	for v := range sliceLegs {
		sliceLegs[v] = make([]diagram.Rewrite, len(lay.singular[v]))
	}
	for q := 0; q < k; q++ {
		sub, sIdx, rIdx, err := e.subproblem(p, &lay, reg, images, regImages, q, dim)
		if err != nil {
			return cocone{}, err
		}
		cc, err := e.colimit(sub, bias)
		if err != nil {
			return cocone{}, err
		}

		forward := cc.legs[rIdx[key{0, reg[0][q]}]]
		backward := cc.legs[rIdx[key{0, reg[0][q+1]}]]
		for v := 1; v < n; v++ {
			if cc.legs[rIdx[key{v, reg[v][q]}]] != forward || cc.legs[rIdx[key{v, reg[v][q+1]}]] != backward {
				return cocone{}, failure("merged height %d has inconsistent boundary rewrites", q)
			}
		}
		levels[q] = diagram.Cospan{Forward: forward, Backward: backward}
		for v := 0; v < n; v++ {
			for i := reg[v][q]; i < reg[v][q+1]; i++ {
				sliceLegs[v][i] = cc.legs[sIdx[key{v, i}]]
			}
		}
	}

	// 5. Assemble apex and legs.
	apex := st.NewDiagram(source, levels)
	legs := make([]diagram.Rewrite, n)
	for v, nd := range p.nodes {
		cospans := st.Cospans(nd.d)
		cones := make([]diagram.Cone, 0, k)
		for q := 0; q < k; q++ {
			lo, hi := reg[v][q], reg[v][q+1]
			cones = append(cones, st.NewCone(lo, cospans[lo:hi], levels[q], sliceLegs[v][lo:hi]))
		}
		legs[v] = st.NewRewrite(dim, cones)
	}
	return cocone{apex: apex, legs: legs}, nil
}

// key addresses a height of a node.
type key struct {
	node   int
	height int
}

// subproblem collects the colimit problem of merge group q: the singular
// slices in the group, the regular slices around or through it, the level
// rewrites between them, the slices of the problem's edges and identity
// edges between regular slices the edges identify.
func (e *Engine) subproblem(p *problem, lay *layout, reg [][]int, images, regImages [][]int, q, dim int) (*problem, map[key]int, map[key]int, error) {
	st := e.st
	sub := &problem{}
	sIdx := make(map[key]int)
	rIdx := make(map[key]int)

	for v, nd := range p.nodes {
		for i := reg[v][q]; i < reg[v][q+1]; i++ {
			sIdx[key{v, i}] = len(sub.nodes)
			sub.nodes = append(sub.nodes, node{d: lay.singular[v][i], origin: nd.origin})
		}
		for j := reg[v][q]; j <= reg[v][q+1]; j++ {
			rIdx[key{v, j}] = len(sub.nodes)
			sub.nodes = append(sub.nodes, node{d: lay.regular[v][j], origin: nd.origin})
		}
	}

	for v, nd := range p.nodes {
		for i := reg[v][q]; i < reg[v][q+1]; i++ {
			cs := st.Cospan(nd.d, i)
			s := sIdx[key{v, i}]
			sub.edges = append(sub.edges,
				edge{src: rIdx[key{v, i}], dst: s, r: cs.Forward},
				edge{src: rIdx[key{v, i + 1}], dst: s, r: cs.Backward},
			)
		}
	}

	identity := st.IdentityRewrite(dim - 1)
	for k, ed := range p.edges {
		for i := reg[ed.src][q]; i < reg[ed.src][q+1]; i++ {
			sub.edges = append(sub.edges, edge{
				src: sIdx[key{ed.src, i}],
				dst: sIdx[key{ed.dst, images[k][i]}],
				r:   st.SliceOf(ed.r, i),
			})
		}
		for j := reg[ed.dst][q]; j <= reg[ed.dst][q+1]; j++ {
			partner := regImages[k][j]
			ri, ok := rIdx[key{ed.src, partner}]
			if !ok {
				continue
			}
			if lay.regular[ed.src][partner] != lay.regular[ed.dst][j] {
				return nil, nil, nil, failure("edge %d identifies different regular slices", k)
			}
			sub.edges = append(sub.edges, edge{src: rIdx[key{ed.dst, j}], dst: ri, r: identity})
		}
	}
	return sub, sIdx, rIdx, nil
}

// chooser turns a bias into a tie breaker over merge groups, using the
// lowest and highest origin of the heights in each group.
func chooser(bias Bias, low, high []int) func([]int) (int, bool) {
	switch bias {
	case BiasLower:
		return func(ready []int) (int, bool) {
			best, tie := ready[0], false
			for _, c := range ready[1:] {
				switch {
				case low[c] < low[best]:
					best, tie = c, false
				case low[c] == low[best]:
					tie = true
				}
			}
			return best, !tie
		}
	case BiasHigher:
		return func(ready []int) (int, bool) {
			best, tie := ready[0], false
			for _, c := range ready[1:] {
				switch {
				case high[c] > high[best]:
					best, tie = c, false
				case high[c] == high[best]:
					tie = true
				}
			}
			return best, !tie
		}
	}
	return nil
}
