// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expansion

import (
	"errors"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/monotone"
)

var errNoFactorization = errors.New("no factorization")

// sliceCandidates bounds the alternatives kept for each singular slice
// while assembling a factorization one dimension up.
const sliceCandidates = 8

// factorize finds g: a → b with g ; c = f.
//
// Description:
//
//	The singular map of g must send every height of a to a height of b
//	that c sends where f does. These constraints give each coordinate a
//	contiguous range, and the monotone sequences inside those ranges are
//	the only singular maps worth trying. For each of them the slices are
//	factorized recursively and combined lazily; the first candidate that
//	produces b, composes to f and passes the checker wins.
//
// Limitations:
//
//	At most Config.MaxCandidates assembled rewrites are examined per
//	expansion.
func (e *Engine) factorize(a, b diagram.Diagram, f, c diagram.Rewrite) (diagram.Rewrite, error) {
	found := e.candidates(a, b, f, c, 1)
	if len(found) == 0 {
		return diagram.Rewrite{}, errNoFactorization
	}
	return found[0], nil
}

func (e *Engine) candidates(a, b diagram.Diagram, f, c diagram.Rewrite, limit int) []diagram.Rewrite {
	st := e.st
	if st.Dim(a) != st.Dim(b) {
		return nil
	}
	if st.Dim(a) == 0 {
		return e.pointCandidates(a, b, f, c)
	}
	if st.Source(a) != st.Source(b) {
		return nil
	}

	_, aSing, err := st.Slices(a)
	if err != nil {
		return nil
	}
	_, bSing, err := st.Slices(b)
	if err != nil {
		return nil
	}
	phiF := st.SingularImage(f, len(aSing))
	phiC := st.SingularImage(c, len(bSing))
	ranges := make([]monotone.Range, len(aSing))
	for i, target := range phiF {
		ranges[i] = preimage(phiC, target)
	}

	dim := st.Dim(a)
	aCospans := st.Cospans(a)
	bCospans := st.Cospans(b)

	var out []diagram.Rewrite
	seqs := monotone.NewSequences(ranges)
	for seqs.Next() {
		x := seqs.Value()

		lists := make([][]diagram.Rewrite, len(x))
		sizes := make([]int, len(x))
		for i, j := range x {
			lists[i] = e.candidates(aSing[i], bSing[j], st.SliceOf(f, i), st.SliceOf(c, j), sliceCandidates)
			sizes[i] = len(lists[i])
		}
		odo, err := monotone.NewOdometer(sizes)
		if err != nil {
			continue
		}
		chosen := make([]diagram.Rewrite, len(x))
		for odo.Next() {
			if e.budget <= 0 {
				return out
			}
			e.budget--
			e.stats.Candidates++

			for i, k := range odo.Value() {
				chosen[i] = lists[i][k]
			}
			g := assemble(st, dim, aCospans, bCospans, x, chosen)
			if e.accepts(a, b, f, c, g) {
				out = append(out, g)
				if len(out) == limit {
					return out
				}
			}
		}
	}
	return out
}

func (e *Engine) pointCandidates(a, b diagram.Diagram, f, c diagram.Rewrite) []diagram.Rewrite {
	st := e.st
	ga, _ := st.Generator(a)
	gb, _ := st.Generator(b)
	if ga != gb && ga.Dim >= gb.Dim {
		return nil
	}
	g := st.Atom(ga, gb)
	if composed, err := st.Compose(g, c); err != nil || composed != f {
		return nil
	}
	return []diagram.Rewrite{g}
}

// preimage returns the heights j with phi[j] == target. phi is monotone,
// so they form a range.
func preimage(phi []int, target int) monotone.Range {
	lo := -1
	for j, v := range phi {
		if v == target {
			if lo < 0 {
				lo = j
			}
			continue
		}
		if lo >= 0 {
			return monotone.Range{Lo: lo, Hi: j}
		}
	}
	if lo < 0 {
		return monotone.Range{}
	}
	return monotone.Range{Lo: lo, Hi: len(phi)}
}

// assemble builds the rewrite with singular map x: every height j of the
// target receives one cone from the heights of the source mapped to it,
// empty when there are none.
func assemble(st *diagram.Store, dim int, source, target []diagram.Cospan, x []int, slices []diagram.Rewrite) diagram.Rewrite {
	cones := make([]diagram.Cone, 0, len(target))
	lo := 0
	for j := range target {
		hi := lo
		for hi < len(x) && x[hi] == j {
			hi++
		}
		cones = append(cones, st.NewCone(lo, source[lo:hi], target[j], slices[lo:hi]))
		lo = hi
	}
	return st.NewRewrite(dim, cones)
}

func (e *Engine) accepts(a, b diagram.Diagram, f, c, g diagram.Rewrite) bool {
	st := e.st
	if got, err := st.RewriteForward(a, g); err != nil || got != b {
		return false
	}
	if composed, err := st.Compose(g, c); err != nil || composed != f {
		return false
	}
	return e.checker.Rewrite(g) == nil
}
