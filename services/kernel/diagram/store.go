// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagram

import (
	"encoding/binary"
	"slices"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/intern"
)

// -----------------------------------------------------------------------------
// Handles
// -----------------------------------------------------------------------------

// Diagram is a handle to an interned diagram. Equal handles mean equal
// diagrams.
type Diagram struct{ h intern.Handle }

// Handle returns the underlying store handle.
func (d Diagram) Handle() intern.Handle { return d.h }

// IsZero reports whether d is the zero (absent) diagram.
func (d Diagram) IsZero() bool { return d.h.IsZero() }

func (d Diagram) String() string { return "D" + d.h.String() }

// Rewrite is a handle to an interned rewrite.
type Rewrite struct{ h intern.Handle }

// Handle returns the underlying store handle.
func (r Rewrite) Handle() intern.Handle { return r.h }

// IsZero reports whether r is the zero (absent) rewrite.
func (r Rewrite) IsZero() bool { return r.h.IsZero() }

func (r Rewrite) String() string { return "R" + r.h.String() }

// Cospan is one level of an n-diagram: Forward maps the regular slice
// below the level into its singular slice, Backward maps the regular slice
// above into the same singular slice.
type Cospan struct {
	Forward  Rewrite
	Backward Rewrite
}

// Cone is one component of a rewrite of positive dimension.
//
// Index is the position of the cone's first source cospan in the source
// diagram. It is not part of the interned payload, so the same local
// replacement shared at different positions is stored once.
type Cone struct {
	Index int
	ref   intern.Handle
}

// Ref returns the handle of the interned cone payload.
func (c Cone) Ref() intern.Handle { return c.ref }

// -----------------------------------------------------------------------------
// Interned payloads
// -----------------------------------------------------------------------------

type diagramNode struct {
	dim     int
	gen     Generator
	source  Diagram
	cospans []Cospan
}

type rewriteNode struct {
	dim    int
	atomic bool
	src    Generator
	tgt    Generator
	cones  []Cone
}

type coneNode struct {
	source []Cospan
	target Cospan
	slices []Rewrite
}

const (
	kindDiagram byte = 'D'
	kindRewrite byte = 'R'
	kindCone    byte = 'C'
)

func appendHandle(dst []byte, h intern.Handle) []byte {
	return h.AppendKey(dst)
}

func appendCospan(dst []byte, c Cospan) []byte {
	dst = appendHandle(dst, c.Forward.h)
	return appendHandle(dst, c.Backward.h)
}

func diagramKey(dst []byte, n diagramNode) []byte {
	dst = append(dst, kindDiagram)
	dst = binary.AppendUvarint(dst, uint64(n.dim))
	if n.dim == 0 {
		dst = binary.LittleEndian.AppendUint32(dst, n.gen.ID)
		return binary.LittleEndian.AppendUint32(dst, n.gen.Dim)
	}
	dst = appendHandle(dst, n.source.h)
	dst = binary.AppendUvarint(dst, uint64(len(n.cospans)))
	for _, c := range n.cospans {
		dst = appendCospan(dst, c)
	}
	return dst
}

func rewriteKey(dst []byte, n rewriteNode) []byte {
	dst = append(dst, kindRewrite)
	dst = binary.AppendUvarint(dst, uint64(n.dim))
	if n.dim == 0 {
		if !n.atomic {
			return append(dst, 0)
		}
		dst = append(dst, 1)
		dst = binary.LittleEndian.AppendUint32(dst, n.src.ID)
		dst = binary.LittleEndian.AppendUint32(dst, n.src.Dim)
		dst = binary.LittleEndian.AppendUint32(dst, n.tgt.ID)
		return binary.LittleEndian.AppendUint32(dst, n.tgt.Dim)
	}
	dst = binary.AppendUvarint(dst, uint64(len(n.cones)))
	for _, c := range n.cones {
		dst = binary.AppendUvarint(dst, uint64(c.Index))
		dst = appendHandle(dst, c.ref)
	}
	return dst
}

func coneKey(dst []byte, n coneNode) []byte {
	dst = append(dst, kindCone)
	dst = binary.AppendUvarint(dst, uint64(len(n.source)))
	for _, c := range n.source {
		dst = appendCospan(dst, c)
	}
	dst = appendCospan(dst, n.target)
	dst = binary.AppendUvarint(dst, uint64(len(n.slices)))
	for _, r := range n.slices {
		dst = appendHandle(dst, r.h)
	}
	return dst
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store owns the interning tables for diagrams, rewrites and cone payloads,
// plus the memoized slices of every diagram.
//
// Description:
//
//	Every constructor returns the canonical handle of its content, so
//	structural equality is handle equality. Entries hold references to their
//	children; the memo of derived slices holds references to the slices.
//	Nothing is reclaimed until Collect is called.
//
// Thread Safety:
//
//	Not safe for concurrent use. Pass the store explicitly and serialise
//	access at the owner.
type Store struct {
	diagrams *intern.Table[diagramNode]
	rewrites *intern.Table[rewriteNode]
	cones    *intern.Table[coneNode]
	memo     map[Diagram]*sliceSet
}

// StoreStats reports per-table counters.
type StoreStats struct {
	Diagrams  intern.Stats
	Rewrites  intern.Stats
	Cones     intern.Stats
	SliceMemo int
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{memo: make(map[Diagram]*sliceSet)}

	s.diagrams = intern.NewTable("diagrams", diagramKey, intern.Hooks[diagramNode]{
		OnCreate: func(_ intern.Handle, n diagramNode) {
			if n.dim == 0 {
				return
			}
			s.diagrams.Retain(n.source.h)
			for _, c := range n.cospans {
				s.retainCospan(c)
			}
		},
		OnFree: func(h intern.Handle, n diagramNode) {
			s.dropSlices(Diagram{h})
			if n.dim == 0 {
				return
			}
			s.diagrams.Release(n.source.h)
			for _, c := range n.cospans {
				s.releaseCospan(c)
			}
		},
	})

	s.rewrites = intern.NewTable("rewrites", rewriteKey, intern.Hooks[rewriteNode]{
		OnCreate: func(_ intern.Handle, n rewriteNode) {
			for _, c := range n.cones {
				s.cones.Retain(c.ref)
			}
		},
		OnFree: func(_ intern.Handle, n rewriteNode) {
			for _, c := range n.cones {
				s.cones.Release(c.ref)
			}
		},
	})

	s.cones = intern.NewTable("cones", coneKey, intern.Hooks[coneNode]{
		OnCreate: func(_ intern.Handle, n coneNode) {
			for _, c := range n.source {
				s.retainCospan(c)
			}
			s.retainCospan(n.target)
			for _, r := range n.slices {
				s.rewrites.Retain(r.h)
			}
		},
		OnFree: func(_ intern.Handle, n coneNode) {
			for _, c := range n.source {
				s.releaseCospan(c)
			}
			s.releaseCospan(n.target)
			for _, r := range n.slices {
				s.rewrites.Release(r.h)
			}
		},
	})

	return s
}

func (s *Store) retainCospan(c Cospan) {
	s.rewrites.Retain(c.Forward.h)
	s.rewrites.Retain(c.Backward.h)
}

func (s *Store) releaseCospan(c Cospan) {
	s.rewrites.Release(c.Forward.h)
	s.rewrites.Release(c.Backward.h)
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// Point returns the 0-diagram of a generator.
func (s *Store) Point(g Generator) Diagram {
	h, _ := s.diagrams.Intern(diagramNode{dim: 0, gen: g})
	return Diagram{h}
}

// NewDiagram returns the diagram with the given source and levels.
//
// No well-formedness is checked here; run the checker on anything built
// from untrusted parts.
func (s *Store) NewDiagram(source Diagram, cospans []Cospan) Diagram {
	h, _ := s.diagrams.Intern(diagramNode{
		dim:     s.Dim(source) + 1,
		source:  source,
		cospans: slices.Clone(cospans),
	})
	return Diagram{h}
}

// Identity returns the diagram one dimension up with no levels over d.
func (s *Store) Identity(d Diagram) Diagram {
	return s.NewDiagram(d, nil)
}

// IdentityRewrite returns the identity rewrite of the given dimension.
func (s *Store) IdentityRewrite(dim int) Rewrite {
	h, _ := s.rewrites.Intern(rewriteNode{dim: dim})
	return Rewrite{h}
}

// Atom returns the 0-dimensional rewrite from src to tgt, or the identity
// when they are the same generator.
func (s *Store) Atom(src, tgt Generator) Rewrite {
	if src == tgt {
		return s.IdentityRewrite(0)
	}
	h, _ := s.rewrites.Intern(rewriteNode{dim: 0, atomic: true, src: src, tgt: tgt})
	return Rewrite{h}
}

// NewCone interns a cone payload at the given source position.
func (s *Store) NewCone(index int, source []Cospan, target Cospan, slice []Rewrite) Cone {
	h, _ := s.cones.Intern(coneNode{
		source: slices.Clone(source),
		target: target,
		slices: slices.Clone(slice),
	})
	return Cone{Index: index, ref: h}
}

// NewRewrite returns the rewrite of dimension dim made of the given cones.
//
// Cones must be ordered by index. Trivial cones (a single source equal to
// the target with an identity slice) are dropped so that every rewrite has
// one canonical form; a rewrite without cones is the identity.
func (s *Store) NewRewrite(dim int, cones []Cone) Rewrite {
	kept := make([]Cone, 0, len(cones))
	for _, c := range cones {
		if !s.isTrivialCone(c) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	h, _ := s.rewrites.Intern(rewriteNode{dim: dim, cones: kept})
	return Rewrite{h}
}

func (s *Store) isTrivialCone(c Cone) bool {
	n := s.cones.Get(c.ref)
	if len(n.source) != 1 || len(n.slices) != 1 || n.source[0] != n.target {
		return false
	}
	return s.IsIdentity(n.slices[0])
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Dim returns the dimension of d.
func (s *Store) Dim(d Diagram) int {
	return s.diagrams.Get(d.h).dim
}

// Generator returns the generator of a 0-diagram.
func (s *Store) Generator(d Diagram) (Generator, bool) {
	n := s.diagrams.Get(d.h)
	return n.gen, n.dim == 0
}

// Source returns the source boundary of a diagram of positive dimension, or
// the zero Diagram for a 0-diagram.
func (s *Store) Source(d Diagram) Diagram {
	return s.diagrams.Get(d.h).source
}

// Size returns the number of levels of d (zero for a 0-diagram).
func (s *Store) Size(d Diagram) int {
	return len(s.diagrams.Get(d.h).cospans)
}

// Cospan returns level i of d.
func (s *Store) Cospan(d Diagram, i int) Cospan {
	return s.diagrams.Get(d.h).cospans[i]
}

// Cospans returns a copy of the levels of d.
func (s *Store) Cospans(d Diagram) []Cospan {
	return slices.Clone(s.diagrams.Get(d.h).cospans)
}

// RewriteDim returns the dimension of r.
func (s *Store) RewriteDim(r Rewrite) int {
	return s.rewrites.Get(r.h).dim
}

// IsIdentity reports whether r is an identity rewrite.
func (s *Store) IsIdentity(r Rewrite) bool {
	n := s.rewrites.Get(r.h)
	if n.dim == 0 {
		return !n.atomic
	}
	return len(n.cones) == 0
}

// AtomOf returns the endpoints of an atomic 0-dimensional rewrite.
func (s *Store) AtomOf(r Rewrite) (src, tgt Generator, ok bool) {
	n := s.rewrites.Get(r.h)
	if n.dim != 0 || !n.atomic {
		return Generator{}, Generator{}, false
	}
	return n.src, n.tgt, true
}

// Cones returns a copy of the cones of r.
func (s *Store) Cones(r Rewrite) []Cone {
	return slices.Clone(s.rewrites.Get(r.h).cones)
}

// ConeSource returns a copy of the source cospans of c.
func (s *Store) ConeSource(c Cone) []Cospan {
	return slices.Clone(s.cones.Get(c.ref).source)
}

// ConeLen returns the number of source cospans of c.
func (s *Store) ConeLen(c Cone) int {
	return len(s.cones.Get(c.ref).source)
}

// ConeTarget returns the target cospan of c.
func (s *Store) ConeTarget(c Cone) Cospan {
	return s.cones.Get(c.ref).target
}

// ConeSlices returns a copy of the singular slice rewrites of c.
func (s *Store) ConeSlices(c Cone) []Rewrite {
	return slices.Clone(s.cones.Get(c.ref).slices)
}

// WithIndex returns the same cone payload placed at another position.
func (c Cone) WithIndex(index int) Cone {
	return Cone{Index: index, ref: c.ref}
}

// -----------------------------------------------------------------------------
// Lifetime
// -----------------------------------------------------------------------------

// RetainDiagram keeps d alive across collections until released.
func (s *Store) RetainDiagram(d Diagram) { s.diagrams.Retain(d.h) }

// ReleaseDiagram drops a reference taken with RetainDiagram.
func (s *Store) ReleaseDiagram(d Diagram) { s.diagrams.Release(d.h) }

// RetainRewrite keeps r alive across collections until released.
func (s *Store) RetainRewrite(r Rewrite) { s.rewrites.Retain(r.h) }

// ReleaseRewrite drops a reference taken with RetainRewrite.
func (s *Store) ReleaseRewrite(r Rewrite) { s.rewrites.Release(r.h) }

// ValidDiagram reports whether d still refers to a live entry.
func (s *Store) ValidDiagram(d Diagram) bool { return s.diagrams.Valid(d.h) }

// ValidRewrite reports whether r still refers to a live entry.
func (s *Store) ValidRewrite(r Rewrite) bool { return s.rewrites.Valid(r.h) }

// Collect reclaims every entry that is not reachable from a retained
// handle. It must only be called while no algorithm is running over the
// store. Returns the number of entries reclaimed.
func (s *Store) Collect() int {
	return intern.Collect(s.diagrams, s.rewrites, s.cones)
}

// Stats returns the store counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Diagrams:  s.diagrams.Stats(),
		Rewrites:  s.rewrites.Stats(),
		Cones:     s.cones.Stats(),
		SliceMemo: len(s.memo),
	}
}
