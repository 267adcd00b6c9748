// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagram implements the diagram and rewrite model.
//
// A 0-diagram is a generator. An n-diagram is a source (n-1)-diagram plus a
// list of cospans; its regular and singular slices are derived by applying
// the cospan rewrites in order. Rewrites are either identities, atomic
// 0-dimensional rewrites between generators, or lists of cones that each
// replace a run of consecutive cospans by a single one.
//
// All values are handles into a Store and are only meaningful together with
// the store that produced them.
package diagram

import (
	"fmt"
	"sort"
)

// Generator is a named cell of the signature.
type Generator struct {
	ID  uint32
	Dim uint32
}

func (g Generator) String() string {
	return fmt.Sprintf("g%d:%d", g.ID, g.Dim)
}

// Direction selects which side of a level an operation works towards.
type Direction int

const (
	// Forward works towards the higher level / the target.
	Forward Direction = iota
	// Backward works towards the lower level / the source.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ParseDirection parses "forward" or "backward".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "f", "":
		return Forward, nil
	case "backward", "b":
		return Backward, nil
	}
	return Forward, fmt.Errorf("unknown direction %q", s)
}

// Signature assigns generators to cell names.
//
// Thread Safety: Not safe for concurrent use.
type Signature struct {
	byName map[string]Generator
	names  map[uint32]string
	next   uint32
}

// NewSignature creates an empty signature.
func NewSignature() *Signature {
	return &Signature{
		byName: make(map[string]Generator),
		names:  make(map[uint32]string),
		next:   1,
	}
}

// Add registers a generator of the given dimension under name, or returns
// the existing one. Re-registering a name with another dimension fails.
func (s *Signature) Add(name string, dim uint32) (Generator, error) {
	if g, ok := s.byName[name]; ok {
		if g.Dim != dim {
			return Generator{}, fmt.Errorf("generator %q already has dimension %d", name, g.Dim)
		}
		return g, nil
	}
	g := Generator{ID: s.next, Dim: dim}
	s.next++
	s.byName[name] = g
	s.names[g.ID] = name
	return g, nil
}

// MustAdd is Add for fixtures and demos; it panics on error.
func (s *Signature) MustAdd(name string, dim uint32) Generator {
	g, err := s.Add(name, dim)
	if err != nil {
		panic(err)
	}
	return g
}

// Lookup finds a generator by name.
func (s *Signature) Lookup(name string) (Generator, bool) {
	g, ok := s.byName[name]
	return g, ok
}

// Name returns the registered name of g, or its debug form.
func (s *Signature) Name(g Generator) string {
	if n, ok := s.names[g.ID]; ok {
		return n
	}
	return g.String()
}

// Names returns all registered names in ID order.
func (s *Signature) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.byName[out[i]].ID < s.byName[out[j]].ID
	})
	return out
}
