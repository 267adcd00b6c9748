// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

const (
	textFormat = "hdk"

	// TextVersion is the text format version written by Encode. Decode
	// accepts any version with the same major.
	TextVersion = "v1.0.0"
)

type textDoc struct {
	Format  string      `json:"format"`
	Version string      `json:"version"`
	Root    string      `json:"root"`
	Entries []textEntry `json:"entries"`
}

type textGenerator struct {
	ID  uint32 `json:"id"`
	Dim uint32 `json:"dim"`
}

type textCone struct {
	Index uint32 `json:"index"`
	Cone  string `json:"cone"`
}

type textEntry struct {
	Key       string         `json:"key"`
	Kind      string         `json:"kind"`
	Dim       *uint32        `json:"dim,omitempty"`
	Generator *textGenerator `json:"generator,omitempty"`
	From      *textGenerator `json:"from,omitempty"`
	To        *textGenerator `json:"to,omitempty"`
	Source    string         `json:"source,omitempty"`
	Cospans   [][2]string    `json:"cospans,omitempty"`
	Cones     []textCone     `json:"cones,omitempty"`
	Target    *[2]string     `json:"target,omitempty"`
	Slices    []string       `json:"slices,omitempty"`
}

func textPairs(pairs []keyPair) [][2]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make([][2]string, len(pairs))
	for i, p := range pairs {
		out[i] = [2]string{p[0].String(), p[1].String()}
	}
	return out
}

func textGen(g diagram.Generator) *textGenerator {
	return &textGenerator{ID: g.ID, Dim: g.Dim}
}

func encodeText(g *graph) ([]byte, error) {
	doc := textDoc{
		Format:  textFormat,
		Version: TextVersion,
		Root:    g.root.String(),
		Entries: make([]textEntry, 0, len(g.entries)),
	}
	for _, e := range g.entries {
		te := textEntry{Key: e.key.String(), Kind: e.kind.String()}
		switch e.kind {
		case kindPoint:
			te.Generator = textGen(e.gen)
		case kindDiagram:
			te.Dim = &e.dim
			te.Source = e.source.String()
			te.Cospans = textPairs(e.cospans)
		case kindIdentity:
			te.Dim = &e.dim
		case kindAtom:
			te.From, te.To = textGen(e.gen), textGen(e.tgt)
		case kindRewrite:
			te.Dim = &e.dim
			for _, c := range e.cones {
				te.Cones = append(te.Cones, textCone{Index: c.index, Cone: c.cone.String()})
			}
		case kindCone:
			te.Cospans = textPairs(e.cospans)
			te.Target = &[2]string{e.target[0].String(), e.target[1].String()}
			for _, s := range e.slices {
				te.Slices = append(te.Slices, s.String())
			}
		}
		doc.Entries = append(doc.Entries, te)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding text: %w", err)
	}
	return append(out, '\n'), nil
}

func parseKey(s string) (Key, error) {
	if len(s) != 16 {
		return 0, malformed(-1, "key %q is not 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, malformed(-1, "key %q: %v", s, err)
	}
	return Key(v), nil
}

func parsePair(p [2]string) (keyPair, error) {
	a, err := parseKey(p[0])
	if err != nil {
		return keyPair{}, err
	}
	b, err := parseKey(p[1])
	if err != nil {
		return keyPair{}, err
	}
	return keyPair{a, b}, nil
}

func parsePairs(ps [][2]string) ([]keyPair, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	out := make([]keyPair, len(ps))
	for i, p := range ps {
		var err error
		if out[i], err = parsePair(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func kindByName(name string) (entryKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

func decodeText(data []byte, config Config) (*graph, error) {
	var doc textDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, malformed(-1, "text: %v", err)
	}
	if doc.Format != textFormat {
		return nil, malformed(-1, "format %q, expected %q", doc.Format, textFormat)
	}
	if !semver.IsValid(doc.Version) {
		return nil, malformed(-1, "version %q is not a semantic version", doc.Version)
	}
	if semver.Major(doc.Version) != semver.Major(TextVersion) {
		return nil, versionMismatch("text version %s, supported %s", doc.Version, semver.Major(TextVersion))
	}
	if config.MaxEntries > 0 && len(doc.Entries) > config.MaxEntries {
		return nil, malformed(-1, "%d entries exceed the limit of %d", len(doc.Entries), config.MaxEntries)
	}
	root, err := parseKey(doc.Root)
	if err != nil {
		return nil, err
	}

	g := &graph{root: root, entries: make([]*entry, 0, len(doc.Entries))}
	var scratch []byte
	for i, te := range doc.Entries {
		e, err := fromText(te)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		var want Key
		want, scratch = merkleKey(e, scratch)
		if want != e.key {
			return nil, malformed(-1, "entry %d: key %s does not match content %s", i, e.key, want)
		}
		g.entries = append(g.entries, e)
	}
	return g, nil
}

func fromText(te textEntry) (*entry, error) {
	kind, ok := kindByName(te.Kind)
	if !ok {
		return nil, malformed(-1, "unknown entry kind %q", te.Kind)
	}
	key, err := parseKey(te.Key)
	if err != nil {
		return nil, err
	}
	e := &entry{kind: kind, key: key}

	needDim := func() error {
		if te.Dim == nil {
			return malformed(-1, "%s %s has no dimension", kind, key)
		}
		e.dim = *te.Dim
		return nil
	}
	switch kind {
	case kindPoint:
		if te.Generator == nil {
			return nil, malformed(-1, "point %s has no generator", key)
		}
		e.gen = diagram.Generator{ID: te.Generator.ID, Dim: te.Generator.Dim}
	case kindDiagram:
		if err := needDim(); err != nil {
			return nil, err
		}
		if e.source, err = parseKey(te.Source); err != nil {
			return nil, err
		}
		if e.cospans, err = parsePairs(te.Cospans); err != nil {
			return nil, err
		}
	case kindIdentity:
		if err := needDim(); err != nil {
			return nil, err
		}
	case kindAtom:
		if te.From == nil || te.To == nil {
			return nil, malformed(-1, "atom %s needs both endpoints", key)
		}
		e.gen = diagram.Generator{ID: te.From.ID, Dim: te.From.Dim}
		e.tgt = diagram.Generator{ID: te.To.ID, Dim: te.To.Dim}
	case kindRewrite:
		if err := needDim(); err != nil {
			return nil, err
		}
		for _, c := range te.Cones {
			k, err := parseKey(c.Cone)
			if err != nil {
				return nil, err
			}
			e.cones = append(e.cones, coneRef{index: c.Index, cone: k})
		}
	case kindCone:
		if te.Target == nil {
			return nil, malformed(-1, "cone %s has no target", key)
		}
		if e.cospans, err = parsePairs(te.Cospans); err != nil {
			return nil, err
		}
		if e.target, err = parsePair(*te.Target); err != nil {
			return nil, err
		}
		for _, s := range te.Slices {
			k, err := parseKey(s)
			if err != nil {
				return nil, err
			}
			e.slices = append(e.slices, k)
		}
	}
	return e, nil
}
