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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/fixtures"
)

func TestCodec_RoundTrip(t *testing.T) {
	w := fixtures.New(t)
	all, err := w.All()
	require.NoError(t, err)

	configs := []struct {
		name     string
		format   Format
		compress bool
	}{
		{name: "binary", format: FormatBinary},
		{name: "binary zstd", format: FormatBinary, compress: true},
		{name: "text", format: FormatText},
	}
	for _, cfg := range configs {
		for name, d := range all {
			t.Run(cfg.name+"/"+name, func(t *testing.T) {
				c := New(w.Store, WithConfig(Config{Compress: cfg.compress}))
				data, err := c.Encode(d, cfg.format)
				require.NoError(t, err)

				got, err := c.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, d, got)

				// A fresh store yields a new handle with the same encoding.
				other := diagram.NewStore()
				oc := New(other, WithConfig(Config{Compress: cfg.compress}))
				imported, err := oc.Decode(data)
				require.NoError(t, err)
				assert.NoError(t, check.New(other).Diagram(imported))
				again, err := oc.Encode(imported, cfg.format)
				require.NoError(t, err)
				assert.Equal(t, data, again)
			})
		}
	}
}

func TestCodec_DeterministicAcrossStores(t *testing.T) {
	a := fixtures.New(t)
	b := fixtures.New(t)

	// Intern unrelated content first so that handles differ between stores.
	b.IdentityLevels(7)
	b.Bubble()

	pa, err := a.SideBySide()
	require.NoError(t, err)
	pb, err := b.SideBySide()
	require.NoError(t, err)

	for _, format := range []Format{FormatBinary, FormatText} {
		da, err := New(a.Store).Encode(pa, format)
		require.NoError(t, err)
		db, err := New(b.Store).Encode(pb, format)
		require.NoError(t, err)
		assert.Equal(t, da, db, format.String())
	}
	assert.Equal(t, New(a.Store).RootKey(pa), New(b.Store).RootKey(pb))
	assert.NotEqual(t, New(a.Store).RootKey(pa), New(a.Store).RootKey(a.SigmaD))
}

func TestCodec_EntriesAreOrderedChildrenFirst(t *testing.T) {
	w := fixtures.New(t)
	side, err := w.SideBySide()
	require.NoError(t, err)

	g := New(w.Store).graph(side)
	seen := make(map[Key]bool)
	for _, e := range g.entries {
		for _, child := range e.children() {
			assert.True(t, seen[child], "%s %s before its child %s", e.kind, e.key, child)
		}
		seen[e.key] = true
	}
	assert.Equal(t, g.root, g.entries[len(g.entries)-1].key)
}

// Nesting depth is bounded by memory, not by the goroutine stack.
func TestCodec_DeepNesting(t *testing.T) {
	w := fixtures.New(t)
	st := w.Store

	const depth = 10_000
	d := w.Point
	for i := 0; i < depth; i++ {
		d = st.Identity(d)
	}
	require.Equal(t, depth, st.Dim(d))

	configs := []struct {
		name     string
		format   Format
		compress bool
	}{
		{name: "binary", format: FormatBinary},
		{name: "binary zstd", format: FormatBinary, compress: true},
		{name: "text", format: FormatText},
	}
	for _, cfg := range configs {
		t.Run(cfg.name, func(t *testing.T) {
			c := New(st, WithConfig(Config{Compress: cfg.compress}))
			data, err := c.Encode(d, cfg.format)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, d, got)

			other := diagram.NewStore()
			imported, err := New(other, WithConfig(Config{Compress: cfg.compress})).Decode(data)
			require.NoError(t, err)
			assert.Equal(t, depth, other.Dim(imported))
		})
	}
}

func TestCodec_CyclicGraphIsMalformed(t *testing.T) {
	w := fixtures.New(t)
	c := New(w.Store)

	point := &entry{kind: kindPoint, key: 1, gen: w.Star}
	tests := []struct {
		name string
		g    *graph
	}{
		{
			name: "diagram sources",
			g: &graph{root: 10, entries: []*entry{
				{kind: kindDiagram, key: 10, dim: 1, source: 11},
				{kind: kindDiagram, key: 11, dim: 1, source: 10},
			}},
		},
		{
			name: "self source",
			g: &graph{root: 10, entries: []*entry{
				{kind: kindDiagram, key: 10, dim: 1, source: 10},
			}},
		},
		{
			name: "cone slice",
			g: &graph{root: 10, entries: []*entry{
				point,
				{kind: kindDiagram, key: 10, dim: 2, source: 1, cospans: []keyPair{{20, 20}}},
				{kind: kindRewrite, key: 20, dim: 1, cones: []coneRef{{index: 0, cone: 30}}},
				{kind: kindCone, key: 30, target: keyPair{20, 20}, slices: []Key{20}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := c.build(tt.g)
				require.Error(t, err)
				var ce *CodecError
				require.True(t, errors.As(err, &ce), "%v", err)
				assert.Equal(t, KindMalformed, ce.Kind)
				assert.Contains(t, ce.Reason, "cycle")
			})
		})
	}

	// The same shape in the text format is rejected before the graph is
	// walked, since no key can cover its own content.
	doc := textDoc{
		Format:  textFormat,
		Version: TextVersion,
		Root:    Key(10).String(),
		Entries: []textEntry{
			{Key: Key(10).String(), Kind: "diagram", Dim: ptr(uint32(1)), Source: Key(11).String()},
			{Key: Key(11).String(), Kind: "diagram", Dim: ptr(uint32(1)), Source: Key(10).String()},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	_, err = c.Decode(data)
	require.Error(t, err)
	var ce *CodecError
	require.True(t, errors.As(err, &ce), "%v", err)
	assert.Equal(t, KindMalformed, ce.Kind)
}

func ptr[T any](v T) *T { return &v }

func TestCodec_TruncatedInputIsMalformed(t *testing.T) {
	w := fixtures.New(t)
	side, err := w.SideBySide()
	require.NoError(t, err)

	for _, compress := range []bool{false, true} {
		c := New(w.Store, WithConfig(Config{Compress: compress}))
		data, err := c.Encode(side, FormatBinary)
		require.NoError(t, err)

		for n := 0; n < len(data); n++ {
			assert.NotPanics(t, func() {
				_, err := c.Decode(data[:n])
				assert.Error(t, err, "prefix of %d bytes", n)
				assert.True(t, errors.Is(err, ErrMalformed), "prefix of %d bytes: %v", n, err)
			})
		}
	}
}

func TestCodec_CorruptedInputIsMalformed(t *testing.T) {
	w := fixtures.New(t)
	c := New(w.Store)
	data, err := c.Encode(w.SigmaD, FormatBinary)
	require.NoError(t, err)

	for i := headerSize; i < len(data); i++ {
		corrupt := append([]byte(nil), data...)
		corrupt[i] ^= 0x5a
		assert.NotPanics(t, func() {
			_, err := c.Decode(corrupt)
			assert.Error(t, err, "byte %d", i)
		})
	}
}

func TestCodec_VersionMismatch(t *testing.T) {
	w := fixtures.New(t)
	c := New(w.Store)

	data, err := c.Encode(w.Arrow, FormatBinary)
	require.NoError(t, err)
	data[4] = 9
	_, err = c.Decode(data)
	assert.True(t, errors.Is(err, ErrVersionMismatch))

	text, err := c.Encode(w.Arrow, FormatText)
	require.NoError(t, err)
	var doc textDoc
	require.NoError(t, json.Unmarshal(text, &doc))

	doc.Version = "v2.0.0"
	future, err := json.Marshal(doc)
	require.NoError(t, err)
	_, err = c.Decode(future)
	assert.True(t, errors.Is(err, ErrVersionMismatch))

	doc.Version = "v1.3.0"
	minor, err := json.Marshal(doc)
	require.NoError(t, err)
	got, err := c.Decode(minor)
	require.NoError(t, err)
	assert.Equal(t, w.Arrow, got)

	doc.Version = "one"
	bad, err := json.Marshal(doc)
	require.NoError(t, err)
	_, err = c.Decode(bad)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestCodec_MalformedText(t *testing.T) {
	w := fixtures.New(t)
	c := New(w.Store)
	text, err := c.Encode(w.SigmaD, FormatText)
	require.NoError(t, err)

	mutate := func(f func(doc *textDoc)) []byte {
		var doc textDoc
		require.NoError(t, json.Unmarshal(text, &doc))
		f(&doc)
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("{nope")},
		{name: "wrong format", data: mutate(func(d *textDoc) { d.Format = "other" })},
		{name: "dangling reference", data: mutate(func(d *textDoc) { d.Entries = d.Entries[1:] })},
		{name: "missing root", data: mutate(func(d *textDoc) { d.Root = "0000000000000000" })},
		{name: "short key", data: mutate(func(d *textDoc) { d.Entries[0].Key = "abc" })},
		{name: "key mismatch", data: mutate(func(d *textDoc) { d.Entries[0].Key = "0123456789abcdef" })},
		{name: "unknown kind", data: mutate(func(d *textDoc) { d.Entries[0].Kind = "blob" })},
		{name: "root below the top", data: mutate(func(d *textDoc) { d.Root = d.Entries[0].Key })},
		{name: "garbage", data: []byte("GARBAGE!")},
		{name: "empty", data: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "%v", err)
		})
	}
}

func TestCodec_UnknownFlags(t *testing.T) {
	w := fixtures.New(t)
	c := New(w.Store)
	data, err := c.Encode(w.Arrow, FormatBinary)
	require.NoError(t, err)
	data[6] |= 0x80

	_, err = c.Decode(data)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
