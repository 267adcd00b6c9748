// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/fixtures"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func encode(t *testing.T, st *diagram.Store, d diagram.Diagram) Record {
	t.Helper()
	c := codec.New(st)
	data, err := c.Encode(d, codec.FormatBinary)
	require.NoError(t, err)
	return Record{
		Key:    c.RootKey(d),
		Format: codec.FormatBinary.String(),
		Dim:    st.Dim(d),
		Size:   st.Size(d),
		Data:   data,
	}
}

func TestArchive_PutGet(t *testing.T) {
	w := fixtures.New(t)
	a := openTestArchive(t)
	ctx := context.Background()

	rec := encode(t, w.Store, w.SigmaD)
	rec.Name = "sigma"
	require.NoError(t, a.Put(ctx, rec))

	got, err := a.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, rec.Data, got.Data)
	assert.Equal(t, "sigma", got.Name)
	assert.Equal(t, rec.Dim, got.Dim)
	assert.Equal(t, len(rec.Data), got.Bytes)
	assert.False(t, got.Stored.IsZero())

	// The stored bytes decode to the same diagram.
	d, err := codec.New(w.Store).Decode(got.Data)
	require.NoError(t, err)
	assert.Equal(t, w.SigmaD, d)
}

func TestArchive_PutIsIdempotent(t *testing.T) {
	w := fixtures.New(t)
	a := openTestArchive(t)
	ctx := context.Background()

	rec := encode(t, w.Store, w.Arrow)
	require.NoError(t, a.Put(ctx, rec))
	require.NoError(t, a.Put(ctx, rec))

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Data)
}

func TestArchive_Resolve(t *testing.T) {
	w := fixtures.New(t)
	a := openTestArchive(t)
	ctx := context.Background()

	arrow := encode(t, w.Store, w.Arrow)
	arrow.Name = "current"
	require.NoError(t, a.Put(ctx, arrow))

	k, err := a.Resolve(ctx, "current")
	require.NoError(t, err)
	assert.Equal(t, arrow.Key, k)

	k, err = a.Resolve(ctx, arrow.Key.String())
	require.NoError(t, err)
	assert.Equal(t, arrow.Key, k)

	// Moving the name to another record.
	sigma := encode(t, w.Store, w.SigmaD)
	sigma.Name = "current"
	require.NoError(t, a.Put(ctx, sigma))
	k, err = a.Resolve(ctx, "current")
	require.NoError(t, err)
	assert.Equal(t, sigma.Key, k)

	_, err = a.Resolve(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestArchive_InvalidNames(t *testing.T) {
	w := fixtures.New(t)
	a := openTestArchive(t)
	rec := encode(t, w.Store, w.Arrow)

	for _, name := range []string{"a/b", "0123456789abcdef", string(make([]byte, 201))} {
		rec.Name = name
		err := a.Put(context.Background(), rec)
		assert.True(t, errors.Is(err, ErrInvalidName), "%q: %v", name, err)
	}
}

func TestArchive_Delete(t *testing.T) {
	w := fixtures.New(t)
	a := openTestArchive(t)
	ctx := context.Background()

	arrow := encode(t, w.Store, w.Arrow)
	arrow.Name = "arrow"
	require.NoError(t, a.Put(ctx, arrow))
	sigma := encode(t, w.Store, w.SigmaD)
	require.NoError(t, a.Put(ctx, sigma))

	require.NoError(t, a.Delete(ctx, arrow.Key))
	_, err := a.Get(ctx, arrow.Key)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = a.Resolve(ctx, "arrow")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = a.Delete(ctx, arrow.Key)
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sigma.Key, list[0].Key)
}

func TestArchive_CanceledContext(t *testing.T) {
	a := openTestArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = a.Get(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, a.Put(ctx, Record{Data: []byte{1}}), context.Canceled)
}

func TestArchive_EmptyEncoding(t *testing.T) {
	a := openTestArchive(t)
	assert.Error(t, a.Put(context.Background(), Record{Key: 7}))
}

func TestArchive_PersistsAcrossReopen(t *testing.T) {
	w := fixtures.New(t)
	dir := filepath.Join(t.TempDir(), "archive")
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	a, err := Open(cfg)
	require.NoError(t, err)
	rec := encode(t, w.Store, w.TauD)
	rec.Name = "tau"
	require.NoError(t, a.Put(ctx, rec))
	require.NoError(t, a.Close())

	b, err := Open(cfg)
	require.NoError(t, err)
	defer b.Close()
	k, err := b.Resolve(ctx, "tau")
	require.NoError(t, err)
	got, err := b.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, rec.Data, got.Data)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	cfg := DefaultConfig(t.TempDir())
	cfg.GCDiscardRatio = 1.5
	_, err = Open(cfg)
	assert.Error(t, err)
}
