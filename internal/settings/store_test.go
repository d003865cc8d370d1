// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package settings_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-cnc/gantry/internal/settings"
)

func openStore(t *testing.T) *settings.Store {
	t.Helper()
	s, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "probe", "feed", "1200"))

	v, ok, err := s.Get(ctx, "probe", "feed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1200", v)
}

func TestStore_GetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "probe", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetOverwrites(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "probe", "feed", "1200"))
	require.NoError(t, s.Set(ctx, "probe", "feed", "2400"))

	v, ok, err := s.Get(ctx, "probe", "feed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2400", v)
}

func TestStore_NamespaceIsolation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "alpha", "feed", "100"))
	require.NoError(t, s.Set(ctx, "beta", "feed", "200"))

	v, _, err := s.Get(ctx, "alpha", "feed")
	require.NoError(t, err)
	assert.Equal(t, "100", v)

	v, _, err = s.Get(ctx, "beta", "feed")
	require.NoError(t, err)
	assert.Equal(t, "200", v)
}

func TestStore_Delete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "probe", "feed", "1200"))
	require.NoError(t, s.Delete(ctx, "probe", "feed"))

	_, ok, err := s.Get(ctx, "probe", "feed")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, "probe", "feed"))
}

func TestStore_List(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "probe", "feed", "1200"))
	require.NoError(t, s.Set(ctx, "probe", "depth", "0.5"))
	require.NoError(t, s.Set(ctx, "other", "feed", "9"))

	got, err := s.List(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"feed": "1200", "depth": "0.5"}, got)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()

	s, err := settings.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Set(ctx, "probe", "feed", "1200"))
	require.NoError(t, s.Close())

	s, err = settings.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()
	require.NoError(t, s.Init(ctx))

	v, ok, err := s.Get(ctx, "probe", "feed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1200", v)
}
