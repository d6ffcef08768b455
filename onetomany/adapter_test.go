package onetomany

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

func TestAdapter_IndexOfKeyAndKeyForKeyIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, 0, 0, 1000, 50))
	require.NoError(t, w.Put(ctx, 1, 1, 1001, 60))
	require.NoError(t, w.Put(ctx, 2, 2, 1002, 70))
	require.NoError(t, w.Close(ctx, true))

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	ki, err := r.IndexOfKey(ctx, 1001)
	require.NoError(t, err)
	require.EqualValues(t, 1, ki)

	k, err := r.KeyForKeyIndex(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1001, k)
}

func TestAdapter_IndexOfValueAndValueForValueIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, 0, 0, 1000, 50))
	require.NoError(t, w.Put(ctx, 1, 1, 1001, 60))
	require.NoError(t, w.Close(ctx, true))

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	vi, err := r.IndexOfValue(ctx, 60)
	require.NoError(t, err)
	require.EqualValues(t, 1, vi)

	v, err := r.ValueForValueIndex(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 60, v)
}

func TestAdapter_MissesReturnErrNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, 0, 0, 1000, 50))
	require.NoError(t, w.Put(ctx, 1, 1, 1001, 60))
	require.NoError(t, w.Close(ctx, true))

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.IndexOfKey(ctx, 1002)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.IndexOfValue(ctx, 999)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.KeyForKeyIndex(ctx, 5)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.ValueForValueIndex(ctx, 5)
	require.ErrorIs(t, err, types.ErrNotFound)
}
