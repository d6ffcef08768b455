package onetomany

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/store"
)

func TestWriter_PutCloseSortsByCompoundKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)

	rows := []edge{
		{keyIdx: 2, valIdx: 20, key: 1002, value: 200},
		{keyIdx: 0, valIdx: 0, key: 1000, value: 10},
		{keyIdx: 1, valIdx: 10, key: 1001, value: 100},
		{keyIdx: 0, valIdx: 1, key: 1000, value: 5},
	}
	for _, e := range rows {
		require.NoError(t, w.Put(ctx, e.keyIdx, e.valIdx, e.key, e.value))
	}
	require.NoError(t, w.Close(ctx, true))

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, len(rows), n)

	var prevKey, prevVal int64 = -1, -1
	for i := int64(0); i < int64(n); i++ {
		e, err := readEdge(ctx, r.edges, i)
		require.NoError(t, err)
		if e.key == prevKey {
			require.Greater(t, e.value, prevVal)
		} else {
			require.Greater(t, e.key, prevKey)
		}
		prevKey, prevVal = e.key, e.value
	}
}

func TestWriter_EmitsCountsSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)

	require.NoError(t, w.Put(ctx, 0, 0, 1000, 1))
	require.NoError(t, w.Put(ctx, 0, 1, 1000, 2))
	require.NoError(t, w.Put(ctx, 0, 2, 1000, 3))
	require.NoError(t, w.Put(ctx, 1, 3, 1001, 4))
	require.NoError(t, w.Close(ctx, false))

	countsSpec, err := store.NewStorageSpec(CountRecordSize)
	require.NoError(t, err)
	counts, err := store.OpenDescriptor(filepath.Join(dir, "base.counts"), countsSpec)
	require.NoError(t, err)
	defer counts.Close()

	n, err := counts.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	c0, err := counts.ReadAt(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1000, c0.Int64(4))
	require.EqualValues(t, 3, c0.Uint32(12))

	c1, err := counts.ReadAt(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1001, c1.Int64(4))
	require.EqualValues(t, 1, c1.Uint32(12))
}

func TestWriter_InlineInverseIsSortedOnClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := NewWriter(dir, "base", Config{InlineInverse: true})
	require.NoError(t, err)

	require.NoError(t, w.Put(ctx, 0, 5, 1000, 50))
	require.NoError(t, w.Put(ctx, 1, 2, 1001, 20))
	require.NoError(t, w.Close(ctx, false))

	inv, err := openReader(dir, "base", true)
	require.NoError(t, err)
	defer inv.Close()

	n, err := inv.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	e0, err := readEdge(ctx, inv.edges, 0)
	require.NoError(t, err)
	require.EqualValues(t, 20, e0.key)
	e1, err := readEdge(ctx, inv.edges, 1)
	require.NoError(t, err)
	require.EqualValues(t, 50, e1.key)
}
