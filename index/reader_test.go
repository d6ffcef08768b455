package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

func TestReader_SearchUnindexedFieldReturnsErrNotIndexed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schema, err := NewSchema(16,
		Field{Name: "slot", ValueType: types.Int64, ByteOffset: 4, Kind: types.CanonicalOrdering},
		Field{Name: "plain", ValueType: types.Int32, ByteOffset: 12},
	)
	require.NoError(t, err)

	w, err := NewWriter(dir, "base", schema)
	require.NoError(t, err)
	_, err = w.Write(ctx, 1, 9)
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	r, err := NewReader(dir, "base", schema)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Search(ctx, "plain", 9, types.BiasNone)
	require.ErrorIs(t, err, types.ErrNotIndexed)

	_, err = r.Search(ctx, "nonexistent", 9, types.BiasNone)
	require.ErrorIs(t, err, types.ErrNotIndexed)
}

func TestReader_GetAndValueFor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schema := testSchema(t)

	w, err := NewWriter(dir, "base", schema)
	require.NoError(t, err)
	_, err = w.Write(ctx, 5, 50)
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	r, err := NewReader(dir, "base", schema)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	rec, err := r.Get(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 5, rec.Int64(4))

	v, err := r.ValueFor(ctx, 0, "val")
	require.NoError(t, err)
	require.EqualValues(t, 50, v)
}
