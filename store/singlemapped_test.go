package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

func TestSingleMappedStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mapped.dat")

	// Seed the file via a descriptor store first, since SingleMappedStore
	// does not support Append (growth requires remapping).
	wspec, err := NewStorageSpec(8, WithWritable(true))
	require.NoError(t, err)
	seed, err := OpenDescriptor(path, wspec)
	require.NoError(t, err)
	for _, v := range []int64{1, 2, 3, 4} {
		_, err := seed.Append(ctx, recVal(v))
		require.NoError(t, err)
	}
	require.NoError(t, seed.Close())

	m, err := OpenSingleMapped(path, wspec)
	require.NoError(t, err)
	defer m.Close()

	v, err := m.ReadAt(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, v.Int64(0))

	require.NoError(t, m.Swap(ctx, 0, 3))
	v, err = m.ReadAt(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 4, v.Int64(0))

	require.NoError(t, m.Sort(ctx, 0, types.Int64))
	idx, err := m.BinarySearch(ctx, 2, 0, types.Int64, types.BiasNone)
	require.NoError(t, err)
	v, err = m.ReadAt(ctx, idx)
	require.NoError(t, err)
	require.EqualValues(t, 2, v.Int64(0))
}
