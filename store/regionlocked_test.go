package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

func TestRegionLockedStore_ConcurrentWritesToDistinctRecordsSucceed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locked.dat")
	spec, err := NewStorageSpec(8, WithWritable(true))
	require.NoError(t, err)
	base, err := OpenDescriptor(path, spec)
	require.NoError(t, err)
	defer base.Close()

	for i := 0; i < 100; i++ {
		_, err := base.Append(ctx, recVal(int64(i)))
		require.NoError(t, err)
	}

	locked := WithRegionLock(base, 1)

	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			err := locked.WriteValue(ctx, i, 0, types.Int64, i*2)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := int64(0); i < 100; i++ {
		v, err := locked.ReadAt(ctx, i)
		require.NoError(t, err)
		require.EqualValues(t, i*2, v.Int64(0))
	}
}
