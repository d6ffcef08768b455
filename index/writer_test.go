package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(20,
		Field{Name: "slot", ValueType: types.Int64, ByteOffset: 4, Kind: types.CanonicalOrdering},
		Field{Name: "val", ValueType: types.Int32, ByteOffset: 12, Kind: types.Unique},
	)
	require.NoError(t, err)
	return s
}

func TestWriter_WriteCloseBuildsSortedShadow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schema := testSchema(t)

	w, err := NewWriter(dir, "base", schema)
	require.NoError(t, err)

	rows := [][2]int64{{30, 300}, {10, 100}, {20, 200}}
	for _, r := range rows {
		_, err := w.Write(ctx, r[0], r[1])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close(ctx))

	_, err = os.Stat(filepath.Join(dir, "base.vals"))
	require.NoError(t, err)

	r, err := NewReader(dir, "base", schema)
	require.NoError(t, err)
	defer r.Close()

	idx, err := r.SearchCanonical(ctx, 20, types.BiasNone)
	require.NoError(t, err)
	v, err := r.ValueFor(ctx, idx, "val")
	require.NoError(t, err)
	require.EqualValues(t, 200, v)

	idx, err = r.Search(ctx, "val", 300, types.BiasNone)
	require.NoError(t, err)
	v, err = r.ValueFor(ctx, idx, "slot")
	require.NoError(t, err)
	require.EqualValues(t, 30, v)
}

func TestWriter_MultiThreadedWriteRejectedWithoutCanonicalField(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schema, err := NewSchema(12, Field{Name: "val", ValueType: types.Int32, ByteOffset: 4, Kind: types.Unique})
	require.NoError(t, err)

	w, err := NewWriter(dir, "base", schema)
	require.NoError(t, err)
	defer w.Close(ctx)

	w.multiThreaded.Store(true)
	_, err = w.Write(ctx, 1)
	require.ErrorIs(t, err, types.ErrMultiThreadedWriteNoCanonical)
}

func TestWriter_OverlappingWritesAreDetectedAndSortedOnClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schema := testSchema(t)

	w, err := NewWriter(dir, "base", schema)
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	rows := [][2]int64{{30, 300}, {10, 100}, {20, 200}, {40, 400}}
	for _, r := range rows {
		wg.Add(1)
		go func(r [2]int64) {
			defer wg.Done()
			<-start
			_, err := w.Write(ctx, r[0], r[1])
			require.NoError(t, err)
		}(r)
	}
	close(start)
	wg.Wait()

	require.NoError(t, w.Close(ctx))

	r, err := NewReader(dir, "base", schema)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, len(rows), n)

	// After a multi-threaded write session, the primary is sorted by the
	// canonical field and renumbered, so record i's slot value should be
	// non-decreasing.
	var prev int64 = -1
	for i := int64(0); i < int64(n); i++ {
		v, err := r.ValueFor(ctx, i, "slot")
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, prev)
		prev = v
	}
}
