package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

// record16 packs a 4-byte seq prefix followed by an 8-byte int64 field at
// offset 4, matching the primary-record shape index.Schema builds on top of.
func record16(seq uint32, field int64) []byte {
	b := make([]byte, 12)
	v := bytesview.Owned(b)
	v.PutUint32(0, seq)
	v.PutInt64(4, field)
	return b
}

func TestBiasSemantics_FixtureMatchesWorkedExample(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bias.dat")
	spec, err := NewStorageSpec(12, WithWritable(true))
	require.NoError(t, err)
	s, err := OpenDescriptor(path, spec)
	require.NoError(t, err)
	defer s.Close()

	// Sorted store holding keys {10, 20, 20, 20, 40} at offset 4.
	for i, k := range []int64{10, 20, 20, 20, 40} {
		_, err := s.Append(ctx, record16(uint32(i), k))
		require.NoError(t, err)
	}

	cases := []struct {
		value int64
		bias  types.Bias
		want  int64
	}{
		{25, types.BiasNone, -1},
		{25, types.BiasForward, 4},
		{25, types.BiasBackward, 3},
		{25, types.BiasNearest, 3},
		{20, types.BiasBackward, 1},
		{20, types.BiasForward, 3},
	}
	for _, c := range cases {
		idx, err := s.BinarySearch(ctx, c.value, 4, types.Int64, c.bias)
		require.NoError(t, err)
		require.Equalf(t, c.want, idx, "search(%d, %s)", c.value, c.bias)
	}
}

func TestSortThenBinarySearchAgreement(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agree.dat")
	spec, err := NewStorageSpec(12, WithWritable(true))
	require.NoError(t, err)
	s, err := OpenDescriptor(path, spec)
	require.NoError(t, err)
	defer s.Close()

	const n = 8192
	rng := rand.New(rand.NewSource(1))
	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		var v int64
		for {
			v = rng.Int63()
			if !seen[v] {
				break
			}
		}
		seen[v] = true
		_, err := s.Append(ctx, record16(uint32(i), v))
		require.NoError(t, err)
	}

	require.NoError(t, s.Sort(ctx, 4, types.Int64))

	size, err := s.Size(ctx)
	require.NoError(t, err)
	for i := int64(0); i < int64(size); i++ {
		rec, err := s.ReadAt(ctx, i)
		require.NoError(t, err)
		idx, err := s.BinarySearch(ctx, rec.Int64(4), 4, types.Int64, types.BiasNone)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
}
