package onetomany

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

// buildMultiValueFixture writes, for each key in {1000, 1002, ..., 1010}, a
// variable-length run of values (key, j+key*100) for j in {0, 23, 46, ...}
// up to 23*(1+key%23), and returns the expected values per key sorted
// ascending.
func buildMultiValueFixture(t *testing.T, dir string) map[int64][]int64 {
	t.Helper()
	ctx := context.Background()
	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)

	want := make(map[int64][]int64)
	keyIdx := uint32(0)
	for key := int64(1000); key <= 1010; key += 2 {
		limit := 23 * (1 + key%23)
		valIdx := uint32(0)
		for j := int64(0); j <= limit; j += 23 {
			value := j + key*100
			require.NoError(t, w.Put(ctx, keyIdx, valIdx, key, value))
			want[key] = append(want[key], value)
			valIdx++
		}
		keyIdx++
	}
	require.NoError(t, w.Close(ctx, true))
	for k := range want {
		sort.Slice(want[k], func(i, j int) bool { return want[k][i] < want[k][j] })
	}
	return want
}

func TestReader_ValuesReturnsAscendingMatchesForKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	want := buildMultiValueFixture(t, dir)

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	var got []int64
	_, err = r.Values(ctx, 1004, func(v int64) bool {
		got = append(got, v)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, want[1004], got)
}

func TestReader_NearestKeyAppliesBias(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	buildMultiValueFixture(t, dir)

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	k, err := r.NearestKey(ctx, 1003, types.BiasForward)
	require.NoError(t, err)
	require.EqualValues(t, 1004, k)

	k, err = r.NearestKey(ctx, 1003, types.BiasNone)
	require.NoError(t, err)
	require.EqualValues(t, -1, k)
}

func TestReader_ForEachVisitsEveryEdge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	want := buildMultiValueFixture(t, dir)

	totalWant := 0
	for _, vs := range want {
		totalWant += len(vs)
	}

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	seen := 0
	err = r.ForEach(ctx, func(keyIdx, valIdx uint32, key, value int64) bool {
		seen++
		return true
	})
	require.NoError(t, err)
	require.Equal(t, totalWant, seen)
}

// TestReader_InverseRoundTrip checks, on a small bipartite graph, that every
// inserted (k, v) edge is visible from both reader.Values(k) and
// reader.Inverse().Values(v), and that the counts sidecar matches.
func TestReader_InverseRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	type kv struct{ k, v int64 }
	edges := []kv{
		{100, 9000}, {100, 9001}, {101, 9000}, {102, 9002}, {101, 9002},
	}

	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)
	for i, e := range edges {
		require.NoError(t, w.Put(ctx, uint32(i), uint32(i), e.k, e.v))
	}
	require.NoError(t, w.Close(ctx, true))

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	byKey := map[int64][]int64{}
	byVal := map[int64][]int64{}
	for _, e := range edges {
		byKey[e.k] = append(byKey[e.k], e.v)
		byVal[e.v] = append(byVal[e.v], e.k)
	}

	for k, vals := range byKey {
		for _, v := range vals {
			found := false
			_, err := r.Values(ctx, k, func(value int64) bool {
				if value == v {
					found = true
				}
				return true
			})
			require.NoError(t, err)
			require.True(t, found, "values(%d) should contain %d", k, v)
		}
	}

	inv, err := r.Inverse(ctx)
	require.NoError(t, err)
	for v, keys := range byVal {
		for _, k := range keys {
			found := false
			_, err := inv.Values(ctx, v, func(value int64) bool {
				if value == k {
					found = true
				}
				return true
			})
			require.NoError(t, err)
			require.True(t, found, "inverse().values(%d) should contain %d", v, k)
		}
	}

	n, err := r.counts.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, len(byKey), n)
	for i := int64(0); i < int64(n); i++ {
		v, err := r.counts.ReadAt(ctx, i)
		require.NoError(t, err)
		key := v.Int64(4)
		count := v.Uint32(12)
		require.EqualValues(t, len(byKey[key]), count)
	}
}

func TestReader_Closure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// 1 -> 2 -> 3, 1 -> 4
	w, err := NewWriter(dir, "base", Config{})
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, 0, 0, 1, 2))
	require.NoError(t, w.Put(ctx, 0, 1, 1, 4))
	require.NoError(t, w.Put(ctx, 1, 2, 2, 3))
	require.NoError(t, w.Close(ctx, false))

	r, err := OpenReader(dir, "base")
	require.NoError(t, err)
	defer r.Close()

	visited := map[int64]bool{}
	err = r.Closure(ctx, 1, func(v int64) bool {
		visited[v] = true
		return true
	})
	require.NoError(t, err)
	require.Equal(t, map[int64]bool{2: true, 4: true, 3: true}, visited)
}
