package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdaptiveStore_PromotesOnHotAccess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "adaptive.dat")
	spec, err := NewStorageSpec(8, WithWritable(true))
	require.NoError(t, err)

	a, err := OpenAdaptive(path, spec)
	require.NoError(t, err)
	defer a.Close()

	for i := 0; i < 8; i++ {
		_, err := a.Append(ctx, recVal(int64(i)))
		require.NoError(t, err)
	}
	require.Equal(t, modeDescriptor, a.current().mode)

	// A tight burst of reads packs well within the promotion window; the
	// 65th read crosses the 64-gap threshold and should trigger promotion.
	for i := 0; i < promoteThreshold+2; i++ {
		_, err := a.ReadAt(ctx, int64(i%8))
		require.NoError(t, err)
	}
	require.Equal(t, modeMapped, a.current().mode)
}

func TestAdaptiveStore_PreferMappedOpensDirectlyInMappedMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "adaptive.dat")

	// Seed the file via a plain descriptor store first, since a mapped
	// backend can't create the file itself from nothing.
	wspec, err := NewStorageSpec(8, WithWritable(true))
	require.NoError(t, err)
	seed, err := OpenDescriptor(path, wspec)
	require.NoError(t, err)
	_, err = seed.Append(ctx, recVal(1))
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	spec, err := NewStorageSpec(8, WithWritable(true), WithPreferMapped(true))
	require.NoError(t, err)

	a, err := OpenAdaptive(path, spec)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, modeMapped, a.current().mode, "PreferMapped should open straight into mapped mode, without ever touching modeDescriptor")

	v, err := a.ReadAt(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, v.Int64(0))
}

func TestAdaptiveStore_MaybeDemoteAfterIdleGaps(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "adaptive.dat")
	spec, err := NewStorageSpec(8, WithWritable(true))
	require.NoError(t, err)

	a, err := OpenAdaptive(path, spec)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Append(ctx, recVal(1))
	require.NoError(t, err)

	mapped, err := a.openMapped()
	require.NoError(t, err)
	old := a.handle.Swap(mapped)
	require.NoError(t, old.store.Close())
	require.Equal(t, modeMapped, a.current().mode)

	// Synthesize a ring of widely-spaced timestamps, as if accesses had
	// been idle for well over demoteSeparationGap between each one.
	base := time.Now().Add(-time.Hour)
	a.ringMu.Lock()
	for i := 0; i < ringSize; i++ {
		a.ring[i] = base.Add(time.Duration(i) * demoteSeparationGap * 2)
	}
	a.ringHead = 0
	a.ringFilled = ringSize
	a.ringMu.Unlock()

	require.NoError(t, a.MaybeDemote(ctx))
	require.Equal(t, modeCaching, a.current().mode)
}
