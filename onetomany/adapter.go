package onetomany

import (
	"context"

	"github.com/rpcpool/recstore/internal/types"
)

// BitsetMapAdapter translates between the logical key/value space of a
// one-to-many index and the dense key-index/value-index space a bit set
// addresses. It lets a Reader stand in as the backing lookup for external
// bitmap-indexed structures built on top of the same edges.
type BitsetMapAdapter interface {
	IndexOfKey(ctx context.Context, key int64) (int, error)
	IndexOfValue(ctx context.Context, value int64) (int, error)
	KeyForKeyIndex(ctx context.Context, keyIndex int) (int64, error)
	ValueForValueIndex(ctx context.Context, valueIndex int) (int64, error)
}

var _ BitsetMapAdapter = (*Reader)(nil)

// IndexOfKey returns the keyIdx recorded alongside key's first forward edge,
// or ErrNotFound if key does not appear in the forward file.
func (r *Reader) IndexOfKey(ctx context.Context, key int64) (int, error) {
	idx, err := r.firstEdgeIndexForKey(ctx, key)
	if err != nil {
		return -1, err
	}
	if idx < 0 {
		return -1, types.ErrNotFound
	}
	e, err := readEdge(ctx, r.edges, idx)
	if err != nil {
		return -1, err
	}
	if e.key != key {
		// BiasBackward found the nearest key below, not an exact match.
		return -1, types.ErrNotFound
	}
	return int(e.keyIdx), nil
}

// IndexOfValue returns the valIdx recorded alongside value's first inverse
// edge, materializing the inverse file on demand if needed. Returns
// ErrNotFound if value does not appear in the inverse file.
func (r *Reader) IndexOfValue(ctx context.Context, value int64) (int, error) {
	inv, err := r.Inverse(ctx)
	if err != nil {
		return -1, err
	}
	idx, err := inv.firstEdgeIndexForKey(ctx, value)
	if err != nil {
		return -1, err
	}
	if idx < 0 {
		return -1, types.ErrNotFound
	}
	e, err := readEdge(ctx, inv.edges, idx)
	if err != nil {
		return -1, err
	}
	if e.key != value {
		return -1, types.ErrNotFound
	}
	return int(e.keyIdx), nil
}

// KeyForKeyIndex recovers the key for a given keyIdx, or ErrNotFound if no
// edge carries it. Neither B.12m nor B.m21 is sorted by keyIdx directly, so
// this assumes keyIdx is monotonically non-decreasing with key — true
// whenever keyIdx is assigned from a CanonicalOrdering field the same way
// the primary store's index package assigns seq — and binary-searches the
// keyIdx field (offset 0) under that assumption.
func (r *Reader) KeyForKeyIndex(ctx context.Context, keyIndex int) (int64, error) {
	idx, err := r.edges.BinarySearch(ctx, int64(keyIndex), 0, types.Uint32, types.BiasNone)
	if err != nil {
		return -1, err
	}
	if idx < 0 {
		return -1, types.ErrNotFound
	}
	e, err := readEdge(ctx, r.edges, idx)
	if err != nil {
		return -1, err
	}
	return e.key, nil
}

// ValueForValueIndex is KeyForKeyIndex's inverse-side counterpart: it
// recovers the value for a given valIdx, under the same valIdx/value
// monotonicity assumption, via the (lazily materialized) inverse file.
// Returns ErrNotFound if no edge carries valueIndex.
func (r *Reader) ValueForValueIndex(ctx context.Context, valueIndex int) (int64, error) {
	inv, err := r.Inverse(ctx)
	if err != nil {
		return -1, err
	}
	idx, err := inv.edges.BinarySearch(ctx, int64(valueIndex), 0, types.Uint32, types.BiasNone)
	if err != nil {
		return -1, err
	}
	if idx < 0 {
		return -1, types.ErrNotFound
	}
	e, err := readEdge(ctx, inv.edges, idx)
	if err != nil {
		return -1, err
	}
	return e.key, nil
}
