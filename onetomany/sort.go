package onetomany

import (
	"context"

	"github.com/rpcpool/recstore/store"
)

// insertionSortThreshold mirrors store's introsort base-case cutover.
const insertionSortThreshold = 12

// compoundLess orders two edges by (key, value), comparing each term as a
// plain signed int64 rather than folding both into one 128-bit unsigned
// magnitude — a magnitude-based comparator only orders correctly if both
// terms are known to be non-negative and within a fixed width, an
// assumption this type does not make.
func compoundLess(a, b edge) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.value < b.value
}

func readEdge(ctx context.Context, s store.RecordStore, i int64) (edge, error) {
	v, err := s.ReadAt(ctx, i)
	if err != nil {
		return edge{}, err
	}
	return unpackEdge(v), nil
}

// sortByCompoundKey rearranges s in place by (key, value), driving all
// movement through s.Swap exactly as the record store's own typed-field sort
// does (store/sort.go), but with a two-term comparator instead of one scalar
// field.
func sortByCompoundKey(ctx context.Context, s store.RecordStore) error {
	n, err := s.Size(ctx)
	if err != nil {
		return err
	}
	if n < 2 {
		return nil
	}
	return qsort(ctx, s, 0, int64(n)-1)
}

func qsort(ctx context.Context, s store.RecordStore, lo, hi int64) error {
	for lo < hi {
		if hi-lo < insertionSortThreshold {
			return insertionSort(ctx, s, lo, hi)
		}
		p, err := partition(ctx, s, lo, hi)
		if err != nil {
			return err
		}
		if p-lo < hi-p {
			if err := qsort(ctx, s, lo, p-1); err != nil {
				return err
			}
			lo = p + 1
		} else {
			if err := qsort(ctx, s, p+1, hi); err != nil {
				return err
			}
			hi = p - 1
		}
	}
	return nil
}

func partition(ctx context.Context, s store.RecordStore, lo, hi int64) (int64, error) {
	mid := lo + (hi-lo)/2
	if err := medianOfThree(ctx, s, lo, mid, hi); err != nil {
		return 0, err
	}
	if err := s.Swap(ctx, mid, hi-1); err != nil {
		return 0, err
	}
	pivotIdx := hi - 1
	pivot, err := readEdge(ctx, s, pivotIdx)
	if err != nil {
		return 0, err
	}

	i, j := lo, hi-1
	for {
		for {
			i++
			v, err := readEdge(ctx, s, i)
			if err != nil {
				return 0, err
			}
			if !compoundLess(v, pivot) {
				break
			}
		}
		for {
			j--
			v, err := readEdge(ctx, s, j)
			if err != nil {
				return 0, err
			}
			if !compoundLess(pivot, v) {
				break
			}
		}
		if i >= j {
			break
		}
		if err := s.Swap(ctx, i, j); err != nil {
			return 0, err
		}
	}
	if err := s.Swap(ctx, i, pivotIdx); err != nil {
		return 0, err
	}
	return i, nil
}

func medianOfThree(ctx context.Context, s store.RecordStore, a, b, c int64) error {
	va, err := readEdge(ctx, s, a)
	if err != nil {
		return err
	}
	vb, err := readEdge(ctx, s, b)
	if err != nil {
		return err
	}
	vc, err := readEdge(ctx, s, c)
	if err != nil {
		return err
	}
	if compoundLess(vb, va) {
		if err := s.Swap(ctx, a, b); err != nil {
			return err
		}
		va, vb = vb, va
	}
	if compoundLess(vc, vb) {
		if err := s.Swap(ctx, b, c); err != nil {
			return err
		}
		vb, vc = vc, vb
		if compoundLess(vb, va) {
			if err := s.Swap(ctx, a, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertionSort(ctx context.Context, s store.RecordStore, lo, hi int64) error {
	for i := lo + 1; i <= hi; i++ {
		for j := i; j > lo; j-- {
			vj, err := readEdge(ctx, s, j)
			if err != nil {
				return err
			}
			vprev, err := readEdge(ctx, s, j-1)
			if err != nil {
				return err
			}
			if !compoundLess(vj, vprev) {
				break
			}
			if err := s.Swap(ctx, j-1, j); err != nil {
				return err
			}
		}
	}
	return nil
}
