package store

import (
	"context"

	"github.com/rpcpool/recstore/internal/types"
)

// insertionSortThreshold is the partition size below which quicksort falls
// back to insertion sort, following the standard introsort idiom.
const insertionSortThreshold = 12

// readValue extracts the field value from record i without holding onto the
// underlying view, so callers can read two different records back to back
// (e.g. during a comparison) without fighting over a single-slot backend's
// "last read" aliasing rule.
func readValue(ctx context.Context, s RecordStore, i int64, fieldOffset uint32, vt types.ValueType) (int64, error) {
	v, err := s.ReadAt(ctx, i)
	if err != nil {
		return 0, err
	}
	return v.ReadValue(int(fieldOffset), vt), nil
}

// quicksort rearranges s in place so the field at fieldOffset is
// non-decreasing, driving all movement through s.Swap — no auxiliary array
// of size N is built. It never calls BulkSwap.
func quicksort(ctx context.Context, s RecordStore, fieldOffset uint32, vt types.ValueType) error {
	n, err := s.Size(ctx)
	if err != nil {
		return err
	}
	if n < 2 {
		return nil
	}
	return qsort(ctx, s, fieldOffset, vt, 0, int64(n)-1)
}

func qsort(ctx context.Context, s RecordStore, fieldOffset uint32, vt types.ValueType, lo, hi int64) error {
	for lo < hi {
		if hi-lo < insertionSortThreshold {
			return insertionSort(ctx, s, fieldOffset, vt, lo, hi)
		}
		p, err := partition(ctx, s, fieldOffset, vt, lo, hi)
		if err != nil {
			return err
		}
		// Recurse into the smaller side, loop over the larger side, to keep
		// stack depth at O(log n) in the worst case.
		if p-lo < hi-p {
			if err := qsort(ctx, s, fieldOffset, vt, lo, p-1); err != nil {
				return err
			}
			lo = p + 1
		} else {
			if err := qsort(ctx, s, fieldOffset, vt, p+1, hi); err != nil {
				return err
			}
			hi = p - 1
		}
	}
	return nil
}

// partition implements median-of-three pivot selection followed by a
// Hoare-style partition driven entirely by s.Swap.
func partition(ctx context.Context, s RecordStore, fieldOffset uint32, vt types.ValueType, lo, hi int64) (int64, error) {
	mid := lo + (hi-lo)/2
	if err := medianOfThree(ctx, s, fieldOffset, vt, lo, mid, hi); err != nil {
		return 0, err
	}
	// After medianOfThree, the pivot sits at mid; move it to hi-1 to act as
	// a sentinel during the scan, then restore ordering at the end.
	if err := s.Swap(ctx, mid, hi-1); err != nil {
		return 0, err
	}
	pivotIdx := hi - 1
	pivotVal, err := readValue(ctx, s, pivotIdx, fieldOffset, vt)
	if err != nil {
		return 0, err
	}

	i, j := lo, hi-1
	for {
		for {
			i++
			v, err := readValue(ctx, s, i, fieldOffset, vt)
			if err != nil {
				return 0, err
			}
			if v >= pivotVal {
				break
			}
		}
		for {
			j--
			v, err := readValue(ctx, s, j, fieldOffset, vt)
			if err != nil {
				return 0, err
			}
			if v <= pivotVal {
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

// medianOfThree orders the records at a, b, c so that the median of their
// keys ends up at b, and swaps it to b for partition() to pick up.
func medianOfThree(ctx context.Context, s RecordStore, fieldOffset uint32, vt types.ValueType, a, b, c int64) error {
	va, err := readValue(ctx, s, a, fieldOffset, vt)
	if err != nil {
		return err
	}
	vb, err := readValue(ctx, s, b, fieldOffset, vt)
	if err != nil {
		return err
	}
	vc, err := readValue(ctx, s, c, fieldOffset, vt)
	if err != nil {
		return err
	}
	if va > vb {
		if err := s.Swap(ctx, a, b); err != nil {
			return err
		}
		va, vb = vb, va
	}
	if vb > vc {
		if err := s.Swap(ctx, b, c); err != nil {
			return err
		}
		vb, vc = vc, vb
		if va > vb {
			if err := s.Swap(ctx, a, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertionSort is the small-partition base case, also driven entirely by
// s.Swap.
func insertionSort(ctx context.Context, s RecordStore, fieldOffset uint32, vt types.ValueType, lo, hi int64) error {
	for i := lo + 1; i <= hi; i++ {
		for j := i; j > lo; j-- {
			vj, err := readValue(ctx, s, j, fieldOffset, vt)
			if err != nil {
				return err
			}
			vprev, err := readValue(ctx, s, j-1, fieldOffset, vt)
			if err != nil {
				return err
			}
			if vprev <= vj {
				break
			}
			if err := s.Swap(ctx, j-1, j); err != nil {
				return err
			}
		}
	}
	return nil
}
