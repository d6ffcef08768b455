package store

import (
	"context"

	"github.com/rpcpool/recstore/internal/types"
)

// binarySearch performs a lower-bound walk over a store pre-sorted by
// (fieldOffset, vt), then applies bias to decide what to return when there
// is no exact match, and walks to the first/last duplicate on an exact
// match.
func binarySearch(ctx context.Context, s RecordStore, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error) {
	n, err := s.Size(ctx)
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return -1, nil
	}

	// Lower bound: smallest index i such that key(i) >= value.
	lo, hi := int64(0), int64(n)
	for lo < hi {
		mid := lo + (hi-lo)/2
		v, err := readValue(ctx, s, mid, fieldOffset, vt)
		if err != nil {
			return -1, err
		}
		if v < value {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	lowerBound := lo // may equal n (value greater than every key)

	var exact bool
	if lowerBound < int64(n) {
		v, err := readValue(ctx, s, lowerBound, fieldOffset, vt)
		if err != nil {
			return -1, err
		}
		exact = v == value
	}

	if exact {
		switch bias {
		case types.BiasBackward:
			return firstEqual(ctx, s, lowerBound, value, fieldOffset, vt)
		case types.BiasForward:
			return lastEqual(ctx, s, lowerBound, value, fieldOffset, vt, int64(n))
		default:
			// BiasNone and BiasNearest: any matching index will do.
			return lowerBound, nil
		}
	}

	switch bias {
	case types.BiasNone:
		return -1, nil
	case types.BiasForward:
		if lowerBound >= int64(n) {
			return -1, nil
		}
		return lowerBound, nil
	case types.BiasBackward:
		if lowerBound == 0 {
			return -1, nil
		}
		return lowerBound - 1, nil
	case types.BiasNearest:
		hasForward := lowerBound < int64(n)
		hasBackward := lowerBound > 0
		switch {
		case hasForward && hasBackward:
			fwdVal, err := readValue(ctx, s, lowerBound, fieldOffset, vt)
			if err != nil {
				return -1, err
			}
			bwdVal, err := readValue(ctx, s, lowerBound-1, fieldOffset, vt)
			if err != nil {
				return -1, err
			}
			fwdDist := fwdVal - value
			bwdDist := value - bwdVal
			if fwdDist < bwdDist {
				return lowerBound, nil
			}
			// Ties (and backward-closer) break to backward.
			return lowerBound - 1, nil
		case hasForward:
			return lowerBound, nil
		case hasBackward:
			return lowerBound - 1, nil
		default:
			return -1, nil
		}
	default:
		return -1, nil
	}
}

// firstEqual walks backward from an exact match to the lowest index whose
// key still equals value.
func firstEqual(ctx context.Context, s RecordStore, at, value int64, fieldOffset uint32, vt types.ValueType) (int64, error) {
	for at > 0 {
		v, err := readValue(ctx, s, at-1, fieldOffset, vt)
		if err != nil {
			return -1, err
		}
		if v != value {
			break
		}
		at--
	}
	return at, nil
}

// lastEqual walks forward from an exact match to the highest index whose
// key still equals value.
func lastEqual(ctx context.Context, s RecordStore, at, value int64, fieldOffset uint32, vt types.ValueType, n int64) (int64, error) {
	for at+1 < n {
		v, err := readValue(ctx, s, at+1, fieldOffset, vt)
		if err != nil {
			return -1, err
		}
		if v != value {
			break
		}
		at++
	}
	return at, nil
}
