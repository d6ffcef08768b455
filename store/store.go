// Package store implements the fixed-record store: a byte-addressable file
// of records of constant width R, with no header, where record i sits at
// byte offset i*R.
//
// Four interchangeable backends implement RecordStore (descriptor,
// cached-descriptor, single-mapped, multi-mapped), plus an AdaptiveStore
// that migrates between descriptor and mapped modes under load.
package store

import (
	"context"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

// RecordStore is the contract every backend implements. Apart from Append,
// which the mapped backends do not support, the backends differ only in
// timing and in whether ReadAt's view aliases a mapping.
type RecordStore interface {
	// RecordSize returns the constant record width in bytes.
	RecordSize() uint32

	// SizeInBytes returns the store's current size in bytes.
	SizeInBytes(ctx context.Context) (uint64, error)

	// Size returns SizeInBytes / RecordSize.
	Size(ctx context.Context) (uint64, error)

	// ReadAt returns a view of record i. The view may alias shared storage;
	// it must be consumed before the next ReadAt call against this store
	// from the same goroutine.
	ReadAt(ctx context.Context, i int64) (bytesview.View, error)

	// WriteAt writes bytes at byteOffset, which must be a multiple of
	// RecordSize, and whose length must be a multiple of RecordSize.
	WriteAt(ctx context.Context, byteOffset int64, b []byte) error

	// Append writes a new record at the end of the store and returns its
	// index. SingleMappedStore and MultiMappedStore return an error instead.
	Append(ctx context.Context, b []byte) (int64, error)

	// WriteValue writes a typed field value into record recordIndex at
	// fieldOffset.
	WriteValue(ctx context.Context, recordIndex int64, fieldOffset uint32, vt types.ValueType, val int64) error

	// Swap exchanges the contents of records i and j. Swap(i, i) is a no-op.
	Swap(ctx context.Context, i, j int64) error

	// BulkSwap exchanges n consecutive records starting at i with n
	// consecutive records starting at j. The ranges [i,i+n) and [j,j+n)
	// must be disjoint.
	BulkSwap(ctx context.Context, i, j, n int64) error

	// Sort rearranges records in place so that the field at fieldOffset,
	// read as vt, is non-decreasing.
	Sort(ctx context.Context, fieldOffset uint32, vt types.ValueType) error

	// BinarySearch returns the record index matching value at fieldOffset
	// (read as vt) according to bias, or -1 if none matches. The store
	// must already be sorted by (fieldOffset, vt).
	BinarySearch(ctx context.Context, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error)

	// Iterate returns a finite, single-pass sequence of record views
	// starting at fromIndex.
	Iterate(ctx context.Context, fromIndex int64) (*Iterator, error)

	// Close releases any file descriptors or mappings held by the store.
	Close() error
}

// Iterator is a single-pass, non-restartable sequence of record views
// produced by RecordStore.Iterate. The store itself may be re-iterated by
// calling Iterate again.
type Iterator struct {
	next    func(ctx context.Context) (bytesview.View, bool, error)
	current bytesview.View
	err     error
	done    bool
}

func newIterator(next func(ctx context.Context) (bytesview.View, bool, error)) *Iterator {
	return &Iterator{next: next}
}

// Next advances the iterator. It returns false when the sequence is
// exhausted or an error occurred; call Err to distinguish the two.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	v, ok, err := it.next(ctx)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !ok {
		it.done = true
		return false
	}
	it.current = v
	return true
}

// View returns the view produced by the most recent successful Next call.
func (it *Iterator) View() bytesview.View { return it.current }

// Err returns the error, if any, that stopped iteration.
func (it *Iterator) Err() error { return it.err }
