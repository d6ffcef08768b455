package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sys/unix"

	"github.com/rpcpool/recstore/bufferpool"
	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

var log = logging.Logger("recstore/store")

// DescriptorStore is the simplest RecordStore backend: every operation
// issues a positional read or write against an *os.File, scratch space
// coming from a bufferpool.Pool. It favors low memory footprint and works
// for files too large to map into addressable memory.
type DescriptorStore struct {
	file       *os.File
	recordSize uint32
	pool       *bufferpool.Pool

	sizeBytes atomic.Int64
	closed    atomic.Bool

	mu      sync.Mutex
	lastBuf *bufferpool.Buffer // lazily released on the next ReadAt
}

var _ RecordStore = (*DescriptorStore)(nil)

// OpenDescriptor opens (creating if necessary) a descriptor-backed store at
// path with the given spec.
func OpenDescriptor(path string, spec StorageSpec) (*DescriptorStore, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	flags := os.O_RDONLY
	if spec.Writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recstore: open descriptor store: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size()%int64(spec.RecordSize) != 0 {
		f.Close()
		return nil, types.ErrCorruptSize
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
		log.Warnw("fadvise(RANDOM) failed", "path", path, "error", err)
	}
	ds := &DescriptorStore{
		file:       f,
		recordSize: spec.RecordSize,
		pool:       bufferpool.New(int(spec.RecordSize), spec.Concurrency),
	}
	ds.sizeBytes.Store(fi.Size())
	return ds, nil
}

// RecordSize implements RecordStore.
func (d *DescriptorStore) RecordSize() uint32 { return d.recordSize }

// SizeInBytes implements RecordStore.
func (d *DescriptorStore) SizeInBytes(ctx context.Context) (uint64, error) {
	return uint64(d.sizeBytes.Load()), nil
}

// Size implements RecordStore.
func (d *DescriptorStore) Size(ctx context.Context) (uint64, error) {
	n, err := d.SizeInBytes(ctx)
	if err != nil {
		return 0, err
	}
	return n / uint64(d.recordSize), nil
}

// WarmUp sequentially touches every record once, in stride order, to pull
// the whole file into the OS page cache ahead of the random-access reads a
// sort or binary search will issue. Mapped backends rely on OS readahead
// instead and do not implement this.
func (d *DescriptorStore) WarmUp(ctx context.Context) error {
	n, err := d.Size(ctx)
	if err != nil {
		return err
	}
	for i := int64(0); i < int64(n); i++ {
		if _, err := d.ReadAt(ctx, i); err != nil {
			return fmt.Errorf("recstore: warm up record %d: %w", i, err)
		}
	}
	return nil
}

// ReadAt implements RecordStore. The returned view aliases a pool buffer
// that is released the next time ReadAt or Swap is called on this store; callers
// must consume it first, or call View.Clone to keep a private copy.
func (d *DescriptorStore) ReadAt(ctx context.Context, i int64) (bytesview.View, error) {
	if d.closed.Load() {
		return bytesview.View{}, types.ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastBuf != nil {
		d.lastBuf.Release()
		d.lastBuf = nil
	}
	buf, err := d.pool.Acquire(ctx)
	if err != nil {
		return bytesview.View{}, err
	}
	off := i * int64(d.recordSize)
	if _, err := d.file.ReadAt(buf.Bytes(), off); err != nil {
		buf.Release()
		return bytesview.View{}, fmt.Errorf("recstore: descriptor read at record %d: %w", i, err)
	}
	d.lastBuf = buf
	return bytesview.Owned(buf.Bytes()), nil
}

// WriteAt implements RecordStore.
func (d *DescriptorStore) WriteAt(ctx context.Context, byteOffset int64, b []byte) error {
	if d.closed.Load() {
		return types.ErrClosed
	}
	if byteOffset%int64(d.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	if len(b)%int(d.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	if _, err := d.file.WriteAt(b, byteOffset); err != nil {
		return fmt.Errorf("recstore: descriptor write at offset %d: %w", byteOffset, err)
	}
	end := byteOffset + int64(len(b))
	for {
		cur := d.sizeBytes.Load()
		if end <= cur {
			return nil
		}
		if d.sizeBytes.CompareAndSwap(cur, end) {
			return nil
		}
	}
}

// Append implements RecordStore.
func (d *DescriptorStore) Append(ctx context.Context, b []byte) (int64, error) {
	if d.closed.Load() {
		return -1, types.ErrClosed
	}
	if len(b) != int(d.recordSize) {
		return -1, types.ErrUnalignedOffset
	}
	off := d.sizeBytes.Add(int64(len(b))) - int64(len(b))
	if _, err := d.file.WriteAt(b, off); err != nil {
		return -1, fmt.Errorf("recstore: descriptor append: %w", err)
	}
	return off / int64(d.recordSize), nil
}

// WriteValue implements RecordStore via a read-modify-write, since a
// descriptor backend cannot put a value into a mapping directly.
func (d *DescriptorStore) WriteValue(ctx context.Context, recordIndex int64, fieldOffset uint32, vt types.ValueType, val int64) error {
	if d.closed.Load() {
		return types.ErrClosed
	}
	buf, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer buf.Release()
	off := recordIndex * int64(d.recordSize)
	if _, err := d.file.ReadAt(buf.Bytes(), off); err != nil {
		return fmt.Errorf("recstore: write-value read-modify-write: %w", err)
	}
	view := bytesview.Owned(buf.Bytes())
	view.WriteValue(int(fieldOffset), vt, val)
	if _, err := d.file.WriteAt(buf.Bytes(), off); err != nil {
		return fmt.Errorf("recstore: write-value read-modify-write: %w", err)
	}
	return nil
}

// Swap implements RecordStore by reading both records into distinct pool
// buffers and writing each back to the other's slot.
func (d *DescriptorStore) Swap(ctx context.Context, i, j int64) error {
	if d.closed.Load() {
		return types.ErrClosed
	}
	if i == j {
		return nil
	}
	// Hand back the buffer still held for the last ReadAt view first, so a
	// pool of two slots can always satisfy AcquireTwo below.
	d.mu.Lock()
	if d.lastBuf != nil {
		d.lastBuf.Release()
		d.lastBuf = nil
	}
	d.mu.Unlock()
	a, b, err := d.pool.AcquireTwo(ctx)
	if err != nil {
		return err
	}
	defer a.Release()
	defer b.Release()

	offI := i * int64(d.recordSize)
	offJ := j * int64(d.recordSize)
	if _, err := d.file.ReadAt(a.Bytes(), offI); err != nil {
		return fmt.Errorf("recstore: swap read %d: %w", i, err)
	}
	if _, err := d.file.ReadAt(b.Bytes(), offJ); err != nil {
		return fmt.Errorf("recstore: swap read %d: %w", j, err)
	}
	if _, err := d.file.WriteAt(b.Bytes(), offI); err != nil {
		return fmt.Errorf("recstore: swap write %d: %w", i, err)
	}
	if _, err := d.file.WriteAt(a.Bytes(), offJ); err != nil {
		return fmt.Errorf("recstore: swap write %d: %w", j, err)
	}
	return nil
}

// BulkSwap implements RecordStore by iterating per-record swaps; the
// descriptor backend has no contiguous-region fast path (mapped backends
// implement one directly over the mapping instead).
func (d *DescriptorStore) BulkSwap(ctx context.Context, i, j, n int64) error {
	return defaultBulkSwap(ctx, d, i, j, n)
}

// Sort implements RecordStore.
func (d *DescriptorStore) Sort(ctx context.Context, fieldOffset uint32, vt types.ValueType) error {
	return quicksort(ctx, d, fieldOffset, vt)
}

// BinarySearch implements RecordStore.
func (d *DescriptorStore) BinarySearch(ctx context.Context, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error) {
	return binarySearch(ctx, d, value, fieldOffset, vt, bias)
}

// Iterate implements RecordStore.
func (d *DescriptorStore) Iterate(ctx context.Context, fromIndex int64) (*Iterator, error) {
	idx := fromIndex
	return newIterator(func(ctx context.Context) (bytesview.View, bool, error) {
		n, err := d.Size(ctx)
		if err != nil {
			return bytesview.View{}, false, err
		}
		if uint64(idx) >= n {
			return bytesview.View{}, false, nil
		}
		v, err := d.ReadAt(ctx, idx)
		if err != nil {
			return bytesview.View{}, false, err
		}
		idx++
		return v, true, nil
	}), nil
}

// Close implements RecordStore. A second call returns ErrClosed rather than
// closing the underlying file twice.
func (d *DescriptorStore) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return types.ErrClosed
	}
	d.mu.Lock()
	if d.lastBuf != nil {
		d.lastBuf.Release()
		d.lastBuf = nil
	}
	d.mu.Unlock()
	return d.file.Close()
}

// defaultBulkSwap is the fallback bulk-swap implementation shared by
// backends with no contiguous-region fast path: n calls of swap(i+k, j+k).
// It requires [i, i+n) and [j, j+n) to be disjoint.
func defaultBulkSwap(ctx context.Context, s RecordStore, i, j, n int64) error {
	if rangesOverlap(i, j, n) {
		return types.ErrOverlappingBulkSwap
	}
	for k := int64(0); k < n; k++ {
		if err := s.Swap(ctx, i+k, j+k); err != nil {
			return err
		}
	}
	return nil
}

func rangesOverlap(i, j, n int64) bool {
	if n <= 0 {
		return false
	}
	lo1, hi1 := i, i+n
	lo2, hi2 := j, j+n
	return lo1 < hi2 && lo2 < hi1
}
