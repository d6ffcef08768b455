package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

// cacheWindowRecords is how many consecutive records a single cache buffer
// covers once loaded.
const cacheWindowRecords = 1024

// window is one of the six rotating buffers: a captured range of records
// plus the mutation-counter snapshot taken when it was loaded.
type window struct {
	base    int64 // first record index covered, or -1 if empty
	data    []byte
	counter uint64
}

func (w *window) covers(record int64) bool {
	return w.base >= 0 && record >= w.base && record < w.base+cacheWindowRecords
}

// pair is two windows covering the same third of the file, ping-ponged on
// reload so the previous window stays valid until the new one finishes
// loading.
type pair struct {
	windows [2]window
	active  int
}

// CachingDescriptorStore maintains three pairs of rotating buffers — head,
// middle and tail thirds of the file — reloading on a miss and validating
// hits against a mutation counter so a write elsewhere in the file can't
// leave a stale window looking current.
type CachingDescriptorStore struct {
	file       *os.File
	recordSize uint32

	mu        sync.Mutex
	head      pair
	middle    pair
	tail      pair
	sizeBytes atomic.Int64
	mutations atomic.Uint64
}

var _ RecordStore = (*CachingDescriptorStore)(nil)

// OpenCachingDescriptor opens path as a caching-descriptor-backed store.
func OpenCachingDescriptor(path string, spec StorageSpec) (*CachingDescriptorStore, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	flags := os.O_RDONLY
	if spec.Writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recstore: open caching-descriptor store: %w", err)
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
	cs := &CachingDescriptorStore{
		file:       f,
		recordSize: spec.RecordSize,
	}
	cs.sizeBytes.Store(fi.Size())
	cs.head = newPair()
	cs.middle = newPair()
	cs.tail = newPair()
	return cs, nil
}

// WarmUp pre-loads all three cache thirds (head, middle, tail) by reading
// one record from each, mirroring DescriptorStore.WarmUp's intent at far
// lower cost: a caching backend only ever needs its windows populated, not
// every record individually touched.
func (c *CachingDescriptorStore) WarmUp(ctx context.Context) error {
	n, err := c.Size(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	probes := []int64{0, int64(n) / 2, int64(n) - 1}
	for _, i := range probes {
		if _, err := c.ReadAt(ctx, i); err != nil {
			return fmt.Errorf("recstore: warm up record %d: %w", i, err)
		}
	}
	return nil
}

func newPair() pair {
	return pair{windows: [2]window{{base: -1}, {base: -1}}}
}

// RecordSize implements RecordStore.
func (c *CachingDescriptorStore) RecordSize() uint32 { return c.recordSize }

// SizeInBytes implements RecordStore.
func (c *CachingDescriptorStore) SizeInBytes(ctx context.Context) (uint64, error) {
	return uint64(c.sizeBytes.Load()), nil
}

// Size implements RecordStore.
func (c *CachingDescriptorStore) Size(ctx context.Context) (uint64, error) {
	return uint64(c.sizeBytes.Load()) / uint64(c.recordSize), nil
}

// thirdFor picks which of the three region pairs owns record i, given the
// store's current record count.
func (c *CachingDescriptorStore) thirdFor(i, n int64) *pair {
	if n <= 0 {
		return &c.head
	}
	third := n / 3
	switch {
	case i < third:
		return &c.head
	case i < 2*third:
		return &c.middle
	default:
		return &c.tail
	}
}

// ReadAt implements RecordStore, returning an owned copy sliced out of the
// active cache window.
func (c *CachingDescriptorStore) ReadAt(ctx context.Context, i int64) (bytesview.View, error) {
	n, _ := c.Size(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.thirdFor(i, int64(n))
	cur := c.mutations.Load()

	active := &p.windows[p.active]
	if active.covers(i) && active.counter == cur {
		return c.sliceFromWindow(active, i), nil
	}
	other := &p.windows[1-p.active]
	if other.covers(i) && other.counter == cur {
		p.active = 1 - p.active
		return c.sliceFromWindow(other, i), nil
	}

	// Miss: reload into the non-active slot, then make it active.
	reload := &p.windows[1-p.active]
	if err := c.loadWindow(reload, i, cur); err != nil {
		return bytesview.View{}, err
	}
	p.active = 1 - p.active
	return c.sliceFromWindow(reload, i), nil
}

func (c *CachingDescriptorStore) loadWindow(w *window, base int64, counter uint64) error {
	recSize := int64(c.recordSize)
	buf := make([]byte, cacheWindowRecords*recSize)
	n, err := c.file.ReadAt(buf, base*recSize)
	if err != nil && n == 0 {
		return fmt.Errorf("recstore: caching-descriptor reload at record %d: %w", base, err)
	}
	w.base = base
	w.data = buf[:n]
	w.counter = counter
	return nil
}

func (c *CachingDescriptorStore) sliceFromWindow(w *window, i int64) bytesview.View {
	recSize := int64(c.recordSize)
	localOff := (i - w.base) * recSize
	return bytesview.Owned(append([]byte(nil), w.data[localOff:localOff+recSize]...))
}

// WriteAt implements RecordStore, bumping the mutation counter so every
// cached window is invalidated on its next access.
func (c *CachingDescriptorStore) WriteAt(ctx context.Context, byteOffset int64, b []byte) error {
	if byteOffset%int64(c.recordSize) != 0 || len(b)%int(c.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	if _, err := c.file.WriteAt(b, byteOffset); err != nil {
		return fmt.Errorf("recstore: caching-descriptor write at offset %d: %w", byteOffset, err)
	}
	c.mutations.Add(1)
	end := byteOffset + int64(len(b))
	for {
		cur := c.sizeBytes.Load()
		if end <= cur || c.sizeBytes.CompareAndSwap(cur, end) {
			return nil
		}
	}
}

// Append implements RecordStore.
func (c *CachingDescriptorStore) Append(ctx context.Context, b []byte) (int64, error) {
	if len(b) != int(c.recordSize) {
		return -1, types.ErrUnalignedOffset
	}
	off := c.sizeBytes.Add(int64(len(b))) - int64(len(b))
	if _, err := c.file.WriteAt(b, off); err != nil {
		return -1, fmt.Errorf("recstore: caching-descriptor append: %w", err)
	}
	c.mutations.Add(1)
	return off / int64(c.recordSize), nil
}

// WriteValue implements RecordStore via read-modify-write.
func (c *CachingDescriptorStore) WriteValue(ctx context.Context, recordIndex int64, fieldOffset uint32, vt types.ValueType, val int64) error {
	recSize := int64(c.recordSize)
	buf := make([]byte, recSize)
	off := recordIndex * recSize
	if _, err := c.file.ReadAt(buf, off); err != nil {
		return fmt.Errorf("recstore: caching-descriptor write-value: %w", err)
	}
	bytesview.Owned(buf).WriteValue(int(fieldOffset), vt, val)
	if _, err := c.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("recstore: caching-descriptor write-value: %w", err)
	}
	c.mutations.Add(1)
	return nil
}

// Swap implements RecordStore.
func (c *CachingDescriptorStore) Swap(ctx context.Context, i, j int64) error {
	if i == j {
		return nil
	}
	recSize := int64(c.recordSize)
	a := make([]byte, recSize)
	b := make([]byte, recSize)
	offI, offJ := i*recSize, j*recSize
	if _, err := c.file.ReadAt(a, offI); err != nil {
		return fmt.Errorf("recstore: caching-descriptor swap read %d: %w", i, err)
	}
	if _, err := c.file.ReadAt(b, offJ); err != nil {
		return fmt.Errorf("recstore: caching-descriptor swap read %d: %w", j, err)
	}
	if _, err := c.file.WriteAt(b, offI); err != nil {
		return fmt.Errorf("recstore: caching-descriptor swap write %d: %w", i, err)
	}
	if _, err := c.file.WriteAt(a, offJ); err != nil {
		return fmt.Errorf("recstore: caching-descriptor swap write %d: %w", j, err)
	}
	c.mutations.Add(1)
	return nil
}

// BulkSwap implements RecordStore with the default per-record fallback.
func (c *CachingDescriptorStore) BulkSwap(ctx context.Context, i, j, n int64) error {
	return defaultBulkSwap(ctx, c, i, j, n)
}

// Sort implements RecordStore.
func (c *CachingDescriptorStore) Sort(ctx context.Context, fieldOffset uint32, vt types.ValueType) error {
	return quicksort(ctx, c, fieldOffset, vt)
}

// BinarySearch implements RecordStore.
func (c *CachingDescriptorStore) BinarySearch(ctx context.Context, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error) {
	return binarySearch(ctx, c, value, fieldOffset, vt, bias)
}

// Iterate implements RecordStore.
func (c *CachingDescriptorStore) Iterate(ctx context.Context, fromIndex int64) (*Iterator, error) {
	idx := fromIndex
	return newIterator(func(ctx context.Context) (bytesview.View, bool, error) {
		n, _ := c.Size(ctx)
		if uint64(idx) >= n {
			return bytesview.View{}, false, nil
		}
		v, err := c.ReadAt(ctx, idx)
		if err != nil {
			return bytesview.View{}, false, err
		}
		idx++
		return v, true, nil
	}), nil
}

// Close implements RecordStore.
func (c *CachingDescriptorStore) Close() error {
	return c.file.Close()
}
