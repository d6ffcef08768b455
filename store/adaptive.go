package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

var adaptiveLog = logging.Logger("recstore/store/adaptive")

const (
	ringSize            = 128
	promoteThreshold    = 64
	promoteWithinWindow = time.Second
	demoteThreshold     = 64
	demoteSeparationGap = 2 * time.Second
)

// storeMode names which backend an AdaptiveStore currently delegates to.
type storeMode int

const (
	modeDescriptor storeMode = iota
	modeCaching
	modeMapped
)

type storeHandle struct {
	mode  storeMode
	store RecordStore
}

// AdaptiveStore starts on a descriptor-backed store and promotes itself to a
// memory-mapped backend once access patterns look "hot" (many reads packed
// within a second of each other), demoting back to a caching-descriptor
// backend once accesses cool off. The swap happens behind an
// atomic.Pointer[storeHandle], so a caller holding an AdaptiveStore never
// sees anything but a brief pause during the swap itself — every method
// just dereferences the current handle and delegates.
type AdaptiveStore struct {
	path string
	spec StorageSpec

	handle atomic.Pointer[storeHandle]

	ringMu     sync.Mutex
	ring       [ringSize]time.Time
	ringHead   int
	ringFilled int

	promoting  atomic.Bool
	memLimited atomic.Bool
}

var _ RecordStore = (*AdaptiveStore)(nil)

// OpenAdaptive opens path starting in descriptor mode, or in mapped mode
// directly if spec requests AlwaysMapped (failing if mapping fails) or
// PreferMapped (falling back to descriptor mode if mapping fails).
func OpenAdaptive(path string, spec StorageSpec) (*AdaptiveStore, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	a := &AdaptiveStore{path: path, spec: spec}

	if spec.AlwaysMapped {
		h, err := a.openMapped()
		if err != nil {
			return nil, err
		}
		a.handle.Store(h)
		return a, nil
	}

	if spec.PreferMapped {
		h, err := a.openMapped()
		if err == nil {
			a.handle.Store(h)
			return a, nil
		}
		memErr := types.NewMemLimited(err)
		a.memLimited.Store(true)
		adaptiveLog.Warnw("preferred mapped backend unavailable, opening descriptor instead", "path", path, "error", memErr)
	}

	d, err := OpenDescriptor(path, spec)
	if err != nil {
		return nil, err
	}
	a.handle.Store(&storeHandle{mode: modeDescriptor, store: d})
	return a, nil
}

func (a *AdaptiveStore) current() *storeHandle {
	return a.handle.Load()
}

// touch records an access timestamp in the ring buffer. It does not itself
// promote; ReadAt and BinarySearch call maybePromote right after it.
func (a *AdaptiveStore) touch() {
	a.ringMu.Lock()
	a.ring[a.ringHead] = time.Now()
	a.ringHead = (a.ringHead + 1) % ringSize
	if a.ringFilled < ringSize {
		a.ringFilled++
	}
	a.ringMu.Unlock()
}

// chronological returns the recorded timestamps oldest-to-newest.
func (a *AdaptiveStore) chronological() []time.Time {
	a.ringMu.Lock()
	defer a.ringMu.Unlock()
	if a.ringFilled < ringSize {
		out := make([]time.Time, a.ringFilled)
		copy(out, a.ring[:a.ringFilled])
		return out
	}
	out := make([]time.Time, ringSize)
	n := copy(out, a.ring[a.ringHead:])
	copy(out[n:], a.ring[:a.ringHead])
	return out
}

func countGaps(ts []time.Time, within func(time.Duration) bool) int {
	count := 0
	for k := 1; k < len(ts); k++ {
		if within(ts[k].Sub(ts[k-1])) {
			count++
		}
	}
	return count
}

// maybePromote checks the ring and, if the hot-access threshold is met,
// swaps the handle to a mapped backend. Safe to call from any goroutine;
// only one promotion attempt proceeds at a time.
func (a *AdaptiveStore) maybePromote(ctx context.Context) {
	if a.memLimited.Load() {
		return
	}
	h := a.current()
	if h.mode == modeMapped {
		return
	}
	ts := a.chronological()
	if countGaps(ts, func(d time.Duration) bool { return d < promoteWithinWindow }) < promoteThreshold {
		return
	}
	if !a.promoting.CompareAndSwap(false, true) {
		return
	}
	defer a.promoting.Store(false)

	newHandle, err := a.openMapped()
	if err != nil {
		memErr := types.NewMemLimited(err)
		a.memLimited.Store(true)
		adaptiveLog.Warnw("promotion to mapped backend failed, staying memory-limited", "path", a.path, "error", memErr)
		return
	}
	old := a.handle.Swap(newHandle)
	if old != nil && old.store != nil {
		old.store.Close()
	}
	adaptiveLog.Infow("promoted to mapped backend", "path", a.path)
}

// MaybeDemote is the caller-invoked idle check: when the access ring shows
// demoteThreshold consecutive gaps wider than demoteSeparationGap, the store
// demotes from a mapped backend to a caching-descriptor one. It is not
// invoked automatically by ReadAt, since idleness can only be observed by a
// caller who notices the quiet period, not by the read path itself. A store
// opened with AlwaysMapped is never demoted.
func (a *AdaptiveStore) MaybeDemote(ctx context.Context) error {
	if a.spec.AlwaysMapped {
		return nil
	}
	h := a.current()
	if h.mode == modeDescriptor || h.mode == modeCaching {
		return nil
	}
	ts := a.chronological()
	if countGaps(ts, func(d time.Duration) bool { return d > demoteSeparationGap }) < demoteThreshold {
		return nil
	}
	if !a.promoting.CompareAndSwap(false, true) {
		return nil
	}
	defer a.promoting.Store(false)

	c, err := OpenCachingDescriptor(a.path, a.spec)
	if err != nil {
		return fmt.Errorf("recstore: demote to caching-descriptor: %w", err)
	}
	newHandle := &storeHandle{mode: modeCaching, store: c}
	old := a.handle.Swap(newHandle)
	if old != nil && old.store != nil {
		old.store.Close()
	}
	adaptiveLog.Infow("demoted to caching-descriptor backend", "path", a.path)
	return nil
}

func (a *AdaptiveStore) openMapped() (*storeHandle, error) {
	probe, err := OpenDescriptor(a.path, a.spec)
	if err != nil {
		return nil, err
	}
	sizeBytes, err := probe.SizeInBytes(context.Background())
	probe.Close()
	if err != nil {
		return nil, err
	}
	if int64(sizeBytes) < MaxSingleMappingBytes {
		s, err := OpenSingleMapped(a.path, a.spec)
		if err != nil {
			return nil, err
		}
		return &storeHandle{mode: modeMapped, store: s}, nil
	}
	m, err := OpenMultiMapped(a.path, a.spec)
	if err != nil {
		return nil, err
	}
	return &storeHandle{mode: modeMapped, store: m}, nil
}

// RecordSize implements RecordStore.
func (a *AdaptiveStore) RecordSize() uint32 { return a.current().store.RecordSize() }

// SizeInBytes implements RecordStore.
func (a *AdaptiveStore) SizeInBytes(ctx context.Context) (uint64, error) {
	return a.current().store.SizeInBytes(ctx)
}

// Size implements RecordStore.
func (a *AdaptiveStore) Size(ctx context.Context) (uint64, error) {
	return a.current().store.Size(ctx)
}

// ReadAt implements RecordStore, recording the access and considering
// promotion before delegating.
func (a *AdaptiveStore) ReadAt(ctx context.Context, i int64) (bytesview.View, error) {
	a.touch()
	a.maybePromote(ctx)
	return a.current().store.ReadAt(ctx, i)
}

// WriteAt implements RecordStore.
func (a *AdaptiveStore) WriteAt(ctx context.Context, byteOffset int64, b []byte) error {
	return a.current().store.WriteAt(ctx, byteOffset, b)
}

// Append implements RecordStore. Mapped backends cannot grow in place, so
// an append while promoted demotes first via a fresh descriptor, appends,
// then lets the next hot streak re-promote.
func (a *AdaptiveStore) Append(ctx context.Context, b []byte) (int64, error) {
	h := a.current()
	if h.mode != modeMapped {
		return h.store.Append(ctx, b)
	}
	d, err := OpenDescriptor(a.path, a.spec)
	if err != nil {
		return -1, fmt.Errorf("recstore: reopen descriptor for append: %w", err)
	}
	idx, err := d.Append(ctx, b)
	if err != nil {
		d.Close()
		return -1, err
	}
	old := a.handle.Swap(&storeHandle{mode: modeDescriptor, store: d})
	if old != nil && old.store != nil {
		old.store.Close()
	}
	return idx, nil
}

// WriteValue implements RecordStore.
func (a *AdaptiveStore) WriteValue(ctx context.Context, recordIndex int64, fieldOffset uint32, vt types.ValueType, val int64) error {
	return a.current().store.WriteValue(ctx, recordIndex, fieldOffset, vt, val)
}

// Swap implements RecordStore.
func (a *AdaptiveStore) Swap(ctx context.Context, i, j int64) error {
	return a.current().store.Swap(ctx, i, j)
}

// BulkSwap implements RecordStore.
func (a *AdaptiveStore) BulkSwap(ctx context.Context, i, j, n int64) error {
	return a.current().store.BulkSwap(ctx, i, j, n)
}

// Sort implements RecordStore.
func (a *AdaptiveStore) Sort(ctx context.Context, fieldOffset uint32, vt types.ValueType) error {
	return a.current().store.Sort(ctx, fieldOffset, vt)
}

// BinarySearch implements RecordStore.
func (a *AdaptiveStore) BinarySearch(ctx context.Context, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error) {
	a.touch()
	a.maybePromote(ctx)
	return a.current().store.BinarySearch(ctx, value, fieldOffset, vt, bias)
}

// Iterate implements RecordStore.
func (a *AdaptiveStore) Iterate(ctx context.Context, fromIndex int64) (*Iterator, error) {
	return a.current().store.Iterate(ctx, fromIndex)
}

// Close implements RecordStore.
func (a *AdaptiveStore) Close() error {
	h := a.current()
	if h == nil || h.store == nil {
		return nil
	}
	return h.store.Close()
}
