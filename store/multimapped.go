package store

import (
	"context"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

// MultiMappedStore partitions a file too large for one mapping into
// fixed-size segments, sized so record boundaries never straddle a segment.
type MultiMappedStore struct {
	file       *os.File
	recordSize uint32
	writable   bool

	partitionSize  int64 // bytes; multiple of recordSize
	recordsPerPart int64
	segments       []mmap.MMap
	sizeBytes      int64
}

var _ RecordStore = (*MultiMappedStore)(nil)

// partitionSizeFor computes floor(2GiB / recordSize) * recordSize, the
// largest whole number of records that fits under the single-mapping limit.
func partitionSizeFor(recordSize uint32) int64 {
	recordsPerPartition := MaxSingleMappingBytes / int64(recordSize)
	if recordsPerPartition < 1 {
		recordsPerPartition = 1
	}
	return recordsPerPartition * int64(recordSize)
}

// OpenMultiMapped opens path, partitioning it into segments of
// partitionSizeFor(spec.RecordSize) bytes each.
func OpenMultiMapped(path string, spec StorageSpec) (*MultiMappedStore, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	flags := os.O_RDONLY
	if spec.Writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recstore: open multi-mapped store: %w", err)
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
	m := &MultiMappedStore{
		file:          f,
		recordSize:    spec.RecordSize,
		writable:      spec.Writable,
		partitionSize: partitionSizeFor(spec.RecordSize),
		sizeBytes:     fi.Size(),
	}
	m.recordsPerPart = m.partitionSize / int64(spec.RecordSize)
	if err := m.mapAllSegments(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *MultiMappedStore) mapAllSegments() error {
	mode := mmap.RDONLY
	if m.writable {
		mode = mmap.RDWR
	}
	var segs []mmap.MMap
	remaining := m.sizeBytes
	offset := int64(0)
	for remaining > 0 {
		segLen := m.partitionSize
		if segLen > remaining {
			segLen = remaining
		}
		seg, err := mmap.MapRegion(m.file, int(segLen), mode, 0, offset)
		if err != nil {
			for _, s := range segs {
				s.Unmap()
			}
			return fmt.Errorf("recstore: map segment at offset %d: %w", offset, err)
		}
		segs = append(segs, seg)
		offset += segLen
		remaining -= segLen
	}
	m.segments = segs
	return nil
}

func (m *MultiMappedStore) locate(i int64) (segIdx int, offsetWithin int64) {
	segIdx = int(i / m.recordsPerPart)
	recordInSeg := i % m.recordsPerPart
	offsetWithin = recordInSeg * int64(m.recordSize)
	return
}

// RecordSize implements RecordStore.
func (m *MultiMappedStore) RecordSize() uint32 { return m.recordSize }

// SizeInBytes implements RecordStore.
func (m *MultiMappedStore) SizeInBytes(ctx context.Context) (uint64, error) {
	return uint64(m.sizeBytes), nil
}

// Size implements RecordStore.
func (m *MultiMappedStore) Size(ctx context.Context) (uint64, error) {
	return uint64(m.sizeBytes) / uint64(m.recordSize), nil
}

// ReadAt implements RecordStore, returning a borrowed slice of the segment
// mapping that covers record i.
func (m *MultiMappedStore) ReadAt(ctx context.Context, i int64) (bytesview.View, error) {
	segIdx, off := m.locate(i)
	if segIdx >= len(m.segments) {
		return bytesview.View{}, fmt.Errorf("recstore: record %d out of bounds", i)
	}
	seg := m.segments[segIdx]
	return bytesview.Borrowed(seg[off : off+int64(m.recordSize)]), nil
}

// WriteAt implements RecordStore. byteOffset and len(b) must each be
// record-aligned; b may span multiple segments.
func (m *MultiMappedStore) WriteAt(ctx context.Context, byteOffset int64, b []byte) error {
	if byteOffset%int64(m.recordSize) != 0 || len(b)%int(m.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	firstRecord := byteOffset / int64(m.recordSize)
	numRecords := int64(len(b)) / int64(m.recordSize)
	for k := int64(0); k < numRecords; k++ {
		segIdx, off := m.locate(firstRecord + k)
		if segIdx >= len(m.segments) {
			return fmt.Errorf("recstore: write at record %d out of bounds", firstRecord+k)
		}
		src := b[k*int64(m.recordSize) : (k+1)*int64(m.recordSize)]
		copy(m.segments[segIdx][off:off+int64(m.recordSize)], src)
	}
	return nil
}

// Append is unsupported on this backend for the same reason as
// SingleMappedStore: growth requires a new segment mapping, which must go
// through Resize.
func (m *MultiMappedStore) Append(ctx context.Context, b []byte) (int64, error) {
	return -1, fmt.Errorf("recstore: multi-mapped store does not support Append; grow via Resize")
}

// Resize grows the backing file to newSizeBytes and remaps all segments.
func (m *MultiMappedStore) Resize(newSizeBytes int64) error {
	if newSizeBytes%int64(m.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	for _, seg := range m.segments {
		if err := seg.Unmap(); err != nil {
			return fmt.Errorf("recstore: unmap segment: %w", err)
		}
	}
	m.segments = nil
	if err := m.file.Truncate(newSizeBytes); err != nil {
		return fmt.Errorf("recstore: truncate: %w", err)
	}
	m.sizeBytes = newSizeBytes
	return m.mapAllSegments()
}

// WriteValue implements RecordStore as a direct put into the owning
// segment.
func (m *MultiMappedStore) WriteValue(ctx context.Context, recordIndex int64, fieldOffset uint32, vt types.ValueType, val int64) error {
	v, err := m.ReadAt(ctx, recordIndex)
	if err != nil {
		return err
	}
	v.WriteValue(int(fieldOffset), vt, val)
	return nil
}

// Swap implements RecordStore, handling the intra-segment and
// cross-segment cases separately.
func (m *MultiMappedStore) Swap(ctx context.Context, i, j int64) error {
	if i == j {
		return nil
	}
	segI, offI := m.locate(i)
	segJ, offJ := m.locate(j)
	recSize := int64(m.recordSize)
	if segI == segJ {
		seg := m.segments[segI]
		scratch := make([]byte, recSize)
		copy(scratch, seg[offI:offI+recSize])
		copy(seg[offI:offI+recSize], seg[offJ:offJ+recSize])
		copy(seg[offJ:offJ+recSize], scratch)
		return nil
	}
	segA, segB := m.segments[segI], m.segments[segJ]
	scratch := make([]byte, recSize)
	copy(scratch, segA[offI:offI+recSize])
	copy(segA[offI:offI+recSize], segB[offJ:offJ+recSize])
	copy(segB[offJ:offJ+recSize], scratch)
	return nil
}

// BulkSwap implements RecordStore. It fast-paths only when both [i,i+n) and
// [j,j+n) lie entirely within a single partition each; otherwise it falls
// back to per-record swap.
func (m *MultiMappedStore) BulkSwap(ctx context.Context, i, j, n int64) error {
	if rangesOverlap(i, j, n) {
		return types.ErrOverlappingBulkSwap
	}
	if n <= 0 {
		return nil
	}
	segIStart, _ := m.locate(i)
	segIEnd, _ := m.locate(i + n - 1)
	segJStart, _ := m.locate(j)
	segJEnd, _ := m.locate(j + n - 1)
	if segIStart != segIEnd || segJStart != segJEnd {
		return defaultBulkSwap(ctx, m, i, j, n)
	}
	_, offI := m.locate(i)
	_, offJ := m.locate(j)
	recSize := int64(m.recordSize)
	width := n * recSize
	segA, segB := m.segments[segIStart], m.segments[segJStart]
	scratch := make([]byte, width)
	copy(scratch, segA[offI:offI+width])
	copy(segA[offI:offI+width], segB[offJ:offJ+width])
	copy(segB[offJ:offJ+width], scratch)
	return nil
}

// Sort implements RecordStore.
func (m *MultiMappedStore) Sort(ctx context.Context, fieldOffset uint32, vt types.ValueType) error {
	return quicksort(ctx, m, fieldOffset, vt)
}

// BinarySearch implements RecordStore.
func (m *MultiMappedStore) BinarySearch(ctx context.Context, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error) {
	return binarySearch(ctx, m, value, fieldOffset, vt, bias)
}

// Iterate implements RecordStore.
func (m *MultiMappedStore) Iterate(ctx context.Context, fromIndex int64) (*Iterator, error) {
	idx := fromIndex
	return newIterator(func(ctx context.Context) (bytesview.View, bool, error) {
		n, _ := m.Size(ctx)
		if uint64(idx) >= n {
			return bytesview.View{}, false, nil
		}
		v, err := m.ReadAt(ctx, idx)
		if err != nil {
			return bytesview.View{}, false, err
		}
		idx++
		return v, true, nil
	}), nil
}

// Close implements RecordStore.
func (m *MultiMappedStore) Close() error {
	for _, seg := range m.segments {
		if err := seg.Unmap(); err != nil {
			m.file.Close()
			return fmt.Errorf("recstore: unmap segment: %w", err)
		}
	}
	return m.file.Close()
}
