package store

import (
	"context"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
)

// SingleMappedStore maps the entire backing file into memory once. ReadAt
// returns a slice of the mapping directly (no copy); Swap allocates one
// scratch buffer and performs the classic three-put rotation. It cannot be
// used once the file exceeds the platform's maximum single-mapping size.
type SingleMappedStore struct {
	file       *os.File
	mapping    mmap.MMap
	recordSize uint32
	writable   bool
}

var _ RecordStore = (*SingleMappedStore)(nil)

// MaxSingleMappingBytes is the ceiling below which a whole file may be
// mapped in one mmap call: 2 GiB, the limit some 32-bit mapping APIs
// impose. Files of this size or larger need the multi-mapped backend.
const MaxSingleMappingBytes = int64(1) << 31

// OpenSingleMapped maps path's entire contents into memory.
func OpenSingleMapped(path string, spec StorageSpec) (*SingleMappedStore, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	flags := os.O_RDONLY
	if spec.Writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recstore: open single-mapped store: %w", err)
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
	if fi.Size() >= MaxSingleMappingBytes {
		f.Close()
		return nil, fmt.Errorf("recstore: file size %d exceeds single-mapping limit", fi.Size())
	}
	mode := mmap.RDONLY
	if spec.Writable {
		mode = mmap.RDWR
	}
	var m mmap.MMap
	if fi.Size() > 0 {
		m, err = mmap.Map(f, mode, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("recstore: mmap: %w", err)
		}
	}
	return &SingleMappedStore{
		file:       f,
		mapping:    m,
		recordSize: spec.RecordSize,
		writable:   spec.Writable,
	}, nil
}

// RecordSize implements RecordStore.
func (s *SingleMappedStore) RecordSize() uint32 { return s.recordSize }

// SizeInBytes implements RecordStore.
func (s *SingleMappedStore) SizeInBytes(ctx context.Context) (uint64, error) {
	return uint64(len(s.mapping)), nil
}

// Size implements RecordStore.
func (s *SingleMappedStore) Size(ctx context.Context) (uint64, error) {
	return uint64(len(s.mapping)) / uint64(s.recordSize), nil
}

// ReadAt implements RecordStore, returning a borrowed slice of the mapping
// itself: no copy, no pool.
func (s *SingleMappedStore) ReadAt(ctx context.Context, i int64) (bytesview.View, error) {
	off := i * int64(s.recordSize)
	if off < 0 || off+int64(s.recordSize) > int64(len(s.mapping)) {
		return bytesview.View{}, fmt.Errorf("recstore: record %d out of bounds", i)
	}
	return bytesview.Borrowed(s.mapping[off : off+int64(s.recordSize)]), nil
}

// WriteAt implements RecordStore by copying directly into the mapping.
func (s *SingleMappedStore) WriteAt(ctx context.Context, byteOffset int64, b []byte) error {
	if byteOffset%int64(s.recordSize) != 0 || len(b)%int(s.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	if byteOffset+int64(len(b)) > int64(len(s.mapping)) {
		return fmt.Errorf("recstore: write at offset %d exceeds mapped file size", byteOffset)
	}
	copy(s.mapping[byteOffset:byteOffset+int64(len(b))], b)
	return nil
}

// Append is unsupported directly on a fixed single mapping: growing the
// file requires remapping, which this backend does not perform
// automatically (the adaptive backend, or a caller-driven resize, owns
// that). Append returns an error rather than silently truncating data.
func (s *SingleMappedStore) Append(ctx context.Context, b []byte) (int64, error) {
	return -1, fmt.Errorf("recstore: single-mapped store does not support Append; grow via Resize")
}

// Resize grows the backing file to newSizeBytes (a multiple of RecordSize)
// and remaps it. It invalidates any previously returned, still-borrowed
// views.
func (s *SingleMappedStore) Resize(newSizeBytes int64) error {
	if newSizeBytes%int64(s.recordSize) != 0 {
		return types.ErrUnalignedOffset
	}
	if s.mapping != nil {
		if err := s.mapping.Unmap(); err != nil {
			return fmt.Errorf("recstore: unmap before resize: %w", err)
		}
	}
	if err := s.file.Truncate(newSizeBytes); err != nil {
		return fmt.Errorf("recstore: truncate: %w", err)
	}
	if newSizeBytes == 0 {
		s.mapping = nil
		return nil
	}
	mode := mmap.RDONLY
	if s.writable {
		mode = mmap.RDWR
	}
	m, err := mmap.Map(s.file, mode, 0)
	if err != nil {
		return fmt.Errorf("recstore: remap: %w", err)
	}
	s.mapping = m
	return nil
}

// WriteValue implements RecordStore as a direct put into the mapping.
func (s *SingleMappedStore) WriteValue(ctx context.Context, recordIndex int64, fieldOffset uint32, vt types.ValueType, val int64) error {
	v, err := s.ReadAt(ctx, recordIndex)
	if err != nil {
		return err
	}
	v.WriteValue(int(fieldOffset), vt, val)
	return nil
}

// Swap implements RecordStore using one scratch buffer and three puts:
// A->scratch, B->A, scratch->B.
func (s *SingleMappedStore) Swap(ctx context.Context, i, j int64) error {
	if i == j {
		return nil
	}
	offI := i * int64(s.recordSize)
	offJ := j * int64(s.recordSize)
	scratch := make([]byte, s.recordSize)
	copy(scratch, s.mapping[offI:offI+int64(s.recordSize)])
	copy(s.mapping[offI:offI+int64(s.recordSize)], s.mapping[offJ:offJ+int64(s.recordSize)])
	copy(s.mapping[offJ:offJ+int64(s.recordSize)], scratch)
	return nil
}

// BulkSwap implements RecordStore. Because the whole file is one mapping,
// overlapping-free bulk regions can always be exchanged directly without a
// cross-segment special case (unlike the multi-mapped backend).
func (s *SingleMappedStore) BulkSwap(ctx context.Context, i, j, n int64) error {
	if rangesOverlap(i, j, n) {
		return types.ErrOverlappingBulkSwap
	}
	width := n * int64(s.recordSize)
	offI := i * int64(s.recordSize)
	offJ := j * int64(s.recordSize)
	scratch := make([]byte, width)
	copy(scratch, s.mapping[offI:offI+width])
	copy(s.mapping[offI:offI+width], s.mapping[offJ:offJ+width])
	copy(s.mapping[offJ:offJ+width], scratch)
	return nil
}

// Sort implements RecordStore.
func (s *SingleMappedStore) Sort(ctx context.Context, fieldOffset uint32, vt types.ValueType) error {
	return quicksort(ctx, s, fieldOffset, vt)
}

// BinarySearch implements RecordStore.
func (s *SingleMappedStore) BinarySearch(ctx context.Context, value int64, fieldOffset uint32, vt types.ValueType, bias types.Bias) (int64, error) {
	return binarySearch(ctx, s, value, fieldOffset, vt, bias)
}

// Iterate implements RecordStore.
func (s *SingleMappedStore) Iterate(ctx context.Context, fromIndex int64) (*Iterator, error) {
	idx := fromIndex
	return newIterator(func(ctx context.Context) (bytesview.View, bool, error) {
		n, _ := s.Size(ctx)
		if uint64(idx) >= n {
			return bytesview.View{}, false, nil
		}
		v, err := s.ReadAt(ctx, idx)
		if err != nil {
			return bytesview.View{}, false, err
		}
		idx++
		return v, true, nil
	}), nil
}

// Close implements RecordStore.
func (s *SingleMappedStore) Close() error {
	if s.mapping != nil {
		if err := s.mapping.Unmap(); err != nil {
			s.file.Close()
			return fmt.Errorf("recstore: unmap: %w", err)
		}
	}
	return s.file.Close()
}
