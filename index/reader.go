package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
	"github.com/rpcpool/recstore/store"
)

// Reader opens a primary store and lazily opens shadow files on first query
// against each field.
type Reader struct {
	dir, base string
	schema    *Schema
	primary   store.RecordStore

	mu      sync.Mutex
	shadows map[string]store.RecordStore
}

// NewReader opens dir/base.offsets read-only.
func NewReader(dir, base string, schema *Schema) (*Reader, error) {
	spec, err := store.NewStorageSpec(schema.RecordSize)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, base+".offsets")
	s, err := store.OpenDescriptor(path, spec)
	if err != nil {
		return nil, fmt.Errorf("index: open reader primary: %w", err)
	}
	return &Reader{
		dir:     dir,
		base:    base,
		schema:  schema,
		primary: s,
		shadows: make(map[string]store.RecordStore),
	}, nil
}

// Get returns the i-th primary record.
func (r *Reader) Get(ctx context.Context, i int64) (bytesview.View, error) {
	return r.primary.ReadAt(ctx, i)
}

// Size returns the number of primary records.
func (r *Reader) Size(ctx context.Context) (uint64, error) {
	return r.primary.Size(ctx)
}

// shadowFor returns the store to search for the named field: the primary
// itself for the canonical field, or the lazily-opened, memoized shadow
// file for a Unique field.
func (r *Reader) shadowFor(name string) (store.RecordStore, Field, error) {
	f, ok := r.schema.FieldByName(name)
	if !ok || !f.Kind.Indexable() {
		return nil, Field{}, types.ErrNotIndexed
	}
	if f.Kind == types.CanonicalOrdering {
		return r.primary, f, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shadows[name]; ok {
		return s, f, nil
	}
	spec, err := store.NewStorageSpec(r.schema.RecordSize)
	if err != nil {
		return nil, Field{}, err
	}
	path := filepath.Join(r.dir, r.base+"."+name+"s")
	s, err := store.OpenDescriptor(path, spec)
	if err != nil {
		return nil, Field{}, fmt.Errorf("index: open shadow file for field %q: %w", name, err)
	}
	r.shadows[name] = s
	return s, f, nil
}

// Search binary-searches field's shadow file (or the primary directly, for
// the canonical field) and returns the primary record index. For a
// non-canonical field, the matched shadow record's leading seq:u32 field
// is itself the primary record index that field was captured from.
func (r *Reader) Search(ctx context.Context, name string, value int64, bias types.Bias) (int64, error) {
	s, f, err := r.shadowFor(name)
	if err != nil {
		return -1, err
	}
	idx, err := s.BinarySearch(ctx, value, f.ByteOffset, f.ValueType, bias)
	if err != nil || idx < 0 {
		return idx, err
	}
	if f.Kind == types.CanonicalOrdering {
		return idx, nil
	}
	v, err := s.ReadAt(ctx, idx)
	if err != nil {
		return -1, err
	}
	return int64(v.Uint32(0)), nil
}

// SearchCanonical is a convenience for Search against the schema's
// CanonicalOrdering field.
func (r *Reader) SearchCanonical(ctx context.Context, value int64, bias types.Bias) (int64, error) {
	cf, ok := r.schema.CanonicalField()
	if !ok {
		return -1, types.ErrNotIndexed
	}
	return r.primary.BinarySearch(ctx, value, cf.ByteOffset, cf.ValueType, bias)
}

// ValueFor reads one field from the primary record at recordIndex.
func (r *Reader) ValueFor(ctx context.Context, recordIndex int64, name string) (int64, error) {
	f, ok := r.schema.FieldByName(name)
	if !ok {
		return 0, fmt.Errorf("index: unknown field %q", name)
	}
	v, err := r.primary.ReadAt(ctx, recordIndex)
	if err != nil {
		return 0, err
	}
	return v.ReadValue(int(f.ByteOffset), f.ValueType), nil
}

// Close closes the primary store and every shadow file opened so far.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.shadows {
		errs = append(errs, s.Close())
	}
	errs = append(errs, r.primary.Close())
	return errors.Join(errs...)
}
