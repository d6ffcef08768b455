package store

import (
	"github.com/rpcpool/recstore/internal/types"
)

// defaults for a StorageSpec's unset fields.
const (
	defaultConcurrency = 4
)

// StorageSpec is the set of options that determine which backend an
// AdaptiveStore opens with and how every backend behaves.
type StorageSpec struct {
	RecordSize   uint32
	PreferMapped bool
	AlwaysMapped bool
	Writable     bool
	Concurrency  int
}

// Option mutates a StorageSpec, following the functional-options pattern the
// teacher uses for its own storage configuration (gsfa/store/option.go).
type Option func(*StorageSpec)

// WithPreferMapped makes OpenAdaptive attempt a memory-mapped backend first,
// falling back to a descriptor-backed store when mapping fails (file too
// large, platform refusal). Unlike WithAlwaysMapped, the resulting store can
// still demote to a caching-descriptor backend later if it cools off.
func WithPreferMapped(v bool) Option { return func(s *StorageSpec) { s.PreferMapped = v } }

// WithAlwaysMapped makes OpenAdaptive open a mapped backend directly,
// failing if mapping fails, and keeps MaybeDemote from ever demoting it. An
// Append on the mapped store still moves it to a descriptor backend, since
// mapped backends cannot grow in place.
func WithAlwaysMapped(v bool) Option { return func(s *StorageSpec) { s.AlwaysMapped = v } }

// WithWritable opens the store read-write; otherwise it is read-only.
func WithWritable(v bool) Option { return func(s *StorageSpec) { s.Writable = v } }

// WithConcurrency sets the number of reusable per-slot buffers. Must be >= 2
// for Sort to function (a swap holds two buffers at once).
func WithConcurrency(n int) Option { return func(s *StorageSpec) { s.Concurrency = n } }

// NewStorageSpec builds a StorageSpec for the given fixed record size,
// applying options over the package defaults.
func NewStorageSpec(recordSize uint32, opts ...Option) (StorageSpec, error) {
	if recordSize == 0 {
		return StorageSpec{}, types.ErrBadRecordSize
	}
	spec := StorageSpec{
		RecordSize:  recordSize,
		Concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.Concurrency < 1 {
		spec.Concurrency = 1
	}
	return spec, nil
}

// Validate checks the StorageSpec's own internal consistency, independent
// of any file on disk, so a misconfigured spec is rejected before any
// backend touches the filesystem.
func (s StorageSpec) Validate() error {
	if s.RecordSize == 0 {
		return types.ErrBadRecordSize
	}
	return nil
}
