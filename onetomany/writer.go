package onetomany

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rpcpool/recstore/stepchain"
	"github.com/rpcpool/recstore/store"
)

// Config controls whether a Writer maintains the inverse file inline as it
// writes, or leaves it to be built at Close time.
type Config struct {
	InlineInverse bool
}

// Writer appends (keyIdx, valIdx, key, value) edges to B.12m and, on close,
// sorts by the compound (key, value), emits B.counts, and materializes
// B.m21.
type Writer struct {
	dir, base string
	cfg       Config

	forward store.RecordStore
	inverse store.RecordStore // non-nil only when cfg.InlineInverse
}

// NewWriter opens dir/base.12m (and, if cfg.InlineInverse, dir/base.m21) for
// writing.
func NewWriter(dir, base string, cfg Config) (*Writer, error) {
	spec, err := store.NewStorageSpec(RecordSize, store.WithWritable(true))
	if err != nil {
		return nil, err
	}
	fwd, err := store.OpenDescriptor(filepath.Join(dir, base+".12m"), spec)
	if err != nil {
		return nil, fmt.Errorf("onetomany: open forward file: %w", err)
	}
	w := &Writer{dir: dir, base: base, cfg: cfg, forward: fwd}
	if cfg.InlineInverse {
		inv, err := store.OpenDescriptor(filepath.Join(dir, base+".m21"), spec)
		if err != nil {
			fwd.Close()
			return nil, fmt.Errorf("onetomany: open inverse file: %w", err)
		}
		w.inverse = inv
	}
	return w, nil
}

// Put appends one (keyIdx, valIdx, key, value) edge, and its flipped
// counterpart to the inverse file if inline inverse generation is enabled.
func (w *Writer) Put(ctx context.Context, keyIdx, valIdx uint32, key, value int64) error {
	e := edge{keyIdx: keyIdx, valIdx: valIdx, key: key, value: value}
	if _, err := w.forward.Append(ctx, packEdge(e)); err != nil {
		return fmt.Errorf("onetomany: append forward edge: %w", err)
	}
	if w.inverse != nil {
		if _, err := w.inverse.Append(ctx, packEdge(e.flip())); err != nil {
			return fmt.Errorf("onetomany: append inverse edge: %w", err)
		}
	}
	return nil
}

// Close sorts the forward file by (key, value), emits the counts sidecar,
// materializes the inverse file (sorting it in place if it was written
// inline, or building it from scratch from the forward file if
// buildInverse is true and it wasn't), and closes every open descriptor.
func (w *Writer) Close(ctx context.Context, buildInverse bool) error {
	return stepchain.New().
		Then("sort forward by compound key", func() error {
			return sortByCompoundKey(ctx, w.forward)
		}).
		Then("emit counts", func() error {
			return w.emitCounts(ctx)
		}).
		Then("materialize inverse", func() error {
			if w.inverse != nil {
				return sortByCompoundKey(ctx, w.inverse)
			}
			if buildInverse {
				return w.buildInverseFromForward(ctx)
			}
			return nil
		}).
		Then("close files", func() error {
			if w.inverse != nil {
				if err := w.inverse.Close(); err != nil {
					return err
				}
			}
			return w.forward.Close()
		}).
		Err()
}

func (w *Writer) emitCounts(ctx context.Context) error {
	spec, err := store.NewStorageSpec(CountRecordSize, store.WithWritable(true))
	if err != nil {
		return err
	}
	counts, err := store.OpenDescriptor(filepath.Join(w.dir, w.base+".counts"), spec)
	if err != nil {
		return fmt.Errorf("onetomany: open counts file: %w", err)
	}
	defer counts.Close()

	n, err := w.forward.Size(ctx)
	if err != nil {
		return err
	}
	var cur countRecord
	haveCur := false
	flush := func() error {
		if !haveCur {
			return nil
		}
		_, err := counts.Append(ctx, packCount(cur))
		return err
	}
	for i := int64(0); i < int64(n); i++ {
		e, err := readEdge(ctx, w.forward, i)
		if err != nil {
			return err
		}
		if haveCur && e.key == cur.key {
			cur.count++
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		cur = countRecord{keyIdx: e.keyIdx, key: e.key, count: 1}
		haveCur = true
	}
	return flush()
}

func (w *Writer) buildInverseFromForward(ctx context.Context) error {
	spec, err := store.NewStorageSpec(RecordSize, store.WithWritable(true))
	if err != nil {
		return err
	}
	inv, err := store.OpenDescriptor(filepath.Join(w.dir, w.base+".m21"), spec)
	if err != nil {
		return fmt.Errorf("onetomany: open inverse file for build: %w", err)
	}
	defer inv.Close()

	n, err := w.forward.Size(ctx)
	if err != nil {
		return err
	}
	for i := int64(0); i < int64(n); i++ {
		e, err := readEdge(ctx, w.forward, i)
		if err != nil {
			return err
		}
		if _, err := inv.Append(ctx, packEdge(e.flip())); err != nil {
			return err
		}
	}
	return sortByCompoundKey(ctx, inv)
}
