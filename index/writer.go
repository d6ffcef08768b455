package index

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rpcpool/recstore/bytesview"
	"github.com/rpcpool/recstore/internal/types"
	"github.com/rpcpool/recstore/stepchain"
	"github.com/rpcpool/recstore/store"
)

// Writer appends schema-shaped records to a primary store.
// Go has no portable notion of "the calling OS thread", so the
// single-threaded-writes-require-a-canonical-field rule is enforced by
// tracking concurrent in-flight Write calls rather than a thread identity:
// if two Write calls are ever observed overlapping, the writer behaves as
// though it saw a second writer thread.
type Writer struct {
	dir, base string
	schema    *Schema

	primary store.RecordStore

	writeMu       sync.Mutex
	inflight      atomic.Int32
	multiThreaded atomic.Bool
	seqCounter    atomic.Uint32
}

// NewWriter opens (creating if necessary) dir/base.offsets for writing.
func NewWriter(dir, base string, schema *Schema) (*Writer, error) {
	spec, err := store.NewStorageSpec(schema.RecordSize, store.WithWritable(true))
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, base+".offsets")
	s, err := store.OpenDescriptor(path, spec)
	if err != nil {
		return nil, fmt.Errorf("index: open writer primary: %w", err)
	}
	n, err := s.Size(context.Background())
	if err != nil {
		s.Close()
		return nil, err
	}
	w := &Writer{dir: dir, base: base, schema: schema, primary: s}
	w.seqCounter.Store(uint32(n))
	return w, nil
}

// Write packs values (one per schema field, in schema order) into a new
// record, prepends the next sequence number, and appends it. It returns the
// record's primary index.
func (w *Writer) Write(ctx context.Context, values ...int64) (int64, error) {
	if len(values) != len(w.schema.Fields) {
		return -1, fmt.Errorf("index: Write got %d values, schema has %d fields", len(values), len(w.schema.Fields))
	}
	if w.inflight.Add(1) > 1 {
		w.multiThreaded.Store(true)
	}
	defer w.inflight.Add(-1)

	if w.multiThreaded.Load() {
		if _, ok := w.schema.CanonicalField(); !ok {
			return -1, types.ErrMultiThreadedWriteNoCanonical
		}
	}

	seq := w.seqCounter.Add(1) - 1
	buf := make([]byte, w.schema.RecordSize)
	view := bytesview.Owned(buf)
	view.PutUint32(0, seq)
	for i, f := range w.schema.Fields {
		view.WriteValue(int(f.ByteOffset), f.ValueType, values[i])
	}

	w.writeMu.Lock()
	idx, err := w.primary.Append(ctx, buf)
	w.writeMu.Unlock()
	return idx, err
}

// Close runs the writer's close sequence: (1) if multi-threaded writes
// happened, sort the primary by the canonical field and renumber sequence
// numbers; (2) derive a sorted shadow file for each Unique field; (3) close
// every open descriptor. A failure at any step leaves the directory in a
// partial state; Close does not attempt recovery or cleanup.
func (w *Writer) Close(ctx context.Context) error {
	return stepchain.New().
		Then("sort and renumber", func() error {
			return w.sortAndRenumber(ctx)
		}).
		Then("build shadow files", func() error {
			return w.buildShadows(ctx)
		}).
		Then("close primary", func() error {
			return w.primary.Close()
		}).
		Err()
}

func (w *Writer) sortAndRenumber(ctx context.Context) error {
	if !w.multiThreaded.Load() {
		return nil
	}
	cf, ok := w.schema.CanonicalField()
	if !ok {
		// Unreachable: Write already rejects multi-threaded writes on a
		// schema with no canonical field.
		return nil
	}
	if err := w.primary.Sort(ctx, cf.ByteOffset, cf.ValueType); err != nil {
		return fmt.Errorf("index: sort by canonical field: %w", err)
	}
	n, err := w.primary.Size(ctx)
	if err != nil {
		return err
	}
	for i := int64(0); i < int64(n); i++ {
		if err := w.primary.WriteValue(ctx, i, 0, types.Uint32, i); err != nil {
			return fmt.Errorf("index: renumber record %d: %w", i, err)
		}
	}
	return nil
}

func (w *Writer) buildShadows(ctx context.Context) error {
	for _, f := range w.schema.Fields {
		if f.Kind != types.Unique {
			continue
		}
		if err := w.buildShadowFor(ctx, f); err != nil {
			return fmt.Errorf("index: build shadow file for field %q: %w", f.Name, err)
		}
	}
	return nil
}

// buildShadowFor materializes dir/base.<field>s. It stages the copy under a
// uuid-suffixed temporary name and renames it into place once sorted, so
// that a second IndexWriter building the same base concurrently (e.g. a
// re-index racing a reader's lazy shadow open) can never observe a
// half-written shadow file.
func (w *Writer) buildShadowFor(ctx context.Context, f Field) error {
	srcPath := filepath.Join(w.dir, w.base+".offsets")
	dstPath := filepath.Join(w.dir, w.base+"."+f.Name+"s")
	tmpPath := dstPath + ".tmp-" + uuid.NewString()
	if err := copyFile(srcPath, tmpPath); err != nil {
		return err
	}
	spec, err := store.NewStorageSpec(w.schema.RecordSize, store.WithWritable(true))
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	shadow, err := store.OpenDescriptor(tmpPath, spec)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := shadow.Sort(ctx, f.ByteOffset, f.ValueType); err != nil {
		shadow.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := shadow.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dstPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
