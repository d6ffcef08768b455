package onetomany

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/rpcpool/recstore/internal/types"
	"github.com/rpcpool/recstore/store"
)

// Reader opens a forward (or inverse) file plus its counts sidecar and
// answers point, range-of-duplicates, and traversal queries.
type Reader struct {
	dir, base string
	isInverse bool

	edges  store.RecordStore
	counts store.RecordStore // nil on an inverse reader; only the forward side carries counts

	mu      sync.Mutex
	sibling *Reader // the cached inverse (or forward) counterpart
}

func fileSuffix(isInverse bool) string {
	if isInverse {
		return ".m21"
	}
	return ".12m"
}

// OpenReader opens dir/base.12m (and dir/base.counts) read-only.
func OpenReader(dir, base string) (*Reader, error) {
	return openReader(dir, base, false)
}

func openReader(dir, base string, isInverse bool) (*Reader, error) {
	spec, err := store.NewStorageSpec(RecordSize)
	if err != nil {
		return nil, err
	}
	edges, err := store.OpenDescriptor(filepath.Join(dir, base+fileSuffix(isInverse)), spec)
	if err != nil {
		return nil, fmt.Errorf("onetomany: open %s file: %w", fileSuffix(isInverse), err)
	}
	r := &Reader{dir: dir, base: base, isInverse: isInverse, edges: edges}
	if !isInverse {
		countsSpec, err := store.NewStorageSpec(CountRecordSize)
		if err != nil {
			edges.Close()
			return nil, err
		}
		counts, err := store.OpenDescriptor(filepath.Join(dir, base+".counts"), countsSpec)
		if err != nil {
			edges.Close()
			return nil, fmt.Errorf("onetomany: open counts file: %w", err)
		}
		r.counts = counts
	}
	return r, nil
}

// Size returns the number of edges in this reader's file.
func (r *Reader) Size(ctx context.Context) (uint64, error) {
	return r.edges.Size(ctx)
}

// firstEdgeIndexForKey binary-searches (with BiasBackward) for the first
// record whose key (offset 8) equals key. If key is absent it returns the
// index of the last record with a lower key, or -1 if every key is higher,
// so callers check the returned record's key before using it.
func (r *Reader) firstEdgeIndexForKey(ctx context.Context, key int64) (int64, error) {
	return r.edges.BinarySearch(ctx, key, 8, types.Int64, types.BiasBackward)
}

// Values sequentially emits the value of every edge whose key matches,
// starting from the first match and continuing while the key stays equal.
// pred returning false stops the scan early. It returns the number of
// edges visited.
func (r *Reader) Values(ctx context.Context, key int64, pred func(value int64) bool) (int, error) {
	visited := 0
	err := r.walkKey(ctx, key, func(e edge) bool {
		visited++
		return pred(e.value)
	})
	return visited, err
}

// ValuesByKeyIndex is the keyIdx-keyed counterpart of Values. It assumes
// keyIdx is monotonically non-decreasing with key — true whenever keys come
// from a CanonicalOrdering field, which is how keyIdx is normally derived —
// since the file is sorted by key, not by keyIdx.
func (r *Reader) ValuesByKeyIndex(ctx context.Context, keyIdx uint32, pred func(valIdx uint32, value int64) bool) (int, error) {
	idx, err := r.edges.BinarySearch(ctx, int64(keyIdx), 0, types.Uint32, types.BiasBackward)
	if err != nil || idx < 0 {
		return 0, err
	}
	n, err := r.edges.Size(ctx)
	if err != nil {
		return 0, err
	}
	visited := 0
	for i := idx; i < int64(n); i++ {
		e, err := readEdge(ctx, r.edges, i)
		if err != nil {
			return visited, err
		}
		if e.keyIdx != keyIdx {
			break
		}
		visited++
		if !pred(e.valIdx, e.value) {
			break
		}
	}
	return visited, nil
}

// Read emits the full 4-tuple for every edge matching key.
func (r *Reader) Read(ctx context.Context, key int64, pred func(keyIdx, valIdx uint32, key, value int64) bool) (int, error) {
	visited := 0
	err := r.walkKey(ctx, key, func(e edge) bool {
		visited++
		return pred(e.keyIdx, e.valIdx, e.key, e.value)
	})
	return visited, err
}

func (r *Reader) walkKey(ctx context.Context, key int64, pred func(edge) bool) error {
	idx, err := r.firstEdgeIndexForKey(ctx, key)
	if err != nil || idx < 0 {
		return err
	}
	n, err := r.edges.Size(ctx)
	if err != nil {
		return err
	}
	for i := idx; i < int64(n); i++ {
		e, err := readEdge(ctx, r.edges, i)
		if err != nil {
			return err
		}
		if e.key != key {
			break
		}
		if !pred(e) {
			break
		}
	}
	return nil
}

// ValueIndices collects every valIdx recorded for key into a bit set. An
// absent key yields an empty (non-nil) bit set.
func (r *Reader) ValueIndices(ctx context.Context, key int64) (*bitset.BitSet, error) {
	bs := bitset.New(0)
	err := r.walkKey(ctx, key, func(e edge) bool {
		bs.Set(uint(e.valIdx))
		return true
	})
	return bs, err
}

// NearestKey binary-searches at the key offset with bias and returns the
// matched key itself (not its index), or -1 if bias yields no match.
func (r *Reader) NearestKey(ctx context.Context, key int64, bias types.Bias) (int64, error) {
	idx, err := r.edges.BinarySearch(ctx, key, 8, types.Int64, bias)
	if err != nil || idx < 0 {
		return -1, err
	}
	e, err := readEdge(ctx, r.edges, idx)
	if err != nil {
		return -1, err
	}
	return e.key, nil
}

// ForEach performs a full scan via the underlying store's iterator.
func (r *Reader) ForEach(ctx context.Context, pred func(keyIdx, valIdx uint32, key, value int64) bool) error {
	it, err := r.edges.Iterate(ctx, 0)
	if err != nil {
		return err
	}
	for it.Next(ctx) {
		e := unpackEdge(it.View())
		if !pred(e.keyIdx, e.valIdx, e.key, e.value) {
			return nil
		}
	}
	return it.Err()
}

// Inverse returns a reader over B.m21, building it from the forward file on
// first call if it does not already exist on disk. The sibling reader is
// cached; closing either one closes both.
func (r *Reader) Inverse(ctx context.Context) (*Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sibling != nil {
		return r.sibling, nil
	}
	if r.isInverse {
		return nil, fmt.Errorf("onetomany: Inverse called on an inverse reader")
	}

	invPath := filepath.Join(r.dir, r.base+".m21")
	if _, err := os.Stat(invPath); errors.Is(err, os.ErrNotExist) {
		if err := r.materializeInverse(ctx, invPath); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	inv, err := openReader(r.dir, r.base, true)
	if err != nil {
		return nil, err
	}
	inv.sibling = r
	r.sibling = inv
	return inv, nil
}

func (r *Reader) materializeInverse(ctx context.Context, invPath string) error {
	spec, err := store.NewStorageSpec(RecordSize, store.WithWritable(true))
	if err != nil {
		return err
	}
	inv, err := store.OpenDescriptor(invPath, spec)
	if err != nil {
		return err
	}
	n, err := r.edges.Size(ctx)
	if err != nil {
		inv.Close()
		return err
	}
	for i := int64(0); i < int64(n); i++ {
		e, err := readEdge(ctx, r.edges, i)
		if err != nil {
			inv.Close()
			return err
		}
		if _, err := inv.Append(ctx, packEdge(e.flip())); err != nil {
			inv.Close()
			return err
		}
	}
	if err := sortByCompoundKey(ctx, inv); err != nil {
		inv.Close()
		return err
	}
	return inv.Close()
}

// Closure performs a depth-first, deduplicated transitive walk over forward
// edges starting at key, treating each discovered value as the next key to
// expand. pred is called once per newly discovered value; returning false
// stops expansion from that node (but not the overall walk).
func (r *Reader) Closure(ctx context.Context, start int64, pred func(value int64) bool) error {
	visited := map[int64]bool{start: true}
	var walkErr error

	var dfs func(key int64)
	dfs = func(key int64) {
		if walkErr != nil {
			return
		}
		_, err := r.Values(ctx, key, func(value int64) bool {
			if visited[value] {
				return true
			}
			visited[value] = true
			if !pred(value) {
				return true
			}
			dfs(value)
			return walkErr == nil
		})
		if err != nil {
			walkErr = err
		}
	}
	dfs(start)
	return walkErr
}

// Close closes this reader's files and, if an inverse/forward sibling was
// materialized, closes it too.
func (r *Reader) Close() error {
	r.mu.Lock()
	sib := r.sibling
	r.sibling = nil
	r.mu.Unlock()

	var errs []error
	if sib != nil {
		sib.mu.Lock()
		sib.sibling = nil
		sib.mu.Unlock()
		errs = append(errs, sib.edges.Close())
		if sib.counts != nil {
			errs = append(errs, sib.counts.Close())
		}
	}
	errs = append(errs, r.edges.Close())
	if r.counts != nil {
		errs = append(errs, r.counts.Close())
	}
	return errors.Join(errs...)
}
