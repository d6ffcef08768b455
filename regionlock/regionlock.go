// Package regionlock implements a 64-slot, advisory, fine-grained lock that
// partitions a record store's bytes into 64 equally-sized regions. It
// protects correctness only for cooperating callers.
package regionlock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("recstore/regionlock")

const numSlots = 64

// Lock partitions [0, totalBytes) into 64 equal-width regions and grants
// all-or-nothing access to the bit mask of regions a byte range covers.
// Granting races are resolved with a single atomic compare-and-swap, retried
// on conflict — no blocking primitive is held across the retry loop, so a
// losing caller simply spins until the mask it needs is free.
type Lock struct {
	regionWidth uint64
	mask        uint64 // atomic: bit i set means region i is held
}

// New creates a Lock over a store whose regions are recordSize*blocksPerSlot
// bytes wide. blocksPerSlot must be >= 1.
func New(recordSize uint32, blocksPerSlot uint32) *Lock {
	if blocksPerSlot == 0 {
		blocksPerSlot = 1
	}
	return &Lock{
		regionWidth: uint64(recordSize) * uint64(blocksPerSlot),
	}
}

// RegionWidth returns the byte width of a single region.
func (l *Lock) RegionWidth() uint64 { return l.regionWidth }

// regionsFor computes the bitmask of regions covered by [startByte,
// startByte+lengthBytes).
func (l *Lock) regionsFor(startByte, lengthBytes int64) uint64 {
	if lengthBytes <= 0 {
		return 0
	}
	first := uint64(startByte) / l.regionWidth
	last := uint64(startByte+lengthBytes-1) / l.regionWidth
	if first >= numSlots {
		first = numSlots - 1
	}
	if last >= numSlots {
		last = numSlots - 1
	}
	var m uint64
	for i := first; i <= last; i++ {
		m |= 1 << i
	}
	return m
}

// heldKey is the context key under which EnterRange threads the set of
// regions already held by the current call chain, so a nested EnterRange on
// the same chain never spins waiting for a region it (or an ancestor call)
// already holds.
type heldKey struct{}

type held struct {
	mask uint64
}

// EnterRange acquires every region bit covered by [startByte,
// startByte+lengthBytes) that isn't already held by an enclosing EnterRange
// on ctx, runs op with a ctx that records the (possibly extended) held set,
// then releases whatever bits this call newly acquired.
//
// Nesting is tracked through ctx rather than a goroutine identity — Go has
// no stable notion of the latter — so it only recognizes reentrancy along a
// call chain that threads the same ctx value down through op; a second,
// independent goroutine racing for the same region still spins in acquire
// until it is free. This is what keeps a caller that nests EnterRange calls
// on overlapping regions (e.g. a read during a write callback) from
// deadlocking against itself, while still serializing unrelated callers.
func (l *Lock) EnterRange(ctx context.Context, startByte, lengthBytes int64, op func(context.Context) error) error {
	want := l.regionsFor(startByte, lengthBytes)
	if want == 0 {
		return op(ctx)
	}

	h, _ := ctx.Value(heldKey{}).(*held)
	alreadyHeld := uint64(0)
	if h != nil {
		alreadyHeld = h.mask
	}
	newBits := want &^ alreadyHeld
	if newBits != 0 {
		l.acquire(newBits)
		defer l.release(newBits)
	}
	return op(context.WithValue(ctx, heldKey{}, &held{mask: alreadyHeld | want}))
}

func (l *Lock) acquire(want uint64) {
	var spins int
	for {
		cur := atomic.LoadUint64(&l.mask)
		if cur&want != 0 {
			// At least one wanted region is held by someone else; retry.
			spins++
			if spins == 10000 {
				log.Debugw("region lock under sustained contention", "seed", contentionSeed(want), "want", want, "held", cur)
			}
			continue
		}
		if atomic.CompareAndSwapUint64(&l.mask, cur, cur|want) {
			return
		}
	}
}

func (l *Lock) release(held uint64) {
	for {
		cur := atomic.LoadUint64(&l.mask)
		next := cur &^ held
		if atomic.CompareAndSwapUint64(&l.mask, cur, next) {
			return
		}
	}
}

// contentionSeed derives a short, stable identifier for a contended region
// mask, used only to correlate repeated log lines — never for correctness.
func contentionSeed(mask uint64) uint64 {
	var b [8]byte
	for i := range b {
		b[i] = byte(mask >> (8 * i))
	}
	return xxhash.Sum64(b[:])
}

// String reports the currently held region mask, for diagnostics.
func (l *Lock) String() string {
	return fmt.Sprintf("regionlock(width=%d, mask=%064b)", l.regionWidth, atomic.LoadUint64(&l.mask))
}
