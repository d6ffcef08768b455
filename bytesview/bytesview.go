// Package bytesview implements ByteView, a small fixed-length window over a
// record's bytes with positional reads/writes of the primitive field types.
//
// A ByteView is either an owned, pool-backed buffer or a borrowed slice that
// aliases a memory mapping. The two are represented uniformly so callers
// never need to branch on backend, but a borrowed view is only valid until
// the next read against the same buffer slot — copy it (View.Clone) to keep
// it around.
package bytesview

import (
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/recstore/internal/types"
)

// View is a fixed-width window over record bytes.
type View struct {
	buf      []byte
	borrowed bool
}

// Owned wraps a pool-owned buffer. The buffer belongs to the caller for as
// long as the View is in use.
func Owned(buf []byte) View {
	return View{buf: buf}
}

// Borrowed wraps a slice that aliases a memory mapping or other storage the
// caller does not own. Borrowed views must be consumed before the next read
// against the same underlying slot.
func Borrowed(buf []byte) View {
	return View{buf: buf, borrowed: true}
}

// Len returns the number of bytes in the view.
func (v View) Len() int { return len(v.buf) }

// Bytes returns the raw backing slice. Callers that need to retain data
// past the view's lifetime must copy it first (see Clone).
func (v View) Bytes() []byte { return v.buf }

// IsBorrowed reports whether this view aliases shared storage (a mapping)
// rather than an owned pooled buffer.
func (v View) IsBorrowed() bool { return v.borrowed }

// Clone returns an owned, independent copy of the view's bytes.
func (v View) Clone() View {
	out := make([]byte, len(v.buf))
	copy(out, v.buf)
	return Owned(out)
}

func (v View) checkBounds(offset, width int) {
	if offset < 0 || offset+width > len(v.buf) {
		panic(fmt.Sprintf("bytesview: offset %d width %d out of bounds for view of length %d", offset, width, len(v.buf)))
	}
}

// Int8 reads a signed 8-bit integer at offset.
func (v View) Int8(offset int) int8 {
	v.checkBounds(offset, 1)
	return int8(v.buf[offset])
}

// PutInt8 writes a signed 8-bit integer at offset.
func (v View) PutInt8(offset int, val int8) {
	v.checkBounds(offset, 1)
	v.buf[offset] = byte(val)
}

// Uint8 reads an unsigned 8-bit integer at offset.
func (v View) Uint8(offset int) uint8 {
	v.checkBounds(offset, 1)
	return v.buf[offset]
}

// PutUint8 writes an unsigned 8-bit integer at offset.
func (v View) PutUint8(offset int, val uint8) {
	v.checkBounds(offset, 1)
	v.buf[offset] = val
}

// Int16 reads a little-endian signed 16-bit integer at offset.
func (v View) Int16(offset int) int16 {
	v.checkBounds(offset, 2)
	return int16(binary.LittleEndian.Uint16(v.buf[offset:]))
}

// PutInt16 writes a little-endian signed 16-bit integer at offset.
func (v View) PutInt16(offset int, val int16) {
	v.checkBounds(offset, 2)
	binary.LittleEndian.PutUint16(v.buf[offset:], uint16(val))
}

// Uint16 reads a little-endian unsigned 16-bit integer at offset.
func (v View) Uint16(offset int) uint16 {
	v.checkBounds(offset, 2)
	return binary.LittleEndian.Uint16(v.buf[offset:])
}

// PutUint16 writes a little-endian unsigned 16-bit integer at offset.
func (v View) PutUint16(offset int, val uint16) {
	v.checkBounds(offset, 2)
	binary.LittleEndian.PutUint16(v.buf[offset:], val)
}

// Int32 reads a little-endian signed 32-bit integer at offset.
func (v View) Int32(offset int) int32 {
	v.checkBounds(offset, 4)
	return int32(binary.LittleEndian.Uint32(v.buf[offset:]))
}

// PutInt32 writes a little-endian signed 32-bit integer at offset.
func (v View) PutInt32(offset int, val int32) {
	v.checkBounds(offset, 4)
	binary.LittleEndian.PutUint32(v.buf[offset:], uint32(val))
}

// Uint32 reads a little-endian unsigned 32-bit integer at offset.
func (v View) Uint32(offset int) uint32 {
	v.checkBounds(offset, 4)
	return binary.LittleEndian.Uint32(v.buf[offset:])
}

// PutUint32 writes a little-endian unsigned 32-bit integer at offset.
func (v View) PutUint32(offset int, val uint32) {
	v.checkBounds(offset, 4)
	binary.LittleEndian.PutUint32(v.buf[offset:], val)
}

// Int64 reads a little-endian signed 64-bit integer at offset.
func (v View) Int64(offset int) int64 {
	v.checkBounds(offset, 8)
	return int64(binary.LittleEndian.Uint64(v.buf[offset:]))
}

// PutInt64 writes a little-endian signed 64-bit integer at offset.
func (v View) PutInt64(offset int, val int64) {
	v.checkBounds(offset, 8)
	binary.LittleEndian.PutUint64(v.buf[offset:], uint64(val))
}

// Uint64 reads a little-endian unsigned 64-bit integer at offset.
func (v View) Uint64(offset int) uint64 {
	v.checkBounds(offset, 8)
	return binary.LittleEndian.Uint64(v.buf[offset:])
}

// PutUint64 writes a little-endian unsigned 64-bit integer at offset.
func (v View) PutUint64(offset int, val uint64) {
	v.checkBounds(offset, 8)
	binary.LittleEndian.PutUint64(v.buf[offset:], val)
}

// ReadValue reads the field of the given ValueType at offset and returns it
// widened to int64. Uint128 is not representable as int64 and panics.
func (v View) ReadValue(offset int, vt types.ValueType) int64 {
	switch vt {
	case types.Int8:
		return int64(v.Int8(offset))
	case types.Uint8:
		return int64(v.Uint8(offset))
	case types.Int16:
		return int64(v.Int16(offset))
	case types.Uint16:
		return int64(v.Uint16(offset))
	case types.Int32:
		return int64(v.Int32(offset))
	case types.Uint32:
		return int64(v.Uint32(offset))
	case types.Int64:
		return v.Int64(offset)
	default:
		panic(fmt.Sprintf("bytesview: ReadValue: unsupported value type %s", vt))
	}
}

// WriteValue writes val, narrowed to the given ValueType, at offset.
func (v View) WriteValue(offset int, vt types.ValueType, val int64) {
	switch vt {
	case types.Int8, types.Uint8:
		v.PutUint8(offset, uint8(val))
	case types.Int16, types.Uint16:
		v.PutUint16(offset, uint16(val))
	case types.Int32, types.Uint32:
		v.PutUint32(offset, uint32(val))
	case types.Int64:
		v.PutInt64(offset, val)
	default:
		panic(fmt.Sprintf("bytesview: WriteValue: unsupported value type %s", vt))
	}
}
