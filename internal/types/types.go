// Package types holds the shared value types, enums and error values used
// across the record-store and indexing packages.
package types

import "fmt"

// ValueType identifies one of the primitive field types a schema can declare.
// The zero value is not a valid ValueType.
type ValueType uint8

const (
	_ ValueType = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	// Uint128 is a 16-byte-wide value type, wider than any of the others;
	// no schema currently declares a field of this type.
	Uint128
)

// Size returns the width in bytes of a value of this type.
func (vt ValueType) Size() int {
	switch vt {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32:
		return 4
	case Int64:
		return 8
	case Uint128:
		return 16
	default:
		panic(fmt.Sprintf("types: unknown value type %d", vt))
	}
}

func (vt ValueType) String() string {
	switch vt {
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Uint128:
		return "uint128"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(vt))
	}
}

// Bias controls what BinarySearch returns when there is no exact match for
// the query value.
type Bias uint8

const (
	// BiasNone returns -1 when there is no exact match.
	BiasNone Bias = iota
	// BiasForward returns the smallest index whose key is >= the query value.
	BiasForward
	// BiasBackward returns the largest index whose key is <= the query value.
	BiasBackward
	// BiasNearest returns whichever of Forward/Backward is numerically
	// closer, ties breaking to Backward.
	BiasNearest
)

func (b Bias) String() string {
	switch b {
	case BiasNone:
		return "none"
	case BiasForward:
		return "forward"
	case BiasBackward:
		return "backward"
	case BiasNearest:
		return "nearest"
	default:
		return fmt.Sprintf("Bias(%d)", uint8(b))
	}
}

// IndexKind says whether, and how, a schema field is materialized as a
// sorted shadow file.
type IndexKind uint8

const (
	// None means the field is not indexed; no shadow file is built.
	None IndexKind = iota
	// CanonicalOrdering marks the single field (at most one per schema)
	// that defines record order after a multi-threaded write session.
	CanonicalOrdering
	// Unique marks a field that gets its own sorted shadow file but does
	// not drive primary-record reordering.
	Unique
)

func (k IndexKind) String() string {
	switch k {
	case None:
		return "none"
	case CanonicalOrdering:
		return "canonical"
	case Unique:
		return "unique"
	default:
		return fmt.Sprintf("IndexKind(%d)", uint8(k))
	}
}

// Indexable reports whether a field of this kind gets a shadow file built
// for it.
func (k IndexKind) Indexable() bool {
	return k == CanonicalOrdering || k == Unique
}
