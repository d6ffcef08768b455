// Package index implements the schema-driven primary-plus-shadow-files index:
// a Writer appends fixed-width records to a primary store and, on close,
// derives one sorted shadow file per indexable field; a Reader opens the
// primary and lazily opens shadow files to answer point/nearest queries.
package index

import (
	"fmt"

	"github.com/rpcpool/recstore/internal/types"
)

// Field describes one named, typed, positioned member of a schema.
type Field struct {
	Name       string
	ValueType  types.ValueType
	ByteOffset uint32
	Kind       types.IndexKind
}

// Schema is an ordered list of fields plus the record's total width,
// including the leading 4-byte sequence number every record carries; a
// schema's application fields always begin at byte offset 4.
type Schema struct {
	RecordSize uint32
	Fields     []Field
}

// NewSchema validates and builds a Schema. Field byte offsets must be >= 4
// (byte 0..3 is reserved for the sequence number), monotonically
// non-decreasing, and fit within recordSize; at most one field may be
// CanonicalOrdering.
func NewSchema(recordSize uint32, fields ...Field) (*Schema, error) {
	if recordSize < 4 {
		return nil, types.ErrBadRecordSize
	}
	canonicalSeen := false
	lastOffset := uint32(4)
	for _, f := range fields {
		if f.ByteOffset < 4 {
			return nil, fmt.Errorf("index: field %q offset %d overlaps the sequence-number prefix: %w", f.Name, f.ByteOffset, types.ErrFieldOffsetOutOfRange)
		}
		if f.ByteOffset < lastOffset {
			return nil, fmt.Errorf("index: field %q offset %d is not monotonically non-decreasing: %w", f.Name, f.ByteOffset, types.ErrFieldOffsetOutOfRange)
		}
		lastOffset = f.ByteOffset
		end := f.ByteOffset + uint32(f.ValueType.Size())
		if end > recordSize {
			return nil, fmt.Errorf("index: field %q does not fit within record size %d: %w", f.Name, recordSize, types.ErrFieldOffsetOutOfRange)
		}
		if f.Kind == types.CanonicalOrdering {
			if canonicalSeen {
				return nil, types.ErrDualCanonicalField
			}
			canonicalSeen = true
		}
	}
	return &Schema{RecordSize: recordSize, Fields: append([]Field(nil), fields...)}, nil
}

// CanonicalField returns the schema's CanonicalOrdering field, if any.
func (s *Schema) CanonicalField() (Field, bool) {
	for _, f := range s.Fields {
		if f.Kind == types.CanonicalOrdering {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName looks up a field by name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
