package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/recstore/internal/types"
)

func TestNewSchema_Valid(t *testing.T) {
	s, err := NewSchema(24,
		Field{Name: "slot", ValueType: types.Int64, ByteOffset: 4, Kind: types.CanonicalOrdering},
		Field{Name: "sig", ValueType: types.Int64, ByteOffset: 12, Kind: types.Unique},
	)
	require.NoError(t, err)
	require.EqualValues(t, 24, s.RecordSize)

	cf, ok := s.CanonicalField()
	require.True(t, ok)
	require.Equal(t, "slot", cf.Name)

	f, ok := s.FieldByName("sig")
	require.True(t, ok)
	require.Equal(t, types.Unique, f.Kind)

	_, ok = s.FieldByName("missing")
	require.False(t, ok)
}

func TestNewSchema_RejectsSmallRecordSize(t *testing.T) {
	_, err := NewSchema(2)
	require.ErrorIs(t, err, types.ErrBadRecordSize)
}

func TestNewSchema_RejectsOffsetInSequencePrefix(t *testing.T) {
	_, err := NewSchema(16, Field{Name: "bad", ValueType: types.Int64, ByteOffset: 0})
	require.ErrorIs(t, err, types.ErrFieldOffsetOutOfRange)
}

func TestNewSchema_RejectsNonMonotonicOffsets(t *testing.T) {
	_, err := NewSchema(24,
		Field{Name: "a", ValueType: types.Int64, ByteOffset: 12},
		Field{Name: "b", ValueType: types.Int32, ByteOffset: 4},
	)
	require.ErrorIs(t, err, types.ErrFieldOffsetOutOfRange)
}

func TestNewSchema_RejectsOffsetPastRecordEnd(t *testing.T) {
	_, err := NewSchema(8, Field{Name: "a", ValueType: types.Int64, ByteOffset: 4})
	require.ErrorIs(t, err, types.ErrFieldOffsetOutOfRange)
}

func TestNewSchema_RejectsDualCanonicalField(t *testing.T) {
	_, err := NewSchema(20,
		Field{Name: "a", ValueType: types.Int32, ByteOffset: 4, Kind: types.CanonicalOrdering},
		Field{Name: "b", ValueType: types.Int32, ByteOffset: 8, Kind: types.CanonicalOrdering},
	)
	require.ErrorIs(t, err, types.ErrDualCanonicalField)
}
