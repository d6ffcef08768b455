// Package onetomany implements the one-to-many (multi-valued) index variant:
// a compound-keyed forward file mapping keys to many values, an on-demand
// inverse, and a per-key count sidecar.
package onetomany

import (
	"github.com/rpcpool/recstore/bytesview"
)

// RecordSize is the fixed 24-byte width of a forward or inverse record:
// [keyIdx:u32][valIdx:u32][key:i64][value:i64].
const RecordSize = 24

// CountRecordSize is the fixed 16-byte width of a counts record:
// [keyIdx:u32][key:i64][count:u32].
const CountRecordSize = 16

// edge is the unpacked form of a 24-byte forward or inverse record.
type edge struct {
	keyIdx uint32
	valIdx uint32
	key    int64
	value  int64
}

func packEdge(e edge) []byte {
	buf := make([]byte, RecordSize)
	v := bytesview.Owned(buf)
	v.PutUint32(0, e.keyIdx)
	v.PutUint32(4, e.valIdx)
	v.PutInt64(8, e.key)
	v.PutInt64(16, e.value)
	return buf
}

func unpackEdge(v bytesview.View) edge {
	return edge{
		keyIdx: v.Uint32(0),
		valIdx: v.Uint32(4),
		key:    v.Int64(8),
		value:  v.Int64(16),
	}
}

// flip exchanges the key/value halves of an edge, the transform that turns a
// forward record into its inverse counterpart.
func (e edge) flip() edge {
	return edge{keyIdx: e.valIdx, valIdx: e.keyIdx, key: e.value, value: e.key}
}

type countRecord struct {
	keyIdx uint32
	key    int64
	count  uint32
}

func packCount(c countRecord) []byte {
	buf := make([]byte, CountRecordSize)
	v := bytesview.Owned(buf)
	v.PutUint32(0, c.keyIdx)
	v.PutInt64(4, c.key)
	v.PutUint32(12, c.count)
	return buf
}

func unpackCount(v bytesview.View) countRecord {
	return countRecord{
		keyIdx: v.Uint32(0),
		key:    v.Int64(4),
		count:  v.Uint32(12),
	}
}
