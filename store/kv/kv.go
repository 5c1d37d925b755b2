// Package kv lays piece and chunk rows and their indexes out over an ordered key-value space, for
// store backends that only provide ordered byte keys.
package kv

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

// Ordered key-value access within one backend transaction. Slices passed to f by Scan are only
// valid until f returns.
type Bucket interface {
	// Returns nil if the key doesn't exist.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Calls f in key order for each key with the prefix until f returns false.
	Scan(prefix []byte, f func(key, value []byte) bool) error
}

const (
	pieceTable      = 'p'
	pieceStateIndex = 's'
	chunkTable      = 'c'
	pieceChunkIndex = 'i'
	chunkStateIndex = 'x'
)

const (
	ownerLen = len(types.Owner{})
	refLen   = len(types.ChunkRef{})
)

type keyBuf []byte

func newKey(table byte) keyBuf {
	return keyBuf{table}
}

func (k keyBuf) owner(o types.Owner) keyBuf {
	return append(k, o[:]...)
}

func (k keyBuf) index(i types.PieceIndex) keyBuf {
	return binary.BigEndian.AppendUint32(k, uint32(i))
}

func (k keyBuf) offset(begin int64) keyBuf {
	return binary.BigEndian.AppendUint64(k, uint64(begin))
}

func (k keyBuf) state(s byte) keyBuf {
	return append(k, s)
}

func (k keyBuf) ref(r types.ChunkRef) keyBuf {
	return append(k, r[:]...)
}

func pieceKey(owner types.Owner, index types.PieceIndex) []byte {
	return newKey(pieceTable).owner(owner).index(index)
}

func pieceStateKey(owner types.Owner, state types.PieceState, index types.PieceIndex) []byte {
	return newKey(pieceStateIndex).owner(owner).state(byte(state)).index(index)
}

func chunkKey(ref types.ChunkRef) []byte {
	return newKey(chunkTable).ref(ref)
}

func pieceChunkKey(c types.Chunk) []byte {
	return newKey(pieceChunkIndex).owner(c.Owner).index(c.Piece).offset(c.Begin).ref(c.Ref)
}

func chunkStateKey(c types.Chunk) []byte {
	return newKey(chunkStateIndex).owner(c.Owner).state(byte(c.State)).index(c.Piece).offset(c.Begin).ref(c.Ref)
}

// The ref is always the trailing bytes of the chunk index keys.
func refFromIndexKey(key []byte) (ret types.ChunkRef, err error) {
	if len(key) < refLen {
		err = errors.Errorf("index key too short: %x", key)
		return
	}
	copy(ret[:], key[len(key)-refLen:])
	return
}

func indexFromPieceKey(key []byte) types.PieceIndex {
	return types.PieceIndex(binary.BigEndian.Uint32(key[len(key)-4:]))
}
