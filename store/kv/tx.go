package kv

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

type tx struct {
	b        Bucket
	writable bool
}

// Wraps a backend transaction's Bucket as a store.Tx.
func NewTx(b Bucket, writable bool) store.Tx {
	return &tx{b, writable}
}

func (me *tx) checkWritable() error {
	if !me.writable {
		return store.ErrReadOnly
	}
	return nil
}

func (me *tx) Piece(owner types.Owner, index types.PieceIndex) (p types.Piece, ok bool, err error) {
	v, err := me.b.Get(pieceKey(owner, index))
	if err != nil || v == nil {
		return
	}
	p, err = decodePiece(owner, index, v)
	ok = err == nil
	return
}

func (me *tx) PutPiece(p types.Piece) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	if err := me.DeletePiece(p.Owner, p.Index); err != nil {
		return err
	}
	v, err := encodePiece(p)
	if err != nil {
		return err
	}
	if err := me.b.Put(pieceKey(p.Owner, p.Index), v); err != nil {
		return err
	}
	return me.b.Put(pieceStateKey(p.Owner, p.State, p.Index), []byte{})
}

func (me *tx) DeletePiece(owner types.Owner, index types.PieceIndex) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	old, ok, err := me.Piece(owner, index)
	if err != nil || !ok {
		return err
	}
	if err := me.b.Delete(pieceStateKey(owner, old.State, index)); err != nil {
		return err
	}
	return me.b.Delete(pieceKey(owner, index))
}

func (me *tx) Pieces(owner types.Owner, states ...types.PieceState) (ret []types.Piece, err error) {
	var indexes []types.PieceIndex
	if len(states) == 0 {
		err = me.b.Scan(newKey(pieceTable).owner(owner), func(key, _ []byte) bool {
			indexes = append(indexes, indexFromPieceKey(key))
			return true
		})
	} else {
		for _, s := range states {
			err = me.b.Scan(newKey(pieceStateIndex).owner(owner).state(byte(s)), func(key, _ []byte) bool {
				indexes = append(indexes, indexFromPieceKey(key))
				return true
			})
			if err != nil {
				break
			}
		}
		slices.Sort(indexes)
	}
	if err != nil {
		return
	}
	for _, i := range indexes {
		p, ok, err := me.Piece(owner, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Errorf("index references missing piece %v of %v", i, owner)
		}
		ret = append(ret, p)
	}
	return
}

func (me *tx) Chunk(ref types.ChunkRef) (c types.Chunk, ok bool, err error) {
	v, err := me.b.Get(chunkKey(ref))
	if err != nil || v == nil {
		return
	}
	c, err = decodeChunk(ref, v)
	ok = err == nil
	return
}

func (me *tx) PutChunk(c types.Chunk) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	if c.Ref == (types.ChunkRef{}) {
		return errors.New("chunk has zero ref")
	}
	if err := me.DeleteChunk(c.Ref); err != nil {
		return err
	}
	v, err := encodeChunk(c)
	if err != nil {
		return err
	}
	if err := me.b.Put(chunkKey(c.Ref), v); err != nil {
		return err
	}
	if err := me.b.Put(pieceChunkKey(c), []byte{byte(c.State)}); err != nil {
		return err
	}
	return me.b.Put(chunkStateKey(c), []byte{})
}

func (me *tx) DeleteChunk(ref types.ChunkRef) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	old, ok, err := me.Chunk(ref)
	if err != nil || !ok {
		return err
	}
	for _, k := range [][]byte{pieceChunkKey(old), chunkStateKey(old), chunkKey(ref)} {
		if err := me.b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (me *tx) chunksForRefs(refs []types.ChunkRef) (ret []types.Chunk, err error) {
	for _, ref := range refs {
		c, ok, err := me.Chunk(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Errorf("index references missing chunk %v", ref)
		}
		ret = append(ret, c)
	}
	return
}

// Collects refs from an index scan. The value of piece chunk index entries is the chunk state.
func (me *tx) scanRefs(prefix []byte, states []types.ChunkState) (refs []types.ChunkRef, err error) {
	var scanErr error
	err = me.b.Scan(prefix, func(key, value []byte) bool {
		if len(value) == 1 && !store.StateMatches(types.ChunkState(value[0]), states) {
			return true
		}
		var ref types.ChunkRef
		ref, scanErr = refFromIndexKey(key)
		if scanErr != nil {
			return false
		}
		refs = append(refs, ref)
		return true
	})
	if err == nil {
		err = scanErr
	}
	return
}

func (me *tx) PieceChunks(
	owner types.Owner, index types.PieceIndex, states ...types.ChunkState,
) ([]types.Chunk, error) {
	refs, err := me.scanRefs(newKey(pieceChunkIndex).owner(owner).index(index), states)
	if err != nil {
		return nil, err
	}
	return me.chunksForRefs(refs)
}

func (me *tx) OwnerChunks(owner types.Owner, states ...types.ChunkState) ([]types.Chunk, error) {
	if len(states) != 1 {
		refs, err := me.scanRefs(newKey(pieceChunkIndex).owner(owner), states)
		if err != nil {
			return nil, err
		}
		return me.chunksForRefs(refs)
	}
	refs, err := me.scanRefs(newKey(chunkStateIndex).owner(owner).state(byte(states[0])), nil)
	if err != nil {
		return nil, err
	}
	return me.chunksForRefs(refs)
}
