package memory

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

type tx struct {
	tables   tables
	writable bool
	dirty    bool
}

var _ store.Tx = (*tx)(nil)

func (me *tx) write() error {
	if !me.writable {
		return store.ErrReadOnly
	}
	me.dirty = true
	return nil
}

func (me *tx) Piece(owner types.Owner, index types.PieceIndex) (types.Piece, bool, error) {
	p, ok := me.tables.pieces.Get(types.Piece{Owner: owner, Index: index})
	return p, ok, nil
}

func (me *tx) PutPiece(p types.Piece) error {
	if err := me.write(); err != nil {
		return err
	}
	me.tables.pieces.Set(p)
	return nil
}

func (me *tx) DeletePiece(owner types.Owner, index types.PieceIndex) error {
	if err := me.write(); err != nil {
		return err
	}
	me.tables.pieces.Delete(types.Piece{Owner: owner, Index: index})
	return nil
}

func (me *tx) Pieces(owner types.Owner, states ...types.PieceState) (ret []types.Piece, err error) {
	me.tables.pieces.Ascend(types.Piece{Owner: owner, Index: math.MinInt}, func(p types.Piece) bool {
		if p.Owner != owner {
			return false
		}
		if store.StateMatches(p.State, states) {
			ret = append(ret, p)
		}
		return true
	})
	return
}

func (me *tx) Chunk(ref types.ChunkRef) (types.Chunk, bool, error) {
	c, ok := me.tables.chunks.Get(types.Chunk{Ref: ref})
	return c, ok, nil
}

func (me *tx) PutChunk(c types.Chunk) error {
	if err := me.write(); err != nil {
		return err
	}
	if c.Ref == (types.ChunkRef{}) {
		return errors.New("chunk has zero ref")
	}
	me.unindex(c.Ref)
	me.tables.chunks.Set(c)
	key := keyForChunk(c)
	me.tables.byPiece.Set(key)
	me.tables.byState.Set(key)
	return nil
}

func (me *tx) unindex(ref types.ChunkRef) {
	old, ok := me.tables.chunks.Get(types.Chunk{Ref: ref})
	if !ok {
		return
	}
	key := keyForChunk(old)
	me.tables.byPiece.Delete(key)
	me.tables.byState.Delete(key)
}

func (me *tx) DeleteChunk(ref types.ChunkRef) error {
	if err := me.write(); err != nil {
		return err
	}
	me.unindex(ref)
	me.tables.chunks.Delete(types.Chunk{Ref: ref})
	return nil
}

func (me *tx) chunksForKeys(keys []chunkKey) (ret []types.Chunk, err error) {
	ret = make([]types.Chunk, 0, len(keys))
	for _, k := range keys {
		c, ok := me.tables.chunks.Get(types.Chunk{Ref: k.ref})
		if !ok {
			return nil, errors.Errorf("index references missing chunk %v", k.ref)
		}
		ret = append(ret, c)
	}
	return
}

func (me *tx) PieceChunks(
	owner types.Owner, index types.PieceIndex, states ...types.ChunkState,
) ([]types.Chunk, error) {
	var keys []chunkKey
	me.tables.byPiece.Ascend(chunkKey{owner: owner, piece: index, begin: math.MinInt64}, func(k chunkKey) bool {
		if k.owner != owner || k.piece != index {
			return false
		}
		if store.StateMatches(k.state, states) {
			keys = append(keys, k)
		}
		return true
	})
	return me.chunksForKeys(keys)
}

func (me *tx) OwnerChunks(owner types.Owner, states ...types.ChunkState) ([]types.Chunk, error) {
	var keys []chunkKey
	if len(states) == 0 {
		me.tables.byPiece.Ascend(chunkKey{owner: owner, piece: math.MinInt}, func(k chunkKey) bool {
			if k.owner != owner {
				return false
			}
			keys = append(keys, k)
			return true
		})
		return me.chunksForKeys(keys)
	}
	for _, state := range states {
		me.tables.byState.Ascend(
			chunkKey{owner: owner, state: state, piece: math.MinInt},
			func(k chunkKey) bool {
				if k.owner != owner || k.state != state {
					return false
				}
				keys = append(keys, k)
				return true
			},
		)
	}
	if len(states) > 1 {
		slices.SortFunc(keys, func(a, b chunkKey) int {
			if byPieceLess(a, b) {
				return -1
			}
			if byPieceLess(b, a) {
				return 1
			}
			return 0
		})
		keys = slices.CompactFunc(keys, func(a, b chunkKey) bool {
			return a.ref == b.ref
		})
	}
	return me.chunksForKeys(keys)
}
