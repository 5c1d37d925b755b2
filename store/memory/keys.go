package memory

import (
	"bytes"

	"github.com/anacrolix/multiless"

	"github.com/anacrolix/chunkalloc/types"
)

// Index entry for a chunk. State is part of the byState ordering, but only carried along in
// byPiece.
type chunkKey struct {
	owner types.Owner
	piece types.PieceIndex
	state types.ChunkState
	begin int64
	ref   types.ChunkRef
}

func keyForChunk(c types.Chunk) chunkKey {
	return chunkKey{
		owner: c.Owner,
		piece: c.Piece,
		state: c.State,
		begin: c.Begin,
		ref:   c.Ref,
	}
}

func pieceLess(a, b types.Piece) bool {
	return multiless.New().Cmp(
		bytes.Compare(a.Owner[:], b.Owner[:]),
	).Int(
		a.Index, b.Index,
	).Less()
}

func chunkRefLess(a, b types.Chunk) bool {
	return bytes.Compare(a.Ref[:], b.Ref[:]) < 0
}

func byPieceLess(a, b chunkKey) bool {
	return multiless.New().Cmp(
		bytes.Compare(a.owner[:], b.owner[:]),
	).Int(
		a.piece, b.piece,
	).Int64(
		a.begin, b.begin,
	).Cmp(
		bytes.Compare(a.ref[:], b.ref[:]),
	).Less()
}

func byStateLess(a, b chunkKey) bool {
	return multiless.New().Cmp(
		bytes.Compare(a.owner[:], b.owner[:]),
	).Int(
		int(a.state), int(b.state),
	).Int(
		a.piece, b.piece,
	).Int64(
		a.begin, b.begin,
	).Cmp(
		bytes.Compare(a.ref[:], b.ref[:]),
	).Less()
}
