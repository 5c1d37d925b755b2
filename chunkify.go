package chunkalloc

import (
	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/anacrolix/chunkalloc/types"
)

// Splits [0, pieceSize) into consecutive chunks of chunkSize, with the last truncated to what
// remains. count is the number of chunks.
func Chunkify(index types.PieceIndex, pieceSize, chunkSize int64) (reqs []types.Request, count int) {
	panicif.LessThanOrEqual(chunkSize, 0)
	if pieceSize <= 0 {
		return nil, 0
	}
	reqs = make([]types.Request, 0, (pieceSize+chunkSize-1)/chunkSize)
	for begin := int64(0); begin < pieceSize; begin += chunkSize {
		reqs = append(reqs, types.Request{
			Index: index,
			ChunkSpec: types.ChunkSpec{
				Begin:  begin,
				Length: min(chunkSize, pieceSize-begin),
			},
		})
	}
	return reqs, len(reqs)
}

// Not-fetched chunk rows for the requests, with fresh refs.
func NewChunks(owner types.Owner, reqs []types.Request) []types.Chunk {
	ret := make([]types.Chunk, 0, len(reqs))
	for _, r := range reqs {
		ret = append(ret, types.Chunk{
			Ref:       types.NewChunkRef(),
			Owner:     owner,
			Piece:     r.Index,
			ChunkSpec: r.ChunkSpec,
		})
	}
	return ret
}
