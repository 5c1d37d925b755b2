package chunkalloc

import (
	"context"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

// Brings an owner's rows back to a consistent state after a restart. Chunks assigned before the
// restart are put back, since their requesters are gone. Each chunked piece has Remaining
// recomputed from its chunks, and pieces with every chunk fetched are assembled. A chunked piece
// with no chunk rows goes back to not fetched, and the oracle is told if it implements
// policy.Resetter. Returns the pieces that were assembled. Pieces
// that fail their hash check here are put back and skipped.
func (e *Engine) Resume(ctx context.Context, owner types.Owner) (assembled []types.PieceIndex, err error) {
	var complete, reset []types.PieceIndex
	var putBack int
	err = e.update(ctx, func(tx store.Tx) error {
		complete, reset, putBack = nil, nil, 0
		ps, err := tx.Pieces(owner, types.PieceChunked)
		if err != nil {
			return err
		}
		for _, p := range ps {
			cs, err := tx.PieceChunks(owner, p.Index)
			if err != nil {
				return err
			}
			if len(cs) == 0 {
				e.logger.Levelf(log.Warning, "%v is chunked but has no chunks, resetting", p.Key())
				if err := putPiece(tx, types.Piece{Owner: owner, Index: p.Index}); err != nil {
					return err
				}
				reset = append(reset, p.Index)
				continue
			}
			remaining := 0
			for _, c := range cs {
				switch c.State {
				case types.ChunkFetched:
					continue
				case types.ChunkAssigned:
					if err := tx.PutChunk(c.Reverted()); err != nil {
						return err
					}
					putBack++
				}
				remaining++
			}
			if remaining != p.Remaining {
				e.logger.Levelf(log.Warning, "%v had %v chunks remaining, should be %v", p.Key(), p.Remaining, remaining)
				p.Remaining = remaining
				if err := putPiece(tx, p); err != nil {
					return err
				}
			}
			if remaining == 0 {
				complete = append(complete, p.Index)
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	chunksPutBack.Add(float64(putBack))
	for _, index := range reset {
		e.resetPiece(owner, index)
	}
	for _, index := range complete {
		aerr := e.Assemble(ctx, owner, index)
		var whe *WrongHashError
		if errors.As(aerr, &whe) {
			e.logger.Levelf(log.Warning, "resuming %v: %v", owner, aerr)
			continue
		}
		if aerr != nil {
			err = errors.Wrapf(aerr, "assembling piece %v", index)
			return
		}
		assembled = append(assembled, index)
	}
	e.logger.Levelf(log.Info, "resumed %v: put back %v chunks, assembled %v pieces", owner, putBack, len(assembled))
	return
}
