package chunkalloc

import (
	"context"

	"github.com/anacrolix/log"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

// Returns chunks the requester was assigned to the pool, such as when a requester chokes or times
// out. Refs that are unknown, fetched, or assigned to someone else are skipped. Returns how many
// chunks were put back.
func (e *Engine) PutbackChunks(ctx context.Context, refs []types.ChunkRef, requester types.Requester) (n int, err error) {
	err = e.update(ctx, func(tx store.Tx) error {
		n = 0
		for _, ref := range refs {
			c, ok, err := tx.Chunk(ref)
			if err != nil {
				return err
			}
			if !ok || !assignedTo(c, requester) {
				continue
			}
			if err := tx.PutChunk(c.Reverted()); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err == nil {
		chunksPutBack.Add(float64(n))
	}
	return
}

// Puts back every chunk of the owner assigned to the requester. For a requester that went away.
func (e *Engine) PutbackRequester(ctx context.Context, owner types.Owner, requester types.Requester) (n int, err error) {
	err = e.update(ctx, func(tx store.Tx) error {
		n = 0
		cs, err := tx.OwnerChunks(owner, types.ChunkAssigned)
		if err != nil {
			return err
		}
		for _, c := range cs {
			if !assignedTo(c, requester) {
				continue
			}
			if err := tx.PutChunk(c.Reverted()); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err == nil && n != 0 {
		chunksPutBack.Add(float64(n))
		e.logger.Levelf(log.Debug, "put back %v chunks of %v from %v", n, owner, requester)
	}
	return
}

func assignedTo(c types.Chunk, requester types.Requester) bool {
	return c.State == types.ChunkAssigned && c.Assignee.Ok && c.Assignee.Value == requester
}

// Reverts every chunk of a chunked piece to not fetched, discarding any payloads. Used when the
// reassembled piece fails its hash check. Pieces that aren't chunked are left alone.
func (e *Engine) PutbackPiece(ctx context.Context, owner types.Owner, index types.PieceIndex) error {
	var n int
	err := e.update(ctx, func(tx store.Tx) error {
		n = 0
		p, err := getPiece(tx, owner, index)
		if err != nil {
			return err
		}
		if p.State != types.PieceChunked {
			return nil
		}
		cs, err := tx.PieceChunks(owner, index)
		if err != nil {
			return err
		}
		for _, c := range cs {
			if c.State == types.ChunkNotFetched {
				continue
			}
			if err := tx.PutChunk(c.Reverted()); err != nil {
				return err
			}
			n++
		}
		p.Remaining = len(cs)
		return putPiece(tx, p)
	})
	if err == nil {
		chunksPutBack.Add(float64(n))
	}
	return err
}
