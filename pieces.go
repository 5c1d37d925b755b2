package chunkalloc

import (
	"bytes"
	"context"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

// Splits a not-fetched piece into chunks. Does nothing if the piece is already chunked. If no
// not-fetched pieces of the owner remain afterwards, the oracle is told endgame has begun.
func (e *Engine) EnsureChunked(ctx context.Context, owner types.Owner, index types.PieceIndex, pieceSize int64) error {
	if pieceSize <= 0 {
		return errors.Errorf("piece %v has size %v", index, pieceSize)
	}
	var chunked, endgame bool
	err := e.update(ctx, func(tx store.Tx) error {
		chunked, endgame = false, false
		p, err := getPiece(tx, owner, index)
		if err != nil {
			return err
		}
		switch p.State {
		case types.PieceChunked:
			return nil
		case types.PieceFetched:
			return errors.Wrapf(ErrIntegrityViolation, "chunking %v, which is already fetched", p.Key())
		}
		reqs, count := Chunkify(index, pieceSize, e.config.chunkSize(owner, index))
		for _, c := range NewChunks(owner, reqs) {
			if err := tx.PutChunk(c); err != nil {
				return err
			}
		}
		p.State = types.PieceChunked
		p.Length = pieceSize
		p.Remaining = count
		if err := putPiece(tx, p); err != nil {
			return err
		}
		chunked = true
		notFetched, err := tx.Pieces(owner, types.PieceNotFetched)
		endgame = len(notFetched) == 0
		return err
	})
	if err != nil {
		return err
	}
	if chunked {
		piecesChunked.Inc()
	}
	if endgame {
		e.oracle.NotifyEndgame(owner)
	}
	return nil
}

// The outcome of recording a chunk delivery.
type Progress struct {
	Piece types.PieceKey
	// The delivery was the last outstanding chunk of the piece.
	Complete bool
}

// Records that requester delivered the chunk data for ref. If that completes the piece and the
// Config has AutoAssemble, the piece is assembled before returning, and Assemble's error is
// returned.
func (e *Engine) RecordFetched(
	ctx context.Context, requester types.Requester, ref types.ChunkRef, data []byte,
) (prog Progress, err error) {
	err = e.update(ctx, func(tx store.Tx) error {
		prog = Progress{}
		c, ok, err := tx.Chunk(ref)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrUnknownChunk, "%v", ref)
		}
		if c.State == types.ChunkFetched {
			return errors.Wrapf(ErrUnknownChunk, "%v already fetched", c)
		}
		if int64(len(data)) != c.Length {
			return errors.Wrapf(ErrProtocolViolation, "delivery of %v bytes for %v", len(data), c)
		}
		p, err := getPiece(tx, c.Owner, c.Piece)
		if err != nil {
			return err
		}
		if p.State != types.PieceChunked || p.Remaining <= 0 {
			return errors.Wrapf(ErrIntegrityViolation, "%v has unfetched chunk %v", p, c.Ref)
		}
		c.State = types.ChunkFetched
		c.Assignee = g.Some(requester)
		c.Payload = g.Some(bytes.Clone(data))
		panicif.Err(c.Check())
		if err := tx.PutChunk(c); err != nil {
			return err
		}
		p.Remaining--
		if err := putPiece(tx, p); err != nil {
			return err
		}
		prog.Piece = p.Key()
		prog.Complete = p.Remaining == 0
		return nil
	})
	if errors.Is(err, ErrUnknownChunk) {
		unknownChunks.Inc()
		e.logger.Levelf(log.Debug, "dropping delivery from %v: %v", requester, err)
		return
	}
	if err != nil {
		return
	}
	chunksFetched.Inc()
	if prog.Complete && e.config.AutoAssemble {
		err = e.Assemble(ctx, prog.Piece.Owner, prog.Piece.Index)
	}
	return
}
