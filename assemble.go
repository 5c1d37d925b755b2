package chunkalloc

import (
	"cmp"
	"context"
	"slices"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anacrolix/chunkalloc/files"
	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

// Reassembles a piece whose chunks have all been fetched, and hands it to the files Store. On
// success the chunk rows are dropped and the piece is marked fetched. If the piece fails its hash
// check, every chunk of the piece is put back and a *WrongHashError is returned. Assembling a
// piece that's already fetched does nothing.
func (e *Engine) Assemble(ctx context.Context, owner types.Owner, index types.PieceIndex) (err error) {
	ctx, span := tracer.Start(ctx, "Engine.Assemble", trace.WithAttributes(
		attribute.String("owner", owner.HexString()),
		attribute.Int("piece", index),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	var (
		p  types.Piece
		cs []types.Chunk
	)
	err = e.view(ctx, func(tx store.Tx) (err error) {
		p, err = getPiece(tx, owner, index)
		if err != nil || p.State != types.PieceChunked {
			return
		}
		cs, err = tx.PieceChunks(owner, index)
		return
	})
	if err != nil {
		return
	}
	switch p.State {
	case types.PieceFetched:
		return nil
	case types.PieceNotFetched:
		return errors.Wrapf(ErrPieceIncomplete, "%v isn't chunked", p.Key())
	}
	for _, c := range cs {
		if c.State != types.ChunkFetched {
			return errors.Wrapf(ErrPieceIncomplete, "%v", c)
		}
	}
	data, err := reassemble(p, cs)
	if err != nil {
		return
	}
	err = e.files.WritePiece(ctx, owner, index, data)
	if errors.Is(err, files.ErrWrongHash) {
		return e.wrongHash(ctx, p.Key(), cs, err)
	}
	if err != nil {
		return errors.Wrapf(err, "writing %v", p.Key())
	}
	var completed bool
	err = e.update(ctx, func(tx store.Tx) error {
		completed = false
		p, err := getPiece(tx, owner, index)
		if err != nil {
			return err
		}
		if p.State == types.PieceFetched {
			return nil
		}
		cs, err := tx.PieceChunks(owner, index)
		if err != nil {
			return err
		}
		for _, c := range cs {
			if err := tx.DeleteChunk(c.Ref); err != nil {
				return err
			}
		}
		p.State = types.PieceFetched
		p.Remaining = 0
		completed = true
		return putPiece(tx, p)
	})
	if err != nil {
		return
	}
	if completed {
		piecesCompleted.Inc()
		e.logger.Levelf(log.Debug, "%v complete", p.Key())
	}
	return nil
}

func (e *Engine) wrongHash(ctx context.Context, key types.PieceKey, cs []types.Chunk, hashErr error) error {
	piecesWrongHash.Inc()
	var contributors []types.Requester
	for _, c := range cs {
		if c.Assignee.Ok && !slices.Contains(contributors, c.Assignee.Value) {
			contributors = append(contributors, c.Assignee.Value)
		}
	}
	e.logger.Levelf(log.Warning, "%v failed hash check, putting back %v chunks from %q", key, len(cs), contributors)
	if err := e.PutbackPiece(ctx, key.Owner, key.Index); err != nil {
		return errors.Wrapf(err, "putting back %v after hash failure", key)
	}
	return &WrongHashError{
		Piece:        key,
		Contributors: contributors,
		Err:          hashErr,
	}
}

// Concatenates the chunk payloads in offset order. The chunks must exactly tile the piece.
func reassemble(p types.Piece, cs []types.Chunk) ([]byte, error) {
	slices.SortFunc(cs, func(a, b types.Chunk) int {
		return cmp.Compare(a.Begin, b.Begin)
	})
	data := make([]byte, 0, p.Length)
	for _, c := range cs {
		if c.Begin != int64(len(data)) {
			return nil, errors.Wrapf(ErrProtocolViolation, "%v: chunk at %v, expected %v", p.Key(), c.Begin, len(data))
		}
		if !c.Payload.Ok || int64(len(c.Payload.Value)) != c.Length {
			return nil, errors.Wrapf(ErrProtocolViolation, "%v has a bad payload", c)
		}
		data = append(data, c.Payload.Value...)
	}
	if int64(len(data)) != p.Length {
		return nil, errors.Wrapf(ErrProtocolViolation, "%v: reassembled %v of %v bytes", p.Key(), len(data), p.Length)
	}
	return data, nil
}
