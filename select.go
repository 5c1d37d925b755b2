package chunkalloc

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anacrolix/chunkalloc/policy"
	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

// Returns up to desired chunks from the candidate pieces, assigned to the requester. Pieces that
// are already chunked are drawn from first, lowest index first. When none of the remaining
// candidates are chunked, the oracle picks a piece to chunk. If the oracle reports endgame,
// every unfetched chunk of the owner is returned regardless of the candidates and desired, so
// the result can include chunks assigned to other requesters. ErrNotInterested is returned
// only if nothing was collected. candidates isn't modified, and nil is treated as empty.
func (e *Engine) SelectChunks(
	ctx context.Context,
	requester types.Requester,
	owner types.Owner,
	candidates *roaring.Bitmap,
	desired int,
) (ret []types.Chunk, err error) {
	if candidates == nil {
		candidates = roaring.New()
	}
	ctx, span := tracer.Start(ctx, "Engine.SelectChunks", trace.WithAttributes(
		attribute.String("requester", string(requester)),
		attribute.String("owner", owner.HexString()),
		attribute.Int64("candidates", int64(candidates.GetCardinality())),
		attribute.Int("desired", desired),
	))
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.Int("selected", len(ret)))
		if err != nil && !errors.Is(err, ErrNotInterested) {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	candidates = candidates.Clone()
	for desired > 0 {
		var piece g.Option[types.PieceIndex]
		var got []types.Chunk
		err = e.update(ctx, func(tx store.Tx) (err error) {
			got = nil
			piece, err = firstChunked(tx, owner, candidates)
			if err != nil || !piece.Ok {
				return
			}
			got, err = assignChunks(tx, requester, owner, piece.Value, desired)
			return
		})
		if err != nil {
			return
		}
		if piece.Ok {
			chunksAssigned.Add(float64(len(got)))
			ret = append(ret, got...)
			if len(got) >= desired {
				return
			}
			desired -= len(got)
			candidates.Remove(uint32(piece.Value))
			continue
		}
		var d policy.Decision
		d, err = e.oracle.RequestNextPiece(ctx, owner, candidates)
		if err != nil {
			err = errors.Wrap(err, "requesting next piece")
			return
		}
		switch d.Kind {
		case policy.NotInterested:
			if len(ret) == 0 {
				err = ErrNotInterested
			}
			return
		case policy.Endgame:
			var eg []types.Chunk
			eg, err = e.endgame(ctx, requester, owner)
			if err != nil {
				return
			}
			ret = mergeEndgame(ret, eg)
			return
		case policy.Selected:
			if !candidates.Contains(uint32(d.Piece)) {
				err = errors.Errorf("oracle selected piece %v, which isn't a remaining candidate", d.Piece)
				return
			}
			err = e.EnsureChunked(ctx, owner, d.Piece, d.Length)
			if err != nil {
				return
			}
		default:
			err = errors.Errorf("unexpected oracle decision %v", d)
			return
		}
	}
	return
}

// Lowest-index candidate piece that is chunked.
func firstChunked(tx store.Tx, owner types.Owner, candidates *roaring.Bitmap) (ret g.Option[types.PieceIndex], err error) {
	chunked, err := tx.Pieces(owner, types.PieceChunked)
	if err != nil {
		return
	}
	for _, p := range chunked {
		if candidates.Contains(uint32(p.Index)) {
			ret.Set(p.Index)
			return
		}
	}
	return
}

// Assigns up to max not-fetched chunks of the piece to the requester.
func assignChunks(
	tx store.Tx, requester types.Requester, owner types.Owner, piece types.PieceIndex, max int,
) (ret []types.Chunk, err error) {
	cs, err := tx.PieceChunks(owner, piece, types.ChunkNotFetched)
	if err != nil {
		return
	}
	for _, c := range cs[:min(max, len(cs))] {
		c.State = types.ChunkAssigned
		c.Assignee.Set(requester)
		err = tx.PutChunk(c)
		if err != nil {
			return
		}
		ret = append(ret, c)
	}
	return
}

// Hands out every unfetched chunk of the owner. Chunks that aren't assigned yet are assigned to
// the requester, and the rest keep their assignee.
func (e *Engine) endgame(ctx context.Context, requester types.Requester, owner types.Owner) (ret []types.Chunk, err error) {
	err = e.update(ctx, func(tx store.Tx) error {
		ret = nil
		cs, err := tx.OwnerChunks(owner, types.ChunkNotFetched, types.ChunkAssigned)
		if err != nil {
			return err
		}
		for _, c := range cs {
			if c.State == types.ChunkNotFetched {
				c.State = types.ChunkAssigned
				c.Assignee.Set(requester)
				if err := tx.PutChunk(c); err != nil {
					return err
				}
			}
			ret = append(ret, c)
		}
		return nil
	})
	if err != nil {
		return
	}
	endgameChunks.Add(float64(len(ret)))
	e.logger.Levelf(log.Debug, "%v: %v endgame chunks for %v", owner, len(ret), requester)
	if e.config.ShuffleEndgame != nil {
		e.config.ShuffleEndgame(ret)
	}
	return
}

// Appends endgame chunks that weren't already collected.
func mergeEndgame(collected, endgame []types.Chunk) []types.Chunk {
	have := make(map[types.ChunkRef]struct{}, len(collected))
	for _, c := range collected {
		have[c.Ref] = struct{}{}
	}
	for _, c := range endgame {
		if _, ok := have[c.Ref]; !ok {
			collected = append(collected, c)
		}
	}
	return collected
}
