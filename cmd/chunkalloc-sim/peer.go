package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/anacrolix/chunkalloc"
	"github.com/anacrolix/chunkalloc/types"
)

type simStats struct {
	deliveries  atomic.Int64
	duplicates  atomic.Int64
	corrupted   atomic.Int64
	wrongHashes atomic.Int64
	putBack     atomic.Int64
}

type peer struct {
	*sim
	requester types.Requester
	have      *roaring.Bitmap
	limiter   *rate.Limiter
}

func (me *peer) run(ctx context.Context) (err error) {
	defer func() {
		// Anything still assigned goes back when the peer leaves.
		n, putbackErr := me.engine.PutbackRequester(context.WithoutCancel(ctx), me.owner, me.requester)
		me.stats.putBack.Add(int64(n))
		if err == nil {
			err = putbackErr
		}
	}()
	for {
		cs, err := me.engine.SelectChunks(ctx, me.requester, me.owner, me.have, me.Batch)
		if errors.Is(err, chunkalloc.ErrNotInterested) {
			me.logger.Levelf(log.Debug, "%v: not interested", me.requester)
			return nil
		}
		if err != nil {
			return err
		}
		delivered := 0
		var missing []types.ChunkRef
		for _, c := range cs {
			// Endgame hands out chunks of pieces the peer may not have.
			if !me.have.Contains(uint32(c.Piece)) {
				missing = append(missing, c.Ref)
				continue
			}
			err = me.deliver(ctx, c)
			if err != nil {
				return err
			}
			delivered++
		}
		if len(missing) != 0 {
			n, err := me.engine.PutbackChunks(ctx, missing, me.requester)
			if err != nil {
				return err
			}
			me.stats.putBack.Add(int64(n))
		}
		if delivered == 0 {
			return nil
		}
	}
}

func (me *peer) deliver(ctx context.Context, c types.Chunk) error {
	err := me.limiter.Wait(ctx)
	if err != nil {
		return err
	}
	r := c.Request()
	off := me.verifier.PieceOffset(r.Index) + r.Begin
	data := me.data[off : off+r.Length]
	if rand.Float64() < me.CorruptRate {
		data = bytes.Clone(data)
		data[rand.IntN(len(data))]++
		me.stats.corrupted.Add(1)
	}
	me.stats.deliveries.Add(1)
	_, err = me.engine.RecordFetched(ctx, me.requester, c.Ref, data)
	var whe *chunkalloc.WrongHashError
	switch {
	case err == nil:
	case errors.Is(err, chunkalloc.ErrUnknownChunk):
		me.stats.duplicates.Add(1)
	case errors.As(err, &whe):
		me.stats.wrongHashes.Add(1)
		me.logger.Levelf(log.Info, "%v", whe)
	default:
		return err
	}
	return nil
}
