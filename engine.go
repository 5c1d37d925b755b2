package chunkalloc

import (
	"context"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/anacrolix/chunkalloc/files"
	"github.com/anacrolix/chunkalloc/policy"
	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

var tracer = otel.Tracer("chunkalloc")

// Allocates chunks to requesters and reassembles pieces. Safe for concurrent use: all shared state
// is in the store, and each operation is one or more store transactions.
type Engine struct {
	config Config
	store  store.Store
	oracle policy.Oracle
	files  files.Store
	logger log.Logger
}

func New(s store.Store, oracle policy.Oracle, fs files.Store, cfg *Config) *Engine {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	e := &Engine{
		config: *cfg,
		store:  s,
		oracle: oracle,
		files:  fs,
		logger: cfg.Logger,
	}
	if e.config.ChunkSize <= 0 {
		e.config.ChunkSize = DefaultChunkSize
	}
	return e
}

// Runs f in a read-write transaction, running it again for as long as the store reports a
// conflict.
func (e *Engine) update(ctx context.Context, f func(store.Tx) error) error {
	for {
		err := e.store.Update(ctx, f)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		storeTxConflicts.Inc()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (e *Engine) view(ctx context.Context, f func(store.Tx) error) error {
	return e.store.View(ctx, f)
}

func putPiece(tx store.Tx, p types.Piece) error {
	panicif.Err(p.Check())
	return tx.PutPiece(p)
}

// Tells the oracle a started piece is back to not fetched.
func (e *Engine) resetPiece(owner types.Owner, index types.PieceIndex) {
	if r, ok := e.oracle.(policy.Resetter); ok {
		r.PieceReset(owner, index)
	}
}

func getPiece(tx store.Tx, owner types.Owner, index types.PieceIndex) (types.Piece, error) {
	p, ok, err := tx.Piece(owner, index)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, errors.Wrapf(ErrUnknownPiece, "%v", types.PieceKey{Owner: owner, Index: index})
	}
	return p, nil
}

// Registers numPieces pieces for the owner. Pieces that are already known are left alone.
func (e *Engine) AddOwner(ctx context.Context, owner types.Owner, numPieces int) error {
	return e.update(ctx, func(tx store.Tx) error {
		for i := 0; i < numPieces; i++ {
			_, ok, err := tx.Piece(owner, i)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			err = putPiece(tx, types.Piece{Owner: owner, Index: i})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Drops every piece and chunk row of the owner.
func (e *Engine) RemoveOwner(ctx context.Context, owner types.Owner) error {
	return e.update(ctx, func(tx store.Tx) error {
		cs, err := tx.OwnerChunks(owner)
		if err != nil {
			return err
		}
		for _, c := range cs {
			if err := tx.DeleteChunk(c.Ref); err != nil {
				return err
			}
		}
		ps, err := tx.Pieces(owner)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if err := tx.DeletePiece(owner, p.Index); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) Piece(ctx context.Context, owner types.Owner, index types.PieceIndex) (p types.Piece, err error) {
	err = e.view(ctx, func(tx store.Tx) (err error) {
		p, err = getPiece(tx, owner, index)
		return
	})
	return
}

// The piece's chunk rows in offset order.
func (e *Engine) Chunks(ctx context.Context, owner types.Owner, index types.PieceIndex) (cs []types.Chunk, err error) {
	err = e.view(ctx, func(tx store.Tx) (err error) {
		cs, err = tx.PieceChunks(owner, index)
		return
	})
	return
}

// Row counts for an owner, by state.
type Stats struct {
	Pieces map[types.PieceState]int
	Chunks map[types.ChunkState]int
}

func (e *Engine) Stats(ctx context.Context, owner types.Owner) (s Stats, err error) {
	err = e.view(ctx, func(tx store.Tx) error {
		s = Stats{
			Pieces: make(map[types.PieceState]int),
			Chunks: make(map[types.ChunkState]int),
		}
		ps, err := tx.Pieces(owner)
		if err != nil {
			return err
		}
		for _, p := range ps {
			s.Pieces[p.State]++
		}
		cs, err := tx.OwnerChunks(owner)
		if err != nil {
			return err
		}
		for _, c := range cs {
			s.Chunks[c.State]++
		}
		return nil
	})
	return
}
