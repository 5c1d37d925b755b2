// Package store defines the transactional record store the allocator keeps its piece and chunk
// rows in. Every call to Update or View is one transaction, and backends must make concurrent
// transactions serializable.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

var (
	// Returned by Update when the transaction lost a race with a concurrent one. Nothing was
	// applied, and the whole transaction body should be run again.
	ErrConflict = errors.New("transaction conflict")
	// Returned by write methods on a Tx obtained from View.
	ErrReadOnly = errors.New("read-only transaction")
)

type Store interface {
	// Runs f in a read-write transaction. Changes are committed if f returns nil, and discarded
	// otherwise. Callers retry the whole of f after ErrConflict, so f must not have side effects
	// outside of the Tx.
	Update(ctx context.Context, f func(Tx) error) error
	// Runs f in a read-only transaction.
	View(ctx context.Context, f func(Tx) error) error
	Close() error
}

// Row access within a transaction. Methods returning chunks order them by piece index, then by
// offset. An empty states list matches every state.
type Tx interface {
	Piece(owner types.Owner, index types.PieceIndex) (types.Piece, bool, error)
	PutPiece(types.Piece) error
	DeletePiece(owner types.Owner, index types.PieceIndex) error
	// Pieces of the owner in ascending index order.
	Pieces(owner types.Owner, states ...types.PieceState) ([]types.Piece, error)

	Chunk(ref types.ChunkRef) (types.Chunk, bool, error)
	PutChunk(types.Chunk) error
	DeleteChunk(ref types.ChunkRef) error
	PieceChunks(owner types.Owner, index types.PieceIndex, states ...types.ChunkState) ([]types.Chunk, error)
	OwnerChunks(owner types.Owner, states ...types.ChunkState) ([]types.Chunk, error)
}

// Returns true if the states filter admits s.
func StateMatches[S comparable](s S, states []S) bool {
	if len(states) == 0 {
		return true
	}
	for _, t := range states {
		if s == t {
			return true
		}
	}
	return false
}
