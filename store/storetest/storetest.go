// Package storetest holds the behaviour every store.Store backend must share, for backends to run
// from their own tests.
package storetest

import (
	"context"
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/bradfitz/iter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

const (
	ChunkSize        = 1 << 14
	DefaultPieceSize = 1 << 18
	DefaultNumPieces = 16
)

type NewStoreFunc func(t testing.TB) store.Store

func owner(b byte) (ret types.Owner) {
	ret[0] = b
	ret[len(ret)-1] = b
	return
}

func chunk(o types.Owner, piece types.PieceIndex, begin int64) types.Chunk {
	return types.Chunk{
		Ref:       types.NewChunkRef(),
		Owner:     o,
		Piece:     piece,
		ChunkSpec: types.ChunkSpec{Begin: begin, Length: ChunkSize},
	}
}

func update(t testing.TB, s store.Store, f func(store.Tx)) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		f(tx)
		return nil
	}))
}

func view(t testing.TB, s store.Store, f func(store.Tx)) {
	t.Helper()
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		f(tx)
		return nil
	}))
}

func Test(t *testing.T, newStore NewStoreFunc) {
	t.Run("Pieces", func(t *testing.T) { testPieces(t, newStore(t)) })
	t.Run("ChunkIndexes", func(t *testing.T) { testChunkIndexes(t, newStore(t)) })
	t.Run("ChunkPayload", func(t *testing.T) { testChunkPayload(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ReadOnlyView", func(t *testing.T) { testReadOnlyView(t, newStore(t)) })
	t.Run("OwnersIsolated", func(t *testing.T) { testOwnersIsolated(t, newStore(t)) })
}

func testPieces(t *testing.T, s store.Store) {
	o := owner(1)
	update(t, s, func(tx store.Tx) {
		for i := range iter.N(4) {
			require.NoError(t, tx.PutPiece(types.Piece{Owner: o, Index: 3 - i}))
		}
		require.NoError(t, tx.PutPiece(types.Piece{
			Owner: o, Index: 2, State: types.PieceChunked, Length: DefaultPieceSize, Remaining: 16,
		}))
	})
	view(t, s, func(tx store.Tx) {
		p, ok, err := tx.Piece(o, 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, types.Piece{
			Owner: o, Index: 2, State: types.PieceChunked, Length: DefaultPieceSize, Remaining: 16,
		}, p)
		_, ok, err = tx.Piece(o, 4)
		require.NoError(t, err)
		assert.False(t, ok)

		all, err := tx.Pieces(o)
		require.NoError(t, err)
		require.Len(t, all, 4)
		for i, p := range all {
			assert.Equal(t, i, p.Index)
		}
		notFetched, err := tx.Pieces(o, types.PieceNotFetched)
		require.NoError(t, err)
		assert.Len(t, notFetched, 3)
		chunked, err := tx.Pieces(o, types.PieceChunked)
		require.NoError(t, err)
		require.Len(t, chunked, 1)
		assert.Equal(t, 2, chunked[0].Index)
	})
	update(t, s, func(tx store.Tx) {
		require.NoError(t, tx.DeletePiece(o, 2))
		// Deleting a missing row is not an error.
		require.NoError(t, tx.DeletePiece(o, 2))
	})
	view(t, s, func(tx store.Tx) {
		chunked, err := tx.Pieces(o, types.PieceChunked)
		require.NoError(t, err)
		assert.Empty(t, chunked)
		all, err := tx.Pieces(o)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func testChunkIndexes(t *testing.T, s store.Store) {
	o := owner(2)
	var refs []types.ChunkRef
	update(t, s, func(tx store.Tx) {
		// Insert out of offset order, across two pieces.
		for _, piece := range []types.PieceIndex{1, 0} {
			for _, begin := range []int64{3, 0, 2, 1} {
				c := chunk(o, piece, begin*ChunkSize)
				refs = append(refs, c.Ref)
				require.NoError(t, tx.PutChunk(c))
			}
		}
	})
	update(t, s, func(tx store.Tx) {
		c, ok, err := tx.Chunk(refs[0])
		require.NoError(t, err)
		require.True(t, ok)
		c.State = types.ChunkAssigned
		c.Assignee = g.Some[types.Requester]("peer")
		require.NoError(t, tx.PutChunk(c))
	})
	view(t, s, func(tx store.Tx) {
		cs, err := tx.PieceChunks(o, 1)
		require.NoError(t, err)
		require.Len(t, cs, 4)
		for i, c := range cs {
			assert.EqualValues(t, i*ChunkSize, c.Begin)
			assert.Equal(t, 1, c.Piece)
		}
		cs, err = tx.PieceChunks(o, 1, types.ChunkNotFetched)
		require.NoError(t, err)
		assert.Len(t, cs, 3)
		cs, err = tx.PieceChunks(o, 1, types.ChunkAssigned)
		require.NoError(t, err)
		require.Len(t, cs, 1)
		assert.Equal(t, refs[0], cs[0].Ref)
		assert.Equal(t, g.Some[types.Requester]("peer"), cs[0].Assignee)

		cs, err = tx.OwnerChunks(o)
		require.NoError(t, err)
		require.Len(t, cs, 8)
		for i, c := range cs {
			assert.Equal(t, i/4, c.Piece)
			assert.EqualValues(t, i%4*ChunkSize, c.Begin)
		}
		cs, err = tx.OwnerChunks(o, types.ChunkNotFetched, types.ChunkAssigned)
		require.NoError(t, err)
		assert.Len(t, cs, 8)
		cs, err = tx.OwnerChunks(o, types.ChunkNotFetched)
		require.NoError(t, err)
		assert.Len(t, cs, 7)
		cs, err = tx.OwnerChunks(o, types.ChunkFetched)
		require.NoError(t, err)
		assert.Empty(t, cs)
	})
	update(t, s, func(tx store.Tx) {
		require.NoError(t, tx.DeleteChunk(refs[0]))
		require.NoError(t, tx.DeleteChunk(refs[0]))
	})
	view(t, s, func(tx store.Tx) {
		_, ok, err := tx.Chunk(refs[0])
		require.NoError(t, err)
		assert.False(t, ok)
		cs, err := tx.PieceChunks(o, 1)
		require.NoError(t, err)
		assert.Len(t, cs, 3)
		cs, err = tx.OwnerChunks(o, types.ChunkAssigned)
		require.NoError(t, err)
		assert.Empty(t, cs)
	})
}

func testChunkPayload(t *testing.T, s store.Store) {
	o := owner(3)
	c := chunk(o, 0, 0)
	payload := make([]byte, c.Length)
	for i := range payload {
		payload[i] = byte(i)
	}
	c.State = types.ChunkFetched
	c.Assignee = g.Some[types.Requester]("seeder")
	c.Payload = g.Some(payload)
	require.NoError(t, c.Check())
	update(t, s, func(tx store.Tx) {
		require.NoError(t, tx.PutChunk(c))
	})
	view(t, s, func(tx store.Tx) {
		got, ok, err := tx.Chunk(c.Ref)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, c, got)
	})
	update(t, s, func(tx store.Tx) {
		require.NoError(t, tx.PutChunk(c.Reverted()))
	})
	view(t, s, func(tx store.Tx) {
		got, ok, err := tx.Chunk(c.Ref)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, got.Payload.Ok)
		assert.False(t, got.Assignee.Ok)
		assert.Equal(t, types.ChunkNotFetched, got.State)
	})
}

func testRollback(t *testing.T, s store.Store) {
	o := owner(4)
	errAbort := errors.New("abort")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		require.NoError(t, tx.PutPiece(types.Piece{Owner: o, Index: 0}))
		require.NoError(t, tx.PutChunk(chunk(o, 0, 0)))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	view(t, s, func(tx store.Tx) {
		_, ok, err := tx.Piece(o, 0)
		require.NoError(t, err)
		assert.False(t, ok)
		cs, err := tx.OwnerChunks(o)
		require.NoError(t, err)
		assert.Empty(t, cs)
	})
}

func testReadOnlyView(t *testing.T, s store.Store) {
	o := owner(5)
	err := s.View(context.Background(), func(tx store.Tx) error {
		return tx.PutPiece(types.Piece{Owner: o})
	})
	require.ErrorIs(t, err, store.ErrReadOnly)
	err = s.View(context.Background(), func(tx store.Tx) error {
		return tx.PutChunk(chunk(o, 0, 0))
	})
	require.ErrorIs(t, err, store.ErrReadOnly)
}

func testOwnersIsolated(t *testing.T, s store.Store) {
	a, b := owner(6), owner(7)
	update(t, s, func(tx store.Tx) {
		for _, o := range []types.Owner{a, b} {
			require.NoError(t, tx.PutPiece(types.Piece{Owner: o, Index: 0}))
			require.NoError(t, tx.PutChunk(chunk(o, 0, 0)))
		}
	})
	view(t, s, func(tx store.Tx) {
		ps, err := tx.Pieces(a)
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.Equal(t, a, ps[0].Owner)
		cs, err := tx.OwnerChunks(b)
		require.NoError(t, err)
		require.Len(t, cs, 1)
		assert.Equal(t, b, cs[0].Owner)
	})
}

// Drives rows for numPieces pieces through chunking, assignment, fetch and deletion.
func BenchmarkChunkLifecycle(b *testing.B, s store.Store, pieceSize int64, numPieces int) {
	ctx := context.Background()
	o := owner(8)
	payload := make([]byte, ChunkSize)
	b.SetBytes(pieceSize * int64(numPieces))
	b.ReportAllocs()
	for range iter.N(b.N) {
		for piece := range iter.N(numPieces) {
			err := s.Update(ctx, func(tx store.Tx) error {
				for begin := int64(0); begin < pieceSize; begin += ChunkSize {
					if err := tx.PutChunk(chunk(o, piece, begin)); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				b.Fatal(err)
			}
			err = s.Update(ctx, func(tx store.Tx) error {
				cs, err := tx.PieceChunks(o, piece, types.ChunkNotFetched)
				if err != nil {
					return err
				}
				for _, c := range cs {
					c.State = types.ChunkFetched
					c.Payload = g.Some(payload)
					if err := tx.PutChunk(c); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				b.Fatal(err)
			}
			err = s.Update(ctx, func(tx store.Tx) error {
				cs, err := tx.PieceChunks(o, piece)
				if err != nil {
					return err
				}
				for _, c := range cs {
					if err := tx.DeleteChunk(c.Ref); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}
