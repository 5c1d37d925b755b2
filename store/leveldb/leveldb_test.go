package leveldb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/storetest"
	"github.com/anacrolix/chunkalloc/types"
)

func newStore(t testing.TB) store.Store {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Test(t, newStore)
}

func TestUpdatePanicReleasesTransaction(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	assert.Panics(t, func() {
		s.Update(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.PutPiece(types.Piece{Index: 1}))
			panic("boom")
		})
	})
	// This blocks forever if the panicking transaction still holds the write lock.
	err := s.Update(ctx, func(tx store.Tx) error {
		_, ok, err := tx.Piece(types.Owner{}, 1)
		assert.False(t, ok)
		if err != nil {
			return err
		}
		return tx.PutPiece(types.Piece{Index: 2})
	})
	require.NoError(t, err)
}

func BenchmarkChunkLifecycle(b *testing.B) {
	storetest.BenchmarkChunkLifecycle(b, newStore(b), storetest.DefaultPieceSize, storetest.DefaultNumPieces)
}
