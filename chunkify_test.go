package chunkalloc

import (
	"testing"

	"github.com/bradfitz/iter"
	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/chunkalloc/types"
)

func TestChunkifyLastChunkTruncated(t *testing.T) {
	reqs, n := Chunkify(7, 50000, 16384)
	qt.Assert(t, qt.Equals(n, 4))
	qt.Assert(t, qt.DeepEquals(reqs, []types.Request{
		{Index: 7, ChunkSpec: types.ChunkSpec{Begin: 0, Length: 16384}},
		{Index: 7, ChunkSpec: types.ChunkSpec{Begin: 16384, Length: 16384}},
		{Index: 7, ChunkSpec: types.ChunkSpec{Begin: 32768, Length: 16384}},
		{Index: 7, ChunkSpec: types.ChunkSpec{Begin: 49152, Length: 848}},
	}))
}

func TestChunkifyEmptyPiece(t *testing.T) {
	reqs, n := Chunkify(0, 0, 16384)
	qt.Check(t, qt.Equals(n, 0))
	qt.Check(t, qt.HasLen(reqs, 0))
}

func TestChunkifyBadChunkSize(t *testing.T) {
	assert.Panics(t, func() { Chunkify(0, 100, 0) })
}

// The chunks cover the piece exactly, in order, and only the last can be short.
func TestChunkifyPartitions(t *testing.T) {
	for _, chunkSize := range []int64{1, 3, 1 << 10, 1 << 14} {
		for i := range iter.N(200) {
			pieceSize := int64(i) * 97
			reqs, n := Chunkify(0, pieceSize, chunkSize)
			require.Len(t, reqs, n)
			var next int64
			for j, r := range reqs {
				require.EqualValues(t, next, r.Begin)
				require.Greater(t, r.Length, int64(0))
				if j != n-1 {
					require.EqualValues(t, chunkSize, r.Length)
				} else {
					require.LessOrEqual(t, r.Length, chunkSize)
				}
				next = r.End()
			}
			require.EqualValues(t, pieceSize, next)
		}
	}
}

func TestNewChunks(t *testing.T) {
	owner := types.Owner{1}
	reqs, _ := Chunkify(2, 50000, 16384)
	cs := NewChunks(owner, reqs)
	require.Len(t, cs, 4)
	refs := make(map[types.ChunkRef]bool)
	for i, c := range cs {
		require.NoError(t, c.Check())
		assert.Equal(t, types.ChunkNotFetched, c.State)
		assert.Equal(t, reqs[i], c.Request())
		assert.Equal(t, types.PieceKey{Owner: owner, Index: 2}, c.PieceKey())
		refs[c.Ref] = true
	}
	assert.Len(t, refs, 4)
}

func TestChunkSizeFor(t *testing.T) {
	cfg := newTestConfig()
	cfg.ChunkSizeFor = func(owner types.Owner, index types.PieceIndex) int64 {
		if index == 1 {
			return 1000
		}
		return 0
	}
	tt := newTestTorrent(t, nil, cfg, randomData(2*16384), 16384)
	for i, expected := range []int{1, 17} {
		require.NoError(t, tt.engine.EnsureChunked(tt.ctx, tt.owner, i, 16384))
		cs, err := tt.engine.Chunks(tt.ctx, tt.owner, i)
		require.NoError(t, err)
		qt.Check(t, qt.HasLen(cs, expected))
	}
}
