package chunkalloc

import (
	"context"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-quicktest/qt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/anacrolix/chunkalloc/files"
	"github.com/anacrolix/chunkalloc/policy"
	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/memory"
	"github.com/anacrolix/chunkalloc/types"
)

func chunkRefs(cs []types.Chunk) (ret []types.ChunkRef) {
	for _, c := range cs {
		ret = append(ret, c.Ref)
	}
	return
}

func TestSelectNothingDesired(t *testing.T) {
	tt := newTestTorrent(t, nil, nil, randomData(16384), 16384)
	cs, err := tt.engine.SelectChunks(tt.ctx, "a", tt.owner, tt.allPieces(), 0)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(cs, 0))
	stats, err := tt.engine.Stats(tt.ctx, tt.owner)
	require.NoError(t, err)
	qt.Assert(t, qt.Equals(stats.Pieces[types.PieceNotFetched], 1))
}

func TestSelectNotInterested(t *testing.T) {
	tt := newTestTorrent(t, nil, nil, randomData(4*16384), 16384)
	_, err := tt.engine.SelectChunks(tt.ctx, "a", tt.owner, roaring.New(), 2)
	qt.Assert(t, qt.ErrorIs(err, ErrNotInterested))
	// Chunks already collected are returned when the oracle runs out of candidates.
	cs, err := tt.engine.SelectChunks(tt.ctx, "a", tt.owner, roaring.BitmapOf(2), 2)
	require.NoError(t, err)
	qt.Assert(t, qt.HasLen(cs, 1))
	qt.Check(t, qt.Equals(cs[0].Piece, 2))
	qt.Check(t, qt.Equals(cs[0].Assignee.Value, types.Requester("a")))
}

func TestSelectPrefersLowestChunkedPiece(t *testing.T) {
	cfg := newTestConfig()
	cfg.ChunkSize = 4096
	tt := newTestTorrent(t, nil, cfg, randomData(4*16384), 16384)
	require.NoError(t, tt.engine.EnsureChunked(tt.ctx, tt.owner, 3, 16384))
	require.NoError(t, tt.engine.EnsureChunked(tt.ctx, tt.owner, 1, 16384))
	cs := tt.selectChunks("a", 6)
	require.Len(t, cs, 6)
	for i, c := range cs[:4] {
		qt.Check(t, qt.Equals(c.Piece, 1))
		qt.Check(t, qt.Equals(c.Begin, int64(i)*4096))
		qt.Check(t, qt.Equals(c.State, types.ChunkAssigned))
	}
	for _, c := range cs[4:] {
		qt.Check(t, qt.Equals(c.Piece, 3))
	}
	// The oracle wasn't needed, so nothing was started.
	stats, err := tt.engine.Stats(tt.ctx, tt.owner)
	require.NoError(t, err)
	qt.Check(t, qt.Equals(stats.Pieces[types.PieceNotFetched], 2))
}

type fixedOracle struct {
	d policy.Decision
}

func (me fixedOracle) RequestNextPiece(context.Context, types.Owner, *roaring.Bitmap) (policy.Decision, error) {
	return me.d, nil
}

func (fixedOracle) NotifyEndgame(types.Owner) {}

func TestSelectRejectsNonCandidate(t *testing.T) {
	ctx := context.Background()
	owner := types.Owner{1}
	e := New(memory.New(), fixedOracle{policy.Select(1, 16384)}, files.NewMemory(), nil)
	require.NoError(t, e.AddOwner(ctx, owner, 2))
	_, err := e.SelectChunks(ctx, "a", owner, roaring.BitmapOf(0), 1)
	qt.Assert(t, qt.IsNotNil(err))
	p, err := e.Piece(ctx, owner, 1)
	require.NoError(t, err)
	qt.Assert(t, qt.Equals(p.State, types.PieceNotFetched))
}

func TestSelectOracleError(t *testing.T) {
	tt := newTestTorrent(t, nil, nil, randomData(16384), 16384)
	tt.oracle.RemoveTorrent(tt.owner)
	_, err := tt.engine.SelectChunks(tt.ctx, "a", tt.owner, tt.allPieces(), 1)
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.IsFalse(errors.Is(err, ErrNotInterested)))
}

// Outside endgame, no chunk is handed to more than one requester. The requesters then deliver
// concurrently, and every chunked piece must still count its unfetched chunks correctly.
func testSelectConcurrentAtMostOnce(t *testing.T, s store.Store) {
	cfg := newTestConfig()
	cfg.ChunkSize = 1 << 10
	cfg.AutoAssemble = false
	tt := newTestTorrent(t, s, cfg, randomData(64<<14), 1<<14)
	const numRequesters = 8
	got := make([][]types.Chunk, numRequesters)
	var eg errgroup.Group
	for i := range got {
		eg.Go(func() error {
			requester := types.Requester(fmt.Sprintf("r%d", i))
			for range 4 {
				cs, err := tt.engine.SelectChunks(tt.ctx, requester, tt.owner, tt.allPieces(), 4)
				if err != nil {
					return err
				}
				got[i] = append(got[i], cs...)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	qt.Assert(t, qt.IsFalse(tt.oracle.InEndgame(tt.owner)))
	holders := make(map[types.ChunkRef]types.Requester)
	for i, cs := range got {
		require.Len(t, cs, 16)
		for _, c := range cs {
			requester := types.Requester(fmt.Sprintf("r%d", i))
			other, ok := holders[c.Ref]
			require.False(t, ok, "%v given to %v and %v", c, other, requester)
			holders[c.Ref] = requester
		}
	}
	stats, err := tt.engine.Stats(tt.ctx, tt.owner)
	require.NoError(t, err)
	qt.Assert(t, qt.Equals(stats.Chunks[types.ChunkAssigned], len(holders)))

	var deliveries errgroup.Group
	for i, cs := range got {
		requester := types.Requester(fmt.Sprintf("r%d", i))
		deliveries.Go(func() error {
			for _, c := range cs {
				if _, err := tt.deliver(requester, c); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, deliveries.Wait())
	stats, err = tt.engine.Stats(tt.ctx, tt.owner)
	require.NoError(t, err)
	qt.Check(t, qt.Equals(stats.Chunks[types.ChunkFetched], len(holders)))
	qt.Check(t, qt.Equals(stats.Chunks[types.ChunkAssigned], 0))
	tt.requireRemainingConsistent()
}

func TestSelectConcurrentAtMostOnce(t *testing.T) {
	testSelectConcurrentAtMostOnce(t, nil)
}

func TestEndgame(t *testing.T) {
	tt := newTestTorrent(t, nil, nil, randomData(2*16384), 2*16384)
	a := tt.selectChunks("a", 1)
	require.Len(t, a, 1)
	qt.Assert(t, qt.IsTrue(tt.oracle.InEndgame(tt.owner)))
	b := tt.selectChunks("b", 2)
	require.Len(t, b, 2)
	qt.Check(t, qt.Equals(b[0].Begin, int64(16384)))
	assert.ElementsMatch(t, chunkRefs(b), []types.ChunkRef{a[0].Ref, b[0].Ref})
	// The duplicate request didn't take the chunk from its first requester.
	cs, err := tt.engine.Chunks(tt.ctx, tt.owner, 0)
	require.NoError(t, err)
	qt.Assert(t, qt.Equals(cs[0].Assignee.Value, types.Requester("a")))
	qt.Assert(t, qt.Equals(cs[1].Assignee.Value, types.Requester("b")))
	n, err := tt.engine.PutbackChunks(tt.ctx, chunkRefs(b), "b")
	require.NoError(t, err)
	qt.Assert(t, qt.Equals(n, 1))
	// b put back its own chunk, and gets it again along with a's.
	b = tt.selectChunks("b", 2)
	assert.ElementsMatch(t, chunkRefs(b), chunkRefs(cs))

	prog, err := tt.deliver("b", cs[0])
	require.NoError(t, err)
	qt.Assert(t, qt.IsFalse(prog.Complete))
	_, err = tt.deliver("a", cs[0])
	qt.Assert(t, qt.ErrorIs(err, ErrUnknownChunk))
	prog, err = tt.deliver("b", cs[1])
	require.NoError(t, err)
	qt.Assert(t, qt.IsTrue(prog.Complete))
	tt.requireComplete()
	qt.Assert(t, qt.HasLen(tt.selectChunks("a", 1), 0))
}

// Endgame hands out only the chunks that aren't fetched, keeping their assignees.
func TestEndgameSkipsFetched(t *testing.T) {
	tt := newTestTorrent(t, nil, nil, randomData(2*16384), 2*16384)
	cs := tt.selectChunks("peer1", 2)
	require.Len(t, cs, 2)
	qt.Assert(t, qt.IsTrue(tt.oracle.InEndgame(tt.owner)))
	prog, err := tt.deliver("peer1", cs[0])
	require.NoError(t, err)
	qt.Assert(t, qt.IsFalse(prog.Complete))

	eg := tt.selectChunks("peer2", 10)
	require.Len(t, eg, 1)
	qt.Check(t, qt.Equals(eg[0].Ref, cs[1].Ref))
	qt.Check(t, qt.Equals(eg[0].State, types.ChunkAssigned))
	qt.Check(t, qt.Equals(eg[0].Assignee.Value, types.Requester("peer1")))

	prog, err = tt.deliver("peer2", eg[0])
	require.NoError(t, err)
	qt.Assert(t, qt.IsTrue(prog.Complete))
	tt.requireComplete()
	_, err = tt.deliver("peer1", cs[1])
	qt.Check(t, qt.ErrorIs(err, ErrUnknownChunk))
}

func TestSelectNilCandidates(t *testing.T) {
	tt := newTestTorrent(t, nil, nil, randomData(2*16384), 16384)
	_, err := tt.engine.SelectChunks(tt.ctx, "a", tt.owner, nil, 2)
	qt.Assert(t, qt.ErrorIs(err, ErrNotInterested))
}

func TestEndgameShuffle(t *testing.T) {
	cfg := newTestConfig()
	var shuffled []types.Chunk
	cfg.ShuffleEndgame = func(cs []types.Chunk) {
		for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
			cs[i], cs[j] = cs[j], cs[i]
		}
		shuffled = cs
	}
	tt := newTestTorrent(t, nil, cfg, randomData(3*16384), 3*16384)
	a := tt.selectChunks("a", 3)
	require.Len(t, a, 3)
	b := tt.selectChunks("b", 1)
	qt.Assert(t, qt.DeepEquals(chunkRefs(b), []types.ChunkRef{a[2].Ref, a[1].Ref, a[0].Ref}))
	qt.Assert(t, qt.HasLen(shuffled, 3))
}

// Several requesters download concurrently through to endgame, delivering duplicates.
func testConcurrentDownload(t *testing.T, s store.Store) {
	cfg := NewDefaultConfig()
	cfg.ChunkSize = 1 << 12
	tt := newTestTorrent(t, s, cfg, randomData(16<<14-100), 1<<14)
	var eg errgroup.Group
	for i := range 4 {
		requester := types.Requester(fmt.Sprintf("r%d", i))
		eg.Go(func() error {
			for {
				cs, err := tt.engine.SelectChunks(tt.ctx, requester, tt.owner, tt.allPieces(), 5)
				if errors.Is(err, ErrNotInterested) || err == nil && len(cs) == 0 {
					return nil
				}
				if err != nil {
					return err
				}
				for _, c := range cs {
					_, err := tt.deliver(requester, c)
					if err != nil && !errors.Is(err, ErrUnknownChunk) {
						return err
					}
				}
			}
		})
	}
	require.NoError(t, eg.Wait())
	tt.requireComplete()
}

func TestConcurrentDownload(t *testing.T) {
	testConcurrentDownload(t, nil)
}
