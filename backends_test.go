package chunkalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/bolt"
	"github.com/anacrolix/chunkalloc/store/leveldb"
	"github.com/anacrolix/chunkalloc/store/memory"
)

type newStoreFunc func(t testing.TB) store.Store

var backends = map[string]newStoreFunc{
	"memory": func(testing.TB) store.Store { return memory.New() },
	"bolt": func(t testing.TB) store.Store {
		s, err := bolt.New(t.TempDir())
		require.NoError(t, err)
		return s
	},
	"leveldb": func(t testing.TB) store.Store {
		s, err := leveldb.New(t.TempDir())
		require.NoError(t, err)
		return s
	},
}

// Runs the download scenarios against every store.
func TestBackends(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("Download", func(t *testing.T) {
				cfg := newTestConfig()
				cfg.ChunkSize = 4096
				tt := newTestTorrent(t, newStore(t), cfg, randomData(4*16384+100), 16384)
				tt.download("a", 5)
				tt.requireComplete()
			})
			t.Run("WrongHash", func(t *testing.T) {
				tt := newTestTorrent(t, newStore(t), nil, randomData(2*16384), 2*16384)
				cs := tt.selectChunks("a", 2)
				require.Len(t, cs, 2)
				_, err := tt.deliver("a", cs[0])
				require.NoError(t, err)
				_, err = tt.engine.RecordFetched(tt.ctx, "a", cs[1].Ref, make([]byte, cs[1].Length))
				var whe *WrongHashError
				require.ErrorAs(t, err, &whe)
				tt.download("b", 2)
				tt.requireComplete()
			})
			t.Run("SelectConcurrentAtMostOnce", func(t *testing.T) {
				testSelectConcurrentAtMostOnce(t, newStore(t))
			})
			t.Run("ConcurrentDownload", func(t *testing.T) {
				testConcurrentDownload(t, newStore(t))
			})
			t.Run("Resume", func(t *testing.T) {
				cfg := newTestConfig()
				cfg.AutoAssemble = false
				tt := newTestTorrent(t, newStore(t), cfg, randomData(3*16384), 16384)
				tt.download("a", 1)
				assembled, err := tt.engine.Resume(tt.ctx, tt.owner)
				require.NoError(t, err)
				require.Len(t, assembled, 3)
				tt.requireComplete()
			})
		})
	}
}
