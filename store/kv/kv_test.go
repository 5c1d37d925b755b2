package kv

import (
	"bytes"
	"context"
	"testing"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/sync"
	"github.com/go-quicktest/qt"
	"github.com/tidwall/btree"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/storetest"
	"github.com/anacrolix/chunkalloc/types"
)

type item struct {
	key, value []byte
}

func itemLess(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type treeBucket struct {
	*btree.BTreeG[item]
}

func (me treeBucket) Get(key []byte) ([]byte, error) {
	it, _ := me.BTreeG.Get(item{key: key})
	return it.value, nil
}

func (me treeBucket) Put(key, value []byte) error {
	me.Set(item{bytes.Clone(key), bytes.Clone(value)})
	return nil
}

func (me treeBucket) Delete(key []byte) error {
	me.BTreeG.Delete(item{key: key})
	return nil
}

func (me treeBucket) Scan(prefix []byte, f func(key, value []byte) bool) error {
	me.Ascend(item{key: prefix}, func(it item) bool {
		return bytes.HasPrefix(it.key, prefix) && f(it.key, it.value)
	})
	return nil
}

// Runs the row layout over a plain ordered map, with one writer at a time.
type treeStore struct {
	mu   sync.Mutex
	tree *btree.BTreeG[item]
}

func (me *treeStore) Update(ctx context.Context, f func(store.Tx) error) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	tree := me.tree.Copy()
	err := f(NewTx(treeBucket{tree}, true))
	if err == nil {
		me.tree = tree
	}
	return err
}

func (me *treeStore) View(ctx context.Context, f func(store.Tx) error) error {
	me.mu.Lock()
	tree := me.tree.Copy()
	me.mu.Unlock()
	return f(NewTx(treeBucket{tree}, false))
}

func (me *treeStore) Close() error {
	return nil
}

func TestLayout(t *testing.T) {
	storetest.Test(t, func(testing.TB) store.Store {
		return &treeStore{tree: btree.NewBTreeG(itemLess)}
	})
}

func TestChunkCodecOptionals(t *testing.T) {
	c := types.Chunk{
		Ref:       types.NewChunkRef(),
		Owner:     types.Owner{1},
		Piece:     3,
		ChunkSpec: types.ChunkSpec{Begin: 1 << 14, Length: 3},
		State:     types.ChunkFetched,
		Assignee:  g.Some(types.Requester("")),
		Payload:   g.Some([]byte("abc")),
	}
	b, err := encodeChunk(c)
	qt.Assert(t, qt.IsNil(err))
	d, err := decodeChunk(c.Ref, b)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(d, c))
	c = c.Reverted()
	b, err = encodeChunk(c)
	qt.Assert(t, qt.IsNil(err))
	d, err = decodeChunk(c.Ref, b)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(d, c))
}

// Chunk index keys sort by piece, then offset, whatever the refs.
func TestPieceChunkKeyOrder(t *testing.T) {
	chunk := func(piece types.PieceIndex, begin int64, ref byte) []byte {
		return pieceChunkKey(types.Chunk{
			Ref:       types.ChunkRef{ref},
			Piece:     piece,
			ChunkSpec: types.ChunkSpec{Begin: begin, Length: 1},
		})
	}
	keys := [][]byte{
		chunk(0, 0, 9),
		chunk(0, 1<<14, 1),
		chunk(0, 1<<16, 0),
		chunk(1, 0, 0),
		chunk(256, 0, 0),
	}
	for i := range keys[1:] {
		qt.Check(t, qt.IsTrue(bytes.Compare(keys[i], keys[i+1]) < 0))
	}
	ref, err := refFromIndexKey(keys[0])
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(ref, types.ChunkRef{9}))
}
