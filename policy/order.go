package policy

import (
	"github.com/anacrolix/multiless"
	"github.com/tidwall/btree"

	"github.com/anacrolix/chunkalloc/types"
)

type pieceOrderItem struct {
	index    types.PieceIndex
	priority Priority
}

func pieceOrderLess(i, j pieceOrderItem) bool {
	return multiless.New().Int(
		int(j.priority), int(i.priority),
	).Int(
		i.index, j.index,
	).Less()
}

// Pieces not yet started, highest priority first, then by index.
type pieceOrder struct {
	tree *btree.BTreeG[pieceOrderItem]
	keys map[types.PieceIndex]Priority
}

func newPieceOrder(cap int) *pieceOrder {
	return &pieceOrder{
		tree: btree.NewBTreeGOptions(pieceOrderLess, btree.Options{NoLocks: true}),
		keys: make(map[types.PieceIndex]Priority, cap),
	}
}

// Returns true if the piece was added or its priority changed.
func (me *pieceOrder) Set(index types.PieceIndex, priority Priority) bool {
	if old, ok := me.keys[index]; ok {
		if old == priority {
			return false
		}
		me.tree.Delete(pieceOrderItem{index, old})
	}
	me.tree.Set(pieceOrderItem{index, priority})
	me.keys[index] = priority
	return true
}

func (me *pieceOrder) Delete(index types.PieceIndex) bool {
	priority, ok := me.keys[index]
	if !ok {
		return false
	}
	me.tree.Delete(pieceOrderItem{index, priority})
	delete(me.keys, index)
	return true
}

func (me *pieceOrder) Contains(index types.PieceIndex) bool {
	_, ok := me.keys[index]
	return ok
}

func (me *pieceOrder) Len() int {
	return len(me.keys)
}

func (me *pieceOrder) Scan(f func(index types.PieceIndex, priority Priority) bool) {
	me.tree.Scan(func(item pieceOrderItem) bool {
		return f(item.index, item.priority)
	})
}
