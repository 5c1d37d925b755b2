// Package memory is an in-memory store.Store. Transactions run against copy-on-write snapshots
// of the tables, and commit only if no other transaction committed since the snapshot was taken.
// There is one version for the whole store, so any two overlapping writing transactions conflict,
// even if they touch unrelated rows. Transactions that write nothing never conflict.
package memory

import (
	"context"

	"github.com/anacrolix/sync"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

var errClosed = errors.New("store closed")

type tables struct {
	pieces  *btree.BTreeG[types.Piece]
	chunks  *btree.BTreeG[types.Chunk]
	byPiece *btree.BTreeG[chunkKey]
	byState *btree.BTreeG[chunkKey]
}

func newTables() tables {
	opts := btree.Options{NoLocks: true}
	return tables{
		pieces:  btree.NewBTreeGOptions(pieceLess, opts),
		chunks:  btree.NewBTreeGOptions(chunkRefLess, opts),
		byPiece: btree.NewBTreeGOptions(byPieceLess, opts),
		byState: btree.NewBTreeGOptions(byStateLess, opts),
	}
}

// Lazy copies. Neither side may be shared with another goroutine that writes to it.
func (me tables) copy() tables {
	return tables{
		pieces:  me.pieces.Copy(),
		chunks:  me.chunks.Copy(),
		byPiece: me.byPiece.Copy(),
		byState: me.byState.Copy(),
	}
}

type Store struct {
	mu      sync.Mutex
	closed  bool
	version uint64
	tables  tables
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{tables: newTables()}
}

func (me *Store) snapshot() (tables, uint64, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return tables{}, 0, errClosed
	}
	return me.tables.copy(), me.version, nil
}

func (me *Store) Update(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tables, version, err := me.snapshot()
	if err != nil {
		return err
	}
	tx := &tx{tables: tables, writable: true}
	err = f(tx)
	if err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return errClosed
	}
	if me.version != version {
		return store.ErrConflict
	}
	me.tables = tx.tables
	me.version++
	return nil
}

func (me *Store) View(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tables, _, err := me.snapshot()
	if err != nil {
		return err
	}
	return f(&tx{tables: tables})
}

func (me *Store) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.closed = true
	me.tables = tables{}
	return nil
}
