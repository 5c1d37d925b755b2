// Package leveldb provides a store.Store backed by goleveldb. Read-write transactions are
// exclusive, and reads run against snapshots.
package leveldb

import (
	"context"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/kv"
)

type Store struct {
	db *leveldb.DB
}

var _ store.Store = (*Store)(nil)

func New(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb")
	}
	return &Store{db}, nil
}

func (me *Store) Update(ctx context.Context, f func(store.Tx) error) (err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	tr, err := me.db.OpenTransaction()
	if err != nil {
		return errors.Wrap(err, "opening transaction")
	}
	committed := false
	// Discarding releases the write lock if f panics.
	defer func() {
		if !committed {
			tr.Discard()
		}
	}()
	err = f(kv.NewTx(transaction{tr}, true))
	if err != nil {
		return
	}
	err = tr.Commit()
	committed = err == nil
	return
}

func (me *Store) View(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := me.db.GetSnapshot()
	if err != nil {
		return errors.Wrap(err, "getting snapshot")
	}
	defer snap.Release()
	return f(kv.NewTx(snapshot{snap}, false))
}

func (me *Store) Close() error {
	return me.db.Close()
}

type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

func get(r reader, key []byte) ([]byte, error) {
	v, err := r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func scan(r reader, prefix []byte, f func(key, value []byte) bool) error {
	it := r.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if !f(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

type transaction struct {
	tr *leveldb.Transaction
}

func (me transaction) Get(key []byte) ([]byte, error) {
	return get(me.tr, key)
}

func (me transaction) Put(key, value []byte) error {
	return me.tr.Put(key, value, nil)
}

func (me transaction) Delete(key []byte) error {
	return me.tr.Delete(key, nil)
}

func (me transaction) Scan(prefix []byte, f func(key, value []byte) bool) error {
	return scan(me.tr, prefix, f)
}

// Wraps a snapshot as a Bucket for View. The store.Tx rejects writes before they get here.
type snapshot struct {
	s *leveldb.Snapshot
}

func (me snapshot) Get(key []byte) ([]byte, error) {
	return get(me.s, key)
}

func (me snapshot) Put(key, value []byte) error {
	return store.ErrReadOnly
}

func (me snapshot) Delete(key []byte) error {
	return store.ErrReadOnly
}

func (me snapshot) Scan(prefix []byte, f func(key, value []byte) bool) error {
	return scan(me.s, prefix, f)
}
