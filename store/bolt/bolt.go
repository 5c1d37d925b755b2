// Package bolt provides a store.Store backed by a bbolt database. bbolt runs one read-write
// transaction at a time, so transactions never conflict.
package bolt

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/kv"
)

var bucketName = []byte("chunkalloc")

type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// Opens or creates the database "bolt.db" in dir.
func New(dir string) (*Store, error) {
	db, err := bbolt.Open(filepath.Join(dir, "bolt.db"), 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt db")
	}
	db.NoSync = true
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating bucket")
	}
	return &Store{db}, nil
}

func (me *Store) Update(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return me.db.Update(func(tx *bbolt.Tx) error {
		return f(kv.NewTx(bucket{tx.Bucket(bucketName)}, true))
	})
}

func (me *Store) View(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return me.db.View(func(tx *bbolt.Tx) error {
		return f(kv.NewTx(bucket{tx.Bucket(bucketName)}, false))
	})
}

func (me *Store) Close() error {
	return me.db.Close()
}

type bucket struct {
	b *bbolt.Bucket
}

func (me bucket) Get(key []byte) ([]byte, error) {
	return me.b.Get(key), nil
}

func (me bucket) Put(key, value []byte) error {
	return me.b.Put(key, value)
}

func (me bucket) Delete(key []byte) error {
	return me.b.Delete(key)
}

func (me bucket) Scan(prefix []byte, f func(key, value []byte) bool) error {
	c := me.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !f(k, v) {
			break
		}
	}
	return nil
}
