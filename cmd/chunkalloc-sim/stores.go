package main

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/bolt"
	"github.com/anacrolix/chunkalloc/store/leveldb"
	"github.com/anacrolix/chunkalloc/store/memory"
)

type openStoreFunc func(dir string) (store.Store, error)

var stores = map[string]openStoreFunc{
	"memory": func(string) (store.Store, error) {
		return memory.New(), nil
	},
	"bolt": func(dir string) (store.Store, error) {
		return bolt.New(dir)
	},
	"leveldb": func(dir string) (store.Store, error) {
		return leveldb.New(filepath.Join(dir, "leveldb"))
	},
}

func openStore(name, dir string) (store.Store, error) {
	open, ok := stores[name]
	if !ok {
		return nil, errors.Errorf("unknown store %q", name)
	}
	return open(dir)
}
