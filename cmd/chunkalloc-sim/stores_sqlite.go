//go:build cgo
// +build cgo

package main

import (
	"path/filepath"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/sqlite"
)

func init() {
	stores["sqlite"] = func(dir string) (store.Store, error) {
		return sqlite.New(sqlite.NewOpts{Path: filepath.Join(dir, "chunkalloc.db")})
	}
}
