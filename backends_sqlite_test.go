//go:build cgo
// +build cgo

package chunkalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/store/sqlite"
)

func init() {
	backends["sqlite"] = func(t testing.TB) store.Store {
		s, err := sqlite.New(sqlite.NewOpts{Memory: true})
		require.NoError(t, err)
		return s
	}
}
