// Package files is where completed pieces go: the hash check, and the durable write of pieces that
// pass it.
package files

import (
	"context"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

var (
	// The piece data didn't match the expected hash. Nothing was written.
	ErrWrongHash    = errors.New("piece hash mismatch")
	ErrUnknownOwner = errors.New("unknown owner")
)

type Store interface {
	// Checks data against the piece hash and writes it out. Returns an error wrapping ErrWrongHash
	// if the check fails.
	WritePiece(ctx context.Context, owner types.Owner, index types.PieceIndex, data []byte) error
}
