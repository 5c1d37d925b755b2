package chunkalloc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

var (
	// The chunk rows of a piece don't reassemble into the piece. This means the store is corrupt,
	// and isn't retried.
	ErrProtocolViolation = errors.New("protocol violation")
	// A chunk reference that doesn't exist, or was already fetched. Typically a late or duplicate
	// delivery, and safe to drop.
	ErrUnknownChunk = errors.New("unknown chunk")
	ErrUnknownPiece = errors.New("unknown piece")
	// An operation was applied to a piece in a state that the caller should have ruled out.
	ErrIntegrityViolation = errors.New("integrity violation")
	// The requester has nothing useful left among its candidate pieces.
	ErrNotInterested = errors.New("not interested")
	// Assemble was called on a piece that still has chunks outstanding.
	ErrPieceIncomplete = errors.New("piece incomplete")
)

// Returned by Assemble when the reassembled piece failed its hash check. The piece's chunks have
// been put back by the time this is returned. Unwraps to files.ErrWrongHash.
type WrongHashError struct {
	Piece types.PieceKey
	// Requesters that delivered chunks of the piece.
	Contributors []types.Requester
	Err          error
}

func (me *WrongHashError) Error() string {
	return fmt.Sprintf("%v: %v (contributors %q)", me.Piece, me.Err, me.Contributors)
}

func (me *WrongHashError) Unwrap() error {
	return me.Err
}
