// Package policy decides which piece a requester should begin on when none of the pieces it could
// download are already in progress.
package policy

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/anacrolix/chunkalloc/types"
)

type DecisionKind int

const (
	// The requester has nothing useful left among its candidates.
	NotInterested DecisionKind = iota
	// Every wanted piece has been started. Outstanding chunks should be requested from more than
	// one requester.
	Endgame
	// Piece and Length of the Decision name a piece to start.
	Selected
)

func (me DecisionKind) String() string {
	switch me {
	case NotInterested:
		return "not interested"
	case Endgame:
		return "endgame"
	case Selected:
		return "selected"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(me))
	}
}

type Decision struct {
	Kind   DecisionKind
	Piece  types.PieceIndex
	Length int64
}

func Select(piece types.PieceIndex, length int64) Decision {
	return Decision{Kind: Selected, Piece: piece, Length: length}
}

func (d Decision) String() string {
	if d.Kind == Selected {
		return fmt.Sprintf("selected piece %v (%v bytes)", d.Piece, d.Length)
	}
	return d.Kind.String()
}

type Oracle interface {
	// Picks a piece to start from the candidates, which are the piece indexes the requester could
	// usefully download.
	RequestNextPiece(ctx context.Context, owner types.Owner, candidates *roaring.Bitmap) (Decision, error)
	// Called once the last not-fetched piece of the owner has been chunked.
	NotifyEndgame(owner types.Owner)
}

// Optionally implemented by an Oracle that tracks which pieces it has handed out. PieceReset is
// called when a started piece loses its chunks and goes back to not fetched, so it can be
// selected again.
type Resetter interface {
	PieceReset(owner types.Owner, index types.PieceIndex)
}
