package policy

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-quicktest/qt"

	"github.com/anacrolix/chunkalloc/types"
)

func fixedLength(types.PieceIndex) int64 { return 1 << 18 }

func newTestOrdered(numPieces int) (*Ordered, types.Owner) {
	var owner types.Owner
	owner[0] = 42
	o := NewOrdered()
	o.AddTorrent(owner, numPieces, fixedLength)
	return o, owner
}

func request(t *testing.T, o *Ordered, owner types.Owner, candidates ...uint32) Decision {
	t.Helper()
	d, err := o.RequestNextPiece(context.Background(), owner, roaring.BitmapOf(candidates...))
	qt.Assert(t, qt.IsNil(err))
	return d
}

func TestOrderedSelectsLowestCandidate(t *testing.T) {
	o, owner := newTestOrdered(4)
	qt.Check(t, qt.Equals(request(t, o, owner, 3, 1), Select(1, 1<<18)))
	// Started pieces aren't selected again.
	qt.Check(t, qt.Equals(request(t, o, owner, 3, 1), Select(3, 1<<18)))
	qt.Check(t, qt.Equals(request(t, o, owner, 3, 1).Kind, NotInterested))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 2), Select(0, 1<<18)))
	qt.Check(t, qt.Equals(request(t, o, owner, 2), Select(2, 1<<18)))
	qt.Check(t, qt.Equals(request(t, o, owner).Kind, Endgame))
}

func TestOrderedPriority(t *testing.T) {
	o, owner := newTestOrdered(4)
	qt.Assert(t, qt.IsNil(o.SetPriority(owner, 2, PriorityHigh)))
	qt.Assert(t, qt.IsNil(o.SetPriority(owner, 3, PriorityNow)))
	qt.Assert(t, qt.IsNil(o.SetPriority(owner, 0, PriorityNone)))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1, 2, 3).Piece, 3))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1, 2, 3).Piece, 2))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1, 2, 3).Piece, 1))
	// Unwanted pieces don't hold off endgame.
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1, 2, 3).Kind, Endgame))
	qt.Check(t, qt.IsNotNil(o.SetPriority(owner, 4, PriorityHigh)))
}

func TestOrderedMarkStartedAndPending(t *testing.T) {
	o, owner := newTestOrdered(2)
	qt.Assert(t, qt.IsNil(o.MarkStarted(owner, 0)))
	qt.Check(t, qt.Equals(request(t, o, owner, 0).Kind, NotInterested))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1).Piece, 1))
	o.NotifyEndgame(owner)
	qt.Check(t, qt.IsTrue(o.InEndgame(owner)))
	qt.Assert(t, qt.IsNil(o.MarkPending(owner, 0)))
	qt.Check(t, qt.IsFalse(o.InEndgame(owner)))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1).Piece, 0))
}

func TestOrderedUnknownOwner(t *testing.T) {
	o := NewOrdered()
	_, err := o.RequestNextPiece(context.Background(), types.Owner{}, roaring.New())
	qt.Check(t, qt.IsNotNil(err))
	o.NotifyEndgame(types.Owner{})
	qt.Check(t, qt.IsFalse(o.InEndgame(types.Owner{})))
}

func TestOrderedEndgameSignal(t *testing.T) {
	o, owner := newTestOrdered(1)
	done, err := o.Endgame(owner)
	qt.Assert(t, qt.IsNil(err))
	select {
	case <-done:
		t.Fatal("endgame signalled early")
	default:
	}
	o.NotifyEndgame(owner)
	<-done
	qt.Assert(t, qt.IsNil(o.MarkPending(owner, 0)))
	// Nothing was started, so nothing went back to pending.
	qt.Check(t, qt.IsTrue(o.InEndgame(owner)))
	qt.Check(t, qt.Equals(request(t, o, owner, 0), Select(0, 1<<18)))
	qt.Assert(t, qt.IsNil(o.MarkPending(owner, 0)))
	done, err = o.Endgame(owner)
	qt.Assert(t, qt.IsNil(err))
	select {
	case <-done:
		t.Fatal("endgame should have been reset")
	default:
	}
	_, err = o.Endgame(types.Owner{})
	qt.Check(t, qt.IsNotNil(err))
}

func TestOrderedPieceReset(t *testing.T) {
	o, owner := newTestOrdered(2)
	qt.Assert(t, qt.Equals(request(t, o, owner, 0, 1), Select(0, 1<<18)))
	qt.Assert(t, qt.Equals(request(t, o, owner, 0, 1), Select(1, 1<<18)))
	o.NotifyEndgame(owner)
	qt.Assert(t, qt.IsTrue(o.InEndgame(owner)))
	o.PieceReset(owner, 0)
	qt.Check(t, qt.IsFalse(o.InEndgame(owner)))
	qt.Check(t, qt.Equals(request(t, o, owner, 0, 1), Select(0, 1<<18)))
	// Unknown owners are logged and ignored.
	o.PieceReset(types.Owner{9}, 0)
}
