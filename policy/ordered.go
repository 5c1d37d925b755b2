package policy

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

// An Oracle that starts wanted pieces in priority order, then index order. It doesn't rank by
// availability.
type Ordered struct {
	Logger log.Logger

	mu       sync.Mutex
	torrents map[types.Owner]*orderedTorrent
}

type orderedTorrent struct {
	pieceLength func(types.PieceIndex) int64
	numPieces   int
	// Wanted pieces that haven't been started.
	pending *pieceOrder
	started *roaring.Bitmap
	// Replaced when a piece goes back to pending.
	endgame *chansync.SetOnce
}

var (
	_ Oracle   = (*Ordered)(nil)
	_ Resetter = (*Ordered)(nil)
)

func NewOrdered() *Ordered {
	return &Ordered{
		Logger:   log.Default.WithNames("policy"),
		torrents: make(map[types.Owner]*orderedTorrent),
	}
}

// Registers the owner's pieces, all wanted at normal priority.
func (me *Ordered) AddTorrent(owner types.Owner, numPieces int, pieceLength func(types.PieceIndex) int64) {
	t := &orderedTorrent{
		pieceLength: pieceLength,
		numPieces:   numPieces,
		pending:     newPieceOrder(numPieces),
		started:     roaring.New(),
		endgame:     new(chansync.SetOnce),
	}
	for i := 0; i < numPieces; i++ {
		t.pending.Set(i, PriorityNormal)
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	me.torrents[owner] = t
}

func (me *Ordered) RemoveTorrent(owner types.Owner) {
	me.mu.Lock()
	defer me.mu.Unlock()
	delete(me.torrents, owner)
}

func (me *Ordered) torrent(owner types.Owner) (*orderedTorrent, error) {
	t, ok := me.torrents[owner]
	if !ok {
		return nil, errors.Errorf("unknown owner %v", owner)
	}
	return t, nil
}

// Changes the priority of a piece that hasn't been started. PriorityNone stops it being selected.
func (me *Ordered) SetPriority(owner types.Owner, index types.PieceIndex, priority Priority) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return err
	}
	if index < 0 || index >= t.numPieces {
		return errors.Errorf("piece index %v out of range", index)
	}
	if t.started.Contains(uint32(index)) {
		return nil
	}
	if priority == PriorityNone {
		t.pending.Delete(index)
	} else {
		t.pending.Set(index, priority)
	}
	return nil
}

// Records that a piece was started elsewhere, such as when restoring from a persistent store.
func (me *Ordered) MarkStarted(owner types.Owner, index types.PieceIndex) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return err
	}
	t.pending.Delete(index)
	t.started.Add(uint32(index))
	return nil
}

// Returns a started piece to the pending set at normal priority.
func (me *Ordered) MarkPending(owner types.Owner, index types.PieceIndex) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return err
	}
	if !t.started.CheckedRemove(uint32(index)) {
		return nil
	}
	t.pending.Set(index, PriorityNormal)
	if t.endgame.IsSet() {
		t.endgame = new(chansync.SetOnce)
	}
	return nil
}

func (me *Ordered) PieceReset(owner types.Owner, index types.PieceIndex) {
	err := me.MarkPending(owner, index)
	if err != nil {
		me.Logger.Levelf(log.Warning, "resetting piece %v: %v", index, err)
	}
}

func (me *Ordered) RequestNextPiece(
	ctx context.Context, owner types.Owner, candidates *roaring.Bitmap,
) (d Decision, err error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return
	}
	if t.pending.Len() == 0 {
		d.Kind = Endgame
		return
	}
	d.Kind = NotInterested
	t.pending.Scan(func(index types.PieceIndex, _ Priority) bool {
		if !candidates.Contains(uint32(index)) {
			return true
		}
		d = Select(index, t.pieceLength(index))
		return false
	})
	if d.Kind == Selected {
		t.pending.Delete(d.Piece)
		t.started.Add(uint32(d.Piece))
	}
	return
}

func (me *Ordered) NotifyEndgame(owner types.Owner) {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return
	}
	if t.endgame.Set() {
		me.Logger.Levelf(log.Debug, "%v entered endgame", owner)
	}
}

func (me *Ordered) InEndgame(owner types.Owner) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	return err == nil && t.endgame.IsSet()
}

// Closed when the owner enters endgame. A piece returning to pending doesn't reopen a channel
// that was already returned.
func (me *Ordered) Endgame(owner types.Owner) (<-chan struct{}, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return nil, err
	}
	return t.endgame.Done(), nil
}
