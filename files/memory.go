package files

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/sync"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/anacrolix/chunkalloc/types"
)

// Keeps written pieces in memory. Useful for tests and simulation.
type Memory struct {
	mu       sync.Mutex
	torrents map[types.Owner]*memoryTorrent
}

type memoryTorrent struct {
	v       *Verifier
	data    []byte
	written *roaring.Bitmap
	writes  int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{torrents: make(map[types.Owner]*memoryTorrent)}
}

func (me *Memory) AddTorrent(owner types.Owner, info *metainfo.Info) error {
	v, err := NewVerifier(info)
	if err != nil {
		return err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	me.torrents[owner] = &memoryTorrent{
		v:       v,
		data:    make([]byte, v.TotalLength()),
		written: roaring.New(),
	}
	return nil
}

func (me *Memory) torrent(owner types.Owner) (*memoryTorrent, error) {
	t, ok := me.torrents[owner]
	if !ok {
		return nil, ErrUnknownOwner
	}
	return t, nil
}

func (me *Memory) WritePiece(ctx context.Context, owner types.Owner, index types.PieceIndex, data []byte) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return err
	}
	if err := t.v.Verify(index, data); err != nil {
		return err
	}
	copy(t.data[t.v.PieceOffset(index):], data)
	t.written.Add(uint32(index))
	t.writes++
	return nil
}

// Returns a copy of the torrent data, with zeroes where pieces haven't been written.
func (me *Memory) Bytes(owner types.Owner) []byte {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return nil
	}
	return append([]byte(nil), t.data...)
}

// Whether every piece of the owner has been written.
func (me *Memory) Complete(owner types.Owner) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return false
	}
	return t.written.GetCardinality() == uint64(t.v.NumPieces())
}

// Number of successful writes, including rewrites of the same piece.
func (me *Memory) Writes(owner types.Owner) int {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, err := me.torrent(owner)
	if err != nil {
		return 0
	}
	return t.writes
}
