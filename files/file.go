package files

import (
	"context"
	"os"
	"path/filepath"

	"github.com/anacrolix/sync"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

// Writes each torrent's data to a single file in a directory, named by the owner's hex.
type File struct {
	dir string
	// Sync after every piece write.
	Sync bool

	mu       sync.Mutex
	torrents map[types.Owner]*fileTorrent
}

type fileTorrent struct {
	v *Verifier
	f *os.File
}

var _ Store = (*File)(nil)

func NewFile(dir string) *File {
	return &File{
		dir:      dir,
		torrents: make(map[types.Owner]*fileTorrent),
	}
}

func (me *File) Path(owner types.Owner) string {
	return filepath.Join(me.dir, owner.HexString())
}

func (me *File) AddTorrent(owner types.Owner, info *metainfo.Info) error {
	v, err := NewVerifier(info)
	if err != nil {
		return err
	}
	err = os.MkdirAll(me.dir, 0o750)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(me.Path(owner), os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return err
	}
	err = f.Truncate(v.TotalLength())
	if err != nil {
		f.Close()
		return errors.Wrap(err, "truncating")
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if old, ok := me.torrents[owner]; ok {
		old.f.Close()
	}
	me.torrents[owner] = &fileTorrent{v, f}
	return nil
}

func (me *File) torrent(owner types.Owner) (*fileTorrent, error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	t, ok := me.torrents[owner]
	if !ok {
		return nil, ErrUnknownOwner
	}
	return t, nil
}

func (me *File) WritePiece(ctx context.Context, owner types.Owner, index types.PieceIndex, data []byte) error {
	t, err := me.torrent(owner)
	if err != nil {
		return err
	}
	if err := t.v.Verify(index, data); err != nil {
		return err
	}
	_, err = t.f.WriteAt(data, t.v.PieceOffset(index))
	if err != nil {
		return errors.Wrapf(err, "writing piece %v", index)
	}
	if me.Sync {
		return t.f.Sync()
	}
	return nil
}

func (me *File) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	var err error
	for owner, t := range me.torrents {
		if closeErr := t.f.Close(); err == nil {
			err = closeErr
		}
		delete(me.torrents, owner)
	}
	return err
}
