package files

import (
	"bytes"
	"crypto/sha1"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

// Piece dimensions and v1 hashes of a torrent.
type Verifier struct {
	pieceLength int64
	totalLength int64
	hashes      []byte
}

func NewVerifier(info *metainfo.Info) (*Verifier, error) {
	if info.PieceLength <= 0 {
		return nil, errors.Errorf("bad piece length %v", info.PieceLength)
	}
	if len(info.Pieces)%metainfo.HashSize != 0 {
		return nil, errors.Errorf("pieces field has length %v", len(info.Pieces))
	}
	v := &Verifier{
		pieceLength: info.PieceLength,
		totalLength: info.TotalLength(),
		hashes:      info.Pieces,
	}
	if want := (v.totalLength + v.pieceLength - 1) / v.pieceLength; int64(v.NumPieces()) != want {
		return nil, errors.Errorf("have %v piece hashes for %v pieces", v.NumPieces(), want)
	}
	return v, nil
}

func (v *Verifier) NumPieces() int {
	return len(v.hashes) / metainfo.HashSize
}

func (v *Verifier) TotalLength() int64 {
	return v.totalLength
}

// Offset of the piece within the torrent data.
func (v *Verifier) PieceOffset(index types.PieceIndex) int64 {
	return int64(index) * v.pieceLength
}

func (v *Verifier) PieceLength(index types.PieceIndex) int64 {
	if index < 0 || index >= v.NumPieces() {
		return 0
	}
	return min(v.pieceLength, v.totalLength-v.PieceOffset(index))
}

func (v *Verifier) Verify(index types.PieceIndex, data []byte) error {
	if index < 0 || index >= v.NumPieces() {
		return errors.Errorf("piece index %v out of range", index)
	}
	if int64(len(data)) != v.PieceLength(index) {
		return errors.Wrapf(ErrWrongHash, "piece %v has %v bytes, expected %v", index, len(data), v.PieceLength(index))
	}
	sum := sha1.Sum(data)
	want := v.hashes[index*metainfo.HashSize : (index+1)*metainfo.HashSize]
	if !bytes.Equal(sum[:], want) {
		return errors.Wrapf(ErrWrongHash, "piece %v", index)
	}
	return nil
}
