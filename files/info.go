package files

import (
	"crypto/sha1"

	"github.com/anacrolix/torrent/metainfo"
)

// Builds a single-file info with v1 piece hashes for data held in memory.
func NewInfo(name string, data []byte, pieceLength int64) *metainfo.Info {
	info := &metainfo.Info{
		Name:        name,
		PieceLength: pieceLength,
		Length:      int64(len(data)),
	}
	for off := int64(0); off < int64(len(data)); off += pieceLength {
		sum := sha1.Sum(data[off:min(off+pieceLength, int64(len(data)))])
		info.Pieces = append(info.Pieces, sum[:]...)
	}
	return info
}
