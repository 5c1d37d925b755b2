package chunkalloc

import (
	"math/rand/v2"

	"github.com/anacrolix/log"

	"github.com/anacrolix/chunkalloc/types"
)

// The usual BitTorrent request size.
const DefaultChunkSize = 1 << 14

// Probably not safe to modify this after it's given to an Engine.
type Config struct {
	// Chunk size for pieces that ChunkSizeFor doesn't override.
	ChunkSize int64
	// Optional per-piece override of the chunk size. Returning zero falls back to ChunkSize.
	ChunkSizeFor func(owner types.Owner, index types.PieceIndex) int64
	// Assemble a piece from within RecordFetched as soon as its last chunk arrives. Otherwise
	// the caller runs Assemble when RecordFetched reports the piece complete.
	AutoAssemble bool
	// Reorders the chunks handed out in endgame. The default shuffles them so that requesters
	// racing for the same chunks start from different places. Nil leaves them in piece order.
	ShuffleEndgame func([]types.Chunk)
	Logger         log.Logger
}

func shuffleChunks(cs []types.Chunk) {
	rand.Shuffle(len(cs), func(i, j int) {
		cs[i], cs[j] = cs[j], cs[i]
	})
}

func NewDefaultConfig() *Config {
	return &Config{
		ChunkSize:      DefaultChunkSize,
		AutoAssemble:   true,
		ShuffleEndgame: shuffleChunks,
		Logger:         log.Default.WithNames("chunkalloc"),
	}
}

func (cfg *Config) chunkSize(owner types.Owner, index types.PieceIndex) int64 {
	if cfg.ChunkSizeFor != nil {
		if cs := cfg.ChunkSizeFor(owner, index); cs > 0 {
			return cs
		}
	}
	return cfg.ChunkSize
}
