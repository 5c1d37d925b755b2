package chunkalloc

import (
	"github.com/prometheus/client_golang/prometheus"
)

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chunkalloc",
		Name:      name,
		Help:      help,
	})
}

var (
	chunksAssigned   = newCounter("chunks_assigned_total", "Chunks handed to a requester outside endgame.")
	endgameChunks    = newCounter("endgame_chunks_total", "Chunks handed out in endgame, including duplicates.")
	chunksFetched    = newCounter("chunks_fetched_total", "Chunk deliveries recorded.")
	unknownChunks    = newCounter("unknown_chunks_total", "Chunk deliveries dropped for a stale or duplicate ref.")
	chunksPutBack    = newCounter("chunks_put_back_total", "Chunks returned to the pool by recovery.")
	piecesChunked    = newCounter("pieces_chunked_total", "Pieces split into chunks.")
	piecesCompleted  = newCounter("pieces_completed_total", "Pieces that passed their hash check and were written.")
	piecesWrongHash  = newCounter("pieces_wrong_hash_total", "Reassembled pieces that failed their hash check.")
	storeTxConflicts = newCounter("store_tx_conflicts_total", "Store transactions retried after a conflict.")
)

func init() {
	prometheus.MustRegister(
		chunksAssigned,
		endgameChunks,
		chunksFetched,
		unknownChunks,
		chunksPutBack,
		piecesChunked,
		piecesCompleted,
		piecesWrongHash,
		storeTxConflicts,
	)
}
