/*
Package chunkalloc hands out chunks of torrent pieces to requesting peer connections, tracks them
until they arrive, and reassembles and writes out each piece once its last chunk is in.

Piece and chunk rows live in a transactional store.Store. Pieces are split into chunks lazily, the
first time a requester is given something from them. When every wanted piece has been started the
engine enters endgame, and hands out chunks that are already assigned so that slow requesters can
be raced.

Simple example:

	e := chunkalloc.New(memory.New(), oracle, fileStore, chunkalloc.NewDefaultConfig())
	e.AddOwner(ctx, infoHash, numPieces)
	chunks, err := e.SelectChunks(ctx, "peer", infoHash, peerHas, 8)
	// ... fetch chunks from the peer
	progress, err := e.RecordFetched(ctx, "peer", chunk.Ref, data)
*/
package chunkalloc
