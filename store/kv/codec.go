package kv

import (
	"bytes"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/types"
)

type pieceRow struct {
	State     int   `bencode:"s"`
	Length    int64 `bencode:"l"`
	Remaining int   `bencode:"r"`
}

type chunkRow struct {
	Owner       []byte `bencode:"o"`
	Piece       int    `bencode:"p"`
	Begin       int64  `bencode:"b"`
	Length      int64  `bencode:"l"`
	State       int    `bencode:"s"`
	HasAssignee int    `bencode:"A,omitempty"`
	Assignee    string `bencode:"a,omitempty"`
	HasPayload  int    `bencode:"D,omitempty"`
	Payload     []byte `bencode:"d,omitempty"`
}

func encodePiece(p types.Piece) ([]byte, error) {
	return bencode.Marshal(pieceRow{
		State:     int(p.State),
		Length:    p.Length,
		Remaining: p.Remaining,
	})
}

func decodePiece(owner types.Owner, index types.PieceIndex, b []byte) (p types.Piece, err error) {
	var row pieceRow
	err = bencode.Unmarshal(b, &row)
	if err != nil {
		err = errors.Wrapf(err, "decoding piece %v of %v", index, owner)
		return
	}
	p = types.Piece{
		Owner:     owner,
		Index:     index,
		State:     types.PieceState(row.State),
		Length:    row.Length,
		Remaining: row.Remaining,
	}
	return
}

func encodeChunk(c types.Chunk) ([]byte, error) {
	row := chunkRow{
		Owner:  c.Owner[:],
		Piece:  c.Piece,
		Begin:  c.Begin,
		Length: c.Length,
		State:  int(c.State),
	}
	if c.Assignee.Ok {
		row.HasAssignee = 1
		row.Assignee = string(c.Assignee.Value)
	}
	if c.Payload.Ok {
		row.HasPayload = 1
		row.Payload = c.Payload.Value
	}
	return bencode.Marshal(row)
}

func decodeChunk(ref types.ChunkRef, b []byte) (c types.Chunk, err error) {
	var row chunkRow
	err = bencode.Unmarshal(b, &row)
	if err != nil {
		err = errors.Wrapf(err, "decoding chunk %v", ref)
		return
	}
	if len(row.Owner) != ownerLen {
		err = errors.Errorf("chunk %v has owner of length %v", ref, len(row.Owner))
		return
	}
	c = types.Chunk{
		Ref:   ref,
		Piece: row.Piece,
		ChunkSpec: types.ChunkSpec{
			Begin:  row.Begin,
			Length: row.Length,
		},
		State: types.ChunkState(row.State),
	}
	copy(c.Owner[:], row.Owner)
	if row.HasAssignee != 0 {
		c.Assignee = g.Some(types.Requester(row.Assignee))
	}
	if row.HasPayload != 0 {
		// Backends may reuse the decoded buffer after the transaction.
		c.Payload = g.Some(bytes.Clone(row.Payload))
	}
	return
}
