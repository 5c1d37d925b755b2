// Package types contains the row types shared by the allocator, the stores and the policies.
package types

import (
	"fmt"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/torrent/types/infohash"
	"github.com/google/uuid"
)

// Identifies the download session (torrent) that pieces and chunks belong to.
type Owner = infohash.T

type PieceIndex = int

// Reference to a single chunk row. Refs are never reused, so a delivery against a ref that has
// been dropped can be detected.
type ChunkRef = uuid.UUID

func NewChunkRef() ChunkRef {
	return uuid.New()
}

// Byte span of a chunk within its piece.
type ChunkSpec struct {
	Begin, Length int64
}

func (cs ChunkSpec) End() int64 {
	return cs.Begin + cs.Length
}

func (cs ChunkSpec) String() string {
	return fmt.Sprintf("%v bytes at %v", cs.Length, cs.Begin)
}

// A chunk of a particular piece.
type Request struct {
	Index PieceIndex
	ChunkSpec
}

func (r Request) String() string {
	return fmt.Sprintf("piece %v, %v bytes at %v", r.Index, r.Length, r.Begin)
}

type PieceState byte

const (
	PieceNotFetched PieceState = iota // Must be the zero value.
	PieceChunked
	PieceFetched
)

func (me PieceState) String() string {
	switch me {
	case PieceNotFetched:
		return "not fetched"
	case PieceChunked:
		return "chunked"
	case PieceFetched:
		return "fetched"
	default:
		return fmt.Sprintf("PieceState(%d)", byte(me))
	}
}

type ChunkState byte

const (
	ChunkNotFetched ChunkState = iota // Must be the zero value.
	ChunkAssigned
	ChunkFetched
)

func (me ChunkState) String() string {
	switch me {
	case ChunkNotFetched:
		return "not fetched"
	case ChunkAssigned:
		return "assigned"
	case ChunkFetched:
		return "fetched"
	default:
		return fmt.Sprintf("ChunkState(%d)", byte(me))
	}
}

type PieceKey struct {
	Owner Owner
	Index PieceIndex
}

func (me PieceKey) String() string {
	return fmt.Sprintf("%v piece %v", me.Owner, me.Index)
}

type Piece struct {
	Owner Owner
	Index PieceIndex
	State PieceState
	// Length of the piece in bytes. Known once the piece has been chunked.
	Length int64
	// Chunks not yet fetched. Only meaningful while Chunked.
	Remaining int
}

func (p Piece) Key() PieceKey {
	return PieceKey{p.Owner, p.Index}
}

// Returns an error if the row breaks the remaining/state relationship.
func (p Piece) Check() error {
	switch p.State {
	case PieceNotFetched:
		if p.Remaining != 0 {
			return fmt.Errorf("%v: not fetched with %v remaining", p.Key(), p.Remaining)
		}
	case PieceChunked:
		if p.Remaining < 0 {
			return fmt.Errorf("%v: negative remaining %v", p.Key(), p.Remaining)
		}
	case PieceFetched:
		if p.Remaining != 0 {
			return fmt.Errorf("%v: fetched with %v remaining", p.Key(), p.Remaining)
		}
	default:
		return fmt.Errorf("%v: bad state %v", p.Key(), p.State)
	}
	return nil
}

type Chunk struct {
	Ref   ChunkRef
	Owner Owner
	Piece PieceIndex
	ChunkSpec
	State ChunkState
	// Set while Assigned. A Fetched chunk keeps the requester that delivered it.
	Assignee g.Option[Requester]
	// Set only while Fetched.
	Payload g.Option[[]byte]
}

func (c Chunk) PieceKey() PieceKey {
	return PieceKey{c.Owner, c.Piece}
}

func (c Chunk) Request() Request {
	return Request{c.Piece, c.ChunkSpec}
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %v of %v: %v (%v)", c.Ref, c.PieceKey(), c.ChunkSpec, c.State)
}

// Returns the chunk reverted to NotFetched with assignee and payload cleared.
func (c Chunk) Reverted() Chunk {
	c.State = ChunkNotFetched
	c.Assignee = g.None[Requester]()
	c.Payload = g.None[[]byte]()
	return c
}

// Returns an error if the optional fields don't agree with the state.
func (c Chunk) Check() error {
	if c.Length <= 0 || c.Begin < 0 {
		return fmt.Errorf("%v: bad span", c)
	}
	switch c.State {
	case ChunkNotFetched:
		if c.Assignee.Ok || c.Payload.Ok {
			return fmt.Errorf("%v: has assignee or payload", c)
		}
	case ChunkAssigned:
		if !c.Assignee.Ok || c.Payload.Ok {
			return fmt.Errorf("%v: assigned without assignee, or with payload", c)
		}
	case ChunkFetched:
		if !c.Payload.Ok {
			return fmt.Errorf("%v: fetched without payload", c)
		}
		if int64(len(c.Payload.Value)) != c.Length {
			return fmt.Errorf("%v: payload has %v bytes", c, len(c.Payload.Value))
		}
	default:
		return fmt.Errorf("%v: bad state", c)
	}
	return nil
}
