//go:build cgo
// +build cgo

package sqlite

import (
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	g "github.com/anacrolix/generics"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
	"github.com/anacrolix/chunkalloc/types"
)

type tx struct {
	conn     conn
	writable bool
}

var _ store.Tx = (*tx)(nil)

func (me *tx) checkWritable() error {
	if !me.writable {
		return store.ErrReadOnly
	}
	return nil
}

// Appends "and state in (...)" for a non-empty states list.
func stateFilter[S ~byte](query string, args []any, states []S) (string, []any) {
	if len(states) == 0 {
		return query, args
	}
	query += " and state in (" + strings.TrimSuffix(strings.Repeat("?,", len(states)), ",") + ")"
	for _, s := range states {
		args = append(args, int(s))
	}
	return query, args
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	b := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, b)
	return b
}

const pieceColumns = `owner, "index", state, length, remaining`

func scanPiece(stmt *sqlite.Stmt) (p types.Piece) {
	copy(p.Owner[:], columnBlob(stmt, 0))
	p.Index = stmt.ColumnInt(1)
	p.State = types.PieceState(stmt.ColumnInt(2))
	p.Length = stmt.ColumnInt64(3)
	p.Remaining = stmt.ColumnInt(4)
	return
}

func (me *tx) Piece(owner types.Owner, index types.PieceIndex) (p types.Piece, ok bool, err error) {
	err = sqlitex.Exec(
		me.conn,
		`select `+pieceColumns+` from piece where owner=? and "index"=?`,
		func(stmt *sqlite.Stmt) error {
			p = scanPiece(stmt)
			ok = true
			return nil
		},
		owner[:], index)
	return
}

func (me *tx) PutPiece(p types.Piece) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	return sqlitex.Exec(
		me.conn,
		`insert or replace into piece(`+pieceColumns+`) values(?, ?, ?, ?, ?)`,
		nil,
		p.Owner[:], p.Index, int(p.State), p.Length, p.Remaining)
}

func (me *tx) DeletePiece(owner types.Owner, index types.PieceIndex) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	return sqlitex.Exec(me.conn, `delete from piece where owner=? and "index"=?`, nil, owner[:], index)
}

func (me *tx) Pieces(owner types.Owner, states ...types.PieceState) (ret []types.Piece, err error) {
	query, args := stateFilter(
		`select `+pieceColumns+` from piece where owner=?`,
		[]any{owner[:]},
		states)
	err = sqlitex.Exec(me.conn, query+` order by "index"`, func(stmt *sqlite.Stmt) error {
		ret = append(ret, scanPiece(stmt))
		return nil
	}, args...)
	return
}

const chunkColumns = `ref, owner, piece, begin, length, state, assignee, payload`

func scanChunk(stmt *sqlite.Stmt) (c types.Chunk, err error) {
	ref := columnBlob(stmt, 0)
	if len(ref) != len(c.Ref) {
		err = errors.Errorf("bad chunk ref %x", ref)
		return
	}
	copy(c.Ref[:], ref)
	copy(c.Owner[:], columnBlob(stmt, 1))
	c.Piece = stmt.ColumnInt(2)
	c.Begin = stmt.ColumnInt64(3)
	c.Length = stmt.ColumnInt64(4)
	c.State = types.ChunkState(stmt.ColumnInt(5))
	if stmt.ColumnType(6) != sqlite.SQLITE_NULL {
		c.Assignee = g.Some(types.Requester(stmt.ColumnText(6)))
	}
	if stmt.ColumnType(7) != sqlite.SQLITE_NULL {
		c.Payload = g.Some(columnBlob(stmt, 7))
	}
	return
}

func (me *tx) queryChunks(query string, args ...any) (ret []types.Chunk, err error) {
	err = sqlitex.Exec(me.conn, query, func(stmt *sqlite.Stmt) error {
		c, err := scanChunk(stmt)
		if err != nil {
			return err
		}
		ret = append(ret, c)
		return nil
	}, args...)
	return
}

func (me *tx) Chunk(ref types.ChunkRef) (c types.Chunk, ok bool, err error) {
	cs, err := me.queryChunks(`select `+chunkColumns+` from chunk where ref=?`, ref[:])
	if err != nil || len(cs) == 0 {
		return
	}
	return cs[0], true, nil
}

func (me *tx) PutChunk(c types.Chunk) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	if c.Ref == (types.ChunkRef{}) {
		return errors.New("chunk has zero ref")
	}
	var assignee, payload any
	if c.Assignee.Ok {
		assignee = string(c.Assignee.Value)
	}
	if c.Payload.Ok {
		payload = c.Payload.Value
	}
	return sqlitex.Exec(
		me.conn,
		`insert or replace into chunk(`+chunkColumns+`) values(?, ?, ?, ?, ?, ?, ?, ?)`,
		nil,
		c.Ref[:], c.Owner[:], c.Piece, c.Begin, c.Length, int(c.State), assignee, payload)
}

func (me *tx) DeleteChunk(ref types.ChunkRef) error {
	if err := me.checkWritable(); err != nil {
		return err
	}
	return sqlitex.Exec(me.conn, `delete from chunk where ref=?`, nil, ref[:])
}

func (me *tx) PieceChunks(
	owner types.Owner, index types.PieceIndex, states ...types.ChunkState,
) ([]types.Chunk, error) {
	query, args := stateFilter(
		`select `+chunkColumns+` from chunk where owner=? and piece=?`,
		[]any{owner[:], index},
		states)
	return me.queryChunks(query+` order by begin, ref`, args...)
}

func (me *tx) OwnerChunks(owner types.Owner, states ...types.ChunkState) ([]types.Chunk, error) {
	query, args := stateFilter(
		`select `+chunkColumns+` from chunk where owner=?`,
		[]any{owner[:]},
		states)
	return me.queryChunks(query+` order by piece, begin, ref`, args...)
}
