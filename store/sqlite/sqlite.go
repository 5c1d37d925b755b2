//go:build cgo
// +build cgo

// Package sqlite provides a store.Store backed by a single SQLite connection. Pieces and chunks are
// real tables with indexes on the columns the allocator filters by.
package sqlite

import (
	"context"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/anacrolix/sync"
	"github.com/pkg/errors"

	"github.com/anacrolix/chunkalloc/store"
)

type conn = *sqlite.Conn

func initConn(conn conn) error {
	err := sqlitex.ExecTransient(conn, `pragma synchronous=off`, nil)
	if err != nil {
		return err
	}
	return sqlitex.ExecTransient(conn, `pragma foreign_keys=on`, nil)
}

func initSchema(conn conn) error {
	return sqlitex.ExecScript(conn, `
create table if not exists piece(
	owner blob not null,
	"index" integer not null,
	state integer not null,
	length integer not null,
	remaining integer not null,
	primary key (owner, "index")
);

create index if not exists piece_state on piece(owner, state, "index");

create table if not exists chunk(
	ref blob primary key,
	owner blob not null,
	piece integer not null,
	begin integer not null,
	length integer not null,
	state integer not null,
	assignee text,
	payload blob
);

create index if not exists chunk_piece on chunk(owner, piece, begin);
create index if not exists chunk_state on chunk(owner, state, piece, begin);
`)
}

type NewOpts struct {
	// Path to the database file. Ignored if Memory is set.
	Path   string
	Memory bool
}

// Transactions run one at a time on the connection, so they don't conflict.
type Store struct {
	mu   sync.Mutex
	conn conn
}

var _ store.Store = (*Store)(nil)

func New(opts NewOpts) (_ *Store, err error) {
	path := opts.Path
	if opts.Memory {
		path = ":memory:"
	}
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite conn")
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()
	err = initConn(conn)
	if err != nil {
		return nil, errors.Wrap(err, "initing conn")
	}
	err = initSchema(conn)
	if err != nil {
		return nil, errors.Wrap(err, "initing schema")
	}
	return &Store{conn: conn}, nil
}

func (me *Store) withConn(ctx context.Context, f func(conn) error) (err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.conn == nil {
		return errors.New("store closed")
	}
	defer sqlitex.Save(me.conn)(&err)
	return f(me.conn)
}

func (me *Store) Update(ctx context.Context, f func(store.Tx) error) error {
	return me.withConn(ctx, func(c conn) error {
		return f(&tx{conn: c, writable: true})
	})
}

func (me *Store) View(ctx context.Context, f func(store.Tx) error) error {
	return me.withConn(ctx, func(c conn) error {
		return f(&tx{conn: c})
	})
}

func (me *Store) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.conn == nil {
		return nil
	}
	err := me.conn.Close()
	me.conn = nil
	return err
}
