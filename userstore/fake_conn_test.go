package userstore

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.gearno.de/ratelimitd/pg"
)

// fakeClient implements pgClient by running every WithConn callback
// against a single scripted fakeConn, with no real connection pool.
type fakeClient struct {
	conn *fakeConn
}

func (c *fakeClient) WithConn(ctx context.Context, exec pg.ExecFunc) error {
	return exec(c.conn)
}

// fakeConn implements pg.Conn. Only QueryRow is exercised by this
// package; the rest panic if called, so a test that accidentally
// depends on them fails loudly instead of silently doing nothing.
type fakeConn struct {
	queryRow func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	panic("fakeConn.Exec not implemented")
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("fakeConn.Query not implemented")
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.queryRow(ctx, sql, args...)
}

func (c *fakeConn) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, source pgx.CopyFromSource) (int64, error) {
	panic("fakeConn.CopyFrom not implemented")
}

func (c *fakeConn) SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults {
	panic("fakeConn.SendBatch not implemented")
}

// fakeRow implements pgx.Row by scanning pre-baked values, or
// returning a fixed error (e.g. pgx.ErrNoRows). Values are assigned
// via reflection, mirroring how pgx itself assigns into arbitrary
// scan targets.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		vv := reflect.ValueOf(r.values[i])
		dv.Set(vv)
	}

	return nil
}
