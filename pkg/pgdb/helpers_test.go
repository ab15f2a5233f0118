package pgdb

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// errConnRefused mimics a dial failure against an unreachable server.
var errConnRefused error = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// errStatementFailed mimics a server-side statement error.
var errStatementFailed error = &pgconn.PgError{Code: "42601", Message: "syntax error"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scan(dest...)
}

type fakeConn struct {
	db       *fakeDatabase
	released bool
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db.Exec(ctx, sql, args...)
}

func (c *fakeConn) Release() {
	c.released = true
}

// fakeDatabase records every statement and answers scalar queries via
// the scanValue hook.
type fakeDatabase struct {
	mu         sync.Mutex
	statements []string

	// execErr, when set, decides per-statement failures.
	execErr func(sql string) error
	// scanValue, when set, decides the scalar result of a QueryRow.
	// Returning an error makes Scan fail with it.
	scanValue func(sql string) (int, error)

	pings  int
	closed int

	lastConn *fakeConn
}

func (d *fakeDatabase) record(sql string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statements = append(d.statements, sql)
}

func (d *fakeDatabase) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.statements))
	copy(out, d.statements)
	return out
}

func (d *fakeDatabase) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.record(sql)
	if d.execErr != nil {
		if err := d.execErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func (d *fakeDatabase) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.record(sql)
	if d.execErr != nil {
		if err := d.execErr(sql); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (d *fakeDatabase) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.record(sql)
	return &fakeRow{scan: func(dest ...any) error {
		if d.scanValue == nil {
			return pgx.ErrNoRows
		}
		val, err := d.scanValue(sql)
		if err != nil {
			return err
		}
		if len(dest) > 0 {
			if p, ok := dest[0].(*int); ok {
				*p = val
			}
		}
		return nil
	}}
}

func (d *fakeDatabase) Acquire(ctx context.Context) (conn, error) {
	c := &fakeConn{db: d}
	d.mu.Lock()
	d.lastConn = c
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDatabase) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pings++
	return nil
}

func (d *fakeDatabase) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

func testConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
	}
}

// newTestHandle wires a handle to the given fake instead of a real
// pool. connects counts how many times the pool was (re)built.
func newTestHandle(t *testing.T, fake *fakeDatabase, meta *Metadata) (*Handle, *int) {
	t.Helper()
	h, err := New(testLogger(), testConfig(), meta)
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	connects := 0
	h.connect = func(ctx context.Context, cfg *Config) (database, error) {
		connects++
		return fake, nil
	}
	return h, &connects
}
