package pgdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/tidefall/pgops/internal/metrics"
)

const (
	// DefaultExcludePattern skips view entries, which are defined by
	// hand-written DDL rather than auto-created like ordinary tables.
	DefaultExcludePattern = "*_view"

	// SerialSchema is always reported by AllSchemaNames.
	SerialSchema = "serial"
)

// database is the subset of pool behavior the handle depends on.
type database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Acquire(ctx context.Context) (conn, error)
	Ping(ctx context.Context) error
	Close()
}

// conn is a scoped connection checked out of the pool. Release must be
// called on every exit path.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
}

type poolDatabase struct {
	pool *pgxpool.Pool
}

func (d *poolDatabase) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return d.pool.Exec(ctx, sql, args...)
}

func (d *poolDatabase) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return d.pool.Query(ctx, sql, args...)
}

func (d *poolDatabase) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return d.pool.QueryRow(ctx, sql, args...)
}

func (d *poolDatabase) Acquire(ctx context.Context) (conn, error) {
	c, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *poolDatabase) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *poolDatabase) Close() {
	d.pool.Close()
}

// Handle is a façade over a connection pool and a schema catalog for
// common operational tasks. The pool is created lazily on the first
// acquiring call and recreated after a fork is detected, so pooled
// connections are never shared across a fork boundary.
type Handle struct {
	log   *slog.Logger
	cfg   *Config
	meta  *Metadata
	clock clockwork.Clock

	mu      sync.Mutex
	db      database
	pid     int
	connect func(ctx context.Context, cfg *Config) (database, error)
}

// New builds a handle from the given config. meta may be nil, in which
// case an empty catalog is used. The server is not contacted here; the
// pool is established on first use.
func New(log *slog.Logger, cfg *Config, meta *Metadata) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if meta == nil {
		meta = NewMetadata()
	}
	return &Handle{
		log:   log,
		cfg:   cfg,
		meta:  meta,
		clock: clockwork.NewRealClock(),
		pid:   os.Getpid(),
		connect: func(ctx context.Context, cfg *Config) (database, error) {
			pool, err := cfg.NewPool(ctx)
			if err != nil {
				return nil, err
			}
			return &poolDatabase{pool: pool}, nil
		},
	}, nil
}

// Config returns the connection config the handle was built with.
func (h *Handle) Config() *Config {
	return h.cfg
}

// Metadata returns the schema catalog the handle was built with.
func (h *Handle) Metadata() *Metadata {
	return h.meta
}

// acquireDB returns the live pool, creating it if needed. A fork since
// the last call invalidates the old pool first.
func (h *Handle) acquireDB(ctx context.Context) (database, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkForkLocked()
	if h.db == nil {
		db, err := h.connect(ctx, h.cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", h.cfg.Redacted(), err)
		}
		h.db = db
	}
	return h.db, nil
}

func (h *Handle) checkForkLocked() {
	pid := os.Getpid()
	if h.pid == pid {
		return
	}
	h.log.Info("fork detected, disposing connection pool", "old_pid", h.pid, "new_pid", pid)
	if h.db != nil {
		h.db.Close()
		h.db = nil
	}
	h.pid = pid
}

// AfterFork disposes the pool when the current process is not the one
// that created it. Safe to call repeatedly; after the first call in a
// child process it is a no-op.
func (h *Handle) AfterFork() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkForkLocked()
}

// Close disposes the pool. The handle remains usable; the next
// acquiring call re-establishes the pool.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		h.db.Close()
		h.db = nil
	}
}

// Exec runs a statement on a pooled connection, which is released on
// every exit path.
func (h *Handle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db, err := h.acquireDB(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	h.log.Debug("executing statement", "sql", sql)
	metrics.StatementsTotal.Inc()
	return db.Exec(ctx, sql, args...)
}

// Query runs a query and returns the result cursor. The pooled
// connection is held until the rows are closed.
func (h *Handle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	db, err := h.acquireDB(ctx)
	if err != nil {
		return nil, err
	}
	h.log.Debug("executing query", "sql", sql)
	metrics.StatementsTotal.Inc()
	return db.Query(ctx, sql, args...)
}

// QueryRow runs a query expected to return at most one row.
func (h *Handle) QueryRow(ctx context.Context, sql string, args ...any) (pgx.Row, error) {
	db, err := h.acquireDB(ctx)
	if err != nil {
		return nil, err
	}
	h.log.Debug("executing query", "sql", sql)
	metrics.StatementsTotal.Inc()
	return db.QueryRow(ctx, sql, args...), nil
}

// Ping checks server reachability with a trivial round trip.
func (h *Handle) Ping(ctx context.Context) error {
	db, err := h.acquireDB(ctx)
	if err != nil {
		return err
	}
	return db.Ping(ctx)
}

// ExecScript reads a SQL file and executes its contents on a single
// scoped connection. A COMMIT is issued first to end any implicit
// transaction. No rollback is attempted beyond what statement
// execution itself provides.
func (h *Handle) ExecScript(ctx context.Context, scriptPath string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read sql script: %w", err)
	}
	db, err := h.acquireDB(ctx)
	if err != nil {
		return err
	}
	c, err := db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer c.Release()
	if _, err := c.Exec(ctx, "COMMIT;"); err != nil {
		return fmt.Errorf("end implicit transaction: %w", err)
	}
	h.log.Debug("executing sql script", "path", scriptPath)
	if _, err := c.Exec(ctx, string(script)); err != nil {
		return fmt.Errorf("execute sql script %s: %w", scriptPath, err)
	}
	metrics.ScriptRunsTotal.Inc()
	return nil
}

// AllSchemaNames returns the schema namespaces referenced by the
// catalog plus the fixed "serial" namespace. The result is sorted for
// determinism, but callers must not rely on order.
func (h *Handle) AllSchemaNames() []string {
	set := map[string]struct{}{SerialSchema: {}}
	for _, tbl := range h.meta.Tables {
		if tbl.Schema == "" {
			continue
		}
		set[tbl.Schema] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateAllSchemas issues an idempotent CREATE SCHEMA for every
// namespace in the catalog, plus the fixed "public" namespace.
// Creation order does not matter; each statement stands alone.
func (h *Handle) CreateAllSchemas(ctx context.Context) error {
	set := map[string]struct{}{"public": {}}
	for _, name := range h.AllSchemaNames() {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.log.Info("creating schema", "schema", name)
		// Schema names come from the catalog, trusted input only.
		if _, err := h.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", name)); err != nil {
			return fmt.Errorf("create schema %s: %w", name, err)
		}
	}
	return nil
}

// CreateAllTables creates every catalog table whose name does not match
// DefaultExcludePattern.
func (h *Handle) CreateAllTables(ctx context.Context) error {
	return h.CreateTablesExcluding(ctx, DefaultExcludePattern)
}

// CreateTablesExcluding creates every catalog table whose name does not
// match the given glob pattern. An empty pattern disables filtering.
func (h *Handle) CreateTablesExcluding(ctx context.Context, exclude string) error {
	tables := make([]*Table, 0, len(h.meta.Tables))
	for _, tbl := range h.meta.Tables {
		if exclude != "" {
			matched, err := path.Match(exclude, tbl.Name)
			if err != nil {
				return fmt.Errorf("invalid exclude pattern %q: %w", exclude, err)
			}
			if matched {
				continue
			}
		}
		tables = append(tables, tbl)
	}
	names := make([]string, len(tables))
	for i, tbl := range tables {
		names[i] = tbl.QualifiedName()
	}
	h.log.Info("creating tables", "tables", names)
	for _, tbl := range tables {
		if _, err := h.Exec(ctx, tbl.CreateStatement()); err != nil {
			return fmt.Errorf("create table %s: %w", tbl.QualifiedName(), err)
		}
	}
	return nil
}

// SiblingPool builds a pool pointing at a different database on the
// same server, with the same credentials and pool sizing.
func (h *Handle) SiblingPool(ctx context.Context, database string) (*pgxpool.Pool, error) {
	return h.cfg.WithDatabase(database).NewPool(ctx)
}

// Sibling builds a handle for a different database on the same server.
// meta may be nil for an empty catalog.
func (h *Handle) Sibling(database string, meta *Metadata) (*Handle, error) {
	sibling, err := New(h.log, h.cfg.WithDatabase(database), meta)
	if err != nil {
		return nil, err
	}
	sibling.clock = h.clock
	return sibling, nil
}
