package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// Role distinguishes the writer handle from reader handles.
type Role int

// Handle roles.
const (
	RoleWriter Role = iota
	RoleReader
)

// String returns "writer" or "reader".
func (r Role) String() string {
	if r == RoleWriter {
		return "writer"
	}
	return "reader"
}

// Result reports the effect of a statement that returns no rows.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Handle owns one engine connection: a single-connection *sql.DB with the
// connection pinned for the handle's lifetime, so pragmas, hooks and
// transaction state all live on the same engine connection.
//
// Handle is not safe for concurrent use.
type Handle struct {
	id     int
	role   Role
	db     *sql.DB
	conn   *sql.Conn
	stmts  *lru.Cache // query text -> *sql.Stmt
	logger *slog.Logger

	// broken is set when the handle observed a corrupt database image or
	// its lease was discarded; releasing it replaces the handle.
	broken atomic.Bool
}

// openHandle opens and prepares one handle. Registry installation happens
// in the driver's ConnectHook when the connection is pinned.
func openHandle(ctx context.Context, driverName, dsn string, id int, role Role, cfg Config) (*Handle, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s handle %d: %w", role, id, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("connecting %s handle %d: %w", role, id, err)
	}

	h := &Handle{
		id:     id,
		role:   role,
		db:     db,
		conn:   conn,
		logger: cfg.Logger.With("handle", id, "role", role.String()),
	}

	for _, pragma := range cfg.pragmas(role) {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			h.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("%s handle %d: %s: %w", role, id, pragma, err)
		}
	}

	if cfg.StatementCacheSize > 0 {
		h.stmts, err = lru.NewWithEvict(cfg.StatementCacheSize, func(_, value any) {
			if stmt, ok := value.(*sql.Stmt); ok {
				stmt.Close() //nolint:errcheck // Evicted statement, nothing to report to
			}
		})
		if err != nil {
			h.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("creating statement cache: %w", err)
		}
	}
	return h, nil
}

// ID returns the handle's slot-independent identifier.
func (h *Handle) ID() int { return h.id }

// Role returns whether the handle is the writer or a reader.
func (h *Handle) Role() Role { return h.role }

// Broken reports whether the handle will be replaced on release.
func (h *Handle) Broken() bool { return h.broken.Load() }

// Exec runs a statement (or several, separated by semicolons) that returns
// no rows. Parameters are checked against the statement's placeholders
// before anything reaches the engine.
func (h *Handle) Exec(ctx context.Context, query string, params sqlval.Params) (Result, error) {
	if err := sqlval.Placeholders(query).Check(params); err != nil {
		return Result{}, sqlerr.Classify(err, "exec", query)
	}
	res, err := h.conn.ExecContext(ctx, query, params.DriverArgs()...)
	if err != nil {
		return Result{}, h.fail(err, "exec", query)
	}
	var out Result
	out.RowsAffected, _ = res.RowsAffected() //nolint:errcheck // go-sqlite3 never fails these
	out.LastInsertID, _ = res.LastInsertId() //nolint:errcheck // go-sqlite3 never fails these
	return out, nil
}

// Query runs a statement and reads its rows. Single statements are served
// from the prepared-statement cache.
func (h *Handle) Query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	shape := sqlval.Placeholders(query)
	if err := shape.Check(params); err != nil {
		return nil, sqlerr.Classify(err, "query", query)
	}

	var rows *sql.Rows
	var err error
	if stmt, ok := h.statement(ctx, query, shape); ok {
		rows, err = stmt.QueryContext(ctx, params.DriverArgs()...)
	} else {
		rows, err = h.conn.QueryContext(ctx, query, params.DriverArgs()...)
	}
	if err != nil {
		return nil, h.fail(err, "query", query)
	}
	rs, err := sqlval.ScanRows(rows)
	if err != nil {
		return nil, h.fail(err, "query", query)
	}
	return rs, nil
}

// ExecScript runs a multi-statement script without parameters.
func (h *Handle) ExecScript(ctx context.Context, script string) error {
	if _, err := h.conn.ExecContext(ctx, script); err != nil {
		return h.fail(err, "script", script)
	}
	return nil
}

// Raw runs fn with the underlying engine connection, for hook registration
// and autocommit checks.
func (h *Handle) Raw(fn func(*sqlite3.SQLiteConn) error) error {
	return h.conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return ErrNotEngineConn
		}
		return fn(c)
	})
}

// InTransaction reports whether the connection has an open transaction.
func (h *Handle) InTransaction() (bool, error) {
	var open bool
	err := h.Raw(func(c *sqlite3.SQLiteConn) error {
		open = !c.AutoCommit()
		return nil
	})
	if err != nil {
		return false, sqlerr.Classify(err, "autocommit", "")
	}
	return open, nil
}

// Ping verifies the connection answers a trivial query.
func (h *Handle) Ping(ctx context.Context) error {
	var one int
	if err := h.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return h.fail(err, "ping", "SELECT 1")
	}
	return nil
}

// rollbackOpen rolls back a transaction a lease holder left open.
func (h *Handle) rollbackOpen(ctx context.Context) error {
	open, err := h.InTransaction()
	if err != nil || !open {
		return err
	}
	h.logger.Warn("rolling back transaction left open by lease holder")
	_, err = h.conn.ExecContext(ctx, "ROLLBACK")
	return h.fail(err, "rollback", "ROLLBACK")
}

// Close finalizes cached statements and closes the connection.
func (h *Handle) Close() error {
	if h.stmts != nil {
		h.stmts.Purge()
	}
	connErr := h.conn.Close()
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("closing %s handle %d: %w", h.role, h.id, err)
	}
	if connErr != nil && !errors.Is(connErr, sql.ErrConnDone) {
		return fmt.Errorf("closing %s handle %d: %w", h.role, h.id, connErr)
	}
	return nil
}

// statement returns a cached prepared statement for single statements.
func (h *Handle) statement(ctx context.Context, query string, shape sqlval.Shape) (*sql.Stmt, bool) {
	if h.stmts == nil || shape.Statements > 1 {
		return nil, false
	}
	if cached, ok := h.stmts.Get(query); ok {
		return cached.(*sql.Stmt), true //nolint:forcetypeassert // cache only holds *sql.Stmt
	}
	stmt, err := h.conn.PrepareContext(ctx, query)
	if err != nil {
		// Let the uncached path report the error with full context.
		return nil, false
	}
	h.stmts.Add(query, stmt)
	return stmt, true
}

// fail classifies err and marks the handle broken on corruption.
func (h *Handle) fail(err error, op, query string) error {
	if err == nil {
		return nil
	}
	classified := sqlerr.Classify(err, op, query)
	if sqlerr.IsCorrupt(classified) && !h.broken.Swap(true) {
		h.logger.Error("database image corrupt, handle will be replaced", "error", err)
	}
	return classified
}
