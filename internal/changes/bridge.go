package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// Publisher receives the events of each committed transaction.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// change is one captured row modification awaiting publication.
type change struct {
	table string
	op    Op
	rowID int64

	// oldValues and newValues are raw pre-update hook values.
	oldValues []any
	newValues []any

	before   *sqlval.Row
	after    *sqlval.Row
	resolved bool
}

// batch is the changes of one committed transaction.
type batch struct {
	txID        string
	committedAt time.Time
	changes     []*change
}

// BridgeStats is a snapshot of bridge counters.
type BridgeStats struct {
	Captured  uint64
	Published uint64
	Discarded uint64
	Pending   int
}

// Bridge captures row modifications on the writer connection and publishes
// them once their transaction commits. Hooks fire on whichever goroutine
// runs the engine call, so the buffers are guarded by mu.
type Bridge struct {
	pub     Publisher
	logger  *slog.Logger
	exclude map[string]struct{}

	mu      sync.Mutex
	pending []*change
	// mark is len(pending) after the last successful statement.
	mark int
	sealed []*batch
	// lastSealed is the batch sealed by the COMMIT currently running.
	lastSealed *batch

	// tables caches column layouts; only touched by Settle.
	tables map[string]*tableInfo

	seq       atomic.Uint64
	captured  atomic.Uint64
	published atomic.Uint64
	discarded atomic.Uint64
}

// NewBridge returns a bridge publishing to pub.
func NewBridge(pub Publisher, cfg Config) *Bridge {
	cfg = cfg.withDefaults()
	exclude := make(map[string]struct{}, len(cfg.ExcludeTables))
	for _, t := range cfg.ExcludeTables {
		exclude[t] = struct{}{}
	}
	return &Bridge{
		pub:     pub,
		logger:  cfg.Logger.With("component", "changes.bridge"),
		exclude: exclude,
		tables:  make(map[string]*tableInfo),
	}
}

// Attach registers the bridge's hooks on h, replacing any state left from a
// previous writer handle.
func (b *Bridge) Attach(_ context.Context, h *pool.Handle) error {
	b.mu.Lock()
	if n := len(b.pending); n > 0 {
		b.discarded.Add(uint64(n))
	}
	b.pending, b.mark, b.lastSealed = nil, 0, nil
	b.mu.Unlock()
	b.tables = make(map[string]*tableInfo)

	err := h.Raw(func(c *sqlite3.SQLiteConn) error {
		c.RegisterCommitHook(b.onCommit)
		c.RegisterRollbackHook(b.onRollback)
		registerRowHooks(c, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registering hooks: %w", err)
	}
	b.logger.Info("change capture attached", "handle", h.ID(), "row_snapshots", RowSnapshots)
	return nil
}

// Settle runs after each statement on the writer. It drops the changes of a
// statement that failed inside an open transaction, resolves row snapshots,
// and publishes sealed batches once the connection is in autocommit.
func (b *Bridge) Settle(ctx context.Context, h *pool.Handle, stmtErr error) error {
	inTx, err := h.InTransaction()
	if err != nil {
		return err
	}

	b.mu.Lock()
	if stmtErr != nil && inTx && b.mark < len(b.pending) {
		b.discarded.Add(uint64(len(b.pending) - b.mark))
		clear(b.pending[b.mark:])
		b.pending = b.pending[:b.mark]
	}
	var todo []*change
	for _, c := range b.pending {
		if !c.resolved {
			todo = append(todo, c)
		}
	}
	for _, s := range b.sealed {
		for _, c := range s.changes {
			if !c.resolved {
				todo = append(todo, c)
			}
		}
	}
	b.lastSealed = nil
	b.mu.Unlock()

	var errs []error
	for _, c := range todo {
		if err := b.resolve(ctx, h, c); err != nil {
			errs = append(errs, err)
		}
	}

	b.mu.Lock()
	b.mark = len(b.pending)
	var ready []*batch
	if !inTx {
		ready, b.sealed = b.sealed, nil
	}
	b.mu.Unlock()

	for _, s := range ready {
		if err := b.publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RevertCommit returns the batch sealed by a failed COMMIT to the pending
// buffer of the still open transaction.
func (b *Bridge) RevertCommit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.lastSealed
	if s == nil {
		return
	}
	b.lastSealed = nil
	if n := len(b.sealed); n > 0 && b.sealed[n-1] == s {
		b.sealed = b.sealed[:n-1]
	}
	b.pending = append(s.changes, b.pending...)
	b.mark = len(b.pending)
}

// Stats returns bridge counters.
func (b *Bridge) Stats() BridgeStats {
	b.mu.Lock()
	pending := len(b.pending)
	for _, s := range b.sealed {
		pending += len(s.changes)
	}
	b.mu.Unlock()
	return BridgeStats{
		Captured:  b.captured.Load(),
		Published: b.published.Load(),
		Discarded: b.discarded.Load(),
		Pending:   pending,
	}
}

func (b *Bridge) excluded(table string) bool {
	if strings.HasPrefix(table, "sqlite_") {
		return true
	}
	_, ok := b.exclude[table]
	return ok
}

// record buffers a row modification. Called from the row hooks.
func (b *Bridge) record(c *change) {
	if b.excluded(c.table) {
		return
	}
	b.captured.Add(1)
	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()
}

// onCommit seals the pending changes. Returning non-zero would turn the
// commit into a rollback.
func (b *Bridge) onCommit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return 0
	}
	s := &batch{
		txID:        newTxID(),
		committedAt: time.Now().UTC(),
		changes:     b.pending,
	}
	b.sealed = append(b.sealed, s)
	b.lastSealed = s
	b.pending, b.mark = nil, 0
	return 0
}

func (b *Bridge) onRollback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.pending); n > 0 {
		b.discarded.Add(uint64(n))
	}
	b.pending, b.mark = nil, 0
}

// resolve fills in a change's row snapshots.
func (b *Bridge) resolve(ctx context.Context, h *pool.Handle, c *change) error {
	defer func() { c.resolved = true }()

	var errs []error
	if c.oldValues != nil {
		row, err := b.rawRow(ctx, h, c.table, c.oldValues)
		if err != nil {
			errs = append(errs, err)
		}
		c.before = row
	}
	if c.op != OpDelete {
		row, err := readRow(ctx, h, c.table, c.rowID)
		switch {
		case err == nil:
			c.after = row
		case c.newValues != nil:
			// WITHOUT ROWID tables cannot be read back by rowid.
			c.after, err = b.rawRow(ctx, h, c.table, c.newValues)
			if err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) rawRow(ctx context.Context, h *pool.Handle, table string, raw []any) (*sqlval.Row, error) {
	info, err := b.tableInfo(ctx, h, table, len(raw))
	if err != nil {
		return nil, err
	}
	return info.row(raw), nil
}

// tableInfo returns the column layout of table, reloading it when the
// cached layout has a different column count.
func (b *Bridge) tableInfo(ctx context.Context, h *pool.Handle, table string, columns int) (*tableInfo, error) {
	if info, ok := b.tables[table]; ok && len(info.names) == columns {
		return info, nil
	}
	info, err := loadTableInfo(ctx, h, table)
	if err != nil {
		return nil, err
	}
	if len(info.names) != columns {
		return nil, fmt.Errorf("table %s has %d columns, hook reported %d", table, len(info.names), columns)
	}
	b.tables[table] = info
	return info, nil
}

func (b *Bridge) publish(ctx context.Context, s *batch) error {
	events := make([]Event, 0, len(s.changes))
	for _, c := range s.changes {
		events = append(events, Event{
			Table:       c.table,
			RowID:       c.rowID,
			Op:          c.op,
			Before:      c.before,
			After:       c.after,
			TxID:        s.txID,
			Seq:         b.seq.Add(1),
			CommittedAt: s.committedAt,
		})
	}
	if err := b.pub.Publish(ctx, events); err != nil {
		return fmt.Errorf("publishing %d events of tx %s: %w", len(events), s.txID, err)
	}
	b.published.Add(uint64(len(events)))
	return nil
}

// newTxID returns a time-ordered transaction id.
func newTxID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// readRow reads the current row by rowid.
func readRow(ctx context.Context, h *pool.Handle, table string, rowID int64) (*sqlval.Row, error) {
	rs, err := h.Query(ctx, "SELECT * FROM "+quoteIdent(table)+" WHERE rowid = ?", sqlval.Args(rowID))
	if err != nil {
		return nil, err
	}
	if !rs.Next() {
		// Deleted later in the same statement.
		return nil, nil
	}
	return rs.Row(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
