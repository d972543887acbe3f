package changes

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// Op is the kind of row modification.
type Op string

// Row operations.
const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// SnapshotMode is how the Bridge obtains row contents.
//
// SnapshotPreUpdate reads old and new values from the pre-update hook and
// needs the sqlite_preupdate_hook build tag. SnapshotReadback reads the new
// row by rowid after each statement; update and delete events then carry
// no Before row.
type SnapshotMode string

// Snapshot modes.
const (
	SnapshotPreUpdate SnapshotMode = "preupdate"
	SnapshotReadback  SnapshotMode = "readback"
)

// HasBefore reports whether update and delete events carry the old row.
func (m SnapshotMode) HasBefore() bool { return m == SnapshotPreUpdate }

// opFromCode maps the engine's hook operation code.
func opFromCode(code int) (Op, bool) {
	switch code {
	case sqlite3.SQLITE_INSERT:
		return OpInsert, true
	case sqlite3.SQLITE_UPDATE:
		return OpUpdate, true
	case sqlite3.SQLITE_DELETE:
		return OpDelete, true
	}
	return "", false
}

// Event is one committed row modification.
type Event struct {
	Table string
	RowID int64
	Op    Op

	// Before is the row as it was before an update or delete, when the
	// pre-update hook is available. Nil for inserts.
	Before *sqlval.Row

	// After is the row as it was after the statement, nil for deletes.
	After *sqlval.Row

	// TxID identifies the committing transaction; events of one
	// transaction share it.
	TxID string

	// Seq increases by one per published event.
	Seq uint64

	CommittedAt time.Time
}

// String returns a short description for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s %s rowid=%d seq=%d", e.Op, e.Table, e.RowID, e.Seq)
}

// LogValue implements slog.LogValuer.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("table", e.Table),
		slog.String("op", string(e.Op)),
		slog.Int64("rowid", e.RowID),
		slog.Uint64("seq", e.Seq),
		slog.String("tx", e.TxID),
	)
}

// Filter selects events for a subscription. Empty fields match everything.
type Filter struct {
	Tables []string
	Ops    []Op
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, e.Table) {
		return false
	}
	if len(f.Ops) > 0 && !slices.Contains(f.Ops, e.Op) {
		return false
	}
	return true
}
