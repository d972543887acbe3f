package extension

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/sqlval"
)

var driverSeq atomic.Int64

// openTestDB opens a single-connection database with reg installed on it.
func openTestDB(t *testing.T, reg *Registry) *sql.DB {
	t.Helper()
	reg.Freeze()
	name := fmt.Sprintf("sqlite3_extension_test_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{ConnectHook: reg.Install})

	db, err := sql.Open(name, filepath.Join(t.TempDir(), "ext.db"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

// queryValue runs a single-value query and converts the result.
func queryValue(t *testing.T, db *sql.DB, query string, args ...any) (sqlval.Value, error) {
	t.Helper()
	rows, err := db.Query(query, args...)
	if err != nil {
		return sqlval.Null(), err
	}
	rs, err := sqlval.ScanRows(rows)
	if err != nil {
		return sqlval.Null(), err
	}
	if !rs.Next() {
		t.Fatalf("%q returned no rows", query)
	}
	return rs.Row().At(0), nil
}

// mustQueryValue is queryValue for queries expected to succeed.
func mustQueryValue(t *testing.T, db *sql.DB, query string, args ...any) sqlval.Value {
	t.Helper()
	v, err := queryValue(t, db, query, args...)
	if err != nil {
		t.Fatalf("%q error = %v", query, err)
	}
	return v
}
