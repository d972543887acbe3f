//go:build !sqlite_preupdate_hook

package changes

import "github.com/mattn/go-sqlite3"

// RowSnapshots names how row contents are captured in this build.
const RowSnapshots = SnapshotReadback

// registerRowHooks records operations and rowids from the update hook; row
// contents are read back in Settle.
func registerRowHooks(c *sqlite3.SQLiteConn, b *Bridge) {
	c.RegisterUpdateHook(func(code int, database, table string, rowID int64) {
		if database != "main" {
			return
		}
		op, ok := opFromCode(code)
		if !ok {
			return
		}
		b.record(&change{table: table, op: op, rowID: rowID})
	})
}
