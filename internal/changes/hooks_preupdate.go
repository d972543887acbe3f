//go:build sqlite_preupdate_hook

package changes

import "github.com/mattn/go-sqlite3"

// RowSnapshots names how row contents are captured in this build.
const RowSnapshots = SnapshotPreUpdate

// registerRowHooks captures old and new values from the pre-update hook.
func registerRowHooks(c *sqlite3.SQLiteConn, b *Bridge) {
	c.RegisterUpdateHook(nil)
	c.RegisterPreUpdateHook(func(d sqlite3.SQLitePreUpdateData) {
		if d.DatabaseName != "main" {
			return
		}
		op, ok := opFromCode(d.Op)
		if !ok {
			return
		}

		ch := &change{table: d.TableName, op: op, rowID: d.NewRowID}
		if op != OpInsert {
			ch.oldValues = make([]any, d.Count())
			if err := d.Old(ch.oldValues...); err != nil {
				ch.oldValues = nil
			}
		}
		if op == OpDelete {
			ch.rowID = d.OldRowID
		} else {
			ch.newValues = make([]any, d.Count())
			if err := d.New(ch.newValues...); err != nil {
				ch.newValues = nil
			}
		}
		b.record(ch)
	})
}
