package changes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

type captureFixture struct {
	x      *executor.Executor
	hub    *Hub
	bridge *Bridge
	sub    *Subscription
}

// setupCapture wires pool, hub, bridge and executor, creates
// t(id INTEGER PRIMARY KEY, v TEXT) and subscribes to every event.
func setupCapture(t *testing.T, cfg Config) *captureFixture {
	t.Helper()
	ctx := context.Background()

	p, err := pool.Open(ctx, pool.Config{
		Path:    filepath.Join(t.TempDir(), "capture.db"),
		Readers: 1,
		WALMode: true,
	}, nil)
	if err != nil {
		t.Fatalf("pool.Open() error = %v", err)
	}
	t.Cleanup(func() { p.Close() }) //nolint:errcheck // Test cleanup

	hub := NewHub(cfg)
	t.Cleanup(hub.Close)
	bridge := NewBridge(hub, cfg)

	x, err := executor.New(ctx, p, executor.Config{Capture: bridge})
	if err != nil {
		t.Fatalf("executor.New() error = %v", err)
	}
	t.Cleanup(func() { x.Close() }) //nolint:errcheck // Test cleanup

	if err := x.ExecScript(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
		CREATE TABLE audit (id INTEGER PRIMARY KEY AUTOINCREMENT, msg TEXT);
	`); err != nil {
		t.Fatalf("creating tables: %v", err)
	}

	return &captureFixture{x: x, hub: hub, bridge: bridge, sub: hub.Subscribe(ctx, Filter{})}
}

// drain reads exactly n events and fails if more are queued.
func (f *captureFixture) drain(t *testing.T, n int) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events := make([]Event, 0, n)
	for range n {
		e, err := f.sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next() after %d events error = %v", len(events), err)
		}
		events = append(events, e)
	}
	if extra := f.sub.Pending(); extra != 0 {
		t.Fatalf("%d unexpected extra events", extra)
	}
	return events
}

func textAt(t *testing.T, r *Event, col string) string {
	t.Helper()
	if r.After == nil {
		t.Fatalf("event %v has no after row", r)
	}
	v, ok := r.After.Get(col)
	if !ok {
		t.Fatalf("after row has no column %q", col)
	}
	s, _ := v.Text()
	return s
}

func TestBridgeConcurrentInserts(t *testing.T) {
	f := setupCapture(t, Config{})
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := f.x.Execute(ctx, "INSERT INTO t (id, v) VALUES (?, ?)", sqlval.Args(id, fmt.Sprintf("v%d", id)))
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("insert error = %v", err)
	}

	events := f.drain(t, n)
	seen := make(map[int64]bool, n)
	for i, e := range events {
		if e.Op != OpInsert || e.Table != "t" {
			t.Errorf("event %d = %v, want insert on t", i, e)
		}
		if e.Before != nil {
			t.Errorf("event %d has a before row", i)
		}
		if got, want := textAt(t, &e, "v"), fmt.Sprintf("v%d", e.RowID); got != want {
			t.Errorf("event %d after.v = %q, want %q", i, got, want)
		}
		if id, _ := e.After.At(0).Int64(); id != e.RowID {
			t.Errorf("event %d after.id = %d, rowid %d", i, id, e.RowID)
		}
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d Seq = %d, want %d", i, e.Seq, i+1)
		}
		seen[e.RowID] = true
	}
	if len(seen) != n {
		t.Errorf("distinct rows = %d, want %d", len(seen), n)
	}

	rs, err := f.x.Query(ctx, "SELECT count(*) FROM t", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	rs.Next()
	if count, _ := rs.Row().At(0).Int64(); count != n {
		t.Errorf("rows = %d, want %d", count, n)
	}
}

func TestBridgeRollbackPublishesNothing(t *testing.T) {
	f := setupCapture(t, Config{})
	ctx := context.Background()

	err := f.x.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (1, 'a')", nil); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (1, 'again')", nil)
		return err
	})
	if !errors.Is(err, sqlerr.ErrConstraint) {
		t.Fatalf("Transaction() error = %v, want ErrConstraint", err)
	}

	// A committed write afterwards is the only thing published.
	if _, err := f.x.Execute(ctx, "INSERT INTO t (id, v) VALUES (2, 'b')", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	events := f.drain(t, 1)
	if events[0].RowID != 2 {
		t.Errorf("published rowid %d, want 2", events[0].RowID)
	}
	if f.bridge.Stats().Discarded == 0 {
		t.Error("Discarded = 0, want the rolled-back insert counted")
	}
}

func TestBridgeDropsFailedStatementInsideTransaction(t *testing.T) {
	f := setupCapture(t, Config{})
	ctx := context.Background()

	err := f.x.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (1, 'kept')", nil); err != nil {
			return err
		}
		// Row 2 is inserted, then undone when row 1 collides.
		_, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (2, 'undone'), (1, 'dup')", nil)
		if !errors.Is(err, sqlerr.ErrConstraint) {
			return fmt.Errorf("expected constraint failure, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	events := f.drain(t, 1)
	if events[0].RowID != 1 || textAt(t, &events[0], "v") != "kept" {
		t.Errorf("event = %v, want insert of row 1", events[0])
	}
}

func TestBridgeTransactionBatch(t *testing.T) {
	f := setupCapture(t, Config{})
	ctx := context.Background()

	err := f.x.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
		for _, q := range []string{
			"INSERT INTO t (id, v) VALUES (1, 'a')",
			"UPDATE t SET v = 'b' WHERE id = 1",
			"INSERT INTO t (id, v) VALUES (2, 'c')",
			"DELETE FROM t WHERE id = 2",
		} {
			if _, err := tx.Exec(ctx, q, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	events := f.drain(t, 4)
	wantOps := []Op{OpInsert, OpUpdate, OpInsert, OpDelete}
	for i, e := range events {
		if e.Op != wantOps[i] {
			t.Errorf("event %d op = %s, want %s", i, e.Op, wantOps[i])
		}
		if e.TxID == "" || e.TxID != events[0].TxID {
			t.Errorf("event %d TxID = %q, want shared %q", i, e.TxID, events[0].TxID)
		}
		if e.CommittedAt.IsZero() {
			t.Errorf("event %d has no commit time", i)
		}
	}
	if got := textAt(t, &events[0], "v"); got != "a" {
		t.Errorf("insert after.v = %q, want a", got)
	}
	if got := textAt(t, &events[1], "v"); got != "b" {
		t.Errorf("update after.v = %q, want b", got)
	}
	if events[3].After != nil {
		t.Errorf("delete has an after row: %v", events[3].After)
	}

	// Separate autocommit statements get separate transaction ids.
	if _, err := f.x.Execute(ctx, "UPDATE t SET v = 'z' WHERE id = 1", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	next := f.drain(t, 1)
	if next[0].TxID == events[0].TxID {
		t.Error("autocommit statement reused the previous transaction id")
	}
}

func TestBridgeExcludedTables(t *testing.T) {
	f := setupCapture(t, Config{ExcludeTables: []string{"audit"}})
	ctx := context.Background()

	if err := f.x.ExecScript(ctx, `
		INSERT INTO audit (msg) VALUES ('ignored');
		INSERT INTO t (id, v) VALUES (1, 'seen');
	`); err != nil {
		t.Fatalf("ExecScript() error = %v", err)
	}

	// sqlite_sequence is touched by the AUTOINCREMENT insert and never
	// captured either.
	events := f.drain(t, 1)
	if events[0].Table != "t" {
		t.Errorf("event table = %q, want t", events[0].Table)
	}
}

func TestBridgeRevertCommit(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()
	b := NewBridge(hub, Config{})

	b.record(&change{table: "t", op: OpInsert, rowID: 1})
	b.record(&change{table: "t", op: OpInsert, rowID: 2})
	b.onCommit()
	if got := b.Stats().Pending; got != 2 {
		t.Fatalf("Pending after commit hook = %d, want 2", got)
	}

	b.RevertCommit()
	b.mu.Lock()
	pending, sealed := len(b.pending), len(b.sealed)
	b.mu.Unlock()
	if pending != 2 || sealed != 0 {
		t.Errorf("after RevertCommit pending = %d, sealed = %d; want 2, 0", pending, sealed)
	}

	// A second revert without a new commit is a no-op.
	b.RevertCommit()
	if got := b.Stats().Pending; got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}

	b.onRollback()
	stats := b.Stats()
	if stats.Pending != 0 || stats.Discarded != 2 || stats.Captured != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}
