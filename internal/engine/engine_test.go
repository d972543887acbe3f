package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/extension"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// openTestEngine opens an engine on a temp file with table
// t(id INTEGER PRIMARY KEY, v TEXT).
func openTestEngine(t *testing.T, cfg Config, reg *extension.Registry) *Engine {
	t.Helper()
	cfg.Pool.Path = filepath.Join(t.TempDir(), "engine.db")
	cfg.Pool.WALMode = true
	if cfg.Pool.Readers == 0 {
		cfg.Pool.Readers = 2
	}

	e, err := Open(context.Background(), cfg, reg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { e.Close() }) //nolint:errcheck // Test cleanup

	if err := e.ExecScript(context.Background(), "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	return e
}

func count(t *testing.T, e *Engine, query string) int64 {
	t.Helper()
	rs, err := e.QueryWriter(context.Background(), query, nil)
	if err != nil {
		t.Fatalf("QueryWriter(%q) error = %v", query, err)
	}
	if !rs.Next() {
		t.Fatalf("QueryWriter(%q) returned no rows", query)
	}
	n, _ := rs.Row().At(0).Int64()
	return n
}

func TestConcurrentInsertsPublishOneEventPerRow(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()
	sub := e.Subscribe(ctx, changes.Filter{Tables: []string{"t"}})

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (?, ?)", sqlval.Args(id, fmt.Sprint("row", id))); err != nil {
				errs <- err
			}
		}(i + 1)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := count(t, e, "SELECT count(*) FROM t"); got != n {
		t.Fatalf("rows = %d, want %d", got, n)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	seen := make(map[int64]bool, n)
	for range n {
		ev, err := sub.Next(waitCtx)
		if err != nil {
			t.Fatalf("Next() after %d events error = %v", len(seen), err)
		}
		if ev.Op != changes.OpInsert || ev.Before != nil {
			t.Errorf("event = %v, want insert without before", ev)
		}
		v, _ := ev.After.Get("v")
		if s, _ := v.Text(); s != fmt.Sprint("row", ev.RowID) {
			t.Errorf("after.v = %q for rowid %d", s, ev.RowID)
		}
		seen[ev.RowID] = true
	}
	if len(seen) != n || sub.Pending() != 0 {
		t.Errorf("distinct rows = %d, pending = %d", len(seen), sub.Pending())
	}
}

func TestFailedTransactionLeavesNoRowAndNoEvents(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()
	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'existing')", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	sub := e.Subscribe(ctx, changes.Filter{})

	err := e.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (2, 'new')", nil); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (1, 'duplicate')", nil)
		return err
	})
	var se *sqlerr.Error
	if !errors.As(err, &se) || se.Kind != sqlerr.KindConstraint {
		t.Fatalf("Transaction() error = %v, want constraint violation", err)
	}

	rs, err := e.Query(ctx, "SELECT v FROM t WHERE id = 2", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if rs.Len() != 0 {
		t.Error("row 2 survived the rollback")
	}
	if sub.Pending() != 0 {
		t.Errorf("Pending() = %d, want no events", sub.Pending())
	}
	if e.Stats().Bridge.Discarded == 0 {
		t.Error("Discarded = 0, want the rolled-back insert counted")
	}
}

func TestRegisteredFunctionIsCallableFromSQL(t *testing.T) {
	reg := extension.NewRegistry()
	err := reg.Register(extension.Descriptor{
		Name:          "myhash",
		Arity:         1,
		Deterministic: true,
		Scalar: func(args []sqlval.Value) (sqlval.Value, error) {
			b, ok := args[0].Bytes()
			if !ok {
				return sqlval.Null(), nil
			}
			sum := sha256.Sum256(b)
			return sqlval.Blob(sum[:]), nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	e := openTestEngine(t, Config{}, reg)

	rs, err := e.Query(context.Background(), "SELECT myhash('abc')", nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	rs.Next()
	got, _ := rs.Row().At(0).Bytes()
	want := sha256.Sum256([]byte("abc"))
	if !bytes.Equal(got, want[:]) {
		t.Errorf("myhash('abc') = %x, want %x", got, want)
	}

	if err := reg.Register(extension.Descriptor{Name: "late", Arity: 0, Scalar: func([]sqlval.Value) (sqlval.Value, error) {
		return sqlval.Null(), nil
	}}); !errors.Is(err, extension.ErrFrozen) {
		t.Errorf("Register() after Open error = %v, want ErrFrozen", err)
	}
}

func TestExtensionErrorKeepsConnectionUsable(t *testing.T) {
	e := openTestEngine(t, Config{}, extension.NewDefaultRegistry())
	ctx := context.Background()

	_, err := e.Query(ctx, "SELECT zstd_decompress(x'00112233')", nil)
	if !errors.Is(err, sqlerr.ErrExtension) {
		t.Fatalf("Query() error = %v, want ErrExtension", err)
	}
	_, err = e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, zstd_decompress(x'00'))", nil)
	if !errors.Is(err, sqlerr.ErrExtension) {
		t.Fatalf("Execute() error = %v, want ErrExtension", err)
	}

	rs, err := e.Query(ctx, "SELECT hex(sha256('abc'))", nil)
	if err != nil {
		t.Fatalf("Query() after failure error = %v", err)
	}
	rs.Next()
	if s, _ := rs.Row().At(0).Text(); len(s) != 64 {
		t.Errorf("sha256 hex = %q", s)
	}
	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'ok')", nil); err != nil {
		t.Errorf("Execute() after failure error = %v", err)
	}
}

func TestQueryPaths(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()

	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (?, ?)", sqlval.Args(1, "a")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	t.Run("reader sees committed rows", func(t *testing.T) {
		rs, err := e.Query(ctx, "SELECT v FROM t WHERE id = :id", sqlval.Named(map[string]any{"id": 1}))
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if !rs.Next() {
			t.Fatal("Query() returned no rows")
		}
		if v, _ := rs.Row().Get("v"); !v.Equal(sqlval.Text("a")) {
			t.Errorf("v = %v, want a", v)
		}
	})

	t.Run("reader rejects writes", func(t *testing.T) {
		_, err := e.Query(ctx, "INSERT INTO t (id, v) VALUES (9, 'x') RETURNING id", nil)
		if err == nil {
			t.Fatal("write on a reader succeeded")
		}
		if got := count(t, e, "SELECT count(*) FROM t WHERE id = 9"); got != 0 {
			t.Errorf("reader wrote %d rows", got)
		}
	})

	t.Run("writer query returns rows", func(t *testing.T) {
		rs, err := e.QueryWriter(ctx, "INSERT INTO t (id, v) VALUES (2, 'b') RETURNING id", nil)
		if err != nil {
			t.Fatalf("QueryWriter() error = %v", err)
		}
		rs.Next()
		if id, _ := rs.Row().At(0).Int64(); id != 2 {
			t.Errorf("RETURNING id = %d, want 2", id)
		}
	})

	t.Run("binding mismatch", func(t *testing.T) {
		_, err := e.Query(ctx, "SELECT v FROM t WHERE id = ?", nil)
		if !errors.Is(err, sqlerr.ErrSyntaxOrBinding) {
			t.Errorf("Query() error = %v, want ErrSyntaxOrBinding", err)
		}
	})
}

func TestReadSnapshot(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()
	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'a')", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var stale *ReadTx
	err := e.Read(ctx, func(ctx context.Context, tx *ReadTx) error {
		stale = tx
		first, err := tx.Query(ctx, "SELECT count(*) FROM t", nil)
		if err != nil {
			return err
		}
		// A write committed mid-read is not visible to the snapshot.
		if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (2, 'b')", nil); err != nil {
			return err
		}
		second, err := tx.Query(ctx, "SELECT count(*) FROM t", nil)
		if err != nil {
			return err
		}
		first.Next()
		second.Next()
		a, _ := first.Row().At(0).Int64()
		b, _ := second.Row().At(0).Int64()
		if a != 1 || b != 1 {
			return fmt.Errorf("snapshot counts = %d, %d; want 1, 1", a, b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if _, err := stale.Query(ctx, "SELECT 1", nil); !errors.Is(err, executor.ErrTxDone) {
		t.Errorf("Query() after Read error = %v, want ErrTxDone", err)
	}

	boom := errors.New("boom")
	if err := e.Read(ctx, func(context.Context, *ReadTx) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Read() error = %v, want boom", err)
	}
	if got := e.Stats().Pool.ReadersInUse; got != 0 {
		t.Errorf("ReadersInUse = %d after Read, want 0", got)
	}
}

func TestUpdateConflictExhausted(t *testing.T) {
	e := openTestEngine(t, Config{Executor: executor.Config{ConflictRetries: 1}}, nil)
	ctx := context.Background()
	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'a')", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	runs := 0
	err := e.Update(ctx, func(ctx context.Context, tx *executor.Tx) error {
		runs++
		_, err := tx.Exec(ctx, "INSERT INTO t (id, v) VALUES (1, 'again')", nil)
		return err
	})
	if !errors.Is(err, sqlerr.ErrConflictExhausted) {
		t.Fatalf("Update() error = %v, want ErrConflictExhausted", err)
	}
	if runs != 2 {
		t.Errorf("body ran %d times, want 2", runs)
	}
}

func TestNestedTransactionFailsFast(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()

	err := e.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
		return e.Transaction(ctx, func(context.Context, *executor.Tx) error { return nil })
	})
	if !errors.Is(err, sqlerr.ErrNestedTransaction) {
		t.Errorf("Transaction() error = %v, want ErrNestedTransaction", err)
	}
}

func TestApplyScripts(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()

	var recorded []string
	record := func(name string) func(context.Context, *executor.Tx) error {
		return func(context.Context, *executor.Tx) error {
			recorded = append(recorded, name)
			return nil
		}
	}
	applied, err := e.ApplyScripts(ctx, []Script{
		{Name: "create_a", SQL: "CREATE TABLE a (id INTEGER PRIMARY KEY)", After: record("create_a")},
		{Name: "seed_a", SQL: "INSERT INTO a (id) VALUES (1); INSERT INTO a (id) VALUES (2);", After: record("seed_a")},
		{Name: "broken", SQL: "CREATE TABLE b (id INTEGER PRIMARY KEY); INSERT INTO nowhere VALUES (1);"},
		{Name: "never", SQL: "CREATE TABLE c (id INTEGER)"},
	})

	var se *ScriptError
	if !errors.As(err, &se) || se.Index != 2 || se.Name != "broken" {
		t.Fatalf("ApplyScripts() error = %v, want ScriptError for script 2", err)
	}
	if !errors.Is(err, ErrScriptFailed) || !errors.Is(err, sqlerr.ErrSyntaxOrBinding) {
		t.Errorf("error chain = %v", err)
	}
	if applied != 2 || len(recorded) != 2 {
		t.Errorf("applied = %d, recorded = %v", applied, recorded)
	}
	if got := count(t, e, "SELECT count(*) FROM a"); got != 2 {
		t.Errorf("rows in a = %d, want 2", got)
	}
	if got := count(t, e, "SELECT count(*) FROM sqlite_master WHERE name IN ('b', 'c')"); got != 0 {
		t.Errorf("%d tables from the failed and skipped scripts exist", got)
	}
}

func TestPoolExhausted(t *testing.T) {
	e := openTestEngine(t, Config{Pool: pool.Config{Readers: 1, AcquireTimeout: 20 * time.Millisecond}}, nil)
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- e.Read(ctx, func(context.Context, *ReadTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := e.Query(ctx, "SELECT 1", nil)
	if !errors.Is(err, sqlerr.ErrPoolExhausted) {
		t.Errorf("Query() error = %v, want ErrPoolExhausted", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("Read() error = %v", err)
	}
	if _, err := e.Query(ctx, "SELECT 1", nil); err != nil {
		t.Errorf("Query() after release error = %v", err)
	}
}

func TestDefaultTimeoutBoundsWait(t *testing.T) {
	e := openTestEngine(t, Config{DefaultTimeout: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go e.Transaction(ctx, func(context.Context, *executor.Tx) error { //nolint:errcheck // Result irrelevant
		close(started)
		<-release
		return nil
	})
	<-started

	_, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'queued')", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want DeadlineExceeded", err)
	}
	close(release)

	// The abandoned command still runs.
	deadline := time.Now().Add(2 * time.Second)
	for count(t, e, "SELECT count(*) FROM t") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("queued insert never ran")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseEndsSubscriptionsAndRejectsWork(t *testing.T) {
	e := openTestEngine(t, Config{}, nil)
	ctx := context.Background()
	sub := e.Subscribe(ctx, changes.Filter{})

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, changes.ErrSubscriptionClosed) {
		t.Errorf("Next() error = %v, want ErrSubscriptionClosed", err)
	}
	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'a')", nil); !errors.Is(err, sqlerr.ErrClosed) {
		t.Errorf("Execute() error = %v, want ErrClosed", err)
	}
	if _, err := e.Query(ctx, "SELECT 1", nil); !errors.Is(err, sqlerr.ErrClosed) {
		t.Errorf("Query() error = %v, want ErrClosed", err)
	}
}

func TestDisableCapture(t *testing.T) {
	e := openTestEngine(t, Config{DisableCapture: true}, nil)
	ctx := context.Background()
	sub := e.Subscribe(ctx, changes.Filter{})

	if _, err := e.Execute(ctx, "INSERT INTO t (id, v) VALUES (1, 'a')", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if sub.Pending() != 0 {
		t.Errorf("Pending() = %d with capture disabled", sub.Pending())
	}
}
