package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// stmtSavepoint guards each statement run inside an open transaction.
const stmtSavepoint = "litecore_stmt"

// execText runs the statements of text one at a time and stops at the
// first failure. Busy retry and change-capture settling apply to each
// statement on its own, so a retry never replays a statement that already
// took effect. Scripts run without parameters or binding checks.
func (w *worker) execText(ctx context.Context, text string, params sqlval.Params, script bool) (pool.Result, error) {
	stmts := sqlval.Split(text)
	if len(stmts) <= 1 {
		return w.execStatement(ctx, text, params, script)
	}

	bound := make([]sqlval.Params, len(stmts))
	if !script {
		op := "exec"
		if err := sqlval.Placeholders(text).Check(params); err != nil {
			return pool.Result{}, sqlerr.Classify(err, op, text)
		}
		var err error
		if bound, err = sqlval.Distribute(stmts, params); err != nil {
			return pool.Result{}, sqlerr.Classify(err, op, text)
		}
	}

	var res pool.Result
	for i, stmt := range stmts {
		r, err := w.execStatement(ctx, stmt, bound[i], script)
		if err != nil {
			return pool.Result{}, fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), err)
		}
		res = r
	}
	return res, nil
}

func (w *worker) execStatement(ctx context.Context, stmt string, params sqlval.Params, script bool) (pool.Result, error) {
	var res pool.Result
	err := w.runStatement(ctx, stmt, func() error {
		var err error
		if script {
			err = w.handle().ExecScript(ctx, stmt)
		} else {
			res, err = w.handle().Exec(ctx, stmt, params)
		}
		return err
	})
	return res, err
}

// query runs one query on the writer.
func (w *worker) query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	var rs *sqlval.ResultSet
	err := w.runStatement(ctx, query, func() error {
		var err error
		rs, err = w.handle().Query(ctx, query, params)
		return err
	})
	return rs, err
}

// runStatement runs fn for one statement: under the statement savepoint
// when a transaction is open, retried while the database is busy, then
// settled with change capture.
func (w *worker) runStatement(ctx context.Context, stmt string, fn func() error) error {
	if err := checkSavepointUse(stmt); err != nil {
		return err
	}
	guarded, err := w.beginStatement(ctx, stmt)
	if err != nil {
		return err
	}
	err = w.retryBusy(ctx, fn)
	if guarded {
		err = w.endStatement(ctx, err)
	}
	w.settle(ctx, err)
	return err
}

// beginStatement opens the statement savepoint inside a transaction.
// Transaction control statements run unguarded.
func (w *worker) beginStatement(ctx context.Context, stmt string) (bool, error) {
	open, err := w.handle().InTransaction()
	if err != nil || !open {
		return false, err
	}
	if kw := sqlval.Keywords(stmt, 1); len(kw) == 1 {
		switch kw[0] {
		case "BEGIN", "COMMIT", "END", "ROLLBACK":
			return false, nil
		}
	}
	if _, err := w.handle().Exec(ctx, "SAVEPOINT "+stmtSavepoint, nil); err != nil {
		return false, err
	}
	return true, nil
}

// endStatement releases the statement savepoint. A failed statement is
// first rolled back to it, so everything it wrote is undone, including
// rows an OR FAIL conflict would otherwise keep. A statement that ended
// the transaction took the savepoint with it.
func (w *worker) endStatement(ctx context.Context, stmtErr error) error {
	open, err := w.handle().InTransaction()
	if err != nil {
		return errors.Join(stmtErr, err)
	}
	if !open {
		return stmtErr
	}
	if stmtErr != nil {
		if _, err := w.handle().Exec(ctx, "ROLLBACK TO "+stmtSavepoint, nil); err != nil {
			return errors.Join(stmtErr, err)
		}
	}
	if _, err := w.handle().Exec(ctx, "RELEASE "+stmtSavepoint, nil); err != nil {
		return errors.Join(stmtErr, err)
	}
	return stmtErr
}

// checkSavepointUse rejects SAVEPOINT, RELEASE and ROLLBACK TO. The
// executor owns savepoints on the writer, and change capture cannot follow
// a rollback to a caller's savepoint.
func checkSavepointUse(stmt string) error {
	kw := sqlval.Keywords(stmt, 3)
	if len(kw) == 0 {
		return nil
	}
	switch {
	case kw[0] == "SAVEPOINT", kw[0] == "RELEASE",
		kw[0] == "ROLLBACK" && len(kw) > 1 && kw[1] == "TO",
		kw[0] == "ROLLBACK" && len(kw) > 2 && kw[1] == "TRANSACTION" && kw[2] == "TO":
		return sqlerr.New(sqlerr.KindNestedTransaction, "exec",
			fmt.Errorf("savepoints are managed by the executor: %q", stmt))
	}
	return nil
}

// standalone runs a command that starts in autocommit. A transaction its
// text opened and did not close is rolled back, and the command fails.
func (w *worker) standalone(ctx context.Context, fn func() (any, error)) (any, error) {
	value, err := fn()
	open, openErr := w.handle().InTransaction()
	if openErr != nil || !open {
		return value, err
	}
	if err == nil {
		err = ErrTxLeftOpen
	}
	return nil, w.rollback(ctx, err)
}
