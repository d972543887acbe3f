package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// worker is the state owned by the executor goroutine.
type worker struct {
	x     *Executor
	lease *pool.WriterLease

	// attempts is the attempt count reported for the current command.
	attempts int
}

func (w *worker) handle() *pool.Handle { return w.lease.Handle() }

// run executes cmd, turning a panic into an error.
func (w *worker) run(ctx context.Context, cmd Command) (value any, err error) {
	if err := w.ensureLease(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			w.x.logger.Error("command panicked", "kind", cmd.kind(), "panic", r)
			value, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
			if open, _ := w.handle().InTransaction(); open {
				w.rollback(ctx, err)
			}
		}
	}()
	return cmd.run(ctx, w)
}

// ensureLease reacquires the writer after a broken handle was replaced.
func (w *worker) ensureLease(ctx context.Context) error {
	if w.lease != nil {
		return nil
	}
	lease, err := w.x.pool.AcquireWriter(ctx)
	if err != nil {
		return fmt.Errorf("reacquiring writer: %w", err)
	}
	if err := w.x.cfg.Capture.Attach(ctx, lease.Handle()); err != nil {
		lease.Release()
		return fmt.Errorf("attaching change capture: %w", err)
	}
	w.lease = lease
	w.x.logger.Info("writer reacquired", "handle", lease.Handle().ID())
	return nil
}

// checkHandle gives a broken writer back to the pool for replacement and
// takes the fresh one.
func (w *worker) checkHandle(ctx context.Context) {
	if w.lease == nil || !w.handle().Broken() {
		return
	}
	w.x.logger.Warn("writer handle broken, replacing", "handle", w.handle().ID())
	w.lease.Release()
	w.lease = nil
	if err := w.ensureLease(ctx); err != nil {
		w.x.logger.Error("writer replacement failed, retrying on next command", "error", err)
	}
}

// retryBusy runs fn until it succeeds, fails with a non-busy error, or the
// retry policy is exhausted.
func (w *worker) retryBusy(ctx context.Context, fn func() error) error {
	policy := w.x.cfg.Retry
	for attempt := 1; ; attempt++ {
		err := fn()
		w.noteAttempts(attempt)
		if err == nil || !sqlerr.IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			var e *sqlerr.Error
			if errors.As(err, &e) {
				e.Attempts = attempt
			}
			return err
		}

		w.x.busyRetries.Add(1)
		w.x.cfg.Observer.Retried(RetryBusy)
		if err := sleep(ctx, policy.Backoff(attempt)); err != nil {
			return err
		}
	}
}

func (w *worker) noteAttempts(n int) {
	if n > w.attempts {
		w.attempts = n
	}
}

// settle lets the change capture catch up after a statement.
func (w *worker) settle(ctx context.Context, stmtErr error) {
	if err := w.x.cfg.Capture.Settle(ctx, w.handle(), stmtErr); err != nil {
		w.x.logger.Warn("change capture settle failed", "error", err)
	}
}

// transaction runs body between BEGIN IMMEDIATE and COMMIT, rolling back
// when the body or the commit fails.
func (w *worker) transaction(ctx context.Context, body func(context.Context, *Tx) (any, error)) (any, error) {
	err := w.retryBusy(ctx, func() error {
		_, err := w.handle().Exec(ctx, "BEGIN IMMEDIATE", nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	tx := &Tx{w: w}
	value, err := runBody(context.WithValue(ctx, txKey{}, w.x), tx, body)
	tx.done = true
	if err != nil {
		return nil, w.rollback(ctx, err)
	}

	err = w.retryBusy(ctx, func() error {
		_, err := w.handle().Exec(ctx, "COMMIT", nil)
		if err != nil {
			w.x.cfg.Capture.RevertCommit()
		}
		return err
	})
	if err != nil {
		return nil, w.rollback(ctx, err)
	}
	w.settle(ctx, nil)
	return value, nil
}

// rollback ends a failed transaction and returns cause, joined with the
// rollback error if that failed too.
func (w *worker) rollback(ctx context.Context, cause error) error {
	defer w.settle(ctx, nil)

	open, err := w.handle().InTransaction()
	if err == nil && !open {
		return cause
	}
	if _, rbErr := w.handle().Exec(ctx, "ROLLBACK", nil); rbErr != nil {
		w.x.logger.Error("rollback failed", "cause", cause, "error", rbErr)
		return errors.Join(cause, rbErr)
	}
	return cause
}

// update re-runs a transaction while it fails with a write-write conflict.
func (w *worker) update(ctx context.Context, body func(context.Context, *Tx) (any, error)) (any, error) {
	retries := w.x.cfg.ConflictRetries
	for run := 1; ; run++ {
		value, err := w.transaction(ctx, body)
		w.noteAttempts(run)
		if err == nil || !sqlerr.IsConflict(err) {
			return value, err
		}
		if run > retries {
			return nil, &sqlerr.Error{
				Kind:     sqlerr.KindConflictExhausted,
				Op:       "update",
				Attempts: run,
				Err:      err,
			}
		}

		w.x.conflictRetries.Add(1)
		w.x.cfg.Observer.Retried(RetryConflict)
		w.x.logger.Debug("write conflict, retrying transaction", "run", run, "error", err)
		if err := sleep(ctx, w.x.cfg.Retry.Backoff(run)); err != nil {
			return nil, err
		}
	}
}

func runBody(ctx context.Context, tx *Tx, body func(context.Context, *Tx) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return body(ctx, tx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tx runs statements inside a transaction body. It is only valid until the
// body returns.
type Tx struct {
	w     *worker
	done  bool
	ended bool
}

// Exec runs a statement in the transaction. A failing statement is undone
// as a whole; the transaction stays open.
func (tx *Tx) Exec(ctx context.Context, query string, params sqlval.Params) (pool.Result, error) {
	if err := tx.usable(); err != nil {
		return pool.Result{}, err
	}
	res, err := tx.w.execText(ctx, query, params, false)
	if err != nil {
		return pool.Result{}, err
	}
	return res, tx.checkOpen(query)
}

// Query runs a query in the transaction; it sees the transaction's own
// uncommitted writes.
func (tx *Tx) Query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	rs, err := tx.w.query(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return rs, tx.checkOpen(query)
}

// ExecScript runs a multi-statement script in the transaction.
func (tx *Tx) ExecScript(ctx context.Context, script string) error {
	if err := tx.usable(); err != nil {
		return err
	}
	if _, err := tx.w.execText(ctx, script, nil, true); err != nil {
		return err
	}
	return tx.checkOpen(script)
}

func (tx *Tx) usable() error {
	switch {
	case tx.done:
		return ErrTxDone
	case tx.ended:
		return ErrTxEnded
	}
	return nil
}

// checkOpen fails when the statement just run committed or rolled back the
// transaction.
func (tx *Tx) checkOpen(query string) error {
	open, err := tx.w.handle().InTransaction()
	if err != nil {
		return err
	}
	if !open {
		tx.ended = true
		return fmt.Errorf("%w: %q", ErrTxEnded, query)
	}
	return nil
}
