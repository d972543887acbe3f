// Package executor serialises every write against the database.
//
// The Executor holds the pool's writer lease for its whole lifetime and runs
// one worker goroutine, locked to its OS thread, that drains an unbounded
// FIFO queue of commands. Submitting never blocks: Submit enqueues the
// command and returns a Future. Commands execute strictly in submission
// order, so a caller that waits for one command and then submits another
// always observes the first command's effects.
//
// Transaction manager:
//   - Transaction runs a body between BEGIN IMMEDIATE and COMMIT, rolling
//     back on any error or panic. A rollback failure is joined after the
//     original error, never in place of it.
//   - Update retries the whole body in a fresh transaction when it fails
//     with a write-write conflict (busy, or a UNIQUE / PRIMARY KEY
//     violation), up to Config.ConflictRetries, then fails with
//     sqlerr.ErrConflictExhausted.
//   - Starting a transaction from inside a body, or while the writer
//     connection already has one open, fails with
//     sqlerr.ErrNestedTransaction.
//
// Busy handling: every statement, including BEGIN and COMMIT, is retried
// with exponential backoff while the engine reports SQLITE_BUSY or
// SQLITE_LOCKED, up to RetryPolicy.MaxAttempts. Other errors are returned
// immediately.
//
// Cancellation: the caller's context only bounds how long Wait blocks. A
// command that has been submitted runs to completion against the
// executor's own context, so the writer connection is never left halfway
// through a transaction.
//
// Usage:
//
//	x, err := executor.New(ctx, p, executor.Config{})
//	if err != nil {
//	    return err
//	}
//	defer x.Close()
//
//	_, err = x.Execute(ctx, "INSERT INTO t (id, v) VALUES (?, ?)", sqlval.Args(1, "a"))
//
//	err = x.Transaction(ctx, func(ctx context.Context, tx *executor.Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE t SET v = ? WHERE id = ?", sqlval.Args("b", 1))
//	    return err
//	})
package executor
