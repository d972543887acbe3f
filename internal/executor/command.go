package executor

import (
	"context"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// Command is a unit of writer-path work. The implementations are
// Statement, Script, QueryCommand and TxCommand.
type Command interface {
	kind() string
	run(ctx context.Context, w *worker) (any, error)
}

// Statement executes parameterised SQL outside any explicit transaction.
// Several statements separated by semicolons run one after another and
// share Params in order. Its Future yields the last statement's
// pool.Result.
type Statement struct {
	SQL    string
	Params sqlval.Params
}

func (Statement) kind() string { return "statement" }

func (c Statement) run(ctx context.Context, w *worker) (any, error) {
	return w.standalone(ctx, func() (any, error) {
		return w.execText(ctx, c.SQL, c.Params, false)
	})
}

// Script executes several semicolon-separated statements without
// parameters, stopping at the first failure. Statements before it keep
// their effect unless the script opened a transaction, which is rolled
// back. Its Future yields nil.
type Script struct {
	SQL string
}

func (Script) kind() string { return "script" }

func (c Script) run(ctx context.Context, w *worker) (any, error) {
	return w.standalone(ctx, func() (any, error) {
		_, err := w.execText(ctx, c.SQL, nil, true)
		return nil, err
	})
}

// QueryCommand runs a query on the writer, in order with the other
// commands, for read-your-writes reads and RETURNING statements. Its
// Future yields a *sqlval.ResultSet.
type QueryCommand struct {
	SQL    string
	Params sqlval.Params
}

func (QueryCommand) kind() string { return "query" }

func (c QueryCommand) run(ctx context.Context, w *worker) (any, error) {
	return w.standalone(ctx, func() (any, error) {
		return w.query(ctx, c.SQL, c.Params)
	})
}

// TxCommand runs Body inside a transaction. With Optimistic set, the body
// is re-run in a fresh transaction after a write-write conflict. Its Future
// yields whatever Body returned.
type TxCommand struct {
	Body       func(ctx context.Context, tx *Tx) (any, error)
	Optimistic bool
}

func (c TxCommand) kind() string {
	if c.Optimistic {
		return "update"
	}
	return "transaction"
}

func (c TxCommand) run(ctx context.Context, w *worker) (any, error) {
	if c.Optimistic {
		return w.update(ctx, c.Body)
	}
	return w.transaction(ctx, c.Body)
}

// Future is the pending result of a submitted command.
type Future struct {
	seq   uint64
	done  chan struct{}
	value any
	err   error
}

func newFuture(seq uint64) *Future {
	return &Future{seq: seq, done: make(chan struct{})}
}

// failedFuture returns a Future that is already resolved with err.
func failedFuture(err error) *Future {
	f := newFuture(0)
	f.resolve(nil, err)
	return f
}

func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Seq returns the command's position in the writer queue, starting at 1.
// Rejected commands have sequence 0.
func (f *Future) Seq() uint64 { return f.seq }

// Done is closed once the command has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the command finishes or ctx ends. Returning early on
// ctx does not cancel the command.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
