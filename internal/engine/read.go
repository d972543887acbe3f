package engine

import (
	"context"
	"errors"

	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// Query runs a read-only query on a reader handle. It does not wait for
// queued writes; use QueryWriter to see them.
func (e *Engine) Query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	lease, err := e.pool.AcquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var rs *sqlval.ResultSet
	err = e.retryRead(ctx, func() error {
		var err error
		rs, err = lease.Handle().Query(ctx, query, params)
		return err
	})
	return rs, err
}

// ReadTx runs queries against one consistent snapshot of the database.
type ReadTx struct {
	query func(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error)
	done  bool
}

// Query runs a query inside the snapshot.
func (tx *ReadTx) Query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	if tx.done {
		return nil, executor.ErrTxDone
	}
	return tx.query(ctx, query, params)
}

// Read runs fn with a ReadTx whose queries all see the same snapshot, held
// on one reader handle for the duration of fn. Writes inside fn fail: the
// reader handles are read-only.
func (e *Engine) Read(ctx context.Context, fn func(ctx context.Context, tx *ReadTx) error) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	lease, err := e.pool.AcquireReader(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	h := lease.Handle()

	if err := e.retryRead(ctx, func() error {
		_, err := h.Exec(ctx, "BEGIN", nil)
		return err
	}); err != nil {
		return err
	}

	rtx := &ReadTx{query: func(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
		var rs *sqlval.ResultSet
		err := e.retryRead(ctx, func() error {
			var err error
			rs, err = h.Query(ctx, query, params)
			return err
		})
		return rs, err
	}}
	err = fn(ctx, rtx)
	rtx.done = true
	return endRead(ctx, h, err)
}

// endRead closes the snapshot transaction. A failure to close is joined
// after fn's own error.
func endRead(ctx context.Context, h *pool.Handle, fnErr error) error {
	open, err := h.InTransaction()
	if err != nil || !open {
		return errors.Join(fnErr, err)
	}
	if _, err := h.Exec(context.WithoutCancel(ctx), "ROLLBACK", nil); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}
