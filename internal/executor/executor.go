package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// Executor owns the writer handle and runs writer-path commands one at a
// time, in submission order.
type Executor struct {
	pool   *pool.Pool
	cfg    Config
	logger *slog.Logger
	w      *worker

	mu     sync.Mutex
	queue  []*request
	seq    uint64
	closed bool

	wake      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	submitted       atomic.Uint64
	completed       atomic.Uint64
	failed          atomic.Uint64
	busyRetries     atomic.Uint64
	conflictRetries atomic.Uint64
}

type request struct {
	cmd      Command
	future   *Future
	enqueued time.Time
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Submitted       uint64
	Completed       uint64
	Failed          uint64
	BusyRetries     uint64
	ConflictRetries uint64
	QueueDepth      int
}

// txKey marks the context handed to a transaction body, so commands
// submitted from inside a body are rejected instead of deadlocking the
// worker that is running it.
type txKey struct{}

// New acquires the writer lease from p, attaches cfg.Capture to the writer
// handle and starts the worker. The lease is held until Close.
func New(ctx context.Context, p *pool.Pool, cfg Config) (*Executor, error) {
	cfg = cfg.withDefaults()

	lease, err := p.AcquireWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring writer: %w", err)
	}
	if err := cfg.Capture.Attach(ctx, lease.Handle()); err != nil {
		lease.Release()
		return nil, fmt.Errorf("attaching change capture: %w", err)
	}

	x := &Executor{
		pool:    p,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "executor"),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	x.w = &worker{x: x, lease: lease}

	go x.loop()

	x.logger.Info("executor started",
		"max_attempts", cfg.Retry.MaxAttempts,
		"initial_backoff", cfg.Retry.InitialBackoff,
		"max_backoff", cfg.Retry.MaxBackoff,
		"conflict_retries", cfg.ConflictRetries,
	)
	return x, nil
}

// Submit enqueues cmd and returns its Future without blocking. ctx is only
// inspected to reject submissions made from inside a transaction body; it
// does not cancel the command.
func (x *Executor) Submit(ctx context.Context, cmd Command) *Future {
	if owner, _ := ctx.Value(txKey{}).(*Executor); owner == x {
		return failedFuture(sqlerr.New(sqlerr.KindNestedTransaction, "submit",
			errors.New("command submitted from inside a transaction body; use the Tx")))
	}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return failedFuture(sqlerr.New(sqlerr.KindClosed, "submit", errors.New("executor closed")))
	}
	x.seq++
	req := &request{cmd: cmd, future: newFuture(x.seq), enqueued: time.Now()}
	x.queue = append(x.queue, req)
	x.mu.Unlock()

	x.submitted.Add(1)
	x.signal()
	return req.future
}

func (x *Executor) signal() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// loop is the worker. It is the only goroutine that touches the writer
// handle.
func (x *Executor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(x.stopped)

	for {
		req, ok := x.next()
		if !ok {
			return
		}
		x.execute(req)
	}
}

// next pops the oldest request, waiting while the queue is empty. It
// reports false once the executor is closed and drained.
func (x *Executor) next() (*request, bool) {
	for {
		x.mu.Lock()
		if len(x.queue) > 0 {
			req := x.queue[0]
			x.queue[0] = nil
			x.queue = x.queue[1:]
			x.mu.Unlock()
			return req, true
		}
		if x.closed {
			x.mu.Unlock()
			return nil, false
		}
		x.mu.Unlock()
		<-x.wake
	}
}

func (x *Executor) execute(req *request) {
	// Commands run to completion regardless of the submitter's context.
	ctx := context.Background()
	started := time.Now()

	x.w.attempts = 1
	value, err := x.w.run(ctx, req.cmd)
	x.w.checkHandle(ctx)

	if err != nil {
		x.failed.Add(1)
	}
	x.completed.Add(1)
	x.cfg.Observer.CommandFinished(CommandStats{
		Seq:        req.future.seq,
		Kind:       req.cmd.kind(),
		Attempts:   x.w.attempts,
		QueueWait:  started.Sub(req.enqueued),
		Duration:   time.Since(started),
		QueueDepth: x.QueueDepth(),
		Err:        err,
	})
	req.future.resolve(value, err)
}

// QueueDepth returns the number of commands waiting to run.
func (x *Executor) QueueDepth() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.queue)
}

// Stats returns executor counters.
func (x *Executor) Stats() Stats {
	return Stats{
		Submitted:       x.submitted.Load(),
		Completed:       x.completed.Load(),
		Failed:          x.failed.Load(),
		BusyRetries:     x.busyRetries.Load(),
		ConflictRetries: x.conflictRetries.Load(),
		QueueDepth:      x.QueueDepth(),
	}
}

// Close stops accepting commands, runs everything already queued, then
// releases the writer lease. Calling Close twice is a no-op. Close must not
// be called from inside a transaction body.
func (x *Executor) Close() error {
	x.closeOnce.Do(func() {
		x.mu.Lock()
		x.closed = true
		x.mu.Unlock()
		x.signal()

		<-x.stopped
		if x.w.lease != nil {
			x.w.lease.Release()
			x.w.lease = nil
		}
		x.logger.Info("executor stopped",
			"completed", x.completed.Load(),
			"failed", x.failed.Load(),
		)
	})
	return nil
}

// Execute runs a statement and returns its effect.
func (x *Executor) Execute(ctx context.Context, query string, params sqlval.Params) (pool.Result, error) {
	v, err := x.Submit(ctx, Statement{SQL: query, Params: params}).Wait(ctx)
	if err != nil {
		return pool.Result{}, err
	}
	res, ok := v.(pool.Result)
	if !ok {
		return pool.Result{}, fmt.Errorf("%w: %T", ErrUnexpectedResult, v)
	}
	return res, nil
}

// Query runs a query on the writer, after every previously submitted
// command.
func (x *Executor) Query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	v, err := x.Submit(ctx, QueryCommand{SQL: query, Params: params}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	rs, ok := v.(*sqlval.ResultSet)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedResult, v)
	}
	return rs, nil
}

// ExecScript runs a multi-statement script.
func (x *Executor) ExecScript(ctx context.Context, script string) error {
	_, err := x.Submit(ctx, Script{SQL: script}).Wait(ctx)
	return err
}

// Transaction runs body in a transaction, committing when it returns nil.
func (x *Executor) Transaction(ctx context.Context, body func(ctx context.Context, tx *Tx) error) error {
	_, err := x.Submit(ctx, TxCommand{Body: discardValue(body)}).Wait(ctx)
	return err
}

// Update is Transaction with optimistic conflict retry: a body failing with
// a write-write conflict is re-run in a fresh transaction.
func (x *Executor) Update(ctx context.Context, body func(ctx context.Context, tx *Tx) error) error {
	_, err := x.Submit(ctx, TxCommand{Body: discardValue(body), Optimistic: true}).Wait(ctx)
	return err
}

// InTransaction runs body in a transaction and returns its value.
func InTransaction[T any](ctx context.Context, x *Executor, body func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	var zero T
	v, err := x.Submit(ctx, TxCommand{Body: func(ctx context.Context, tx *Tx) (any, error) {
		return body(ctx, tx)
	}}).Wait(ctx)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok && v != nil {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedResult, v)
	}
	return out, nil
}

func discardValue(body func(ctx context.Context, tx *Tx) error) func(context.Context, *Tx) (any, error) {
	return func(ctx context.Context, tx *Tx) (any, error) {
		return nil, body(ctx, tx)
	}
}
