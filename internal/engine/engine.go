package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/extension"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// Engine is an open database: one pool, one writer executor and the change
// hub fed by the writer's hooks. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	pool   *pool.Pool
	hub    *changes.Hub
	bridge *changes.Bridge
	x      *executor.Executor

	closeOnce sync.Once
	closeErr  error
}

// Stats is a snapshot of every component's counters.
type Stats struct {
	Pool     pool.Stats
	Executor executor.Stats
	Bridge   changes.BridgeStats
	Hub      changes.HubStats
}

// Open opens the database described by cfg.Pool, installing reg on every
// connection. reg is frozen by the call; nil means no extension functions.
// Components are started in dependency order and torn down in reverse if a
// later one fails.
func Open(ctx context.Context, cfg Config, reg *extension.Registry) (*Engine, error) {
	cfg = cfg.withDefaults()

	p, err := pool.Open(ctx, cfg.Pool, reg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "engine"),
		pool:   p,
		hub:    changes.NewHub(cfg.Changes),
	}
	if !cfg.DisableCapture {
		e.bridge = changes.NewBridge(e.hub, cfg.Changes)
		cfg.Executor.Capture = e.bridge
	}

	x, err := executor.New(ctx, p, cfg.Executor)
	if err != nil {
		e.hub.Close()
		if closeErr := p.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("starting executor: %w", err)
	}
	e.x = x

	e.logger.Info("engine opened",
		"path", p.Path(),
		"readers", p.Readers(),
		"capture", !cfg.DisableCapture,
		"default_timeout", cfg.DefaultTimeout,
	)
	return e, nil
}

// withTimeout applies DefaultTimeout when ctx has no deadline.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.DefaultTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.DefaultTimeout)
}

// Execute runs one statement on the writer.
func (e *Engine) Execute(ctx context.Context, query string, params sqlval.Params) (pool.Result, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.x.Execute(ctx, query, params)
}

// ExecScript runs a multi-statement script on the writer.
func (e *Engine) ExecScript(ctx context.Context, script string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.x.ExecScript(ctx, script)
}

// QueryWriter runs a query on the writer, after every command submitted
// before it. Use it to read your own writes or for RETURNING statements.
func (e *Engine) QueryWriter(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.x.Query(ctx, query, params)
}

// Transaction runs body in a writer transaction. See executor.Transaction.
func (e *Engine) Transaction(ctx context.Context, body func(ctx context.Context, tx *executor.Tx) error) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.x.Transaction(ctx, body)
}

// Update runs body in a writer transaction, re-running it on write-write
// conflicts. See executor.Update.
func (e *Engine) Update(ctx context.Context, body func(ctx context.Context, tx *executor.Tx) error) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.x.Update(ctx, body)
}

// Submit enqueues a writer command without waiting for it.
func (e *Engine) Submit(ctx context.Context, cmd executor.Command) *executor.Future {
	return e.x.Submit(ctx, cmd)
}

// Executor returns the writer executor, for callers that need the generic
// helpers such as executor.InTransaction.
func (e *Engine) Executor() *executor.Executor {
	return e.x
}

// Subscribe returns a subscription to committed changes matching f. It is
// closed when ctx ends, on Subscription.Close or on engine Close.
func (e *Engine) Subscribe(ctx context.Context, f changes.Filter) *changes.Subscription {
	return e.hub.Subscribe(ctx, f)
}

// Hub returns the change hub, for forwarders that subscribe on their own.
func (e *Engine) Hub() *changes.Hub {
	return e.hub
}

// Stats returns a snapshot of pool, executor and change counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Pool:     e.pool.Stats(),
		Executor: e.x.Stats(),
		Hub:      e.hub.Stats(),
	}
	if e.bridge != nil {
		s.Bridge = e.bridge.Stats()
	}
	return s
}

// Close drains the writer queue, ends every subscription and closes the
// pool. Events published while closing never wait on a full subscription;
// they are dropped and counted. Events queued before Close stay readable.
// Calling Close again returns the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		start := time.Now()
		var errs []error
		// Queued commands still run, but their events no longer wait on
		// subscribers that stopped reading.
		e.hub.Stop()
		if err := e.x.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing executor: %w", err))
		}
		e.hub.Close()
		if err := e.pool.Close(); err != nil {
			errs = append(errs, err)
		}
		e.closeErr = errors.Join(errs...)
		if e.closeErr != nil {
			e.logger.Error("engine close error", "error", e.closeErr)
			return
		}
		e.logger.Info("engine closed", "took", time.Since(start))
	})
	return e.closeErr
}

// retryRead retries fn while it fails with lock contention, using the
// executor's retry policy.
func (e *Engine) retryRead(ctx context.Context, fn func() error) error {
	policy := e.cfg.Executor.Retry
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !sqlerr.IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			var se *sqlerr.Error
			if errors.As(err, &se) {
				se.Attempts = attempt
			}
			return err
		}
		t := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}
