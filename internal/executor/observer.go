package executor

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
)

// Retry reasons reported to Observer.Retried.
const (
	RetryBusy     = "busy"
	RetryConflict = "conflict"
)

// ErrorClass labels a command error for telemetry: its sqlerr kind,
// "panic" or "other". It returns "" for a nil error.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	if kind := sqlerr.KindOf(err); kind != sqlerr.KindUnknown {
		return kind.String()
	}
	if errors.Is(err, ErrPanic) {
		return "panic"
	}
	return "other"
}

// CommandStats describes one finished command.
type CommandStats struct {
	Seq  uint64
	Kind string

	// Attempts is the most tries any single statement needed, or the
	// number of transaction runs for an optimistic transaction.
	Attempts int

	QueueWait  time.Duration
	Duration   time.Duration
	QueueDepth int
	Err        error
}

// Observer receives executor telemetry. Implementations must not block:
// they run on the writer worker.
type Observer interface {
	CommandFinished(CommandStats)
	Retried(reason string)
}

// Capture is the change-capture side of the writer connection. The executor
// calls it from the worker, so implementations may use the handle freely.
type Capture interface {
	// Attach registers hooks on a newly acquired writer handle.
	Attach(ctx context.Context, h *pool.Handle) error

	// Settle runs after every statement with the statement's error: it
	// drops changes a failed statement undid, resolves row snapshots and
	// publishes batches whose transaction has committed.
	Settle(ctx context.Context, h *pool.Handle, stmtErr error) error

	// RevertCommit undoes the batch sealed by a COMMIT that then failed, so
	// the rows stay pending in the still-open transaction.
	RevertCommit()
}

type nopObserver struct{}

func (nopObserver) CommandFinished(CommandStats) {}
func (nopObserver) Retried(string)               {}

type nopCapture struct{}

func (nopCapture) Attach(context.Context, *pool.Handle) error        { return nil }
func (nopCapture) Settle(context.Context, *pool.Handle, error) error { return nil }
func (nopCapture) RevertCommit()                                     {}
