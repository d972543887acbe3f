package executor

import (
	"log/slog"
	"math"
	"time"
)

// Defaults for the busy retry policy and optimistic conflict retries.
const (
	defaultMaxAttempts     = 6
	defaultInitialBackoff  = 5 * time.Millisecond
	defaultMaxBackoff      = 250 * time.Millisecond
	defaultMultiplier      = 2.0
	defaultConflictRetries = 5
)

// RetryPolicy bounds the busy retry of a single statement.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first busy failure.
	InitialBackoff time.Duration

	// MaxBackoff caps each wait.
	MaxBackoff time.Duration

	// Multiplier grows the wait after each failure.
	Multiplier float64
}

// DefaultRetryPolicy returns 6 attempts starting at 5ms, doubling, capped at
// 250ms: about 400ms of waiting in the worst case.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		Multiplier:     defaultMultiplier,
	}
}

// WithDefaults fills zero or out-of-range fields from DefaultRetryPolicy.
func (r RetryPolicy) WithDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = d.MaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = d.InitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = d.MaxBackoff
	}
	if r.Multiplier < 1 {
		r.Multiplier = d.Multiplier
	}
	return r
}

// Backoff returns the wait before attempt n+1, after n failed attempts
// (n >= 1).
func (r RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(r.InitialBackoff) * math.Pow(r.Multiplier, float64(n-1))
	if d > float64(r.MaxBackoff) || math.IsInf(d, 0) {
		return r.MaxBackoff
	}
	return time.Duration(d)
}

// Config contains executor configuration options.
type Config struct {
	// Retry is the busy retry policy applied to every statement.
	Retry RetryPolicy

	// ConflictRetries is how many times Update re-runs a conflicting body
	// before giving up. Zero means the default (5); negative disables
	// retries.
	ConflictRetries int

	// Logger receives lifecycle messages. If nil, a no-op logger is used.
	Logger *slog.Logger

	// Observer receives per-command statistics. Optional.
	Observer Observer

	// Capture is notified around every statement on the writer. Optional.
	Capture Capture
}

func (c Config) withDefaults() Config {
	c.Retry = c.Retry.WithDefaults()
	switch {
	case c.ConflictRetries == 0:
		c.ConflictRetries = defaultConflictRetries
	case c.ConflictRetries < 0:
		c.ConflictRetries = 0
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Capture == nil {
		c.Capture = nopCapture{}
	}
	return c
}
