package engine

import (
	"log/slog"
	"time"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/pool"
)

// Config contains engine configuration. Component loggers left nil inherit
// Logger.
type Config struct {
	Pool     pool.Config
	Executor executor.Config
	Changes  changes.Config

	// DisableCapture turns off change capture. Subscriptions stay valid
	// but never receive events.
	DisableCapture bool

	// DefaultTimeout bounds calls whose context has no deadline. Zero
	// means no bound.
	DefaultTimeout time.Duration

	// Logger receives lifecycle messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Pool.Logger == nil {
		c.Pool.Logger = c.Logger
	}
	if c.Executor.Logger == nil {
		c.Executor.Logger = c.Logger
	}
	if c.Changes.Logger == nil {
		c.Changes.Logger = c.Logger
	}
	c.Executor.Retry = c.Executor.Retry.WithDefaults()
	return c
}
