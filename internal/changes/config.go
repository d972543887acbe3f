package changes

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultQueueCapacity is the per-subscription queue size used when
// Config.QueueCapacity is zero.
const DefaultQueueCapacity = 1024

// Policy decides what a full queue does with a new event.
type Policy int

// Overflow policies.
const (
	// PolicyBlock makes the producer wait until the consumer makes room.
	PolicyBlock Policy = iota

	// PolicyDropOldest discards the oldest queued event and counts it.
	PolicyDropOldest
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "block" or "drop_oldest".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return PolicyBlock, nil
	case "drop_oldest", "drop-oldest":
		return PolicyDropOldest, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Config contains change publication options.
type Config struct {
	// QueueCapacity bounds each subscription's queue.
	QueueCapacity int

	// Overflow is applied when a subscription's queue is full.
	Overflow Policy

	// ExcludeTables are never captured. Engine-internal sqlite_* tables
	// are always excluded.
	ExcludeTables []string

	// Logger receives warnings. If nil, a no-op logger is used.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
