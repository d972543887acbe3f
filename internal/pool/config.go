package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Pool configuration defaults.
const (
	defaultReaders            = 4
	maxReaders                = 64
	defaultBusyTimeout        = 100 * time.Millisecond
	defaultSynchronous        = "NORMAL"
	defaultCacheSizeKB        = 8192
	defaultStatementCacheSize = 64
	defaultAcquireTimeout     = 5 * time.Second
)

// Config contains pool configuration options. These map to the database and
// pool sections of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// directory is created if it doesn't exist. In-memory databases are
	// rejected because every handle would see a different database.
	Path string

	// Readers is the number of read-only handles (default 4, max 64). Zero
	// means the default; negative values are rejected.
	Readers int

	// BusyTimeout is the engine-level lock wait before SQLITE_BUSY is
	// reported. Kept short so contention reaches the executor's backoff.
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging, which lets readers run while the
	// writer commits.
	WALMode bool

	// ForeignKeys enables foreign-key enforcement on every handle.
	ForeignKeys bool

	// Synchronous is the synchronous pragma: OFF, NORMAL, FULL or EXTRA.
	Synchronous string

	// CacheSizeKB is the page cache size per handle in KiB.
	CacheSizeKB int

	// StatementCacheSize bounds the prepared statements kept per handle.
	// Negative disables the cache.
	StatementCacheSize int

	// AcquireTimeout bounds how long Acquire* waits for a free handle when
	// the caller's context has no earlier deadline.
	AcquireTimeout time.Duration

	// Logger receives lifecycle messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Readers == 0 {
		c.Readers = defaultReaders
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.Synchronous == "" {
		c.Synchronous = defaultSynchronous
	}
	c.Synchronous = strings.ToUpper(c.Synchronous)
	if c.CacheSizeKB == 0 {
		c.CacheSizeKB = defaultCacheSizeKB
	}
	if c.StatementCacheSize == 0 {
		c.StatementCacheSize = defaultStatementCacheSize
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// validate checks a defaulted config, collecting every problem.
func (c Config) validate() error {
	var errs []error
	switch {
	case c.Path == "":
		errs = append(errs, errors.New("path is required"))
	case c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory"):
		errs = append(errs, errors.New("in-memory databases cannot be shared between handles"))
	}
	if c.Readers < 1 || c.Readers > maxReaders {
		errs = append(errs, fmt.Errorf("readers must be between 1 and %d, got %d", maxReaders, c.Readers))
	}
	if c.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("busy_timeout must not be negative, got %s", c.BusyTimeout))
	}
	switch c.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		errs = append(errs, fmt.Errorf("synchronous must be OFF, NORMAL, FULL or EXTRA, got %q", c.Synchronous))
	}
	if c.CacheSizeKB < 0 {
		errs = append(errs, fmt.Errorf("cache_size_kb must not be negative, got %d", c.CacheSizeKB))
	}
	if c.AcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("acquire_timeout must not be negative, got %s", c.AcquireTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// pragmas returns the statements run once on a new handle.
func (c Config) pragmas(role Role) []string {
	var out []string
	if role == RoleWriter && c.WALMode {
		out = append(out, "PRAGMA journal_mode=WAL")
	}
	out = append(out,
		fmt.Sprintf("PRAGMA busy_timeout=%d", c.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys="+onOff(c.ForeignKeys),
		"PRAGMA synchronous="+c.Synchronous,
		fmt.Sprintf("PRAGMA cache_size=-%d", c.CacheSizeKB),
		"PRAGMA temp_store=MEMORY",
	)
	if role == RoleReader {
		out = append(out, "PRAGMA query_only=ON")
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
