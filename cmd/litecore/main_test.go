package main

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/extension"
	"github.com/nerrad567/litecore/internal/infrastructure/config"
	"github.com/nerrad567/litecore/internal/infrastructure/logging"
	"github.com/nerrad567/litecore/internal/migrate"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/migrations"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("LITECORE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("LITECORE_CONFIG", writeConfig(t, `
database:
  path: ""
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_StartupAndShutdown starts the daemon with the ops listener and
// no external services, then cancels it.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	t.Setenv("LITECORE_CONFIG", writeConfig(t, `
database:
  path: "`+dbPath+`"
pool:
  readers: 2
http:
  enabled: true
  listen: "127.0.0.1:0"
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("LITECORE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("LITECORE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.Database.Path = "/tmp/x.db"
	cfg.Pool.Readers = 3
	cfg.Changes.Overflow = "drop_oldest"
	cfg.Changes.ExcludeTables = []string{"audit"}

	got, err := engineConfig(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("engineConfig() error = %v", err)
	}
	if got.Pool.Path != "/tmp/x.db" || got.Pool.Readers != 3 {
		t.Errorf("Pool = %+v", got.Pool)
	}
	if got.Changes.Overflow != changes.PolicyDropOldest {
		t.Errorf("Overflow = %v, want drop_oldest", got.Changes.Overflow)
	}
	for _, table := range []string{migrate.LedgerTable, "audit"} {
		if !slices.Contains(got.Changes.ExcludeTables, table) {
			t.Errorf("ExcludeTables = %v, missing %s", got.Changes.ExcludeTables, table)
		}
	}
	if got.DisableCapture {
		t.Error("DisableCapture = true with changes enabled")
	}
	if got.Executor.ConflictRetries != 5 {
		t.Errorf("ConflictRetries = %d, want 5", got.Executor.ConflictRetries)
	}
	if got.Executor.Retry.MaxAttempts != cfg.Executor.Retry.MaxAttempts {
		t.Errorf("Retry.MaxAttempts = %d", got.Executor.Retry.MaxAttempts)
	}
	if got.DefaultTimeout != cfg.Executor.DefaultTimeout {
		t.Errorf("DefaultTimeout = %v", got.DefaultTimeout)
	}
}

func TestEngineConfig_ZeroConflictRetriesDisables(t *testing.T) {
	cfg := &config.Config{}
	cfg.Changes.Overflow = "block"

	got, err := engineConfig(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("engineConfig() error = %v", err)
	}
	if got.Executor.ConflictRetries >= 0 {
		t.Errorf("ConflictRetries = %d, want negative", got.Executor.ConflictRetries)
	}
	if !got.DisableCapture {
		t.Error("DisableCapture = false with changes disabled")
	}
}

func TestEngineConfig_BadOverflow(t *testing.T) {
	cfg := &config.Config{}
	cfg.Changes.Overflow = "spill"

	if _, err := engineConfig(cfg, nil, testLogger()); err == nil {
		t.Error("engineConfig() should reject an unknown overflow policy")
	}
}

func TestForwarderConfig(t *testing.T) {
	got, err := forwarderConfig(config.MQTTConfig{
		QoS:         2,
		TopicPrefix: "site/db",
		Codec:       "cbor",
		Tables:      []string{"orders"},
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 2, MaxDelay: 30},
	}, testLogger())
	if err != nil {
		t.Fatalf("forwarderConfig() error = %v", err)
	}
	if got.QoS != 2 {
		t.Errorf("QoS = %d, want 2", got.QoS)
	}
	if topic := got.Topics.TableOp("orders", "insert"); topic != "site/db/orders/insert" {
		t.Errorf("topic = %q, want site/db/orders/insert", topic)
	}
	if got.Codec.Name() != "cbor" {
		t.Errorf("Codec = %s, want cbor", got.Codec.Name())
	}
	if got.RetryInitial != 2*time.Second || got.RetryMax != 30*time.Second {
		t.Errorf("retry = %v..%v", got.RetryInitial, got.RetryMax)
	}
	if len(got.Filter.Tables) != 1 || got.Filter.Tables[0] != "orders" {
		t.Errorf("Filter = %+v", got.Filter)
	}

	if _, err := forwarderConfig(config.MQTTConfig{Codec: "xml"}, testLogger()); err == nil {
		t.Error("forwarderConfig() should reject an unknown codec")
	}
}

func TestMigrationSource(t *testing.T) {
	if got := migrationSource(config.MigrationsConfig{}); got != migrations.FS {
		t.Error("empty dir should use the embedded migrations")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260301_000000_x.up.sql"), []byte("CREATE TABLE x (id INTEGER);"), 0600); err != nil {
		t.Fatal(err)
	}
	entries, err := fs.ReadDir(migrationSource(config.MigrationsConfig{Dir: dir}), ".")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %v, want the one file", entries)
	}
}

func TestHealthCheck_EngineOnly(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.Open(ctx, engine.Config{
		Pool: pool.Config{Path: filepath.Join(t.TempDir(), "hc.db"), Readers: 1},
	}, extension.NewDefaultRegistry())
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}
	defer eng.Close() //nolint:errcheck // Test cleanup

	if err := healthCheck(ctx, eng, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}

	eng.Close() //nolint:errcheck // Closing early to force a failure
	if err := healthCheck(ctx, eng, nil, nil); err == nil {
		t.Error("healthCheck() on a closed engine should fail")
	}
}
