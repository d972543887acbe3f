package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
)

// Measurement names.
const (
	MeasurementCommands   = "litecore_commands"
	MeasurementRetries    = "litecore_retries"
	MeasurementPool       = "litecore_pool"
	MeasurementChanges    = "litecore_changes"
	MeasurementExecutor   = "litecore_executor"
	MeasurementMigrations = "litecore_migrations"
)

// CommandFinished implements executor.Observer. It runs on the writer
// worker, so it only enqueues a point; the write API batches and sends.
func (c *Client) CommandFinished(s executor.CommandStats) {
	c.write(commandPoint(s, time.Now()))
}

// Retried implements executor.Observer.
func (c *Client) Retried(reason string) {
	c.write(write.NewPoint(MeasurementRetries,
		map[string]string{"reason": reason},
		map[string]any{"count": 1},
		time.Now()))
}

// WriteEngineStats records a snapshot of pool, executor and change
// counters. Counters are cumulative since the engine opened.
func (c *Client) WriteEngineStats(s engine.Stats) {
	for _, p := range statsPoints(s, time.Now()) {
		c.write(p)
	}
}

// MigrationsApplied records a completed migration run.
func (c *Client) MigrationsApplied(applied int, took time.Duration) {
	c.write(migrationsPoint(applied, took, time.Now()))
}

func commandPoint(s executor.CommandStats, now time.Time) *write.Point {
	status := "ok"
	tags := map[string]string{"kind": s.Kind}
	if s.Err != nil {
		status = "fail"
		tags["class"] = executor.ErrorClass(s.Err)
	}
	tags["status"] = status

	return write.NewPoint(MeasurementCommands, tags, map[string]any{
		"duration_ms":   float64(s.Duration) / float64(time.Millisecond),
		"queue_wait_ms": float64(s.QueueWait) / float64(time.Millisecond),
		"attempts":      int64(s.Attempts),
		"queue_depth":   int64(s.QueueDepth),
	}, now)
}

func migrationsPoint(applied int, took time.Duration, now time.Time) *write.Point {
	return write.NewPoint(MeasurementMigrations, nil, map[string]any{
		"applied":     int64(applied),
		"duration_ms": float64(took) / float64(time.Millisecond),
	}, now)
}

func statsPoints(s engine.Stats, now time.Time) []*write.Point {
	return []*write.Point{
		write.NewPoint(MeasurementPool, nil, map[string]any{
			"readers":          int64(s.Pool.Readers),
			"readers_in_use":   int64(s.Pool.ReadersInUse),
			"acquired":         s.Pool.Acquired,
			"exhausted":        s.Pool.Exhausted,
			"handles_replaced": s.Pool.Replaced,
			"file_size_bytes":  s.Pool.FileSizeBytes,
		}, now),
		write.NewPoint(MeasurementExecutor, nil, map[string]any{
			"submitted":        s.Executor.Submitted,
			"completed":        s.Executor.Completed,
			"failed":           s.Executor.Failed,
			"busy_retries":     s.Executor.BusyRetries,
			"conflict_retries": s.Executor.ConflictRetries,
			"queue_depth":      int64(s.Executor.QueueDepth),
		}, now),
		write.NewPoint(MeasurementChanges, nil, map[string]any{
			"captured":    s.Bridge.Captured,
			"published":   s.Bridge.Published,
			"discarded":   s.Bridge.Discarded,
			"pending":     int64(s.Bridge.Pending),
			"subscribers": int64(s.Hub.Subscribers),
			"delivered":   s.Hub.Delivered,
			"dropped":     s.Hub.Dropped,
		}, now),
	}
}
