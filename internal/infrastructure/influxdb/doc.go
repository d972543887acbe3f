// Package influxdb records litecore engine telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The Client is an
// executor.Observer, so every finished writer command and every retry
// becomes a point, and WriteEngineStats records periodic snapshots of the
// pool, executor and change-capture counters.
//
// # Measurements
//
//   - litecore_commands: tags kind, status, class; fields duration_ms,
//     queue_wait_ms, attempts, queue_depth
//   - litecore_retries: tag reason (busy, conflict)
//   - litecore_pool, litecore_executor, litecore_changes: cumulative counters
//   - litecore_migrations: fields applied, duration_ms
//
// Every point also carries the client's default tags (see SetTag), so
// several databases can share one bucket.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	client.SetTag("database", "orders")
//
//	engineCfg.Executor.Observer = client
//	client.WriteEngineStats(eng.Stats())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes never block: points are batched according to batch_size and
// flush_interval, and batch errors are counted in Stats and delivered to the
// SetOnError callback.
package influxdb
