// Package api implements the litecore operations listener.
//
// This package provides:
//   - GET /healthz: a reader-path check of the database
//   - GET /stats: pool, executor and change-capture counters as JSON
//   - GET {metrics_path}: Prometheus exposition
//   - GET /changes: a WebSocket stream of committed change events
//   - Middleware stack (request ID, logging, recovery)
//
// The listener never accepts SQL. Writes and queries stay in-process.
//
// # Change stream
//
// A WebSocket client selects events with repeated query parameters:
//
//	/changes?table=orders&table=customers&op=insert
//
// Each event arrives as a JSON text frame:
//
//	{"type":"event","timestamp":"...","payload":{"table":"orders","rowid":7,"op":"insert",...}}
//
// Each connection owns one change subscription, so the configured overflow
// policy applies per connection: with "block" a slow client holds up the
// publisher, with "drop_oldest" it loses its oldest events.
package api
