// Package metrics exposes litecore counters as Prometheus collectors.
//
// Metrics implements executor.Observer for per-command figures. Pool and
// change-capture figures are read from engine.Stats when scraped.
package metrics
