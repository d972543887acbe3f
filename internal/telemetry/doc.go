// Package telemetry connects engine telemetry to its sinks.
//
// Combine fans executor observations out to several sinks (Prometheus
// metrics, InfluxDB). Reporter snapshots engine counters on an interval and
// hands them to a StatsSink.
package telemetry
