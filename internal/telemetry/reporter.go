package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nerrad567/litecore/internal/engine"
)

// DefaultReportInterval is used when ReporterConfig.Interval is zero.
const DefaultReportInterval = 30 * time.Second

// StatsSource supplies engine counters. *engine.Engine implements it.
type StatsSource interface {
	Stats() engine.Stats
}

// StatsSink records a counter snapshot. *influxdb.Client implements it.
type StatsSink interface {
	WriteEngineStats(engine.Stats)
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	// Interval between snapshots. Default: 30 seconds.
	Interval time.Duration

	Source StatsSource
	Sink   StatsSink

	// Logger receives a debug summary of each snapshot. Optional.
	Logger *slog.Logger
}

// Reporter periodically writes engine stats to a sink.
type Reporter struct {
	interval time.Duration
	source   StatsSource
	sink     StatsSink
	logger   *slog.Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a Reporter. Call Start to begin reporting.
func NewReporter(cfg ReporterConfig) *Reporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Reporter{
		interval: interval,
		source:   cfg.Source,
		sink:     cfg.Sink,
		logger:   logger.With("component", "telemetry.reporter"),
		done:     make(chan struct{}),
	}
}

// Start begins the report loop. A snapshot is written immediately.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends the report loop and writes a final snapshot.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.ReportNow()
	})
}

// ReportNow writes one snapshot.
func (r *Reporter) ReportNow() {
	s := r.source.Stats()
	r.sink.WriteEngineStats(s)
	r.logger.Debug("engine stats",
		"readers_in_use", s.Pool.ReadersInUse,
		"queue_depth", s.Executor.QueueDepth,
		"completed", s.Executor.Completed,
		"failed", s.Executor.Failed,
		"events_published", s.Bridge.Published,
		"subscribers", s.Hub.Subscribers,
		"database_size", humanize.IBytes(uint64(max(s.Pool.FileSizeBytes, 0))),
	)
}

func (r *Reporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.ReportNow()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.ReportNow()
		}
	}
}
