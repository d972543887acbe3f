package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/infrastructure/mqtt"
)

// Keys for litecore metrics.
const (
	CommandsTotalKey          = "litecore_commands_total"
	CommandDurationSecondsKey = "litecore_command_duration_seconds"
	QueueWaitSecondsKey       = "litecore_queue_wait_seconds"
	RetriesTotalKey           = "litecore_retries_total"
	QueueDepthKey             = "litecore_writer_queue_depth"
	ReadersInUseKey           = "litecore_pool_readers_in_use"
	PoolExhaustedTotalKey     = "litecore_pool_exhausted_total"
	HandlesReplacedTotalKey   = "litecore_pool_handles_replaced_total"
	DatabaseSizeBytesKey      = "litecore_database_size_bytes"
	EventsPublishedTotalKey   = "litecore_change_events_published_total"
	EventsDroppedTotalKey     = "litecore_change_events_dropped_total"
	EventsDiscardedTotalKey   = "litecore_change_events_discarded_total"
	SubscribersKey            = "litecore_change_subscribers"
	MQTTPublishedTotalKey     = "litecore_mqtt_published_total"
	MQTTFailedTotalKey        = "litecore_mqtt_publish_failures_total"
	MQTTConnectedKey          = "litecore_mqtt_connected"

	Fail = "fail"
	Ok   = "ok"
)

// StatsSource is satisfied by *engine.Engine.
type StatsSource interface {
	Stats() engine.Stats
}

// PublisherSource is satisfied by *mqtt.Client.
type PublisherSource interface {
	Stats() mqtt.PublishStats
}

// Metrics holds the per-command collectors. It implements
// executor.Observer.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueWait       prometheus.Histogram
	retriesTotal    *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// New creates the command collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: CommandsTotalKey,
			Help: "Cumulative number of writer commands by kind, status and error class.",
		}, []string{"kind", "status", "class"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    CommandDurationSecondsKey,
			Help:    "Time spent running writer commands, excluding queue wait.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    QueueWaitSecondsKey,
			Help:    "Time writer commands spent queued before running.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: RetriesTotalKey,
			Help: "Cumulative number of busy and conflict retries.",
		}, []string{"reason"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: QueueDepthKey,
			Help: "Writer commands waiting when the last command finished.",
		}),
	}
}

// CommandFinished records one finished command.
func (m *Metrics) CommandFinished(s executor.CommandStats) {
	status, class := Ok, ""
	if s.Err != nil {
		status, class = Fail, executor.ErrorClass(s.Err)
	}
	m.commandsTotal.WithLabelValues(s.Kind, status, class).Inc()
	m.commandDuration.WithLabelValues(s.Kind).Observe(s.Duration.Seconds())
	m.queueWait.Observe(s.QueueWait.Seconds())
	m.queueDepth.Set(float64(s.QueueDepth))
}

// Retried records one retry.
func (m *Metrics) Retried(reason string) {
	m.retriesTotal.WithLabelValues(reason).Inc()
}

// WatchEngine registers collectors that read src.Stats on every scrape.
// Stats are snapshotted at most once per minAge so one scrape does not
// take the snapshot once per collector.
func WatchEngine(reg prometheus.Registerer, src StatsSource, minAge time.Duration) {
	c := &statsCache{src: src, minAge: minAge}
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: ReadersInUseKey,
		Help: "Reader handles currently leased.",
	}, func() float64 { return float64(c.get().Pool.ReadersInUse) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: PoolExhaustedTotalKey,
		Help: "Cumulative number of handle acquisitions that timed out.",
	}, func() float64 { return float64(c.get().Pool.Exhausted) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: HandlesReplacedTotalKey,
		Help: "Cumulative number of broken handles replaced.",
	}, func() float64 { return float64(c.get().Pool.Replaced) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: DatabaseSizeBytesKey,
		Help: "Size of the main database file.",
	}, func() float64 { return float64(c.get().Pool.FileSizeBytes) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: EventsPublishedTotalKey,
		Help: "Cumulative number of committed change events published.",
	}, func() float64 { return float64(c.get().Bridge.Published) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: EventsDiscardedTotalKey,
		Help: "Cumulative number of captured changes discarded by rollback.",
	}, func() float64 { return float64(c.get().Bridge.Discarded) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: EventsDroppedTotalKey,
		Help: "Cumulative number of events dropped by full subscriptions, under drop-oldest or during shutdown.",
	}, func() float64 { return float64(c.get().Hub.Dropped) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: SubscribersKey,
		Help: "Open change subscriptions.",
	}, func() float64 { return float64(c.get().Hub.Subscribers) })
}

// WatchPublisher registers broker publish counters read from src at scrape
// time.
func WatchPublisher(reg prometheus.Registerer, src PublisherSource) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: MQTTPublishedTotalKey,
		Help: "Cumulative number of messages the broker acknowledged.",
	}, func() float64 { return float64(src.Stats().Published) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: MQTTFailedTotalKey,
		Help: "Cumulative number of failed publishes.",
	}, func() float64 { return float64(src.Stats().Failed) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: MQTTConnectedKey,
		Help: "1 while the broker link is up.",
	}, func() float64 {
		if src.Stats().Connected {
			return 1
		}
		return 0
	})
}
