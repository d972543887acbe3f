package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/infrastructure/mqtt"
	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlerr"
)

// gather returns the metrics of family name, keyed by their rendered labels.
func gather(t *testing.T, reg *prometheus.Registry, name string) map[string]*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.Metric)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += fmt.Sprintf("%s=%s,", lp.GetName(), lp.GetValue())
			}
			out[key] = m
		}
	}
	return out
}

func TestCommandFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandFinished(executor.CommandStats{Kind: "statement", Duration: time.Millisecond, QueueDepth: 3})
	m.CommandFinished(executor.CommandStats{Kind: "statement", Duration: 2 * time.Millisecond})
	m.CommandFinished(executor.CommandStats{
		Kind: "transaction",
		Err:  &sqlerr.Error{Kind: sqlerr.KindConstraint, Err: errors.New("UNIQUE constraint failed: t.id")},
	})
	m.CommandFinished(executor.CommandStats{Kind: "script", Err: fmt.Errorf("%w: boom", executor.ErrPanic)})
	m.Retried(executor.RetryBusy)
	m.Retried(executor.RetryBusy)
	m.Retried(executor.RetryConflict)

	commands := gather(t, reg, CommandsTotalKey)
	tests := []struct {
		labels string
		want   float64
	}{
		{"class=,kind=statement,status=ok,", 2},
		{"class=constraint_violation,kind=transaction,status=fail,", 1},
		{"class=panic,kind=script,status=fail,", 1},
	}
	for _, tt := range tests {
		got, ok := commands[tt.labels]
		if !ok {
			t.Errorf("no series %q in %v", tt.labels, commands)
			continue
		}
		if v := got.GetCounter().GetValue(); v != tt.want {
			t.Errorf("%s = %v, want %v", tt.labels, v, tt.want)
		}
	}

	retries := gather(t, reg, RetriesTotalKey)
	if v := retries["reason=busy,"].GetCounter().GetValue(); v != 2 {
		t.Errorf("busy retries = %v, want 2", v)
	}
	if v := retries["reason=conflict,"].GetCounter().GetValue(); v != 1 {
		t.Errorf("conflict retries = %v, want 1", v)
	}

	durations := gather(t, reg, CommandDurationSecondsKey)
	if n := durations["kind=statement,"].GetHistogram().GetSampleCount(); n != 2 {
		t.Errorf("statement duration samples = %d, want 2", n)
	}
	// The last command finished with an empty queue.
	if v := gather(t, reg, QueueDepthKey)[""].GetGauge().GetValue(); v != 0 {
		t.Errorf("queue depth = %v, want 0", v)
	}
}

type fakeSource struct {
	calls int
	stats engine.Stats
}

func (s *fakeSource) Stats() engine.Stats {
	s.calls++
	return s.stats
}

func TestWatchEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeSource{stats: engine.Stats{
		Pool:   pool.Stats{ReadersInUse: 2, Exhausted: 5, FileSizeBytes: 4096},
		Bridge: changes.BridgeStats{Published: 40, Discarded: 3},
		Hub:    changes.HubStats{Subscribers: 1, Dropped: 7},
	}}
	WatchEngine(reg, src, time.Hour)

	tests := []struct {
		name string
		want float64
		get  func(*dto.Metric) float64
	}{
		{ReadersInUseKey, 2, gaugeValue},
		{PoolExhaustedTotalKey, 5, counterValue},
		{DatabaseSizeBytesKey, 4096, gaugeValue},
		{EventsPublishedTotalKey, 40, counterValue},
		{EventsDiscardedTotalKey, 3, counterValue},
		{EventsDroppedTotalKey, 7, counterValue},
		{SubscribersKey, 1, gaugeValue},
	}
	for _, tt := range tests {
		m, ok := gather(t, reg, tt.name)[""]
		if !ok {
			t.Errorf("%s not registered", tt.name)
			continue
		}
		if got := tt.get(m); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if src.calls != 1 {
		t.Errorf("Stats() called %d times, want 1 within minAge", src.calls)
	}
}

type fakePublisher struct{ stats mqtt.PublishStats }

func (p fakePublisher) Stats() mqtt.PublishStats { return p.stats }

func TestWatchPublisher(t *testing.T) {
	reg := prometheus.NewRegistry()
	WatchPublisher(reg, fakePublisher{stats: mqtt.PublishStats{Published: 12, Failed: 2, Connected: true}})

	tests := []struct {
		name string
		want float64
		get  func(*dto.Metric) float64
	}{
		{MQTTPublishedTotalKey, 12, counterValue},
		{MQTTFailedTotalKey, 2, counterValue},
		{MQTTConnectedKey, 1, gaugeValue},
	}
	for _, tt := range tests {
		m, ok := gather(t, reg, tt.name)[""]
		if !ok {
			t.Errorf("%s not registered", tt.name)
			continue
		}
		if got := tt.get(m); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func gaugeValue(m *dto.Metric) float64   { return m.GetGauge().GetValue() }
func counterValue(m *dto.Metric) float64 { return m.GetCounter().GetValue() }
