package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/pool"
)

type countingObserver struct {
	mu       sync.Mutex
	finished []string
	retries  []string
}

func (o *countingObserver) CommandFinished(s executor.CommandStats) {
	o.mu.Lock()
	o.finished = append(o.finished, s.Kind)
	o.mu.Unlock()
}

func (o *countingObserver) Retried(reason string) {
	o.mu.Lock()
	o.retries = append(o.retries, reason)
	o.mu.Unlock()
}

func TestCombine(t *testing.T) {
	if got := Combine(); got != nil {
		t.Errorf("Combine() = %v, want nil", got)
	}
	if got := Combine(nil, nil); got != nil {
		t.Errorf("Combine(nil, nil) = %v, want nil", got)
	}

	single := &countingObserver{}
	if got := Combine(nil, single); got != executor.Observer(single) {
		t.Errorf("Combine(nil, single) = %v, want the single observer", got)
	}

	a, b := &countingObserver{}, &countingObserver{}
	obs := Combine(a, nil, b)
	obs.CommandFinished(executor.CommandStats{Kind: "statement"})
	obs.Retried(executor.RetryBusy)

	for name, o := range map[string]*countingObserver{"a": a, "b": b} {
		if len(o.finished) != 1 || o.finished[0] != "statement" {
			t.Errorf("%s finished = %v", name, o.finished)
		}
		if len(o.retries) != 1 || o.retries[0] != executor.RetryBusy {
			t.Errorf("%s retries = %v", name, o.retries)
		}
	}
}

type fakeSource struct{ readers int }

func (s fakeSource) Stats() engine.Stats {
	return engine.Stats{Pool: pool.Stats{Readers: s.readers, FileSizeBytes: 4096}}
}

type fakeSink struct {
	mu    sync.Mutex
	snaps []engine.Stats
	seen  chan struct{}
}

func (s *fakeSink) WriteEngineStats(st engine.Stats) {
	s.mu.Lock()
	s.snaps = append(s.snaps, st)
	s.mu.Unlock()
	select {
	case s.seen <- struct{}{}:
	default:
	}
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func TestReporter(t *testing.T) {
	sink := &fakeSink{seen: make(chan struct{}, 16)}
	r := NewReporter(ReporterConfig{
		Interval: 10 * time.Millisecond,
		Source:   fakeSource{readers: 3},
		Sink:     sink,
	})

	r.Start(context.Background())
	for range 3 {
		select {
		case <-sink.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for snapshot")
		}
	}
	r.Stop()
	r.Stop() // idempotent

	n := sink.count()
	if n < 4 {
		t.Errorf("snapshots = %d, want at least 4 (3 ticks and the final one)", n)
	}
	if sink.snaps[0].Pool.Readers != 3 {
		t.Errorf("snapshot readers = %d, want 3", sink.snaps[0].Pool.Readers)
	}

	time.Sleep(30 * time.Millisecond)
	if sink.count() != n {
		t.Error("snapshots written after Stop")
	}
}

func TestReporterStopsWithContext(t *testing.T) {
	sink := &fakeSink{seen: make(chan struct{}, 16)}
	r := NewReporter(ReporterConfig{Interval: time.Hour, Source: fakeSource{}, Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	<-sink.seen
	cancel()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after context cancel")
	}
	if r.interval != time.Hour {
		t.Errorf("interval = %v", r.interval)
	}
	if NewReporter(ReporterConfig{Source: fakeSource{}, Sink: sink}).interval != DefaultReportInterval {
		t.Error("zero interval should select DefaultReportInterval")
	}
}
