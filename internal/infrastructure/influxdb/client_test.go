package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/executor"
	"github.com/nerrad567/litecore/internal/infrastructure/config"
)

// fakeWriter records points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *fakeWriter) written() []*write.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*write.Point(nil), w.points...)
}

type fakePinger struct {
	healthy bool
	err     error
}

func (p fakePinger) Ping(context.Context) (bool, error) { return p.healthy, p.err }

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "litecore-dev-token",
		Org:           "litecore",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestDefaultTags(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, nil)
	c.SetTag("database", "orders")
	c.SetTag("instance_id", "old")
	c.SetTag("instance_id", "abc")

	c.CommandFinished(executor.CommandStats{Kind: "statement"})
	c.MigrationsApplied(2, time.Second)

	// A tag set on the point itself wins over a default.
	c.SetTag("kind", "default")
	c.CommandFinished(executor.CommandStats{Kind: "script"})

	points := w.written()
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	for _, p := range points {
		tags := tagsOf(p)
		if tags["database"] != "orders" || tags["instance_id"] != "abc" {
			t.Errorf("%s tags = %v, want database=orders instance_id=abc", p.Name(), tags)
		}
	}
	if got := tagsOf(points[2])["kind"]; got != "script" {
		t.Errorf("kind tag = %q, want script", got)
	}
	if got := c.Tags(); len(got) != 3 {
		t.Errorf("Tags() = %v, want 3 entries", got)
	}
}

func TestMigrationsApplied(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, nil)
	c.MigrationsApplied(3, 1500*time.Microsecond)

	points := w.written()
	if len(points) != 1 || points[0].Name() != MeasurementMigrations {
		t.Fatalf("points = %v, want one %s point", points, MeasurementMigrations)
	}
	fields := fieldsOf(points[0])
	if fields["applied"] != int64(3) || fields["duration_ms"] != 1.5 {
		t.Errorf("fields = %v, want applied=3 duration_ms=1.5", fields)
	}
}

func TestWriteStats(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, nil)

	var mu sync.Mutex
	var got []error
	c.SetOnError(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})

	c.Retried(executor.RetryBusy)
	c.WriteEngineStats(engine.Stats{})

	errs := make(chan error, 1)
	errs <- errors.New("bucket not found")
	close(errs)
	c.watchErrors(errs)

	st := c.Stats()
	if st.Written != 4 {
		t.Errorf("Written = %d, want 4", st.Written)
	}
	if st.Failed != 1 {
		t.Errorf("Failed = %d, want 1", st.Failed)
	}
	if st.LastError == "" || !st.Connected {
		t.Errorf("Stats() = %+v, want a last error and connected", st)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !errors.Is(got[0], ErrWriteFailed) {
		t.Errorf("callback errors = %v, want one ErrWriteFailed", got)
	}
}

func TestCloseFlushesAndStopsWrites(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, fakePinger{healthy: true})
	c.Retried(executor.RetryConflict)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}

	c.Retried(executor.RetryConflict)
	c.Flush()
	if n := len(w.written()); n != 1 {
		t.Errorf("points = %d, want 1", n)
	}
	if w.flushes != 1 {
		t.Errorf("flushes after Close = %d, want 1", w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		ping    fakePinger
		wantErr bool
	}{
		{name: "healthy", ping: fakePinger{healthy: true}},
		{name: "unhealthy", ping: fakePinger{}, wantErr: true},
		{name: "ping error", ping: fakePinger{err: errors.New("refused")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(&fakeWriter{}, tt.ping)
			err := c.HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntegration_WriteTelemetry(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to write to a local InfluxDB")
	}
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
	client.SetTag("database", "integration")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	client.CommandFinished(executor.CommandStats{Kind: "statement", Duration: time.Millisecond, Attempts: 1})
	client.WriteEngineStats(engine.Stats{})
	client.Flush()

	// Give the error channel a moment to report.
	time.Sleep(100 * time.Millisecond)
	if st := client.Stats(); st.Failed != 0 {
		t.Errorf("Failed = %d, last error %q", st.Failed, st.LastError)
	}
}
