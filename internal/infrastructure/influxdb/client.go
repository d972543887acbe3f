package influxdb

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/litecore/internal/infrastructure/config"
)

// Connection defaults.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 100
	defaultFlushSeconds   = 10
)

// pointWriter is the part of the InfluxDB write API the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// pinger checks server health.
type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Client records engine telemetry as batched InfluxDB points. Every point
// carries the client's default tags. It implements executor.Observer and
// telemetry.StatsSink.
//
// Writes never block the caller: the write API batches them and reports
// failures asynchronously through SetOnError and Stats.
type Client struct {
	client influxdb2.Client
	writer pointWriter
	ping   pinger

	mu        sync.RWMutex
	connected bool
	tags      map[string]string
	onError   func(err error)

	written   atomic.Uint64
	failed    atomic.Uint64
	lastError atomic.Pointer[string]
}

// WriteStats is a snapshot of write accounting. Written counts points
// handed to the batcher; Failed counts batches the server rejected.
type WriteStats struct {
	Written   uint64
	Failed    uint64
	LastError string
	Connected bool
}

func newClient(w pointWriter, p pinger) *Client {
	return &Client{
		writer:    w,
		ping:      p,
		connected: true,
		tags:      make(map[string]string),
	}
}

// Connect pings the server and opens a batching write API on cfg's org and
// bucket. It returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushSeconds
	}
	// #nosec G115 -- both values are positive
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(time.Duration(flushSeconds)*time.Second/time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI, client)
	c.client = client
	go c.watchErrors(writeAPI.Errors())
	return c, nil
}

// watchErrors counts async write failures and hands them to the callback.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.noteError(err)
	}
}

func (c *Client) noteError(err error) {
	err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
	c.failed.Add(1)
	msg := err.Error()
	c.lastError.Store(&msg)

	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// SetTag adds a tag to every point written from now on, replacing any
// earlier value for key. Tags set on a point itself take precedence.
func (c *Client) SetTag(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tags == nil {
		c.tags = make(map[string]string)
	}
	c.tags[key] = value
}

// Tags returns a copy of the default tags.
func (c *Client) Tags() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.tags)
}

// write tags p with the defaults and enqueues it. Points are dropped while
// disconnected.
func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	if !c.connected || c.writer == nil {
		c.mu.RUnlock()
		return
	}
	own := make(map[string]struct{}, len(p.TagList()))
	for _, t := range p.TagList() {
		own[t.Key] = struct{}{}
	}
	for k, v := range c.tags {
		if _, ok := own[k]; !ok {
			p.AddTag(k, v)
		}
	}
	w := c.writer
	c.mu.RUnlock()

	w.WritePoint(p)
	c.written.Add(1)
}

// Stats returns write accounting.
func (c *Client) Stats() WriteStats {
	s := WriteStats{
		Written:   c.written.Load(),
		Failed:    c.failed.Load(),
		Connected: c.IsConnected(),
	}
	if msg := c.lastError.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}

// Close flushes pending points and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected && c.writer != nil {
		c.writer.Flush()
	}
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.ping == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := c.ping.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client accepts writes. Use HealthCheck
// for an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets a callback for asynchronous write failures. Errors wrap
// ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() || c.writer == nil {
		return
	}
	c.writer.Flush()
}
