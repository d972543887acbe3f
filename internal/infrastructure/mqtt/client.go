package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/litecore/internal/infrastructure/config"
)

// Client publishes committed change events to an MQTT broker.
//
// It reconnects on its own, keeps a retained status message on
// litecore/system/status and counts publish outcomes. All methods are safe
// for concurrent use.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	identity Identity

	mu        sync.Mutex
	connected bool
	// up is closed while the link is up and replaced when it drops.
	up           chan struct{}
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger

	published atomic.Uint64
	failed    atomic.Uint64
	lastErr   atomic.Pointer[string]
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// PublishStats is a snapshot of publish outcomes.
type PublishStats struct {
	Published uint64
	Failed    uint64
	LastError string
	Connected bool
}

func newClient(cfg config.MQTTConfig, id Identity) *Client {
	return &Client{
		cfg:      cfg,
		identity: id,
		up:       make(chan struct{}),
	}
}

// Connect dials the broker and publishes an online status carrying id.
// The broker publishes the offline status itself if the process dies. The
// client keeps reconnecting in the background after a lost link.
func Connect(cfg config.MQTTConfig, id Identity) (*Client, error) {
	c := newClient(cfg, id)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID, id)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the link up now so
	// IsConnected holds as soon as Connect returns.
	c.setConnected(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // Validated to 0-2
		statusPayload(c.cfg.Broker.ClientID, c.identity, true, ""))

	c.mu.Lock()
	callback := c.onConnect
	c.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.noteFailure(err)

	c.mu.Lock()
	callback := c.onDisconnect
	c.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if up == c.connected {
		return
	}
	c.connected = up
	if up {
		close(c.up)
	} else {
		c.up = make(chan struct{})
	}
}

// Close publishes a graceful offline status and disconnects. Closing a
// client that never connected is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // Validated to 0-2
			statusPayload(c.cfg.Broker.ClientID, c.identity, false, reasonShutdown))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known link state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	return connected && c.client != nil && c.client.IsConnected()
}

// WaitConnected blocks until the broker link is up or ctx ends. The change
// forwarder calls it between failed publishes.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	up := c.up
	c.mu.Unlock()
	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns publish counters.
func (c *Client) Stats() PublishStats {
	s := PublishStats{
		Published: c.published.Load(),
		Failed:    c.failed.Load(),
		Connected: c.IsConnected(),
	}
	if msg := c.lastErr.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}

func (c *Client) noteFailure(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	c.lastErr.Store(&msg)
}

// SetOnConnect sets a callback run on the first connect and every
// reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the link drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for reconnect notices.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}
