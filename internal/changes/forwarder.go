package changes

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Forwarder defaults.
const (
	defaultForwardQoS      = 1
	defaultRetryInitial    = 100 * time.Millisecond
	defaultRetryMax        = 5 * time.Second
	defaultRetryMultiplier = 2
)

// MessagePublisher sends a payload to a broker topic. The MQTT client
// satisfies it.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ConnectionWaiter is implemented by publishers that can tell when their
// broker link is back. The forwarder waits on it after a failed publish.
type ConnectionWaiter interface {
	WaitConnected(ctx context.Context) error
}

// TopicNamer names the topic for one operation on one table. mqtt.Topics
// satisfies it.
type TopicNamer interface {
	TableOp(table, op string) string
}

// ForwarderConfig contains forwarder options.
type ForwarderConfig struct {
	// Topics names each event's topic. Required.
	Topics TopicNamer

	// QoS is the MQTT quality of service for every publish. Zero selects 1.
	QoS byte

	// Filter selects the events to forward.
	Filter Filter

	// Codec encodes payloads. Defaults to JSONCodec.
	Codec Codec

	// RetryInitial and RetryMax bound the backoff between failed publishes.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// Logger receives warnings. If nil, a no-op logger is used.
	Logger *slog.Logger
}

func (c ForwarderConfig) withDefaults() ForwarderConfig {
	if c.QoS == 0 {
		c.QoS = defaultForwardQoS
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = max(defaultRetryMax, c.RetryInitial)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// ForwarderStats is a snapshot of forwarder counters.
type ForwarderStats struct {
	Forwarded uint64
	Failures  uint64
	Skipped   uint64
}

// Forwarder republishes committed events to a message broker. Delivery is
// at least once: a failed publish is retried with backoff until it succeeds
// or the forwarder stops.
type Forwarder struct {
	cfg    ForwarderConfig
	pub    MessagePublisher
	sub    *Subscription
	logger *slog.Logger

	forwarded atomic.Uint64
	failures  atomic.Uint64
	skipped   atomic.Uint64
}

// NewForwarder subscribes to hub immediately, so events committed before
// Run starts are not missed.
func NewForwarder(hub *Hub, pub MessagePublisher, cfg ForwarderConfig) (*Forwarder, error) {
	if cfg.Topics == nil {
		return nil, ErrNoTopics
	}
	cfg = cfg.withDefaults()
	return &Forwarder{
		cfg:    cfg,
		pub:    pub,
		sub:    hub.Subscribe(context.Background(), cfg.Filter),
		logger: cfg.Logger.With("component", "changes.forwarder"),
	}, nil
}

// Run forwards events until ctx ends or the subscription closes.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info("forwarding change events",
		"codec", f.cfg.Codec.Name(),
		"qos", f.cfg.QoS,
	)
	for e, err := range f.sub.All(ctx) {
		if err != nil {
			if errors.Is(err, ErrSubscriptionClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := f.forward(ctx, e); err != nil {
			return nil //nolint:nilerr // ctx ended while retrying
		}
	}
	return nil
}

// Close stops the forwarder's subscription; Run returns.
func (f *Forwarder) Close() {
	f.sub.Close()
}

// Stats returns forwarder counters.
func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Forwarded: f.forwarded.Load(),
		Failures:  f.failures.Load(),
		Skipped:   f.skipped.Load(),
	}
}

func (f *Forwarder) forward(ctx context.Context, e Event) error {
	payload, err := f.cfg.Codec.Encode(e)
	if err != nil {
		f.skipped.Add(1)
		f.logger.Error("dropping unencodable event", "event", e, "error", err)
		return nil
	}
	topic := f.cfg.Topics.TableOp(e.Table, string(e.Op))

	wait := f.cfg.RetryInitial
	for {
		err := f.pub.Publish(topic, payload, f.cfg.QoS, false)
		if err == nil {
			f.forwarded.Add(1)
			return nil
		}
		f.failures.Add(1)
		f.logger.Warn("publish failed, retrying", "topic", topic, "seq", e.Seq, "backoff", wait, "error", err)

		if w, ok := f.pub.(ConnectionWaiter); ok {
			if err := w.WaitConnected(ctx); err != nil {
				return err
			}
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		wait = min(wait*defaultRetryMultiplier, f.cfg.RetryMax)
	}
}
