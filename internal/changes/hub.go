package changes

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub fans published events out to subscriptions.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	// stopping ends when Stop is called; blocked pushes give up then.
	stopping context.Context
	stop     context.CancelFunc

	published atomic.Uint64
	delivered atomic.Uint64

	// droppedGone keeps the drop count of closed subscriptions.
	droppedGone atomic.Uint64
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Dropped     uint64
}

// NewHub returns a hub whose subscriptions use cfg's queue capacity and
// overflow policy.
func NewHub(cfg Config) *Hub {
	cfg = cfg.withDefaults()
	stopping, stop := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "changes.hub"),
		subs:     make(map[uint64]*Subscription),
		stopping: stopping,
		stop:     stop,
	}
}

// Subscribe registers a subscription for events matching f. The
// subscription closes itself when ctx ends. Subscribing to a closed hub
// returns an already closed subscription.
func (h *Hub) Subscribe(ctx context.Context, f Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		filter: f,
		queue:  NewQueue(h.cfg.QueueCapacity, h.cfg.Overflow),
	}
	if h.closed {
		sub.queue.Close()
		return sub
	}
	h.subs[sub.id] = sub
	sub.stop = context.AfterFunc(ctx, sub.Close)

	h.logger.Debug("subscribed", "subscription", sub.id, "tables", f.Tables, "ops", f.Ops)
	return sub
}

// Publish hands events to every matching subscription, in order. With
// PolicyBlock it waits for slow consumers until ctx ends or the hub is
// stopped. After Stop, an event that finds a full queue is dropped and
// counted against that subscription.
func (h *Hub) Publish(ctx context.Context, events []Event) error {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	pushCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unwatch := context.AfterFunc(h.stopping, func() { cancel(errHubStopping) })
	defer unwatch()

	var dropped int
	for _, e := range events {
		for _, s := range subs {
			if !s.filter.Match(e) {
				continue
			}
			if err := s.queue.Push(pushCtx, e); err != nil {
				switch {
				case errors.Is(err, ErrQueueClosed):
					continue
				case errors.Is(context.Cause(pushCtx), errHubStopping) && ctx.Err() == nil:
					s.queue.countDrop()
					dropped++
					continue
				}
				return err
			}
			h.delivered.Add(1)
		}
		h.published.Add(1)
	}
	if dropped > 0 {
		h.logger.Warn("hub stopping, dropped events for full subscriptions", "dropped", dropped)
	}
	return nil
}

// Stop makes publishing non-blocking: from now on an event that finds a
// full queue is dropped instead of waiting for the consumer. Subscriptions
// stay open. Safe to call more than once.
func (h *Hub) Stop() { h.stop() }

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	n := len(h.subs)
	dropped := h.droppedGone.Load()
	for _, s := range h.subs {
		dropped += s.Dropped()
	}
	h.mu.Unlock()

	return HubStats{
		Subscribers: n,
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     dropped,
	}
}

// Close stops the hub and ends every subscription. Events already queued
// stay readable until a subscription has drained them. Later subscriptions
// start closed.
func (h *Hub) Close() {
	h.stop()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		h.droppedGone.Add(s.Dropped())
		s.close(false)
	}
	h.logger.Debug("hub closed", "subscriptions", len(subs))
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; ok {
		delete(h.subs, s.id)
		h.droppedGone.Add(s.Dropped())
	}
}

// Subscription is a lazy, ordered, non-restartable sequence of events.
type Subscription struct {
	id     uint64
	hub    *Hub
	filter Filter
	queue  *Queue
	stop   func() bool
	once   sync.Once
}

// ID identifies the subscription within its hub.
func (s *Subscription) ID() uint64 { return s.id }

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter { return s.filter }

// Next returns the next event, waiting until one arrives. It returns
// ErrSubscriptionClosed once the subscription is closed: immediately after
// Close, and after the queued events when the hub shut down.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	e, err := s.queue.Pop(ctx)
	if errors.Is(err, ErrQueueClosed) {
		return Event{}, ErrSubscriptionClosed
	}
	return e, err
}

// All yields events until the subscription closes or ctx ends; the final
// pair carries the terminating error.
func (s *Subscription) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			e, err := s.Next(ctx)
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Dropped returns how many events overflowed this subscription's queue.
func (s *Subscription) Dropped() uint64 { return s.queue.Dropped() }

// Pending returns the number of queued events.
func (s *Subscription) Pending() int { return s.queue.Len() }

// Close unsubscribes and discards any queued events. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.close(true)
	})
}

// close ends the subscription, keeping queued events readable unless
// discard is set.
func (s *Subscription) close(discard bool) {
	if s.stop != nil {
		s.stop()
	}
	if discard {
		s.queue.Discard()
		return
	}
	s.queue.Close()
}
