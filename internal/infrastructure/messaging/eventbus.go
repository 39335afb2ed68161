// Package messaging carries engine events from their producers (scheduler
// jobs, command handlers) to their consumers (realtime broadcaster, Redis
// relay, firing history).
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chronos-os/chronos/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events to subscribed handlers.
//
// In async mode every subscription owns a bounded mailbox drained by its own
// goroutine: Publish never blocks on a slow handler, and each handler sees
// events in publish order. A full mailbox drops the event for that handler
// only.
type InMemoryEventBus struct {
	mu        sync.RWMutex
	subs      []*subscription
	asyncMode bool
	queueSize int
	logger    *slog.Logger
	metrics   *EventBusMetrics
	closed    bool
	wg        sync.WaitGroup
}

type subscription struct {
	name      string
	eventType shared.EventType // empty means all events
	handler   shared.EventHandler
	mailbox   chan shared.Event
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode enables asynchronous event processing.
	AsyncMode bool

	// QueueSize is the mailbox capacity of each subscription.
	QueueSize int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode: true,
		QueueSize: 256,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	return &InMemoryEventBus{
		asyncMode: config.AsyncMode,
		queueSize: config.QueueSize,
		logger:    config.Logger.With("component", "eventbus"),
		metrics:   &EventBusMetrics{},
	}
}

// Subscribe registers a named handler for one event type.
func (b *InMemoryEventBus) Subscribe(name string, eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(name, eventType, handler)
}

// SubscribeAll registers a named handler for every event.
func (b *InMemoryEventBus) SubscribeAll(name string, handler shared.EventHandler) error {
	return b.subscribe(name, "", handler)
}

func (b *InMemoryEventBus) subscribe(name string, eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	sub := &subscription{name: name, eventType: eventType, handler: handler}
	if b.asyncMode {
		sub.mailbox = make(chan shared.Event, b.queueSize)
		b.wg.Add(1)
		go b.drain(sub)
	}
	b.subs = append(b.subs, sub)

	b.logger.Debug("subscribed handler", "handler", name, "event_type", eventType)
	return nil
}

// Publish hands the event to every matching subscription.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event.Type == "" {
		return ErrEventNotSupported
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.metrics.published.Add(1)

	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != event.Type {
			continue
		}
		if !b.asyncMode {
			b.execute(sub, event)
			continue
		}
		select {
		case sub.mailbox <- event:
		default:
			b.metrics.dropped.Add(1)
			b.logger.Warn("handler mailbox full, event dropped",
				"handler", sub.name,
				"event_type", event.Type,
			)
		}
	}
	return nil
}

func (b *InMemoryEventBus) drain(sub *subscription) {
	defer b.wg.Done()
	for event := range sub.mailbox {
		b.execute(sub, event)
	}
}

// execute runs one handler, containing panics so a faulty consumer cannot
// take the bus down.
func (b *InMemoryEventBus) execute(sub *subscription, event shared.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.failed.Add(1)
			b.logger.Error("handler panicked",
				"handler", sub.name,
				"event_type", event.Type,
				"error", fmt.Errorf("%w: %v", ErrHandlerPanic, r),
			)
		}
	}()

	if err := sub.handler(event); err != nil {
		b.metrics.failed.Add(1)
		b.logger.Error("handler error",
			"handler", sub.name,
			"event_type", event.Type,
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
		return
	}
	b.metrics.handled.Add(1)
}

// Close stops accepting events and waits until every mailbox is drained.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		if sub.mailbox != nil {
			close(sub.mailbox)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()

	b.logger.Info("event bus closed", "stats", b.metrics.Snapshot())
	return nil
}

// Metrics returns the current metrics.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts bus activity.
type EventBusMetrics struct {
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// EventBusMetricsSnapshot is a point-in-time snapshot of metrics.
type EventBusMetricsSnapshot struct {
	Published int64 `json:"published"`
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Snapshot returns a copy of current metrics.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	return EventBusMetricsSnapshot{
		Published: m.published.Load(),
		Handled:   m.handled.Load(),
		Failed:    m.failed.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrEventNotSupported is returned for events without a type.
	ErrEventNotSupported = errors.New("event type not supported")
)
