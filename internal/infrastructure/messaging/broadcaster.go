package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BROADCASTER
// ══════════════════════════════════════════════════════════════════════════════

// Subscriber is one connected realtime client.
type Subscriber interface {
	// ID identifies the subscriber in logs.
	ID() string

	// Send writes one encoded event. It is only ever called from the
	// subscriber's own writer goroutine.
	Send(ctx context.Context, payload []byte) error

	// Close releases the underlying connection.
	Close()
}

// Broadcaster fans encoded events out to every connected subscriber.
// Delivery is best effort: Broadcast never blocks, and a subscriber whose
// queue is full or whose send fails is dropped.
type Broadcaster struct {
	logger       *slog.Logger
	queueSize    int
	writeTimeout time.Duration

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	sub   Subscriber
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	Logger *slog.Logger

	// QueueSize is the per-subscriber backlog before it counts as slow.
	QueueSize int

	// WriteTimeout bounds a single send.
	WriteTimeout time.Duration
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Broadcaster{
		logger:       cfg.Logger.With("component", "broadcaster"),
		queueSize:    cfg.QueueSize,
		writeTimeout: cfg.WriteTimeout,
		peers:        make(map[string]*peer),
	}
}

// Add registers a subscriber and starts its writer. The returned channel is
// closed once the subscriber has been removed for any reason.
func (b *Broadcaster) Add(sub Subscriber) <-chan struct{} {
	p := &peer{
		sub:   sub,
		queue: make(chan []byte, b.queueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.peers[sub.ID()]; ok {
		b.removeLocked(old)
	}
	b.peers[sub.ID()] = p
	count := len(b.peers)
	b.mu.Unlock()

	go b.writer(p)

	b.logger.Info("subscriber connected", "subscriber", sub.ID(), "subscribers", count)
	return p.done
}

// Remove drops a subscriber. Removing an unknown subscriber is a no-op.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	p, ok := b.peers[id]
	if ok {
		b.removeLocked(p)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) removeLocked(p *peer) {
	if cur, ok := b.peers[p.sub.ID()]; ok && cur == p {
		delete(b.peers, p.sub.ID())
	}
	p.once.Do(func() { close(p.done) })
}

// Broadcast enqueues payload for every subscriber and returns the number it
// was queued for.
func (b *Broadcaster) Broadcast(payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	queued := 0
	for id, p := range b.peers {
		select {
		case p.queue <- payload:
			queued++
		default:
			b.logger.Warn("subscriber too slow, dropping", "subscriber", id)
			b.removeLocked(p)
		}
	}
	return queued
}

// HandleEvent is an event bus handler that broadcasts the encoded event.
func (b *Broadcaster) HandleEvent(event shared.Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	n := b.Broadcast(payload)
	b.logger.Debug("event broadcast", "event_type", event.Type, "subscribers", n)
	return nil
}

// Count returns the number of connected subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// CloseAll disconnects every subscriber.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	for _, p := range b.peers {
		b.removeLocked(p)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) writer(p *peer) {
	defer p.sub.Close()

	for {
		select {
		case <-p.done:
			return
		case payload := <-p.queue:
			ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
			err := p.sub.Send(ctx, payload)
			cancel()
			if err != nil {
				b.logger.Info("send failed, dropping subscriber", "subscriber", p.sub.ID(), "error", err)
				b.mu.Lock()
				b.removeLocked(p)
				b.mu.Unlock()
				return
			}
		}
	}
}
