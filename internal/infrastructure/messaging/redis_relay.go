package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/pkg/circuitbreaker"
	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS RELAY
// ══════════════════════════════════════════════════════════════════════════════

// RedisPublisher is the Redis operation the relay needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// DefaultRelayChannel is the Redis channel used when none is configured.
const DefaultRelayChannel = "chronos:events"

// RedisRelay republishes engine events on a Redis channel so that external
// notifiers (mobile push, chat bots) can react without a websocket.
type RedisRelay struct {
	client     RedisPublisher
	channel    string
	instanceID string
	timeout    time.Duration
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// RedisRelayConfig configures a RedisRelay.
type RedisRelayConfig struct {
	Client     RedisPublisher
	Channel    string
	InstanceID string
	Timeout    time.Duration
	Logger     *slog.Logger

	// Breaker skips publishing while Redis keeps failing. Nil installs a
	// default breaker that logs its transitions.
	Breaker *circuitbreaker.CircuitBreaker
}

// RelayEnvelope is the message published on the channel.
type RelayEnvelope struct {
	InstanceID string       `json:"instance_id"`
	Event      shared.Event `json:"event"`
}

// NewRedisRelay creates a relay.
func NewRedisRelay(cfg RedisRelayConfig) (*RedisRelay, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultRelayChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "redis_relay", "channel", cfg.Channel)
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New("redis_relay",
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				logger.Warn("relay circuit changed", "from", from, "to", to)
			}),
		)
	}
	return &RedisRelay{
		client:     cfg.Client,
		channel:    cfg.Channel,
		instanceID: cfg.InstanceID,
		timeout:    cfg.Timeout,
		breaker:    cfg.Breaker,
		logger:     logger,
	}, nil
}

// HandleEvent is an event bus handler that publishes the event. While the
// circuit is open events are skipped without error.
func (r *RedisRelay) HandleEvent(event shared.Event) error {
	data, err := json.Marshal(RelayEnvelope{InstanceID: r.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Publish(ctx, r.channel, string(data))
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		r.logger.Debug("relay circuit open, event skipped", "event_type", event.Type)
		return nil
	case err != nil:
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Healthy reports whether the relay circuit is closed.
func (r *RedisRelay) Healthy() bool {
	return r.breaker.State() == circuitbreaker.StateClosed
}
