// Package realtime serves the /ws push channel. Each accepted websocket
// becomes a broadcaster subscriber; the only inbound message understood is
// {"type":"ping"}, answered with {"type":"pong"}.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chronos-os/chronos/internal/infrastructure/messaging"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Registry tracks connected subscribers.
type Registry interface {
	Add(sub messaging.Subscriber) <-chan struct{}
	Remove(id string)
}

// Message is a control frame exchanged on the channel.
type Message struct {
	Type string `json:"type"`
}

const (
	TypePing = "ping"
	TypePong = "pong"
)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Registry Registry
	Logger   *slog.Logger

	// OriginPatterns are host patterns accepted besides the request host.
	// Empty accepts any origin.
	OriginPatterns []string

	// ReadLimit caps a single inbound frame.
	ReadLimit int64

	// PongTimeout bounds writing a pong reply.
	PongTimeout time.Duration
}

// Handler upgrades requests to websocket subscribers.
type Handler struct {
	registry    Registry
	logger      *slog.Logger
	origins     []string
	readLimit   int64
	pongTimeout time.Duration
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4096
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 5 * time.Second
	}
	return &Handler{
		registry:    cfg.Registry,
		logger:      cfg.Logger.With("component", "realtime"),
		origins:     cfg.OriginPatterns,
		readLimit:   cfg.ReadLimit,
		pongTimeout: cfg.PongTimeout,
	}
}

// ServeHTTP accepts the websocket and runs its read loop until the peer
// goes away or the broadcaster drops it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(h.readLimit)

	sub := &subscriber{id: uuid.NewString(), conn: conn}
	h.registry.Add(sub)
	defer h.registry.Remove(sub.id)

	h.readLoop(r.Context(), sub)
}

func (h *Handler) readLoop(ctx context.Context, sub *subscriber) {
	for {
		typ, data, err := sub.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", "subscriber", sub.id, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != TypePing {
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, h.pongTimeout)
		err = wsjson.Write(writeCtx, sub.conn, Message{Type: TypePong})
		cancel()
		if err != nil {
			h.logger.Debug("pong failed", "subscriber", sub.id, "error", err)
			return
		}
	}
}

// subscriber adapts a websocket connection to messaging.Subscriber.
type subscriber struct {
	id   string
	conn *websocket.Conn
	once sync.Once
}

func (s *subscriber) ID() string { return s.id }

func (s *subscriber) Send(ctx context.Context, payload []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

func (s *subscriber) Close() {
	s.once.Do(func() {
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
}
