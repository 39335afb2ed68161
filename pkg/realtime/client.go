package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chronos-os/chronos/pkg/retry"
	"github.com/chronos-os/chronos/pkg/timeutil"
	"github.com/coder/websocket"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Event kinds pushed by the engine.
const (
	EventAlarmRing      = "alarm_ring"
	EventAlarmDismissed = "alarm_dismissed"
	EventTaskReminder   = "task_reminder"
)

// Event is one pushed frame.
type Event struct {
	Event    string    `json:"event"`
	AlarmID  string    `json:"alarm_id,omitempty"`
	Sound    string    `json:"sound,omitempty"`
	SoundRef string    `json:"sound_ref,omitempty"`
	Label    string    `json:"label,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	At       time.Time `json:"at"`
}

var pingFrame = []byte(`{"type":"ping"}`)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// Conn is an open message connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with coder/websocket.
type WebSocketDialer struct {
	Options   *websocket.DialOptions
	ReadLimit int64
}

// Dial opens a websocket to url.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return wsConn{c}, nil
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// State is the connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultKeepAlive is the ping interval while open.
const DefaultKeepAlive = 25 * time.Second

var (
	// ErrStopped is returned by Start after Disconnect.
	ErrStopped = errors.New("realtime: client stopped")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("realtime: client already started")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	URL    string
	Dialer Dialer
	Clock  timeutil.Clock

	// Backoff yields reconnect delays; it is reset on every Open.
	Backoff *retry.Backoff

	KeepAlive    time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// OnOpen runs after each successful connect, before any event of that
	// connection is delivered.
	OnOpen func()

	// OnEvent receives every well-formed event.
	OnEvent func(Event)

	// OnStateChange observes transitions. It runs with the client lock held
	// and must not call back into the Client.
	OnStateChange func(State)

	Logger *slog.Logger
}

// Client maintains the realtime connection.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	gen       uint64
	conn      Conn
	reconnect timeutil.Timer
	keepalive timeutil.Timer
}

// NewClient creates a client in the idle state.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{ReadLimit: 1 << 20}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.System(nil)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.ReconnectBackoff()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "realtime_client", "url", cfg.URL),
	}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start dials once before returning. A failed dial is not an error: the
// client moves to Closed and keeps retrying until Disconnect.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		return ErrStopped
	case StateIdle:
	default:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.connect(gen)
	return nil
}

// Disconnect closes the connection and cancels pending reconnect and
// keepalive timers. It is the only way out of the reconnect cycle.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopTimersLocked()
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.setStateLocked(StateStopped)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Info("realtime client stopped")
}

func (c *Client) connect(gen uint64) {
	dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	conn, err := c.cfg.Dialer.Dial(dialCtx, c.cfg.URL)
	cancel()
	if err != nil {
		c.logger.Warn("dial failed", "error", err)
		c.closed(gen, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.cfg.Backoff.Reset()
	c.setStateLocked(StateOpen)
	c.scheduleKeepAliveLocked(gen)
	c.mu.Unlock()

	c.logger.Info("realtime connected")
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}
	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			c.closed(gen, err)
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Event == "" {
			continue
		}
		if !c.current(gen) {
			return
		}
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(ev)
		}
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state == StateOpen
}

// closed handles the end of connection gen, scheduling the next attempt.
func (c *Client) closed(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || (c.state != StateOpen && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)

	delay := c.cfg.Backoff.Next()
	c.reconnect = c.cfg.Clock.AfterFunc(delay, func() { c.redial(gen) })
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Info("realtime connection closed", "error", cause, "retry_in", delay)
}

func (c *Client) redial(prev uint64) {
	c.mu.Lock()
	if c.gen != prev || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.reconnect = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.connect(gen)
}

func (c *Client) scheduleKeepAliveLocked(gen uint64) {
	c.keepalive = c.cfg.Clock.AfterFunc(c.cfg.KeepAlive, func() { c.ping(gen) })
}

func (c *Client) ping(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
	err := conn.Write(ctx, pingFrame)
	cancel()
	if err != nil {
		c.closed(gen, fmt.Errorf("keepalive: %w", err))
		return
	}

	c.mu.Lock()
	if c.gen == gen && c.state == StateOpen {
		c.scheduleKeepAliveLocked(gen)
	}
	c.mu.Unlock()
}

func (c *Client) stopTimersLocked() {
	if c.keepalive != nil {
		c.keepalive.Stop()
		c.keepalive = nil
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
