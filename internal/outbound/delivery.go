package outbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/chathub/internal/observability"
	"github.com/haasonsaas/chathub/pkg/models"
)

// DefaultRetryDelay is the pause between reconnect attempts after the
// stream connection drops.
const DefaultRetryDelay = 3 * time.Second

// Sender delivers one text chunk to a platform chat.
type Sender interface {
	// Platform names the platform this sender delivers to.
	Platform() models.Platform

	// ChunkLimit is the platform's message-length cap in code points.
	// Zero means DefaultChunkLimit.
	ChunkLimit() int

	// Send delivers a single chunk to the chat.
	Send(ctx context.Context, chatID, text string) error
}

// ConnState describes the deliverer's stream connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateClosing      ConnState = "closing"
)

// Deliverer subscribes to the hub's websocket stream and forwards each
// outbound entry for its platform through the sender, splitting long
// text into platform-sized chunks. Send failures are logged and never
// stop the loop.
type Deliverer struct {
	url        string
	sender     Sender
	retryDelay time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn
	stop  chan struct{}
	once  sync.Once
	done  chan struct{}
}

// Config wires a deliverer.
type Config struct {
	// URL is the stream endpoint, e.g. ws://localhost:3100/ws.
	URL string

	// Sender delivers chunks to the platform.
	Sender Sender

	// RetryDelay overrides the reconnect pause (default DefaultRetryDelay).
	RetryDelay time.Duration

	// Metrics receives per-chunk delivery outcomes (optional).
	Metrics *observability.Metrics

	Logger *slog.Logger
}

// New creates a deliverer. Call Run to start it.
func New(cfg Config) *Deliverer {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Deliverer{
		url:        cfg.URL,
		sender:     cfg.Sender,
		retryDelay: cfg.RetryDelay,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "deliver", "platform", cfg.Sender.Platform()),
		state:      StateDisconnected,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// State returns the current connection state.
func (d *Deliverer) State() ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run connects and processes stream frames until Stop is called or ctx
// is cancelled, reconnecting after retryDelay whenever the connection
// drops.
func (d *Deliverer) Run(ctx context.Context) {
	defer close(d.done)
	defer func() {
		d.mu.Lock()
		d.state = StateDisconnected
		d.mu.Unlock()
	}()

	for {
		if d.stopped(ctx) {
			return
		}

		d.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
		if err != nil {
			d.logger.Warn("stream connect failed", "url", d.url, "error", err)
			if !d.wait(ctx) {
				return
			}
			continue
		}

		d.mu.Lock()
		if d.state == StateClosing {
			d.mu.Unlock()
			conn.Close()
			return
		}
		d.conn = conn
		d.state = StateOpen
		d.mu.Unlock()
		d.logger.Info("stream connected", "url", d.url)

		d.readFrames(ctx, conn)

		d.mu.Lock()
		d.conn = nil
		closing := d.state == StateClosing
		if !closing {
			d.state = StateDisconnected
		}
		d.mu.Unlock()
		conn.Close()
		if closing {
			return
		}

		d.logger.Warn("stream disconnected, retrying", "delay", d.retryDelay)
		if !d.wait(ctx) {
			return
		}
	}
}

// Stop ends the loop. No reconnect is attempted after Stop; it blocks
// until Run returns. Calling Stop more than once is harmless.
func (d *Deliverer) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.state = StateClosing
		conn := d.conn
		d.mu.Unlock()

		close(d.stop)
		if conn != nil {
			conn.Close()
		}
	})
	<-d.done
}

func (d *Deliverer) setState(s ConnState) {
	d.mu.Lock()
	if d.state != StateClosing {
		d.state = s
	}
	d.mu.Unlock()
}

func (d *Deliverer) stopped(ctx context.Context) bool {
	select {
	case <-d.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait pauses for the retry delay; false means the loop should exit.
func (d *Deliverer) wait(ctx context.Context) bool {
	timer := time.NewTimer(d.retryDelay)
	defer timer.Stop()
	select {
	case <-d.stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type streamFrame struct {
	Type  string                `json:"type"`
	Entry *models.TimelineEntry `json:"entry"`
}

func (d *Deliverer) readFrames(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			d.logger.Warn("unparseable stream frame", "error", err)
			continue
		}
		if frame.Type != "new_message" || frame.Entry == nil {
			continue
		}
		d.deliver(ctx, frame.Entry)
	}
}

// deliver forwards one outbound entry for this sender's platform. Other
// entries are ignored.
func (d *Deliverer) deliver(ctx context.Context, entry *models.TimelineEntry) {
	if entry.Direction != models.DirectionOut || entry.Platform != d.sender.Platform() {
		return
	}
	if entry.Text == nil || *entry.Text == "" {
		return
	}

	limit := d.sender.ChunkLimit()
	if limit <= 0 {
		limit = DefaultChunkLimit
	}

	for i, chunk := range SplitText(*entry.Text, limit) {
		err := d.sender.Send(ctx, entry.PlatformChatID, chunk)
		if d.metrics != nil {
			d.metrics.RecordDelivery(string(entry.Platform), err == nil)
		}
		if err != nil {
			d.logger.Error("chunk delivery failed",
				"entry_id", entry.ID, "chat_id", entry.PlatformChatID, "chunk", i, "error", err)
			return
		}
	}
	d.logger.Info("delivered", "entry_id", entry.ID, "chat_id", entry.PlatformChatID)
}
