// Package stream serves the bidirectional framed-JSON transport at /ws:
// request/response queries plus push broadcast of every new timeline
// entry to all connected clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/chathub/internal/observability"
	"github.com/haasonsaas/chathub/internal/service"
	"github.com/haasonsaas/chathub/internal/store"
	"github.com/haasonsaas/chathub/pkg/models"
)

const (
	maxFrameBytes = 1 << 20
	sendBuffer    = 64
	writeWait     = 10 * time.Second
	pongWait      = 45 * time.Second
	pingInterval  = 15 * time.Second
)

// request is a client query frame, discriminated by Type.
type request struct {
	Type           string `json:"type"`
	Platform       string `json:"platform,omitempty"`
	PlatformChatID string `json:"platformChatId,omitempty"`
	After          *int64 `json:"after,omitempty"`
	Before         *int64 `json:"before,omitempty"`
	Limit          *int   `json:"limit,omitempty"`
}

type responseFrame struct {
	Type        string `json:"type"`
	RequestType string `json:"requestType"`
	Data        any    `json:"data"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pushFrame struct {
	Type  string                `json:"type"`
	Entry *models.TimelineEntry `json:"entry"`
}

// Adapter upgrades HTTP requests at its mount path and serves the
// framed-JSON protocol. One adapter instance holds one event-bus
// subscription regardless of client count.
type Adapter struct {
	service  *service.Service
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	unsubscribe func()
}

// New creates the adapter and subscribes it to the service event stream.
func New(svc *service.Service, metrics *observability.Metrics, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		service: svc,
		metrics: metrics,
		logger:  logger.With("component", "stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
	a.unsubscribe = svc.Subscribe(a.broadcast)
	return a
}

// ServeHTTP upgrades the connection and runs the client loops until the
// socket closes.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:      uuid.NewString(),
		adapter: a,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.clients[c] = struct{}{}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.StreamClients.Inc()
	}
	a.logger.Debug("stream client connected", "client_id", c.id)

	go c.writeLoop()
	c.readLoop()
	a.drop(c)
}

// Close tears down all client connections and the event subscription.
func (a *Adapter) Close() {
	a.unsubscribe()

	a.mu.Lock()
	a.closed = true
	clients := make([]*client, 0, len(a.clients))
	for c := range a.clients {
		clients = append(clients, c)
	}
	a.clients = make(map[*client]struct{})
	a.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// broadcast serializes the entry once and queues it on every open
// client. Delivery is best-effort per client; a full queue drops the
// frame for that client only.
func (a *Adapter) broadcast(entry *models.TimelineEntry) {
	data, err := json.Marshal(pushFrame{Type: "new_message", Entry: entry})
	if err != nil {
		a.logger.Error("push frame marshal failed", "error", err)
		return
	}

	a.mu.RLock()
	snapshot := make([]*client, 0, len(a.clients))
	for c := range a.clients {
		snapshot = append(snapshot, c)
	}
	a.mu.RUnlock()

	for _, c := range snapshot {
		if c.enqueue(data) && a.metrics != nil {
			a.metrics.StreamFramesSent.Inc()
		}
	}
}

func (a *Adapter) drop(c *client) {
	a.mu.Lock()
	_, present := a.clients[c]
	delete(a.clients, c)
	a.mu.Unlock()

	c.close()
	if present {
		if a.metrics != nil {
			a.metrics.StreamClients.Dec()
		}
		a.logger.Debug("stream client disconnected", "client_id", c.id)
	}
}

type client struct {
	id      string
	adapter *Adapter
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue reports whether the frame was queued; false means the client
// was too slow and the frame was dropped for it.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("invalid JSON frame")
			continue
		}
		c.handleRequest(&req)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (c *client) handleRequest(req *request) {
	ctx := context.Background()

	var data any
	var err error
	switch req.Type {
	case "health":
		data, err = c.adapter.service.HealthCheck(ctx)
	case "conversations":
		limit := 0
		if req.Limit != nil {
			limit = *req.Limit
		}
		data, err = c.adapter.service.Conversations(ctx, models.Platform(req.Platform), limit)
	case "timeline":
		if req.Platform == "" || req.PlatformChatID == "" {
			c.sendError("timeline requires platform and platformChatId")
			return
		}
		data, err = c.adapter.service.Timeline(ctx, models.Platform(req.Platform), req.PlatformChatID, pageOf(req))
	case "unified_timeline":
		data, err = c.adapter.service.UnifiedTimeline(ctx, pageOf(req))
	default:
		c.sendError("unknown request type: " + req.Type)
		return
	}

	if err != nil {
		c.sendError(messageOf(err))
		return
	}
	c.sendJSON(responseFrame{Type: "response", RequestType: req.Type, Data: data})
}

func (c *client) sendError(message string) {
	c.sendJSON(errorFrame{Type: "error", Message: message})
}

func (c *client) sendJSON(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.adapter.logger.Error("frame marshal failed", "error", err)
		return
	}
	c.enqueue(data)
}

func pageOf(req *request) store.Page {
	page := store.Page{After: req.After, Before: req.Before}
	if req.Limit != nil {
		page.Limit = *req.Limit
	}
	return page
}

func messageOf(err error) string {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return "internal error"
}
