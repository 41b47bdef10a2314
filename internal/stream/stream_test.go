package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/chathub/internal/events"
	"github.com/haasonsaas/chathub/internal/service"
	"github.com/haasonsaas/chathub/internal/store"
	"github.com/haasonsaas/chathub/pkg/models"
)

func newTestStream(t *testing.T) (*service.Service, *websocket.Conn) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "chat-router.db"), nil)
	if err := st.Open(context.Background()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := service.New(st, events.NewBus(), nil)
	adapter := New(svc, nil, nil)
	t.Cleanup(adapter.Close)

	srv := httptest.NewServer(adapter)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return svc, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func ingest(t *testing.T, svc *service.Service, messageID, text string) *models.TimelineEntry {
	t.Helper()
	ts := int64(1700000000000)
	entry, err := svc.IngestMessage(context.Background(), &models.InboundMessage{
		Platform:          models.PlatformTelegram,
		PlatformMessageID: messageID,
		PlatformChatID:    "c1",
		SenderName:        "Alice",
		SenderID:          "u1",
		Timestamp:         &ts,
		Text:              &text,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return entry
}

func TestHealthRoundTrip(t *testing.T) {
	_, conn := newTestStream(t)

	writeFrame(t, conn, `{"type":"health"}`)
	frame := readFrame(t, conn)
	if frame["type"] != "response" || frame["requestType"] != "health" {
		t.Fatalf("unexpected frame %v", frame)
	}
	data := frame["data"].(map[string]any)
	if data["ok"] != true {
		t.Fatalf("expected ok health, got %v", data)
	}
}

func TestPushOnIngest(t *testing.T) {
	svc, conn := newTestStream(t)

	entry := ingest(t, svc, "m1", "hi")

	frame := readFrame(t, conn)
	if frame["type"] != "new_message" {
		t.Fatalf("expected new_message, got %v", frame)
	}
	pushed := frame["entry"].(map[string]any)
	if int64(pushed["id"].(float64)) != entry.ID {
		t.Fatalf("expected entry %d, got %v", entry.ID, pushed["id"])
	}
	if pushed["text"] != "hi" {
		t.Fatalf("unexpected pushed text %v", pushed["text"])
	}
}

func TestTimelineQuery(t *testing.T) {
	svc, conn := newTestStream(t)

	ingest(t, svc, "m1", "one")
	ingest(t, svc, "m2", "two")
	// Drain the two push frames before the query round-trip.
	readFrame(t, conn)
	readFrame(t, conn)

	writeFrame(t, conn, `{"type":"timeline","platform":"telegram","platformChatId":"c1"}`)
	frame := readFrame(t, conn)
	if frame["requestType"] != "timeline" {
		t.Fatalf("unexpected frame %v", frame)
	}
	entries := frame["data"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	newest := entries[0].(map[string]any)
	if newest["text"] != "two" {
		t.Fatalf("expected newest-first ordering, got %v", newest["text"])
	}
}

func TestTimelineRequiresChatCoordinates(t *testing.T) {
	_, conn := newTestStream(t)

	writeFrame(t, conn, `{"type":"timeline"}`)
	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("expected error frame, got %v", frame)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	_, conn := newTestStream(t)

	writeFrame(t, conn, `not json`)
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["message"] != "invalid JSON frame" {
		t.Fatalf("unexpected frame %v", frame)
	}

	// The connection survives and keeps serving requests.
	writeFrame(t, conn, `{"type":"health"}`)
	frame = readFrame(t, conn)
	if frame["type"] != "response" {
		t.Fatalf("connection did not survive malformed frame: %v", frame)
	}
}

func TestUnknownRequestType(t *testing.T) {
	_, conn := newTestStream(t)

	writeFrame(t, conn, `{"type":"bogus"}`)
	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("expected error frame, got %v", frame)
	}
	if !strings.Contains(frame["message"].(string), "bogus") {
		t.Fatalf("error should name the unknown type, got %v", frame["message"])
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "chat-router.db"), nil)
	if err := st.Open(context.Background()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	bus := events.NewBus()
	svc := service.New(st, bus, nil)
	adapter := New(svc, nil, nil)

	if bus.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Subscribers())
	}
	adapter.Close()
	if bus.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", bus.Subscribers())
	}
}
