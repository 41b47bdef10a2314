package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/chathub/pkg/models"
)

// recordingSender captures delivered chunks for assertions.
type recordingSender struct {
	platform models.Platform
	limit    int

	mu     sync.Mutex
	chunks []string
	chats  []string
	err    error
}

func (s *recordingSender) Platform() models.Platform { return s.platform }
func (s *recordingSender) ChunkLimit() int           { return s.limit }

func (s *recordingSender) Send(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, text)
	s.chats = append(s.chats, chatID)
	return nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chunks...)
}

// streamServer is a fake hub stream that pushes frames to every client.
type streamServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted chan struct{}
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{accepted: make(chan struct{}, 16)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.accepted <- struct{}{}
	}))
	t.Cleanup(s.close)
	return s
}

func (s *streamServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *streamServer) waitForClient(t *testing.T) {
	t.Helper()
	select {
	case <-s.accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected")
	}
}

func (s *streamServer) push(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("push frame: %v", err)
		}
	}
}

func (s *streamServer) close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.srv.Close()
}

func startDeliverer(t *testing.T, server *streamServer, sender *recordingSender) *Deliverer {
	t.Helper()
	d := New(Config{
		URL:        server.url(),
		Sender:     sender,
		RetryDelay: 20 * time.Millisecond,
	})
	go d.Run(context.Background())
	t.Cleanup(d.Stop)
	server.waitForClient(t)
	return d
}

func waitFor(t *testing.T, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestDeliversOutboundEntry(t *testing.T) {
	server := newStreamServer(t)
	sender := &recordingSender{platform: models.PlatformTelegram, limit: 4096}
	startDeliverer(t, server, sender)

	server.push(t, `{"type":"new_message","entry":{"id":2,"direction":"out","platform":"telegram","platformChatId":"c1","text":"hello"}}`)

	waitFor(t, func() bool { return len(sender.sent()) == 1 }, "chunk not delivered")
	if sender.sent()[0] != "hello" {
		t.Fatalf("unexpected chunk %q", sender.sent()[0])
	}
	sender.mu.Lock()
	chat := sender.chats[0]
	sender.mu.Unlock()
	if chat != "c1" {
		t.Fatalf("unexpected chat id %q", chat)
	}
}

func TestSplitsLongTextIntoChunks(t *testing.T) {
	server := newStreamServer(t)
	sender := &recordingSender{platform: models.PlatformTelegram, limit: 5}
	startDeliverer(t, server, sender)

	server.push(t, `{"type":"new_message","entry":{"id":2,"direction":"out","platform":"telegram","platformChatId":"c1","text":"abcdefghij"}}`)

	waitFor(t, func() bool { return len(sender.sent()) == 2 }, "chunks not delivered")
	got := sender.sent()
	if got[0] != "abcde" || got[1] != "fghij" {
		t.Fatalf("unexpected chunks %q", got)
	}
}

func TestIgnoresNonMatchingEntries(t *testing.T) {
	server := newStreamServer(t)
	sender := &recordingSender{platform: models.PlatformTelegram, limit: 4096}
	startDeliverer(t, server, sender)

	// Inbound entry: not delivered.
	server.push(t, `{"type":"new_message","entry":{"id":1,"direction":"in","platform":"telegram","platformChatId":"c1","text":"hi"}}`)
	// Wrong platform: not delivered.
	server.push(t, `{"type":"new_message","entry":{"id":2,"direction":"out","platform":"discord","platformChatId":"c1","text":"hi"}}`)
	// Text-less outbound: not delivered.
	server.push(t, `{"type":"new_message","entry":{"id":3,"direction":"out","platform":"telegram","platformChatId":"c1","text":null}}`)
	// Matching entry arrives last so delivery proves the others were skipped.
	server.push(t, `{"type":"new_message","entry":{"id":4,"direction":"out","platform":"telegram","platformChatId":"c1","text":"yes"}}`)

	waitFor(t, func() bool { return len(sender.sent()) == 1 }, "matching entry not delivered")
	if sender.sent()[0] != "yes" {
		t.Fatalf("unexpected chunk %q", sender.sent()[0])
	}
}

func TestIgnoresNonPushFrames(t *testing.T) {
	server := newStreamServer(t)
	sender := &recordingSender{platform: models.PlatformTelegram, limit: 4096}
	startDeliverer(t, server, sender)

	server.push(t, `{"type":"response","requestType":"health","data":{"ok":true}}`)
	server.push(t, `garbage`)
	server.push(t, `{"type":"new_message","entry":{"id":1,"direction":"out","platform":"telegram","platformChatId":"c1","text":"ok"}}`)

	waitFor(t, func() bool { return len(sender.sent()) == 1 }, "delivery after noise failed")
}

func TestStopPreventsReconnect(t *testing.T) {
	server := newStreamServer(t)
	sender := &recordingSender{platform: models.PlatformTelegram, limit: 4096}
	d := startDeliverer(t, server, sender)

	d.Stop()
	if state := d.State(); state != StateClosing && state != StateDisconnected {
		t.Fatalf("unexpected state after stop: %s", state)
	}

	// No reconnect arrives even after several retry delays.
	select {
	case <-server.accepted:
		t.Fatal("deliverer reconnected after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	server := newStreamServer(t)
	sender := &recordingSender{platform: models.PlatformTelegram, limit: 4096}
	startDeliverer(t, server, sender)

	// Drop the server side of the first connection.
	server.mu.Lock()
	server.conns[0].Close()
	server.conns = nil
	server.mu.Unlock()

	server.waitForClient(t)

	server.push(t, `{"type":"new_message","entry":{"id":1,"direction":"out","platform":"telegram","platformChatId":"c1","text":"back"}}`)
	waitFor(t, func() bool { return len(sender.sent()) == 1 }, "no delivery after reconnect")
}
