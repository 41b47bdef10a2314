// Package service implements the hub's business logic: validation,
// normalization, synthetic outbound ids, and publication of every
// persisted entry on the event bus.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/chathub/internal/events"
	"github.com/haasonsaas/chathub/internal/store"
	"github.com/haasonsaas/chathub/pkg/models"
)

// Store is the persistence surface the service depends on.
type Store interface {
	Ingest(ctx context.Context, e store.NewEntry, label string) (*models.TimelineEntry, error)
	Timeline(ctx context.Context, platform models.Platform, chatID string, p store.Page) ([]*models.TimelineEntry, error)
	UnifiedTimeline(ctx context.Context, p store.Page) ([]*models.TimelineEntry, error)
	Conversations(ctx context.Context, platform models.Platform, limit int) ([]*models.Conversation, error)
	Conversation(ctx context.Context, platform models.Platform, chatID string) (*models.Conversation, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Outbound entries are recorded with this sender identity.
const (
	systemSenderName = "System"
	systemSenderID   = "system"
)

// Service is safe for concurrent use; the store serializes mutations and
// the synthetic response counter is atomic.
type Service struct {
	store  Store
	bus    *events.Bus
	logger *slog.Logger

	// ingestMu is held across store.Ingest and the bus publish so the
	// order of emissions matches the order of id assignment.
	ingestMu sync.Mutex
	respSeq  atomic.Int64
}

// New creates a service over the store, publishing to bus.
func New(st Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{store: st, bus: bus, logger: logger.With("component", "service")}
}

// Subscribe registers a handler for every newly persisted entry.
func (s *Service) Subscribe(h events.Handler) (cancel func()) {
	return s.bus.Subscribe(h)
}

// IngestMessage validates and persists an inbound platform message.
func (s *Service) IngestMessage(ctx context.Context, m *models.InboundMessage) (*models.TimelineEntry, error) {
	if err := validateInbound(m); err != nil {
		return nil, err
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	entry, err := s.store.Ingest(ctx, store.NewEntry{
		Direction:         models.DirectionIn,
		Platform:          m.Platform,
		PlatformMessageID: m.PlatformMessageID,
		PlatformChatID:    m.PlatformChatID,
		PlatformChatType:  m.PlatformChatType,
		SenderName:        m.SenderName,
		SenderID:          m.SenderID,
		Text:              m.Text,
		Timestamp:         *m.Timestamp,
		PlatformMeta:      normalizeMeta(m.PlatformMeta),
	}, m.SenderName)
	if err != nil {
		return nil, ErrInternal("failed to ingest message", err)
	}

	s.logger.Info("message ingested",
		"id", entry.ID,
		"platform", entry.Platform,
		"chat_id", entry.PlatformChatID,
		"direction", entry.Direction)
	s.bus.Publish(entry)
	return entry, nil
}

// RecordResponse persists a system-generated reply with a synthetic
// platform message id of the form router-N. The conversation label is
// set to "System", overwriting any prior label.
func (s *Service) RecordResponse(ctx context.Context, r *models.OutboundRequest) (*models.TimelineEntry, error) {
	if err := validateOutbound(r); err != nil {
		return nil, err
	}

	var meta *string
	if r.InReplyTo != nil {
		raw, err := json.Marshal(struct {
			InReplyTo int64 `json:"inReplyTo"`
		}{InReplyTo: *r.InReplyTo})
		if err != nil {
			return nil, ErrInternal("failed to serialize platformMeta", err)
		}
		v := string(raw)
		meta = &v
	}

	syntheticID := fmt.Sprintf("router-%d", s.respSeq.Add(1))
	text := r.Text

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	entry, err := s.store.Ingest(ctx, store.NewEntry{
		Direction:         models.DirectionOut,
		Platform:          r.Platform,
		PlatformMessageID: syntheticID,
		PlatformChatID:    r.PlatformChatID,
		SenderName:        systemSenderName,
		SenderID:          systemSenderID,
		Text:              &text,
		Timestamp:         time.Now().UnixMilli(),
		PlatformMeta:      meta,
	}, systemSenderName)
	if err != nil {
		return nil, ErrInternal("failed to record response", err)
	}

	s.logger.Info("response recorded",
		"id", entry.ID,
		"platform", entry.Platform,
		"chat_id", entry.PlatformChatID,
		"platform_message_id", entry.PlatformMessageID)
	s.bus.Publish(entry)
	return entry, nil
}

// Timeline returns one conversation's entries, newest first.
func (s *Service) Timeline(ctx context.Context, platform models.Platform, chatID string, p store.Page) ([]*models.TimelineEntry, error) {
	entries, err := s.store.Timeline(ctx, platform, chatID, p)
	if err != nil {
		return nil, ErrInternal("failed to query timeline", err)
	}
	return entries, nil
}

// UnifiedTimeline returns entries across all conversations, newest first.
func (s *Service) UnifiedTimeline(ctx context.Context, p store.Page) ([]*models.TimelineEntry, error) {
	entries, err := s.store.UnifiedTimeline(ctx, p)
	if err != nil {
		return nil, ErrInternal("failed to query unified timeline", err)
	}
	return entries, nil
}

// Conversations lists conversations, optionally filtered by platform.
func (s *Service) Conversations(ctx context.Context, platform models.Platform, limit int) ([]*models.Conversation, error) {
	conversations, err := s.store.Conversations(ctx, platform, limit)
	if err != nil {
		return nil, ErrInternal("failed to list conversations", err)
	}
	return conversations, nil
}

// Conversation returns a single conversation or ErrNotFound.
func (s *Service) Conversation(ctx context.Context, platform models.Platform, chatID string) (*models.Conversation, error) {
	conv, err := s.store.Conversation(ctx, platform, chatID)
	if err != nil {
		return nil, ErrInternal("failed to query conversation", err)
	}
	if conv == nil {
		return nil, ErrNotFound("Conversation not found")
	}
	return conv, nil
}

// HealthCheck reports liveness together with store counts.
func (s *Service) HealthCheck(ctx context.Context) (*models.Health, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, ErrInternal("failed to read store stats", err)
	}
	return &models.Health{
		OK:                true,
		MessageCount:      stats.MessageCount,
		ConversationCount: stats.ConversationCount,
	}, nil
}

func validateInbound(m *models.InboundMessage) error {
	switch {
	case m.Platform == "":
		return ErrInvalidInput("platform is required")
	case !m.Platform.Valid():
		return ErrInvalidInput("platform must be one of telegram, discord, web")
	case m.PlatformMessageID == "":
		return ErrInvalidInput("platformMessageId is required")
	case m.PlatformChatID == "":
		return ErrInvalidInput("platformChatId is required")
	case m.SenderName == "":
		return ErrInvalidInput("senderName is required")
	case m.SenderID == "":
		return ErrInvalidInput("senderId is required")
	case m.Timestamp == nil:
		// Zero is a legal epoch value; only absence is rejected.
		return ErrInvalidInput("timestamp is required")
	}
	return nil
}

func validateOutbound(r *models.OutboundRequest) error {
	switch {
	case r.Platform == "":
		return ErrInvalidInput("platform is required")
	case !r.Platform.Valid():
		return ErrInvalidInput("platform must be one of telegram, discord, web")
	case r.PlatformChatID == "":
		return ErrInvalidInput("platformChatId is required")
	case r.Text == "":
		return ErrInvalidInput("text is required")
	}
	return nil
}

// normalizeMeta turns the raw platformMeta payload into its stored
// JSON-string form, mapping absent and JSON null to nil.
func normalizeMeta(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	v := string(raw)
	if v == "null" {
		return nil
	}
	return &v
}
