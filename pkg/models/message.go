package models

import "encoding/json"

// Platform identifies a messaging platform the hub routes for.
// The set is closed; adding a platform means adding a constant here
// and an outbound sender for it.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformWeb      Platform = "web"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformDiscord, PlatformWeb:
		return true
	}
	return false
}

// Direction indicates whether a timeline entry flowed into or out of the hub.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// InboundMessage is the body platform adapters POST to the hub.
// Timestamp is a pointer so the service can distinguish a missing field
// from a legitimate zero epoch value.
type InboundMessage struct {
	Platform          Platform        `json:"platform"`
	PlatformMessageID string          `json:"platformMessageId"`
	PlatformChatID    string          `json:"platformChatId"`
	PlatformChatType  *string         `json:"platformChatType,omitempty"`
	SenderName        string          `json:"senderName"`
	SenderID          string          `json:"senderId"`
	Text              *string         `json:"text,omitempty"`
	Timestamp         *int64          `json:"timestamp"`
	PlatformMeta      json.RawMessage `json:"platformMeta,omitempty"`
}

// TimelineEntry is the hub's canonical message form, returned by every
// transport. Optional fields are materialized as JSON null rather than
// omitted. PlatformMeta is carried as an opaque JSON string.
type TimelineEntry struct {
	ID                int64     `json:"id"`
	Direction         Direction `json:"direction"`
	Platform          Platform  `json:"platform"`
	PlatformMessageID string    `json:"platformMessageId"`
	PlatformChatID    string    `json:"platformChatId"`
	PlatformChatType  *string   `json:"platformChatType"`
	SenderName        string    `json:"senderName"`
	SenderID          string    `json:"senderId"`
	Text              *string   `json:"text"`
	Timestamp         int64     `json:"timestamp"`
	PlatformMeta      *string   `json:"platformMeta"`
	CreatedAt         string    `json:"createdAt"`
}

// OutboundRequest records a system-generated reply for delivery back to
// a platform.
type OutboundRequest struct {
	Platform       Platform `json:"platform"`
	PlatformChatID string   `json:"platformChatId"`
	Text           string   `json:"text"`
	InReplyTo      *int64   `json:"inReplyTo,omitempty"`
}
