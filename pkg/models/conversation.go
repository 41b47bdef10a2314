package models

// Conversation is the aggregate for a (platform, platformChatId) pair.
// Conversations are created implicitly by the first entry for the pair
// and updated on every subsequent entry; they are never deleted.
type Conversation struct {
	ID               int64    `json:"id"`
	Platform         Platform `json:"platform"`
	PlatformChatID   string   `json:"platformChatId"`
	PlatformChatType *string  `json:"platformChatType"`
	Label            string   `json:"label"`
	FirstSeenAt      string   `json:"firstSeenAt"`
	LastMessageAt    string   `json:"lastMessageAt"`
	MessageCount     int64    `json:"messageCount"`
}

// Stats summarizes store contents.
type Stats struct {
	MessageCount      int64 `json:"messageCount"`
	ConversationCount int64 `json:"conversationCount"`
}

// Health is the body returned by the health endpoints.
type Health struct {
	OK                bool  `json:"ok"`
	MessageCount      int64 `json:"messageCount"`
	ConversationCount int64 `json:"conversationCount"`
}
