// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// ChatType distinguishes one-on-one chats from group/guild chats.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// InboundEvent is one normalised inbound message from any transport.
// Transport adapters create these; the gate consumes them.
type InboundEvent struct {
	Surface        string          `json:"surface"`
	ChatType       ChatType        `json:"chat_type"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Body           string          `json:"body"`
	MentionsBot    bool            `json:"mentions_bot,omitempty"`
	TextMentionHit bool            `json:"text_mention_hit,omitempty"`
	Media          []string        `json:"media,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	GroupID        string          `json:"group_id,omitempty"`
	GroupSubject   string          `json:"group_subject,omitempty"`
	SenderName     string          `json:"sender_name,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// HistoryEntry is one turn of the bounded per-session context window.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// SessionEntry is the persisted shape of a session, one per key in the
// store document.
type SessionEntry struct {
	Surface   string         `json:"surface"`
	To        string         `json:"to"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
	LastRunAt *int64         `json:"lastRunAt"`
	History   []HistoryEntry `json:"history"`
}

// HeartbeatStatus records the outcome of the most recent heartbeat attempt.
type HeartbeatStatus string

const (
	HeartbeatSent    HeartbeatStatus = "sent"
	HeartbeatOKEmpty HeartbeatStatus = "ok-empty"
	HeartbeatOKToken HeartbeatStatus = "ok-token"
	HeartbeatSkipped HeartbeatStatus = "skipped"
	HeartbeatFailed  HeartbeatStatus = "failed"
)

// HeartbeatEvent is the last heartbeat outcome per session, exposed to UIs.
type HeartbeatEvent struct {
	TS     int64           `json:"ts"`
	Status HeartbeatStatus `json:"status"`
}

// Millis converts a time to the store's millisecond epoch representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
