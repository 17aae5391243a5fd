package types

import (
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Conversation is a two-participant thread. The participant slots are
// role-asymmetric: unread counters are tracked per slot.
type Conversation struct {
	Id                 string     `json:"id"`
	ParticipantA       string     `json:"participant_a"`
	ParticipantB       string     `json:"participant_b"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	UnreadA            int        `json:"unread_a"`
	UnreadB            int        `json:"unread_b"`
	CreatedAt          time.Time  `json:"created_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at,omitempty"`
}

// OtherParticipant returns the participant id that is not actorId.
func (c Conversation) OtherParticipant(actorId string) string {
	if c.ParticipantA == actorId {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// UnreadCount returns the unread counter for actorId's slot.
func (c Conversation) UnreadCount(actorId string) int {
	if c.ParticipantA == actorId {
		return c.UnreadA
	}
	return c.UnreadB
}

// HasParticipant reports whether actorId occupies either slot.
func (c Conversation) HasParticipant(actorId string) bool {
	return c.ParticipantA == actorId || c.ParticipantB == actorId
}

type Message struct {
	Id             string      `json:"id"`
	ConversationId string      `json:"conversation_id"`
	SenderId       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	FileUrl        string      `json:"file_url,omitempty"`
	FileType       string      `json:"file_type,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	FileSize       int64       `json:"file_size,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	IsDeleted      bool        `json:"is_deleted"`
}

// Before reports whether m sorts ahead of other. CreatedAt is the
// authoritative ordering key, message id breaks ties so render order
// stays deterministic.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Id < other.Id
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// TypingStatus is one presence row keyed by (conversation, user).
type TypingStatus struct {
	ConversationId string    `json:"conversation_id"`
	UserId         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}
