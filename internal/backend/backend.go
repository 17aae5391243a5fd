// Package backend declares the collaborator interfaces the sync engine
// depends on: the relational store, the change feed, and blob storage.
// Adapters live in subpackages; the engine only sees these contracts.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/chatsync/engine/internal/types"
)

// Store is the query/mutation interface over the relational backend.
type Store interface {
	// ListConversations returns every conversation where actorId occupies
	// either participant slot.
	ListConversations(ctx context.Context, actorId string) ([]types.Conversation, error)
	// GetConversationByParticipants looks a conversation up by its unordered
	// participant pair. Returns ErrNotFound if the pair has never interacted.
	GetConversationByParticipants(ctx context.Context, a, b string) (types.Conversation, error)
	CreateConversation(ctx context.Context, conv types.Conversation) (types.Conversation, error)
	// ResetUnread zeroes actorId's unread slot on the conversation.
	ResetUnread(ctx context.Context, conversationId, actorId string) error

	// ListMessages returns the full history for a conversation ordered by
	// created_at ascending, id as tiebreak.
	ListMessages(ctx context.Context, conversationId string) ([]types.Message, error)
	CreateMessage(ctx context.Context, msg types.Message) (types.Message, error)
	// SoftDeleteMessage flags the message deleted without removing the row.
	SoftDeleteMessage(ctx context.Context, messageId string) error
	// MarkMessagesRead stamps read_at on every unread message in the
	// conversation authored by senderId and returns the stamped rows.
	MarkMessagesRead(ctx context.Context, conversationId, senderId string, readAt time.Time) ([]types.Message, error)

	// UpsertTypingStatus inserts or updates the row keyed by
	// (conversation_id, user_id).
	UpsertTypingStatus(ctx context.Context, status types.TypingStatus) error
}

// BlobStore uploads message attachments and resolves fetchable URLs.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PublicURL(key string) string
}

// Subscription is one live per-conversation change stream pair
// (messages plus typing). Close releases the stream; it is invoked only
// at engine shutdown.
type Subscription interface {
	ConversationId() string
	Close() error
}

// Feed delivers change events and connectivity transitions. Implementations
// must deliver events for a given conversation in the order the backend
// emits them.
type Feed interface {
	// Subscribe opens a message+typing change stream scoped to one
	// conversation. Events are passed to the handler serially per
	// subscription.
	Subscribe(ctx context.Context, conversationId string, h EventHandler) (Subscription, error)
	// Connected reports current transport connectivity.
	Connected() bool
	// Reconnect requests a reconnect. Fire-and-forget: it never blocks and
	// never guarantees the attempt succeeds.
	Reconnect()
	// NotifyConnectivity registers a callback invoked once per
	// connect/disconnect transition.
	NotifyConnectivity(fn func(connected bool))
	Close() error
}

// EventHandler receives validated change events for one conversation.
type EventHandler interface {
	HandleMessageEvent(ev MessageEvent)
	HandleTypingEvent(ev TypingEvent)
}
