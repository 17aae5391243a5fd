package backend

import (
	"encoding/json"
	"fmt"

	"github.com/chatsync/engine/internal/types"
)

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// MessageEvent is one change to a message row. Row is populated for
// insert/update, RowId for delete.
type MessageEvent struct {
	Kind EventKind
	// ConversationId routes the event when the row is absent (deletes).
	ConversationId string
	Row            types.Message
	RowId          string
}

// TypingEvent is one change to a typing-status row. A delete collapses to
// IsTyping=false for the keyed user.
type TypingEvent struct {
	Kind EventKind
	Row  types.TypingStatus
}

// Envelope is the wire format for feed events. Payloads are duck-typed on
// the wire; DecodeMessageEvent/DecodeTypingEvent validate them into the
// closed unions above before they enter the engine.
type Envelope struct {
	Table          string          `json:"table"`
	ConversationId string          `json:"conversation_id,omitempty"`
	Kind           EventKind       `json:"kind"`
	Row            json.RawMessage `json:"row,omitempty"`
	RowId          string          `json:"row_id,omitempty"`
}

const (
	TableMessages = "messages"
	TableTyping   = "typing_status"
)

func (k EventKind) valid() bool {
	return k == EventInsert || k == EventUpdate || k == EventDelete
}

// DecodeMessageEvent validates an envelope from the messages table.
func DecodeMessageEvent(env Envelope) (MessageEvent, error) {
	if !env.Kind.valid() {
		return MessageEvent{}, fmt.Errorf("message event: unknown kind %q", env.Kind)
	}

	if env.Kind == EventDelete {
		if env.RowId == "" {
			return MessageEvent{}, fmt.Errorf("message delete event missing row id")
		}
		return MessageEvent{Kind: EventDelete, ConversationId: env.ConversationId, RowId: env.RowId}, nil
	}

	var row types.Message
	if err := json.Unmarshal(env.Row, &row); err != nil {
		return MessageEvent{}, fmt.Errorf("decode message row: %w", err)
	}
	if row.Id == "" || row.ConversationId == "" {
		return MessageEvent{}, fmt.Errorf("message %s event missing id or conversation id", env.Kind)
	}

	return MessageEvent{Kind: env.Kind, ConversationId: row.ConversationId, Row: row}, nil
}

// DecodeTypingEvent validates an envelope from the typing_status table.
func DecodeTypingEvent(env Envelope) (TypingEvent, error) {
	if !env.Kind.valid() {
		return TypingEvent{}, fmt.Errorf("typing event: unknown kind %q", env.Kind)
	}

	var row types.TypingStatus
	if env.Kind == EventDelete {
		// A removed row means the user is no longer typing.
		row.IsTyping = false
		if env.Row != nil {
			if err := json.Unmarshal(env.Row, &row); err != nil {
				return TypingEvent{}, fmt.Errorf("decode typing row: %w", err)
			}
			row.IsTyping = false
		}
		return TypingEvent{Kind: EventDelete, Row: row}, nil
	}

	if err := json.Unmarshal(env.Row, &row); err != nil {
		return TypingEvent{}, fmt.Errorf("decode typing row: %w", err)
	}
	if row.ConversationId == "" || row.UserId == "" {
		return TypingEvent{}, fmt.Errorf("typing %s event missing composite key", env.Kind)
	}

	return TypingEvent{Kind: env.Kind, Row: row}, nil
}
