package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/stats"
	"github.com/chatsync/engine/internal/types"
)

// MarkConversationRead resets the actor's unread counter and stamps every
// message from the other participant read, locally and remotely. The
// stamped rows flow back through the normal update path so read receipts
// render live. Idempotent: a second pass finds nothing unread and mutates
// nothing.
func (e *Engine) MarkConversationRead(ctx context.Context, conversationId string) error {
	var (
		other     string
		hadUnread bool
		known     bool
	)
	ok := e.do(func() {
		idx := slices.IndexFunc(e.conversations, func(c types.Conversation) bool {
			return c.Id == conversationId
		})
		if idx < 0 {
			return
		}
		known = true
		conv := &e.conversations[idx]
		other = conv.OtherParticipant(e.actorId)
		if conv.UnreadCount(e.actorId) > 0 {
			hadUnread = true
		}
		if conv.ParticipantA == e.actorId {
			conv.UnreadA = 0
		} else {
			conv.UnreadB = 0
		}
	})
	if !ok {
		return ErrStopped
	}
	if !known {
		return nil
	}

	if hadUnread {
		if err := e.store.ResetUnread(ctx, conversationId, e.actorId); err != nil {
			return fmt.Errorf("reset unread %q: %w", conversationId, err)
		}
	}

	stamped, err := e.store.MarkMessagesRead(ctx, conversationId, other, e.clock.Now())
	if err != nil {
		return fmt.Errorf("mark messages read %q: %w", conversationId, err)
	}

	if len(stamped) > 0 {
		e.do(func() {
			h, loaded := e.histories[conversationId]
			if !loaded || !h.loaded {
				return
			}
			for _, msg := range stamped {
				e.applyToHistory(h, backend.MessageEvent{Kind: backend.EventUpdate, Row: msg})
			}
		})
	}

	e.stats.Incr(stats.MetricReadReconciles)
	return nil
}
