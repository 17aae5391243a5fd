package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/stats"
	"github.com/chatsync/engine/internal/types"
)

// history is one conversation's message list. Events that arrive while
// the baseline fetch is in flight are buffered and replayed after it
// installs, so a fetch can never overwrite events applied after it.
type history struct {
	msgs     []types.Message
	loaded   bool
	fetching bool
	pending  []backend.MessageEvent
}

func (e *Engine) ensureHistory(conversationId string) *history {
	h, ok := e.histories[conversationId]
	if !ok {
		h = &history{}
		e.histories[conversationId] = h
	}
	return h
}

// FetchHistory installs the full ordered history for a conversation that
// has not been loaded yet. A no-op once the baseline is installed or
// while another fetch is in flight.
func (e *Engine) FetchHistory(ctx context.Context, conversationId string) error {
	var skip bool
	ok := e.do(func() {
		h := e.ensureHistory(conversationId)
		if h.loaded || h.fetching {
			skip = true
			return
		}
		h.fetching = true
	})
	if !ok {
		return ErrStopped
	}
	if skip {
		return nil
	}

	msgs, err := e.store.ListMessages(ctx, conversationId)
	e.do(func() {
		h := e.ensureHistory(conversationId)
		h.fetching = false
		if err != nil {
			// Keep the buffer; a later fetch replays it.
			return
		}

		h.msgs = make([]types.Message, len(msgs))
		copy(h.msgs, msgs)
		slices.SortFunc(h.msgs, func(a, b types.Message) int {
			if a.Before(b) {
				return -1
			}
			if b.Before(a) {
				return 1
			}
			return 0
		})
		h.loaded = true
		e.stats.Incr(stats.MetricMessagesSynced)

		pending := h.pending
		h.pending = nil
		for _, ev := range pending {
			e.applyEvent(h, ev)
		}
	})
	if err != nil {
		return fmt.Errorf("fetch history %q: %w", conversationId, err)
	}

	return nil
}

// Messages returns a copy of the conversation's ordered message list.
func (e *Engine) Messages(conversationId string) []types.Message {
	var out []types.Message
	e.do(func() {
		h, ok := e.histories[conversationId]
		if !ok {
			return
		}
		out = make([]types.Message, len(h.msgs))
		copy(out, h.msgs)
	})
	return out
}

// applyMessageEvent runs on the loop. It routes the event into the
// conversation's history (or its replay buffer) and maintains the
// conversation-level preview, recency and unread state.
func (e *Engine) applyMessageEvent(ev backend.MessageEvent) {
	conversationId := ev.ConversationId
	if conversationId == "" {
		conversationId = ev.Row.ConversationId
	}
	if conversationId == "" && ev.Kind == backend.EventDelete {
		// A delete from a feed that omits the conversation id can only be
		// resolved against an already loaded history.
		conversationId = e.findConversationForMessage(ev.RowId)
	}
	if conversationId == "" {
		e.stats.Incr(stats.MetricEventsRejected)
		return
	}

	h, ok := e.histories[conversationId]
	if !ok {
		// First event for a conversation whose history was never fetched:
		// seed the buffer and schedule the baseline fetch.
		h = e.ensureHistory(conversationId)
		h.pending = append(h.pending, ev)
		e.stats.Incr(stats.MetricEventsBuffered)
		go e.FetchHistory(context.Background(), conversationId)
		return
	}

	if !h.loaded {
		h.pending = append(h.pending, ev)
		e.stats.Incr(stats.MetricEventsBuffered)
		if !h.fetching {
			go e.FetchHistory(context.Background(), conversationId)
		}
		return
	}

	e.applyEvent(h, ev)
}

// applyEvent applies one event to a loaded history and mirrors its
// conversation-level effects. Used by the live path and by the replay
// loop in FetchHistory so buffered events are not applied with fewer
// effects than live ones.
func (e *Engine) applyEvent(h *history, ev backend.MessageEvent) {
	inserted := e.applyToHistory(h, ev)
	switch {
	case ev.Kind == backend.EventInsert && inserted:
		e.touchConversation(ev.Row)
	case ev.Kind == backend.EventUpdate:
		e.refreshPreview(ev.Row)
	}
}

// applyToHistory applies one event to a loaded history. Reports whether
// a new row was added, so callers can tell an insert from the duplicate
// case that collapses to an in-place update.
func (e *Engine) applyToHistory(h *history, ev backend.MessageEvent) bool {
	var inserted bool
	switch ev.Kind {
	case backend.EventInsert, backend.EventUpdate:
		inserted = e.upsertMessage(h, ev.Row)
	case backend.EventDelete:
		h.msgs = slices.DeleteFunc(h.msgs, func(m types.Message) bool {
			return m.Id == ev.RowId
		})
	}
	e.stats.Incr(stats.MetricEventsApplied)
	return inserted
}

// upsertMessage replaces the stored message with the same id in place, or
// inserts at the sorted position. An update never moves a message.
func (e *Engine) upsertMessage(h *history, row types.Message) bool {
	for i := range h.msgs {
		if h.msgs[i].Id == row.Id {
			h.msgs[i] = row
			return false
		}
	}

	at, _ := slices.BinarySearchFunc(h.msgs, row, func(a, b types.Message) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})
	h.msgs = slices.Insert(h.msgs, at, row)
	return true
}

// touchConversation mirrors the backend's conversation mutation on
// message insert: preview, recency and the recipient's unread counter.
// An inbound message on the focused conversation is reconciled read
// immediately instead of counted.
func (e *Engine) touchConversation(row types.Message) {
	idx := slices.IndexFunc(e.conversations, func(c types.Conversation) bool {
		return c.Id == row.ConversationId
	})
	if idx < 0 {
		return
	}

	conv := &e.conversations[idx]
	conv.LastMessagePreview = messagePreview(row)
	at := row.CreatedAt
	conv.LastMessageAt = &at

	inbound := row.SenderId != e.actorId
	if inbound {
		if row.ConversationId == e.activeId {
			go e.MarkConversationRead(context.Background(), row.ConversationId)
		} else if conv.ParticipantA == e.actorId {
			conv.UnreadA++
		} else {
			conv.UnreadB++
		}
	}

	e.sortConversations()
}

// refreshPreview re-derives the conversation preview when an update
// targets the most recent message, so a soft delete of the latest
// message does not leave its old content on the list row.
func (e *Engine) refreshPreview(row types.Message) {
	h, ok := e.histories[row.ConversationId]
	if !ok || len(h.msgs) == 0 {
		return
	}
	last := h.msgs[len(h.msgs)-1]
	if last.Id != row.Id {
		return
	}

	idx := slices.IndexFunc(e.conversations, func(c types.Conversation) bool {
		return c.Id == row.ConversationId
	})
	if idx < 0 {
		return
	}
	e.conversations[idx].LastMessagePreview = messagePreview(last)
}

func messagePreview(m types.Message) string {
	if m.IsDeleted {
		return ""
	}
	if m.Content != "" {
		return m.Content
	}
	return m.FileName
}

func (e *Engine) findConversationForMessage(messageId string) string {
	for id, h := range e.histories {
		for i := range h.msgs {
			if h.msgs[i].Id == messageId {
				return id
			}
		}
	}
	return ""
}

// DeleteOwnMessage soft-deletes one of the actor's own messages. Deleting
// another actor's message is rejected before any mutation, local or
// remote. The flagged row comes back through the normal update path.
func (e *Engine) DeleteOwnMessage(ctx context.Context, conversationId, messageId string) error {
	var err error
	ok := e.do(func() {
		h, found := e.histories[conversationId]
		if !found {
			err = ErrMessageNotFound
			return
		}
		idx := slices.IndexFunc(h.msgs, func(m types.Message) bool {
			return m.Id == messageId
		})
		if idx < 0 {
			err = ErrMessageNotFound
			return
		}
		if h.msgs[idx].SenderId != e.actorId {
			err = ErrPermissionDenied
		}
	})
	if !ok {
		return ErrStopped
	}
	if err != nil {
		return err
	}

	if err := e.store.SoftDeleteMessage(ctx, messageId); err != nil {
		return fmt.Errorf("soft delete message %q: %w", messageId, err)
	}

	return nil
}
