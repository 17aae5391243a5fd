package engine

import (
	"context"
	"slices"
	"time"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/stats"
	"github.com/chatsync/engine/internal/types"
)

// typingTimeout bounds typing-presence staleness. The local row is
// broadcast as stopped after this quiet period, and a remote typist who
// disappears without a final stop event is dropped after the same
// interval.
const typingTimeout = 3 * time.Second

// SetLocalTyping broadcasts the actor's own typing state for a
// conversation. Repeated calls with isTyping=true inside the quiet period
// only re-arm the auto-clear timer, so a keystroke burst upserts once.
// Upserts are best-effort: failures are logged and swallowed.
func (e *Engine) SetLocalTyping(ctx context.Context, conversationId string, isTyping bool) error {
	var needUpsert bool
	ok := e.do(func() {
		current := e.localTyping[conversationId]
		if isTyping {
			if t, held := e.localTimers[conversationId]; held {
				t.Stop()
			}
			e.localTimers[conversationId] = e.clock.AfterFunc(typingTimeout, func() {
				e.SetLocalTyping(context.Background(), conversationId, false)
			})
			if current {
				return
			}
			e.localTyping[conversationId] = true
			needUpsert = true
			return
		}

		if t, held := e.localTimers[conversationId]; held {
			t.Stop()
			delete(e.localTimers, conversationId)
		}
		if !current {
			return
		}
		delete(e.localTyping, conversationId)
		needUpsert = true
	})
	if !ok {
		return ErrStopped
	}
	if !needUpsert {
		return nil
	}

	err := e.store.UpsertTypingStatus(ctx, types.TypingStatus{
		ConversationId: conversationId,
		UserId:         e.actorId,
		IsTyping:       isTyping,
		UpdatedAt:      e.clock.Now(),
	})
	if err != nil {
		// Typing presence is not safety-critical; never surface this.
		e.log.Printf("typing upsert for %q: %v", conversationId, err)
		return nil
	}
	e.stats.Incr(stats.MetricTypingUpserts)

	return nil
}

// TypingUsers returns the ids of the other participants currently typing
// in a conversation, sorted for deterministic rendering.
func (e *Engine) TypingUsers(conversationId string) []string {
	var out []string
	e.do(func() {
		for userId := range e.typingUsers[conversationId] {
			out = append(out, userId)
		}
	})
	slices.Sort(out)
	return out
}

// applyTypingEvent runs on the loop. Events for the actor's own row are
// ignored so typingUsers never contains the current actor.
func (e *Engine) applyTypingEvent(ev backend.TypingEvent) {
	row := ev.Row
	if row.UserId == e.actorId {
		return
	}

	key := typingKey{conversationId: row.ConversationId, userId: row.UserId}
	typing := row.IsTyping && ev.Kind != backend.EventDelete

	if !typing {
		e.removeTypist(key)
		e.stats.Incr(stats.MetricEventsApplied)
		return
	}

	set, ok := e.typingUsers[row.ConversationId]
	if !ok {
		set = make(map[string]struct{})
		e.typingUsers[row.ConversationId] = set
	}
	set[row.UserId] = struct{}{}

	// Re-arm the staleness timer: if the typist vanishes without a stop
	// event, drop them after the quiet interval.
	if t, held := e.typingTimers[key]; held {
		t.Stop()
	}
	e.typingTimers[key] = e.clock.AfterFunc(typingTimeout, func() {
		e.post(func() { e.removeTypist(key) })
	})

	e.stats.Incr(stats.MetricEventsApplied)
}

// removeTypist runs on the loop.
func (e *Engine) removeTypist(key typingKey) {
	if t, held := e.typingTimers[key]; held {
		t.Stop()
		delete(e.typingTimers, key)
	}
	set, ok := e.typingUsers[key.conversationId]
	if !ok {
		return
	}
	delete(set, key.userId)
	if len(set) == 0 {
		delete(e.typingUsers, key.conversationId)
	}
}
