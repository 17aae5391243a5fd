package engine

import (
	"context"
	"fmt"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/stats"
)

// EnsureSubscribed opens the message+typing change stream for a
// conversation if one is not already held. Idempotent: callers may invoke
// it on every focus change, only the first call per conversation opens a
// stream. Subscriptions live until Shutdown so previews and unread
// counters keep updating for conversations that are not the focus.
func (e *Engine) EnsureSubscribed(ctx context.Context, conversationId string) error {
	var needed bool
	ok := e.do(func() {
		if _, held := e.subs[conversationId]; held {
			return
		}
		if _, inflight := e.subPending[conversationId]; inflight {
			return
		}
		e.subPending[conversationId] = struct{}{}
		needed = true
	})
	if !ok {
		return ErrStopped
	}
	if !needed {
		return nil
	}

	sub, err := e.feed.Subscribe(ctx, conversationId, &feedHandler{e: e})
	e.do(func() {
		delete(e.subPending, conversationId)
		if err != nil {
			return
		}
		e.subs[conversationId] = sub
		e.stats.Incr(stats.MetricSubscriptions)
	})
	if err != nil {
		// A failed channel affects only this conversation.
		return fmt.Errorf("subscribe %q: %w", conversationId, err)
	}

	return nil
}

// SubscriptionCount reports how many conversation streams are held.
func (e *Engine) SubscriptionCount() int {
	var n int
	e.do(func() { n = len(e.subs) })
	return n
}

// feedHandler forwards feed events onto the run loop.
type feedHandler struct {
	e *Engine
}

func (h *feedHandler) HandleMessageEvent(ev backend.MessageEvent) {
	h.e.post(func() { h.e.applyMessageEvent(ev) })
}

func (h *feedHandler) HandleTypingEvent(ev backend.TypingEvent) {
	h.e.post(func() { h.e.applyTypingEvent(ev) })
}
