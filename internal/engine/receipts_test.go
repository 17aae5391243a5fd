package engine

import (
	"context"
	"testing"
	"time"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMarkConversationRead(t *testing.T) {
	env := newTestEngine(t)

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c := conv("conv-1", testActor, "other-1", &at)
	c.UnreadA = 2
	env.loadConversations(t, []types.Conversation{c})

	unread1 := msg("m-1", "conv-1", "other-1", "first", at)
	unread2 := msg("m-2", "conv-1", "other-1", "second", at.Add(time.Second))
	env.loadHistory(t, "conv-1", []types.Message{unread1, unread2})

	readAt := env.clock.Now()
	stamped1, stamped2 := unread1, unread2
	stamped1.ReadAt = &readAt
	stamped2.ReadAt = &readAt

	env.store.On("ResetUnread", mock.Anything, "conv-1", testActor).Return(nil).Once()
	env.store.On("MarkMessagesRead", mock.Anything, "conv-1", "other-1", mock.Anything).
		Return([]types.Message{stamped1, stamped2}, nil).Once()

	require.NoError(t, env.engine.MarkConversationRead(context.Background(), "conv-1"))

	snap := env.engine.Snapshot()
	assert.Zero(t, snap.Conversations[0].Unread, "expected counter reset")

	msgs := env.engine.Messages("conv-1")
	require.Len(t, msgs, 2)
	assert.NotNil(t, msgs[0].ReadAt, "expected read stamps applied through the update path")
	assert.NotNil(t, msgs[1].ReadAt)
	env.store.AssertExpectations(t)
}

func TestMarkConversationReadIdempotent(t *testing.T) {
	env := newTestEngine(t)

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c := conv("conv-1", testActor, "other-1", &at)
	c.UnreadA = 1
	env.loadConversations(t, []types.Conversation{c})
	env.loadHistory(t, "conv-1", nil)

	env.store.On("ResetUnread", mock.Anything, "conv-1", testActor).Return(nil).Once()
	env.store.On("MarkMessagesRead", mock.Anything, "conv-1", "other-1", mock.Anything).
		Return(nil, nil).Twice()

	require.NoError(t, env.engine.MarkConversationRead(context.Background(), "conv-1"))
	require.NoError(t, env.engine.MarkConversationRead(context.Background(), "conv-1"))

	// The second pass found the counter already zero and issued no
	// second remote reset.
	env.store.AssertNumberOfCalls(t, "ResetUnread", 1)
	assert.Zero(t, env.engine.Snapshot().Conversations[0].Unread)
}

func TestMarkConversationReadUnknownConversation(t *testing.T) {
	env := newTestEngine(t)
	env.loadConversations(t, nil)

	// No store expectations: an unknown id issues no mutations.
	require.NoError(t, env.engine.MarkConversationRead(context.Background(), "conv-404"))
}

func TestInboundOnActiveConversationIsReadImmediately(t *testing.T) {
	env := newTestEngine(t)

	env.loadConversations(t, []types.Conversation{conv("conv-1", testActor, "other-1", nil)})
	env.loadHistory(t, "conv-1", nil)

	env.store.On("MarkMessagesRead", mock.Anything, "conv-1", "other-1", mock.Anything).
		Return(nil, nil).Once()
	require.NoError(t, env.engine.SetActive(context.Background(), "conv-1"))

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	readAt := env.clock.Now()
	inbound := msg("m-1", "conv-1", "other-1", "hello", at)
	stamped := inbound
	stamped.ReadAt = &readAt
	env.store.On("MarkMessagesRead", mock.Anything, "conv-1", "other-1", mock.Anything).
		Return([]types.Message{stamped}, nil)

	env.feed.DeliverMessage("conv-1", backend.MessageEvent{Kind: backend.EventInsert, Row: inbound})

	// The message that arrived while the thread is open is marked read
	// without the user refocusing.
	assert.Eventually(t, func() bool {
		msgs := env.engine.Messages("conv-1")
		return len(msgs) == 1 && msgs[0].ReadAt != nil
	}, time.Second, 5*time.Millisecond, "expected live read reconciliation on the active conversation")
	assert.Zero(t, env.engine.Snapshot().Conversations[0].Unread)
}
