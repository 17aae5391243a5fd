package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/types"
	"github.com/google/uuid"
)

// ConversationView is a conversation with the fields derived for the
// current actor.
type ConversationView struct {
	types.Conversation
	OtherParticipant string `json:"other_participant"`
	Unread           int    `json:"unread"`
}

// Snapshot is a read-only copy of the conversation list state.
type Snapshot struct {
	Conversations []ConversationView
	ActiveId      string
	Loading       bool
	Err           error
	Connected     bool
}

// LoadConversations fetches every conversation the actor participates in,
// installs the list ordered by recency, and opens change streams for each
// so background updates begin immediately. On fetch failure the previous
// snapshot is kept and the error is exposed on the snapshot.
func (e *Engine) LoadConversations(ctx context.Context) error {
	if !e.do(func() { e.loading = true }) {
		return ErrStopped
	}

	convs, err := e.store.ListConversations(ctx, e.actorId)
	e.do(func() {
		e.loading = false
		if err != nil {
			e.loadErr = err
			return
		}
		e.loadErr = nil
		e.conversations = make([]types.Conversation, len(convs))
		copy(e.conversations, convs)
		e.sortConversations()
	})
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	for _, conv := range convs {
		if serr := e.EnsureSubscribed(ctx, conv.Id); serr != nil {
			// One failed channel must not affect the others.
			e.log.Printf("subscribe conversation %q: %v", conv.Id, serr)
		}
	}

	return nil
}

// CreateConversation returns the id of the conversation between the
// unordered pair {a, b}, creating it only if the pair has never
// interacted.
func (e *Engine) CreateConversation(ctx context.Context, a, b string) (string, error) {
	existing, err := e.store.GetConversationByParticipants(ctx, a, b)
	if err == nil {
		return existing.Id, nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}

	created, err := e.store.CreateConversation(ctx, types.Conversation{
		Id:           uuid.NewString(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    e.clock.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	if err := e.LoadConversations(ctx); err != nil {
		return "", err
	}

	return created.Id, nil
}

// SetActive moves the focus pointer. It guarantees a change stream exists
// for the conversation and kicks off the read-reconciliation pass; it does
// not fetch history, that remains the caller's request via FetchHistory.
func (e *Engine) SetActive(ctx context.Context, conversationId string) error {
	if !e.do(func() { e.activeId = conversationId }) {
		return ErrStopped
	}

	if err := e.EnsureSubscribed(ctx, conversationId); err != nil {
		e.log.Printf("subscribe conversation %q: %v", conversationId, err)
	}

	return e.MarkConversationRead(ctx, conversationId)
}

// ActiveId returns the current focus pointer.
func (e *Engine) ActiveId() string {
	var id string
	e.do(func() { id = e.activeId })
	return id
}

// Snapshot returns a copy of the conversation list with derived fields
// computed for the current actor.
func (e *Engine) Snapshot() Snapshot {
	var snap Snapshot
	e.do(func() {
		snap.ActiveId = e.activeId
		snap.Loading = e.loading
		snap.Err = e.loadErr
		snap.Connected = e.connected
		snap.Conversations = make([]ConversationView, len(e.conversations))
		for i, conv := range e.conversations {
			snap.Conversations[i] = ConversationView{
				Conversation:     conv,
				OtherParticipant: conv.OtherParticipant(e.actorId),
				Unread:           conv.UnreadCount(e.actorId),
			}
		}
	})
	return snap
}

// sortConversations orders by last message recency, newest first.
// Conversations that have no messages yet sort last. Runs on the loop.
func (e *Engine) sortConversations() {
	slices.SortStableFunc(e.conversations, func(a, b types.Conversation) int {
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt == nil:
			return 0
		case a.LastMessageAt == nil:
			return 1
		case b.LastMessageAt == nil:
			return -1
		case a.LastMessageAt.After(*b.LastMessageAt):
			return -1
		case b.LastMessageAt.After(*a.LastMessageAt):
			return 1
		default:
			return 0
		}
	})
}
