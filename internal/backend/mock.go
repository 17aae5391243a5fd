package backend

import (
	"context"
	"io"
	"time"

	"github.com/chatsync/engine/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListConversations(ctx context.Context, actorId string) ([]types.Conversation, error) {
	args := m.Called(ctx, actorId)
	if convs, ok := args.Get(0).([]types.Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) GetConversationByParticipants(ctx context.Context, a, b string) (types.Conversation, error) {
	args := m.Called(ctx, a, b)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockStore) CreateConversation(ctx context.Context, conv types.Conversation) (types.Conversation, error) {
	args := m.Called(ctx, conv)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockStore) ResetUnread(ctx context.Context, conversationId, actorId string) error {
	args := m.Called(ctx, conversationId, actorId)
	return args.Error(0)
}
func (m *MockStore) ListMessages(ctx context.Context, conversationId string) ([]types.Message, error) {
	args := m.Called(ctx, conversationId)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockStore) SoftDeleteMessage(ctx context.Context, messageId string) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}
func (m *MockStore) MarkMessagesRead(ctx context.Context, conversationId, senderId string, readAt time.Time) ([]types.Message, error) {
	args := m.Called(ctx, conversationId, senderId, readAt)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) UpsertTypingStatus(ctx context.Context, status types.TypingStatus) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, key, r, size, contentType)
	return args.Error(0)
}
func (m *MockBlobStore) PublicURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// MockFeed is a hand-rolled Feed double: tests drive it by delivering
// events directly to the handlers captured on Subscribe.
type MockFeed struct {
	mock.Mock

	Handlers map[string]EventHandler
	// SubscribeErr, when set, is returned by Subscribe for every call.
	SubscribeErr  error
	connectedFn   func(connected bool)
	connectedFlag bool
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		Handlers:      make(map[string]EventHandler),
		connectedFlag: true,
	}
}

func (m *MockFeed) Subscribe(ctx context.Context, conversationId string, h EventHandler) (Subscription, error) {
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	m.Handlers[conversationId] = h
	return &mockSubscription{conversationId: conversationId, feed: m}, nil
}

func (m *MockFeed) Connected() bool { return m.connectedFlag }

func (m *MockFeed) Reconnect() {
	m.SetConnected(true)
}

func (m *MockFeed) NotifyConnectivity(fn func(connected bool)) {
	m.connectedFn = fn
}

func (m *MockFeed) Close() error { return nil }

// SetConnected flips the connectivity flag and fires the registered
// callback, mirroring a transport transition.
func (m *MockFeed) SetConnected(connected bool) {
	m.connectedFlag = connected
	if m.connectedFn != nil {
		m.connectedFn(connected)
	}
}

// DeliverMessage pushes a message event at the subscription for the
// event's conversation, if one exists.
func (m *MockFeed) DeliverMessage(conversationId string, ev MessageEvent) {
	if h, ok := m.Handlers[conversationId]; ok {
		h.HandleMessageEvent(ev)
	}
}

// DeliverTyping pushes a typing event at the subscription for the
// event's conversation, if one exists.
func (m *MockFeed) DeliverTyping(conversationId string, ev TypingEvent) {
	if h, ok := m.Handlers[conversationId]; ok {
		h.HandleTypingEvent(ev)
	}
}

type mockSubscription struct {
	conversationId string
	feed           *MockFeed
	closed         bool
}

func (s *mockSubscription) ConversationId() string { return s.conversationId }

func (s *mockSubscription) Close() error {
	s.closed = true
	delete(s.feed.Handlers, s.conversationId)
	return nil
}
