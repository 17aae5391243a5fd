package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/testutil"
	"github.com/chatsync/engine/internal/types"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

// gateway is a minimal in-process feed server. It records the connect
// token and received commands, and lets tests push envelopes back down.
type gateway struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	tokens   []string
	commands []command
}

func newGateway(t *testing.T) (*gateway, *httptest.Server) {
	g := &gateway{t: t}
	srv := httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *gateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.tokens = append(g.tokens, r.URL.Query().Get("token"))
	g.mu.Unlock()

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd command
			if err := json.Unmarshal(raw, &cmd); err != nil {
				continue
			}
			g.mu.Lock()
			g.commands = append(g.commands, cmd)
			g.mu.Unlock()
		}
	}()
}

func (g *gateway) push(t *testing.T, env backend.Envelope) {
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	g.mu.Lock()
	conn := g.conns[len(g.conns)-1]
	g.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func (g *gateway) subscribedConversations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for _, cmd := range g.commands {
		if cmd.Subscribe != nil {
			ids = append(ids, cmd.Subscribe.ConversationId)
		}
	}
	return ids
}

func (g *gateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *gateway) dropConns() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.Close()
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []backend.MessageEvent
	typing   []backend.TypingEvent
}

func (h *recordingHandler) HandleMessageEvent(ev backend.MessageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, ev)
}

func (h *recordingHandler) HandleTypingEvent(ev backend.TypingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typing = append(h.typing, ev)
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func newTestFeed(t *testing.T, srv *httptest.Server) *Feed {
	f := NewFeed(wsURL(srv), "alice", testKey, testutil.TestLogger(t))
	t.Cleanup(func() { f.Close() })
	return f
}

func TestConnectSignsActorToken(t *testing.T) {
	g, srv := newGateway(t)
	f := newTestFeed(t, srv)

	require.NoError(t, f.Connect(context.Background()))
	assert.True(t, f.Connected())

	g.mu.Lock()
	raw := g.tokens[0]
	g.mu.Unlock()

	token, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		return testKey, nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "alice", claims["sub"])
}

func TestSubscribeSendsCommandAndRoutesEvents(t *testing.T) {
	g, srv := newGateway(t)
	f := newTestFeed(t, srv)
	require.NoError(t, f.Connect(context.Background()))

	h := &recordingHandler{}
	sub, err := f.Subscribe(context.Background(), "conv-1", h)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", sub.ConversationId())

	require.Eventually(t, func() bool {
		return len(g.subscribedConversations()) == 1
	}, time.Second, 5*time.Millisecond)

	row, err := json.Marshal(types.Message{
		Id:             "m1",
		ConversationId: "conv-1",
		SenderId:       "bob",
		Content:        "hello",
	})
	require.NoError(t, err)

	g.push(t, backend.Envelope{
		Table:          backend.TableMessages,
		ConversationId: "conv-1",
		Kind:           backend.EventInsert,
		Row:            row,
	})

	require.Eventually(t, func() bool { return h.messageCount() == 1 }, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, backend.EventInsert, h.messages[0].Kind)
	assert.Equal(t, "m1", h.messages[0].Row.Id)
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	g, srv := newGateway(t)
	logger, buf := testutil.CaptureLogger(t)
	f := NewFeed(wsURL(srv), "alice", testKey, logger)
	t.Cleanup(func() { f.Close() })
	require.NoError(t, f.Connect(context.Background()))

	h := &recordingHandler{}
	_, err := f.Subscribe(context.Background(), "conv-1", h)
	require.NoError(t, err)

	// Insert with no row payload fails validation.
	g.push(t, backend.Envelope{
		Table:          backend.TableMessages,
		ConversationId: "conv-1",
		Kind:           backend.EventInsert,
	})

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "drop message event")
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.messageCount())
}

func TestEventForUnsubscribedConversationIsIgnored(t *testing.T) {
	g, srv := newGateway(t)
	f := newTestFeed(t, srv)
	require.NoError(t, f.Connect(context.Background()))

	h := &recordingHandler{}
	sub, err := f.Subscribe(context.Background(), "conv-1", h)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	row, _ := json.Marshal(types.Message{Id: "m1", ConversationId: "conv-1", SenderId: "bob", Content: "x"})
	g.push(t, backend.Envelope{
		Table:          backend.TableMessages,
		ConversationId: "conv-1",
		Kind:           backend.EventInsert,
		Row:            row,
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.messageCount())
}

func TestDisconnectNotifiesAndReconnectResubscribes(t *testing.T) {
	g, srv := newGateway(t)
	f := newTestFeed(t, srv)

	var mu sync.Mutex
	var transitions []bool
	f.NotifyConnectivity(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, connected)
	})

	require.NoError(t, f.Connect(context.Background()))
	_, err := f.Subscribe(context.Background(), "conv-1", &recordingHandler{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(g.subscribedConversations()) == 1
	}, time.Second, 5*time.Millisecond)

	g.dropConns()
	require.Eventually(t, func() bool { return !f.Connected() }, time.Second, 5*time.Millisecond)

	f.Reconnect()
	require.Eventually(t, func() bool { return f.Connected() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, g.connCount())

	// The surviving subscription is resumed on the new connection.
	require.Eventually(t, func() bool {
		return len(g.subscribedConversations()) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestConnectIsIdempotent(t *testing.T) {
	g, srv := newGateway(t)
	f := newTestFeed(t, srv)

	require.NoError(t, f.Connect(context.Background()))
	require.NoError(t, f.Connect(context.Background()))
	assert.Equal(t, 1, g.connCount())
}
