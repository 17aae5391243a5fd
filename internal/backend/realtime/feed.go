// Package realtime implements the backend.Feed contract over a websocket
// change-feed gateway. One connection carries every conversation's
// stream; subscriptions are multiplexed with subscribe commands.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chatsync/engine/internal/backend"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	connectTimeout = 10 * time.Second
)

// command is the client-to-server wire format.
type command struct {
	Subscribe   *scopeRef `json:"subscribe,omitempty"`
	Unsubscribe *scopeRef `json:"unsubscribe,omitempty"`
}

type scopeRef struct {
	ConversationId string `json:"conversation_id"`
}

type Feed struct {
	url        string
	actorId    string
	signingKey []byte
	log        *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	send      chan []byte
	handlers  map[string]backend.EventHandler
	connFns   []func(connected bool)
}

func NewFeed(url, actorId string, signingKey []byte, logger *log.Logger) *Feed {
	return &Feed{
		url:        url,
		actorId:    actorId,
		signingKey: signingKey,
		log:        logger,
		handlers:   make(map[string]backend.EventHandler),
	}
}

// Connect dials the gateway and starts the read/write pumps. Safe to call
// again after a disconnect; an established connection makes it a no-op.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("feed closed")
	}
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	token, err := f.connectToken()
	if err != nil {
		return fmt.Errorf("sign connect token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url+"?token="+token, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.send = make(chan []byte, 256)
	resubscribe := make([]string, 0, len(f.handlers))
	for id := range f.handlers {
		resubscribe = append(resubscribe, id)
	}
	fns := append([]func(bool){}, f.connFns...)
	f.mu.Unlock()

	go f.writeLoop(conn, f.send)
	go f.readLoop(conn)

	// Resume streams held before the disconnect.
	for _, id := range resubscribe {
		f.queueCommand(command{Subscribe: &scopeRef{ConversationId: id}})
	}

	for _, fn := range fns {
		fn(true)
	}

	return nil
}

// connectToken signs a short HS256 token identifying the actor to the
// gateway.
func (f *Feed) connectToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": f.actorId,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	return token.SignedString(f.signingKey)
}

func (f *Feed) Subscribe(ctx context.Context, conversationId string, h backend.EventHandler) (backend.Subscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("feed closed")
	}
	f.handlers[conversationId] = h
	connected := f.connected
	f.mu.Unlock()

	if connected {
		f.queueCommand(command{Subscribe: &scopeRef{ConversationId: conversationId}})
	}

	return &subscription{feed: f, conversationId: conversationId}, nil
}

func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Reconnect requests a single reconnect attempt. Fire-and-forget: a
// failed attempt only leaves the connectivity flag false.
func (f *Feed) Reconnect() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := f.Connect(ctx); err != nil {
			f.log.Println("reconnect:", err)
		}
	}()
}

func (f *Feed) NotifyConnectivity(fn func(connected bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connFns = append(f.connFns, fn)
}

func (f *Feed) Close() error {
	f.mu.Lock()
	f.closed = true
	conn := f.conn
	f.conn = nil
	f.connected = false
	f.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (f *Feed) queueCommand(cmd command) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		f.log.Println("marshal command:", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || f.send == nil {
		return
	}

	select {
	case f.send <- raw:
	default:
		f.log.Println("send queue full, dropping command")
	}
}

func (f *Feed) writeLoop(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case raw, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				f.log.Println("feed write:", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.markDisconnected(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(appData string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				f.log.Printf("feed read: %v", err)
			}
			return
		}

		var env backend.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			f.log.Println("malformed envelope:", err)
			continue
		}

		f.dispatch(env)
	}
}

// dispatch validates the envelope into the closed event union and routes
// it to the conversation's handler. Invalid payloads never cross into
// the engine.
func (f *Feed) dispatch(env backend.Envelope) {
	f.mu.Lock()
	h, ok := f.handlers[env.ConversationId]
	f.mu.Unlock()
	if !ok {
		return
	}

	switch env.Table {
	case backend.TableMessages:
		ev, err := backend.DecodeMessageEvent(env)
		if err != nil {
			f.log.Println("drop message event:", err)
			return
		}
		h.HandleMessageEvent(ev)
	case backend.TableTyping:
		ev, err := backend.DecodeTypingEvent(env)
		if err != nil {
			f.log.Println("drop typing event:", err)
			return
		}
		h.HandleTypingEvent(ev)
	default:
		f.log.Printf("drop event for unknown table %q", env.Table)
	}
}

// markDisconnected flips the connectivity flag once per transition and
// notifies listeners.
func (f *Feed) markDisconnected(conn *websocket.Conn) {
	conn.Close()

	f.mu.Lock()
	if !f.connected || f.conn != conn {
		f.mu.Unlock()
		return
	}
	f.connected = false
	f.conn = nil
	close(f.send)
	f.send = nil
	fns := append([]func(bool){}, f.connFns...)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(false)
	}
}

type subscription struct {
	feed           *Feed
	conversationId string
}

func (s *subscription) ConversationId() string { return s.conversationId }

func (s *subscription) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.handlers, s.conversationId)
	s.feed.mu.Unlock()

	s.feed.queueCommand(command{Unsubscribe: &scopeRef{ConversationId: s.conversationId}})
	return nil
}
