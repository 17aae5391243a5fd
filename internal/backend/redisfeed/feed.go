// Package redisfeed implements the backend.Feed contract over Redis
// pub/sub. Deployments that run the change feed through Redis instead
// of the websocket gateway publish the same JSON envelopes on a
// per-conversation channel.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chatsync/engine/internal/backend"
	redis "github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// channelFor returns the pub/sub channel carrying a conversation's
// change events.
func channelFor(conversationId string) string {
	return "feed:" + conversationId
}

type Feed struct {
	client *redis.Client
	log    *log.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[string]*convSub
	connFns   []func(connected bool)
}

type convSub struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func NewFeed(url string, logger *log.Logger) (*Feed, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisfeed: parse url: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisfeed: ping: %w", err)
	}

	return &Feed{
		client:    client,
		log:       logger,
		connected: true,
		subs:      make(map[string]*convSub),
	}, nil
}

func (f *Feed) Subscribe(ctx context.Context, conversationId string, h backend.EventHandler) (backend.Subscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("redisfeed: feed closed")
	}
	if _, ok := f.subs[conversationId]; ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("redisfeed: already subscribed to %s", conversationId)
	}
	f.mu.Unlock()

	pubsub := f.client.Subscribe(ctx, channelFor(conversationId))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		f.setConnected(false)
		return nil, fmt.Errorf("redisfeed: subscribe %s: %w", conversationId, err)
	}

	recvCtx, cancel := context.WithCancel(context.Background())

	f.mu.Lock()
	f.subs[conversationId] = &convSub{pubsub: pubsub, cancel: cancel}
	f.mu.Unlock()

	go f.receive(recvCtx, conversationId, pubsub, h)

	return &subscription{feed: f, conversationId: conversationId}, nil
}

func (f *Feed) receive(ctx context.Context, conversationId string, pubsub *redis.PubSub, h backend.EventHandler) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env backend.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.log.Println("redisfeed: malformed envelope:", err)
				continue
			}

			switch env.Table {
			case backend.TableMessages:
				ev, err := backend.DecodeMessageEvent(env)
				if err != nil {
					f.log.Println("redisfeed: drop message event:", err)
					continue
				}
				h.HandleMessageEvent(ev)
			case backend.TableTyping:
				ev, err := backend.DecodeTypingEvent(env)
				if err != nil {
					f.log.Println("redisfeed: drop typing event:", err)
					continue
				}
				h.HandleTypingEvent(ev)
			default:
				f.log.Printf("redisfeed: drop event for unknown table %q on %s", env.Table, conversationId)
			}
		}
	}
}

func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Reconnect probes the server and flips the connectivity flag back on
// success. Existing pub/sub subscriptions recover on their own; go-redis
// re-issues SUBSCRIBE when the underlying connection returns.
func (f *Feed) Reconnect() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := f.client.Ping(ctx).Err(); err != nil {
			f.log.Println("redisfeed: reconnect:", err)
			return
		}
		f.setConnected(true)
	}()
}

func (f *Feed) NotifyConnectivity(fn func(connected bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connFns = append(f.connFns, fn)
}

func (f *Feed) setConnected(connected bool) {
	f.mu.Lock()
	if f.connected == connected {
		f.mu.Unlock()
		return
	}
	f.connected = connected
	fns := append([]func(bool){}, f.connFns...)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

func (f *Feed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	subs := f.subs
	f.subs = make(map[string]*convSub)
	f.mu.Unlock()

	for _, s := range subs {
		s.cancel()
		s.pubsub.Close()
	}
	return f.client.Close()
}

func (f *Feed) unsubscribe(conversationId string) error {
	f.mu.Lock()
	s, ok := f.subs[conversationId]
	delete(f.subs, conversationId)
	f.mu.Unlock()
	if !ok {
		return nil
	}

	s.cancel()
	return s.pubsub.Close()
}

type subscription struct {
	feed           *Feed
	conversationId string
}

func (s *subscription) ConversationId() string { return s.conversationId }

func (s *subscription) Close() error {
	return s.feed.unsubscribe(s.conversationId)
}
