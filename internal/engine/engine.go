// Package engine keeps a local view of conversations, messages, typing
// presence, and connection health consistent with a remote change feed.
// All state is owned by a single run loop; public operations perform
// their network I/O on the caller's goroutine and hand the resulting
// mutation to the loop, so every mutation runs to completion before the
// next is processed.
package engine

import (
	"log"
	"sync"

	"github.com/chatsync/engine/internal/backend"
	"github.com/chatsync/engine/internal/stats"
	"github.com/chatsync/engine/internal/types"
)

type Engine struct {
	log     *log.Logger
	store   backend.Store
	blobs   backend.BlobStore
	feed    backend.Feed
	stats   stats.StatsProvider
	clock   Clock
	actorId string

	commands chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Everything below is owned by the run loop.
	conversations []types.Conversation
	loadErr       error
	loading       bool
	activeId      string
	histories     map[string]*history
	subs          map[string]backend.Subscription
	subPending    map[string]struct{}
	typingUsers   map[string]map[string]struct{}
	typingTimers  map[typingKey]Timer
	localTyping   map[string]bool
	localTimers   map[string]Timer
	connected     bool
}

type typingKey struct {
	conversationId string
	userId         string
}

type Option func(*Engine)

// WithClock injects a clock, used by tests to drive the typing timers
// without wall-clock waits.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func NewEngine(logger *log.Logger, store backend.Store, blobs backend.BlobStore, feed backend.Feed, sp stats.StatsProvider, actorId string, opts ...Option) *Engine {
	e := &Engine{
		log:          logger,
		store:        store,
		blobs:        blobs,
		feed:         feed,
		stats:        sp,
		clock:        realClock{},
		actorId:      actorId,
		commands:     make(chan func()),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		histories:    make(map[string]*history),
		subs:         make(map[string]backend.Subscription),
		subPending:   make(map[string]struct{}),
		typingUsers:  make(map[string]map[string]struct{}),
		typingTimers: make(map[typingKey]Timer),
		localTyping:  make(map[string]bool),
		localTimers:  make(map[string]Timer),
	}

	for _, opt := range opts {
		opt(e)
	}

	for _, m := range []string{
		stats.MetricEventsApplied,
		stats.MetricEventsBuffered,
		stats.MetricEventsRejected,
		stats.MetricMessagesSynced,
		stats.MetricSubscriptions,
		stats.MetricMessagesSent,
		stats.MetricSendFailures,
		stats.MetricReadReconciles,
		stats.MetricTypingUpserts,
		stats.MetricReconnects,
	} {
		e.stats.RegisterMetric(m)
	}

	e.connected = feed.Connected()
	feed.NotifyConnectivity(func(connected bool) {
		e.post(func() {
			if e.connected == connected {
				// Collapse duplicate transitions from a flapping transport.
				return
			}
			e.connected = connected
			e.log.Printf("connectivity changed: connected=%t", connected)
		})
	})

	return e
}

// Run processes events until Shutdown is called. Call this in a goroutine.
func (e *Engine) Run() {
	for {
		select {
		case fn := <-e.commands:
			fn()
		case <-e.stop:
			e.teardown()
			close(e.done)
			return
		}
	}
}

// teardown releases every held subscription and stops all timers. Runs on
// the loop goroutine as its final act.
func (e *Engine) teardown() {
	for id, sub := range e.subs {
		if err := sub.Close(); err != nil {
			e.log.Printf("close subscription %q: %v", id, err)
		}
		e.stats.Decr(stats.MetricSubscriptions)
	}
	e.subs = make(map[string]backend.Subscription)

	for _, t := range e.typingTimers {
		t.Stop()
	}
	for _, t := range e.localTimers {
		t.Stop()
	}
}

// Shutdown stops the run loop and disposes all subscriptions. It blocks
// until cleanup completes. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// do runs fn on the loop and waits for it to complete. Returns false if
// the engine has stopped.
func (e *Engine) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case e.commands <- func() {
		fn()
		close(ran)
	}:
		<-ran
		return true
	case <-e.stop:
		return false
	}
}

// post hands fn to the loop without waiting for completion. Used by feed
// handlers and timer callbacks.
func (e *Engine) post(fn func()) {
	select {
	case e.commands <- fn:
	case <-e.stop:
	}
}

// Connected reports transport connectivity as last observed.
func (e *Engine) Connected() bool {
	var connected bool
	e.do(func() { connected = e.connected })
	return connected
}

// Reconnect requests a transport reconnect. Fire-and-forget: if the
// attempt fails the connectivity flag simply stays false.
func (e *Engine) Reconnect() {
	e.stats.Incr(stats.MetricReconnects)
	e.feed.Reconnect()
}
