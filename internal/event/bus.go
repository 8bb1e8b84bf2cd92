// Package event provides the in-process pub/sub bus carrying session events
// from the engine to attached clients, built on watermill's gochannel.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/cowork-ai/cowork/pkg/protocol"
)

// Subscriber receives session events.
type Subscriber func(ev protocol.ServerEvent)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans session events out to subscribers. Subscribers keyed by session
// id receive only that session's events; global subscribers receive all.
type Bus struct {
	mu sync.RWMutex

	// Watermill pub/sub kept underneath for middleware/routing; direct
	// subscriber dispatch preserves the typed event.
	pubsub *gochannel.GoChannel

	bySession map[string][]subscriberEntry
	global    []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		bySession: make(map[string][]subscriberEntry),
	}
}

// Subscribe registers a subscriber for one session's events. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(sessionID string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.bySession[sessionID] = append(b.bySession[sessionID], subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe(sessionID, id) }
}

// SubscribeAll registers a subscriber for every session's events.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(sessionID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.bySession[sessionID]
	for i, entry := range subs {
		if entry.id == id {
			b.bySession[sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.bySession[sessionID]) == 0 {
		delete(b.bySession, sessionID)
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to subscribers synchronously, in registration
// order. Synchronous delivery is what preserves the per-session eventSeq
// ordering guarantee end to end: the engine assigns seq numbers under its
// actor and the transport write queue keeps them in order.
func (b *Bus) Publish(ev protocol.ServerEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.bySession[ev.SessionID])+len(b.global))
	for _, entry := range b.bySession[ev.SessionID] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Close shuts the bus down; further publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.bySession = make(map[string][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
