package events

import (
	"sync"

	"atelier/internal/infra"
)

const subscriberBuffer = 64

// Subscriber receives events for one session (or for all sessions when
// created through SubscribeAll). Its channel is closed on unsubscribe or
// when the watched session is torn down.
type Subscriber struct {
	ch        chan Event
	sessionID string
	wildcard  bool
	closeOnce sync.Once
}

// Events exposes the receive side of the subscription.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Broadcaster fans lifecycle and progress events out to any number of
// observers, one channel group per session id plus a wildcard group used by
// streaming transports. It holds no domain state.
type Broadcaster struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscriber]struct{}
	wildcard map[*Subscriber]struct{}
	logger   infra.Logger
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger infra.Logger) *Broadcaster {
	return &Broadcaster{
		sessions: make(map[string]map[*Subscriber]struct{}),
		wildcard: make(map[*Subscriber]struct{}),
		logger:   logger,
	}
}

// Subscribe registers an observer for one session's events. The session
// channel group is created lazily.
func (b *Broadcaster) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer), sessionID: sessionID}
	b.mu.Lock()
	defer b.mu.Unlock()
	group, ok := b.sessions[sessionID]
	if !ok {
		group = make(map[*Subscriber]struct{})
		b.sessions[sessionID] = group
	}
	group[sub] = struct{}{}
	return sub
}

// SubscribeAll registers a wildcard observer that sees every session's events.
func (b *Broadcaster) SubscribeAll() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer), wildcard: true}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call more
// than once.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if sub.wildcard {
		delete(b.wildcard, sub)
	} else if group, ok := b.sessions[sub.sessionID]; ok {
		delete(group, sub)
		if len(group) == 0 {
			delete(b.sessions, sub.sessionID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers evt to every subscriber of sessionID and to the wildcard
// group. Delivery is best-effort: a subscriber whose buffer is full misses
// the event rather than blocking the publisher.
func (b *Broadcaster) Publish(sessionID string, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.sessions[sessionID] {
		b.send(sub, evt)
	}
	for sub := range b.wildcard {
		b.send(sub, evt)
	}
}

func (b *Broadcaster) send(sub *Subscriber, evt Event) {
	select {
	case sub.ch <- evt:
	default:
		b.logger.Debug().
			Str("session_id", sub.sessionID).
			Str("event", string(evt.EventType())).
			Msg("events: subscriber buffer full, dropping event")
	}
}

// DropSession tears down the channel group for a deleted session, closing
// every remaining subscriber so attached streams terminate.
func (b *Broadcaster) DropSession(sessionID string) {
	b.mu.Lock()
	group := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	for sub := range group {
		sub.close()
	}
}

// SubscriberCount reports the number of observers attached to a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}
