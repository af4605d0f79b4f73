// Package events is the in-process notification channel between the gateway and the stores.
// Delivery is synchronous: Publish returns after every handler has run, in subscription order.
package events

import (
	"sync"
	"time"
)

type Topic string

const (
	// SessionInvalidated is published by the gateway when the remote API rejects the credential.
	SessionInvalidated Topic = "session.invalidated"
	// LoggedIn is published by the session store after a successful login.
	LoggedIn Topic = "session.logged_in"
	// LoggedOut is published by the session store on every logout, explicit or forced.
	LoggedOut Topic = "session.logged_out"
)

type Event struct {
	Topic      Topic
	Reason     string
	StatusCode int
	Path       string
	At         time.Time
}

type Handler func(Event)

type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Topic][]subscription
}

type subscription struct {
	id int
	fn Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Topic][]subscription)}
}

// Subscribe registers fn for topic and returns a func that removes it.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	// handlers run outside the lock so they may publish or subscribe themselves
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[e.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}
