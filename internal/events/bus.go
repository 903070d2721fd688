// Package events is a small in-process publish/subscribe bus used to report
// storage lifecycle, identity, decryption and migration activity.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	Initialized       Kind = "initialized"
	Closed            Kind = "closed"
	IdentityChanged   Kind = "identity_changed"
	DecryptFailed     Kind = "decrypt_failed"
	MigrationProgress Kind = "migration_progress"
	MigrationFinished Kind = "migration_finished"
)

// Event is delivered to subscribers synchronously, in publish order.
type Event struct {
	Kind    Kind
	Time    time.Time
	Payload any
}

type Handler func(Event)

type subscription struct {
	id int
	h  Handler
}

// Bus is safe for concurrent use. The zero value is ready to use, and a nil
// *Bus silently drops events.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Kind][]subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for events of kind and returns a function that
// removes it.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	if b == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[Kind][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

func (b *Bus) remove(kind Kind, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[kind]
	for i, s := range list {
		if s.id == id {
			b.subs[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every current subscriber of kind.
func (b *Bus) Publish(kind Kind, payload any) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[kind]))
	for _, s := range b.subs[kind] {
		handlers = append(handlers, s.h)
	}
	b.mu.RUnlock()

	ev := Event{Kind: kind, Time: time.Now().UTC(), Payload: payload}
	for _, h := range handlers {
		h(ev)
	}
}
