// Package relay fans session lifecycle events out to any number of
// subscribers. There is no replay: a subscriber only sees events published
// after it subscribed.
package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventName identifies a relay event class.
type EventName string

const (
	EventPairingCode  EventName = "pairing-code"
	EventReady        EventName = "ready"
	EventAuthFailed   EventName = "auth-failed"
	EventDisconnected EventName = "disconnected"
	EventMessage      EventName = "message"
	EventCall         EventName = "call"
)

// Event is one tenant-tagged notification.
type Event struct {
	Name     EventName      `json:"event"`
	TenantID string         `json:"tenant_id"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// subscriberBuffer is deep enough for a slow consumer to ride out bursts;
// events are dropped (with a warning) rather than blocking publishers.
const subscriberBuffer = 64

// Broker is the shared broadcast channel. Publishing is safe from any
// goroutine; per-tenant emission order is preserved because Publish delivers
// to every subscriber before returning.
type Broker struct {
	lock        sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new listener and returns its id and channel. The
// channel is closed on Unsubscribe or Close.
func (b *Broker) Subscribe() (string, <-chan Event) {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

func (b *Broker) Unsubscribe(id string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish delivers the event to every current subscriber. A subscriber whose
// buffer is full misses the event; the relay makes no buffering guarantee.
func (b *Broker) Publish(evt Event) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			log.Warn().Str("subscriber", id).Str("event", string(evt.Name)).
				Str("tenant_id", evt.TenantID).Msg("relay subscriber buffer full, event dropped")
		}
	}
}

// Close drops all subscribers and closes their channels. Publishing after
// Close is a no-op.
func (b *Broker) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
