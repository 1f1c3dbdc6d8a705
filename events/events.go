// Package events implements the pub/sub bus shared by the connection,
// invitation, and messaging services (spec.md §4.6), grounded in the
// teacher's server/events bus.go and builder.go: a subscriber map
// guarded by a mutex, buffered per-subscriber channels, non-blocking
// delivery, and removal of a subscriber as soon as it unsubscribes.
// Simplified from the teacher's label/cid filter machinery and
// Prometheus-flavored metrics struct, since this module's subscribers
// filter by Type themselves; retains its fluent NewBuilder pattern.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of event an Event carries.
type Type string

const (
	TypeConnection      Type = "connection"
	TypeInvitation      Type = "invitation"
	TypeOutboundMessage Type = "outbound_message"
	TypeInboundMessage  Type = "inbound_message"
)

// Event is the single envelope published on the bus. ConnectionID is
// empty for events not scoped to a connection (e.g. invitation
// creation before a connection record exists). Metadata carries
// type-specific payload as a string map, matching the teacher's
// builder-populated Metadata field.
type Event struct {
	ID           string
	Type         Type
	ConnectionID string
	Timestamp    time.Time
	Metadata     map[string]string
}

// NewEvent creates an event with a fresh id and the supplied timestamp.
// Timestamp is a parameter rather than time.Now() so callers (and
// tests) control it explicitly.
func NewEvent(typ Type, connectionID string, timestamp time.Time) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Type:         typ,
		ConnectionID: connectionID,
		Timestamp:    timestamp,
		Metadata:     make(map[string]string),
	}
}

// subscription is an active event listener.
type subscription struct {
	id     string
	ch     chan *Event
	cancel chan struct{}
}

// Bus manages event distribution to subscribers: a thread-safe pub/sub
// mechanism with non-blocking delivery and lazy subscriber pruning.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	bufferSize  int
}

// NewBus creates an event bus with the default per-subscriber buffer
// size.
func NewBus() *Bus {
	return NewBusWithBuffer(32)
}

// NewBusWithBuffer creates an event bus whose subscriber channels have
// the given buffer size.
func NewBusWithBuffer(bufferSize int) *Bus {
	return &Bus{
		subscribers: make(map[string]*subscription),
		bufferSize:  bufferSize,
	}
}

// Publish broadcasts event to every subscriber. Delivery is
// non-blocking: a subscriber whose channel is full misses the event
// without blocking the others. Unsubscribe already removes a
// subscriber from the map; Publish additionally drops any subscription
// it finds cancelled.
func (b *Bus) Publish(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		select {
		case <-sub.cancel:
			delete(b.subscribers, id)
		default:
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// Subscribe registers a new listener and returns its id and receive
// channel. The caller must call Unsubscribe when done.
func (b *Bus) Subscribe() (string, <-chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	sub := &subscription{
		id:     id,
		ch:     make(chan *Event, b.bufferSize),
		cancel: make(chan struct{}),
	}

	b.subscribers[id] = sub

	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call more than once or with an unknown id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}

	close(sub.cancel)
	close(sub.ch)
	delete(b.subscribers, id)
}

// SubscriberCount returns the current number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// Builder provides a fluent interface for constructing and publishing
// an event, matching the teacher's EventBuilder.
type Builder struct {
	bus   *Bus
	event *Event
}

// NewBuilder starts building an event of the given type scoped to
// connectionID, timestamped now.
func (b *Bus) NewBuilder(typ Type, connectionID string, now time.Time) *Builder {
	return &Builder{bus: b, event: NewEvent(typ, connectionID, now)}
}

// WithMetadata sets a single metadata key/value pair.
func (eb *Builder) WithMetadata(key, value string) *Builder {
	eb.event.Metadata[key] = value

	return eb
}

// Build returns the constructed event without publishing it.
func (eb *Builder) Build() *Event {
	return eb.event
}

// Publish publishes the built event to the originating bus.
func (eb *Builder) Publish() {
	if eb.bus != nil {
		eb.bus.Publish(eb.event)
	}
}
