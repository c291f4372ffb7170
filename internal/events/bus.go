// Package events is an in-process broadcast bus. The ingestion path, the
// publisher and the broker link emit events; the websocket stream and
// tests subscribe to them. The bus is nil-safe: publishing on a nil *Bus
// is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source identifies the component that emitted an event.
const (
	SourceIngest    = "ingest"
	SourcePublisher = "publisher"
	SourceLink      = "link"
)

// Kind constants describe the type of event within a source.
const (
	// KindUpload signals a classified Torque upload.
	// Data: session, known, ignored, unknown.
	KindUpload = "upload"
	// KindSnapshot signals an assembled message for a session.
	// Data: session, topic, format, payload.
	KindSnapshot = "snapshot"
	// KindConnected signals the broker accepted the connection.
	// Data: generation.
	KindConnected = "connected"
	// KindDisconnected signals the broker connection dropped.
	// Data: generation, since_connect.
	KindDisconnected = "disconnected"
	// KindRebuild signals the broker client is being replaced.
	// Data: reason, generation.
	KindRebuild = "rebuild"
	// KindFatal signals the link gave up and the process should exit.
	// Data: reason.
	KindFatal = "fatal"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers receive events on
// buffered channels; a slow subscriber misses events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// bySub maps the receive-only channel handed to the subscriber back
	// to the channel the bus sends on, so Unsubscribe can take the
	// caller's view of it.
	bySub map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		bySub: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel receiving published events. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.bySub[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.bySub[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.bySub, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
