package events

import (
	"sync"
	"time"
)

// Kind classifies lifecycle and readiness notifications.
type Kind string

const (
	KindStdout     Kind = "stdout"
	KindStderr     Kind = "stderr"
	KindError      Kind = "error"
	KindCrashed    Kind = "crashed"
	KindTerminated Kind = "terminated"
	KindExiting    Kind = "exiting"
	KindReady      Kind = "ready"
	KindWarn       Kind = "warn"
)

// Event is a sequenced payload consumed by UI and log subscribers.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Sidecar   string    `json:"sidecar,omitempty"`
	SidecarID string    `json:"sidecarId,omitempty"`
	Message   string    `json:"message,omitempty"`
	ExitCode  int       `json:"exitCode,omitempty"`
	Signal    string    `json:"signal,omitempty"`
}

// Publisher is the narrow write side of the bus handed to producers.
type Publisher interface {
	Publish(event Event) Event
}

// DropObserver is notified whenever a subscriber misses an event.
type DropObserver interface {
	ObserveDroppedEvent()
}

type subscriber struct {
	ch chan Event
}

// Bus stores recent events and fans them out to subscribers.
// Subscriber queues are bounded; a full queue drops the event for that
// subscriber only, so Publish never blocks.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[int]*subscriber
	nextSub   int
	dropped   int64
	drops     DropObserver
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]*subscriber),
	}
}

// SetDropObserver attaches a counter for dropped deliveries.
func (b *Bus) SetDropObserver(observer DropObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drops = observer
}

// Publish appends one event, assigns sequence and timestamp, and delivers it.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.dropped++
			if b.drops != nil {
				b.drops.ObserveDroppedEvent()
			}
		}
	}

	return event
}

// Subscribe registers a queue of the given capacity. The returned cancel
// func unregisters and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Dropped returns the number of deliveries lost to full subscriber queues.
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
