// Package events provides a small pub/sub bus used to fan out peer and
// transfer lifecycle notifications to any number of front-ends without
// coupling the transfer engine to a particular UI.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/digster/lan-file-transfer/internal/constants"
)

// Type identifies the kind of event carried on the bus.
type Type string

const (
	TypePeerAdded         Type = "peer_added"
	TypePeerRemoved       Type = "peer_removed"
	TypeQueueUpdated      Type = "queue_updated"
	TypeTransferStarted   Type = "transfer_started"
	TypeTransferProgress  Type = "transfer_progress"
	TypeTransferCompleted Type = "transfer_completed"
	TypeTransferFailed    Type = "transfer_failed"
	TypeTransferCancelled Type = "transfer_cancelled"
)

// Event is the interface implemented by every event published on the bus.
type Event interface {
	Type() Type
	Timestamp() time.Time
}

// Base provides the common Type/Timestamp implementation for concrete events.
type Base struct {
	EventType Type
	Time      time.Time
}

func (b Base) Type() Type           { return b.EventType }
func (b Base) Timestamp() time.Time { return b.Time }

// PeerEvent announces a peer appearing or disappearing from the network.
type PeerEvent struct {
	Base
	Name    string
	Address string
	Port    int
}

// QueueUpdatedEvent is a coalescing signal: "something in the queue changed,
// re-read it if you care about the detail." It carries no payload.
type QueueUpdatedEvent struct {
	Base
}

// TransferEvent carries a snapshot of a single queued transfer's observable
// fields at the moment of publication.
type TransferEvent struct {
	Base
	QueueID   string
	Direction string // "outgoing" or "incoming"
	Name      string
	Size      int64
	Transferred int64
	Progress  float64
	Speed     float64
	Error     error
}

// NewPeerEvent builds a PeerEvent stamped with the current time.
func NewPeerEvent(t Type, name, address string, port int) PeerEvent {
	return PeerEvent{
		Base:    Base{EventType: t, Time: time.Now()},
		Name:    name,
		Address: address,
		Port:    port,
	}
}

// NewTransferEvent builds a TransferEvent stamped with the current time.
func NewTransferEvent(t Type, queueID, direction, name string, size, transferred int64, progress, speed float64, err error) TransferEvent {
	return TransferEvent{
		Base:        Base{EventType: t, Time: time.Now()},
		QueueID:     queueID,
		Direction:   direction,
		Name:        name,
		Size:        size,
		Transferred: transferred,
		Progress:    progress,
		Speed:       speed,
		Error:       err,
	}
}

// NewQueueUpdatedEvent builds a coalescing queue-changed signal.
func NewQueueUpdatedEvent() QueueUpdatedEvent {
	return QueueUpdatedEvent{Base: Base{EventType: TypeQueueUpdated, Time: time.Now()}}
}

// Bus is a minimal, non-blocking fan-out pub/sub bus. Subscribers that fall
// behind have events dropped rather than stalling publishers, matching the
// teacher's event bus so a slow front-end cannot back-pressure the engine.
type Bus struct {
	mu            sync.RWMutex
	subscribers   map[Type][]chan Event
	all           []chan Event
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewBus creates a bus with the given per-subscriber buffer size (0 uses the
// package default).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &Bus{
		subscribers: make(map[Type][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives events of the given type.
func (b *Bus) Subscribe(t Type) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.bufferSize)
	b.subscribers[t] = append(b.subscribers[t], ch)
	return ch
}

// SubscribeAll returns a channel that receives every event published.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish fans an event out to all matching subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[ev.Type()] {
		select {
		case ch <- ev:
		default:
			b.droppedEvents.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
			b.droppedEvents.Add(1)
		}
	}
}

// DroppedEvents returns the number of events dropped due to full subscriber
// buffers, useful for detecting an under-sized buffer or a wedged consumer.
func (b *Bus) DroppedEvents() int64 {
	return b.droppedEvents.Load()
}

// Close shuts the bus down, closing every subscriber channel. Publish is a
// no-op after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
