// Package events provides the typed notification bus: order and position
// lifecycle, margin warnings, and kill-switch trips fan out to subscribers
// without ever blocking the update cycle.
package events

import (
	"sync"
	"time"

	"paper-trader/internal/models"
)

// Type tags an event variant.
type Type string

const (
	TypeOrderUpdate    Type = "ORDER_UPDATE"
	TypeOrderFill      Type = "ORDER_FILL"
	TypePositionOpened Type = "POSITION_OPENED"
	TypePositionClosed Type = "POSITION_CLOSED"
	TypeMarginWarning  Type = "MARGIN_WARNING"
	TypeKillSwitchTrip Type = "KILL_SWITCH_TRIP"
)

// Event is one discrete notification. Exactly the payload fields matching
// the Type are populated.
type Event struct {
	Type       Type
	At         time.Time
	Order      *models.Order
	Fill       *models.Fill
	Position   *models.Position
	Margin     *models.MarginState
	KillSwitch *models.KillSwitchState
	Message    string
}

// BusConfig sizes the bus buffers.
type BusConfig struct {
	SubscriberBuffer int
	HistorySize      int
}

// DefaultBusConfig returns the default sizing.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		SubscriberBuffer: 100,
		HistorySize:      256,
	}
}

// Subscriber is one registered consumer.
type Subscriber struct {
	ID        string
	Channel   chan Event
	Dropped   int
	CreatedAt time.Time
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full loses the event and the drop is counted.
// A bounded ring of recent events is retained for late joiners.
type Bus struct {
	cfg BusConfig

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	history     []Event
	next        int
	filled      bool

	delivered uint64
	dropped   uint64
}

// NewBus creates an event bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	return &Bus{
		cfg:         cfg,
		subscribers: make(map[string]*Subscriber),
		history:     make([]Event, cfg.HistorySize),
	}
}

// Subscribe registers a consumer. An existing subscriber with the same id
// is replaced and its channel closed.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subscribers[id]; ok {
		close(old.Channel)
	}
	sub := &Subscriber{
		ID:        id,
		Channel:   make(chan Event, b.cfg.SubscriberBuffer),
		CreatedAt: time.Now(),
	}
	b.subscribers[id] = sub
	return sub.Channel
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.Channel)
		delete(b.subscribers, id)
	}
}

// Publish records the event in history and offers it to every subscriber
// without blocking.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history[b.next] = event
	b.next++
	if b.next == len(b.history) {
		b.next = 0
		b.filled = true
	}

	for _, sub := range b.subscribers {
		select {
		case sub.Channel <- event:
			b.delivered++
		default:
			sub.Dropped++
			b.dropped++
		}
	}
}

// History returns retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.filled {
		out := make([]Event, b.next)
		copy(out, b.history[:b.next])
		return out
	}
	out := make([]Event, 0, len(b.history))
	out = append(out, b.history[b.next:]...)
	out = append(out, b.history[:b.next]...)
	return out
}

// Metrics returns delivery counters.
func (b *Bus) Metrics() (delivered, dropped uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.delivered, b.dropped
}
