// Package bus provides the process-internal event bus and the cross-process
// HTTP notifier. The two are one logical fan-out with two transports: an
// event published locally is dispatched to in-process subscribers in
// subscription order, and the notifier translates selected events into HTTP
// POSTs to peer components.
//
// Delivery is best-effort and non-blocking per subscriber: a subscriber that
// cannot keep up has the event dropped, never queued unboundedly.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// EventType discriminates bus events.
type EventType string

const (
	EventPriceUpdate     EventType = "PriceUpdate"
	EventMarketUpdate    EventType = "MarketUpdate"
	EventTradeChanged    EventType = "TradeChanged"
	EventPositionUpdate  EventType = "PositionUpdate"
	EventDbChanged       EventType = "DbChanged"
	EventIndicatorUpdate EventType = "IndicatorUpdate"
	EventSystemHealth    EventType = "SystemHealth"
)

// Event is one published bus message. Payload shape depends on Type.
type Event struct {
	Type    EventType
	At      time.Time
	Payload any
}

// PriceUpdate is the payload of EventPriceUpdate.
type PriceUpdate struct {
	Symbol string
	Price  float64
	TS     time.Time
}

// TradeChanged is the payload of EventTradeChanged.
type TradeChanged struct {
	TradeID  int64
	TicketID string
	Status   string
}

// DbChanged is the payload of EventDbChanged. DB names the mirrored table
// that changed: "positions", "fills", "orders", "settlements", "balance".
type DbChanged struct {
	DB      string
	Summary string
}

// IndicatorUpdate is the payload of EventIndicatorUpdate.
type IndicatorUpdate struct {
	Symbol   string
	Momentum int
}

// SystemHealth is the payload of EventSystemHealth.
type SystemHealth struct {
	Component string
	Healthy   bool
	Detail    string
}

// Handler receives published events. Handlers must not block; long work
// belongs behind the subscriber's own buffered channel.
type Handler func(Event)

type subscriber struct {
	types map[EventType]bool // nil = all types
	ch    chan Event
}

// Bus is the in-process pub/sub hub. Subscribers register buffered channels;
// publish never blocks the producer.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	logger *slog.Logger
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("component", "bus")}
}

// Subscribe registers interest in the given event types (empty = all).
// The returned channel is buffered; events are dropped, not queued, when it
// is full. Call the returned cancel func to unsubscribe.
func (b *Bus) Subscribe(buffer int, eventTypes ...EventType) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(eventTypes) > 0 {
		sub.types = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to all matching subscribers in subscription
// order. Slow subscribers lose the event.
func (b *Bus) Publish(eventType EventType, payload any) {
	evt := Event{Type: eventType, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[eventType] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug("subscriber full, dropping event", "type", eventType)
		}
	}
}
