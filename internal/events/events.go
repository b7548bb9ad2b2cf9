// Package events fans gateway events out to in-process subscribers (SSE clients)
// and is the shape written to the journal.
package events

import (
	"sync"
	"time"

	"github.com/vadiminshakov/exgate/internal/domain"
)

// Type of an event.
type Type string

const (
	TypeTicker       Type = "ticker"
	TypeBalance      Type = "balance"
	TypeOrder        Type = "order"
	TypeConnectivity Type = "connectivity"
)

// Event is one produced entity. Exactly one payload field is set.
type Event struct {
	Type         Type                      `json:"type"`
	Exchange     domain.ExchangeID         `json:"exchange"`
	Timestamp    time.Time                 `json:"ts"`
	Ticker       *domain.Ticker            `json:"ticker,omitempty"`
	Balances     []domain.Balance          `json:"balances,omitempty"`
	Order        *domain.Order             `json:"order,omitempty"`
	Connectivity *domain.ConnectivityEvent `json:"connectivity,omitempty"`
}

// Broadcaster fans out events to all subscribers via buffered channels.
// Slow subscribers lose events rather than block the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping if a reader is slow.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
