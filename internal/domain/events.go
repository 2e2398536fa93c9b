package domain

import (
	"context"
	"time"
)

// EventType identifies a market lifecycle event.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventMarketJoined    EventType = "market_joined"
	EventMarketSettled   EventType = "market_settled"
	EventMarketCancelled EventType = "market_cancelled"
)

// Event is a lifecycle notification emitted after a mutation has committed.
type Event struct {
	Type   EventType `json:"type"`
	Market Market    `json:"market"`
	At     time.Time `json:"at"`
}

// EventSink receives lifecycle events for fan-out (websocket clients,
// operator notifications). Publishing is best-effort; sinks must not block
// the request path.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// MultiSink fans an event out to every wrapped sink in order.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, e Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}
