// Package bus is the realtime event bus: one logical topic per channel,
// at-least-once delivery, publish order preserved per topic. It provides no
// replay across a subscription gap; late or reconnecting subscribers must
// re-fetch a baseline snapshot instead of trusting buffered events.
package bus

import (
	"context"
	"encoding/json"
)

type EventKind string

const (
	KindMessageInserted  EventKind = "message.inserted"
	KindReadStatusUpsert EventKind = "readStatus.upserted"
	KindTypingUpsert     EventKind = "typing.upserted"
)

type Event struct {
	Topic   string          `json:"topic"`
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type Bus interface {
	Publish(ctx context.Context, topic string, kind EventKind, payload any) error
	Subscribe(topic string, handler Handler) (Subscription, error)
	Close() error
}
