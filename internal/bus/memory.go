package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// MemoryBus is an in-process Bus. Each subscriber has a buffered queue
// drained by its own goroutine, so publish order is preserved per subscriber
// and a slow handler never blocks publishers.
type MemoryBus struct {
	log  *log.Logger
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{}
}

type memorySub struct {
	bus     *MemoryBus
	topic   string
	events  chan Event
	done    chan struct{}
	once    sync.Once
	handler Handler
}

func NewMemoryBus(logger *log.Logger) *MemoryBus {
	return &MemoryBus{
		log:  logger,
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, kind EventKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ev := Event{Topic: topic, Kind: kind, Payload: raw}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.events <- ev:
		default:
			// at-least-once does not mean unbounded: a subscriber that
			// cannot keep up loses the event and must re-fetch a baseline
			b.log.Printf("dropping %s event for slow subscriber on topic %q", kind, topic)
		}
	}

	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	sub := &memorySub{
		bus:     b,
		topic:   topic,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		handler: handler,
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()

	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	var all []*memorySub
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}

	return nil
}

func (s *memorySub) run() {
	for {
		select {
		case ev := <-s.events:
			s.handler(ev)
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if subs, ok := s.bus.subs[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
}
