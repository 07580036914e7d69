package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const topicPrefix = "teamchat:channel:"

// RedisBus fans events out over Redis pub/sub, one Redis channel per topic,
// so every server instance sees every event. Redis preserves publish order
// per connection, which satisfies the per-topic ordering contract.
type RedisBus struct {
	log    *log.Logger
	client *redis.Client
}

func NewRedisBus(url string, logger *log.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisBus{log: logger, client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, kind EventKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	env, err := json.Marshal(Event{Topic: topic, Kind: kind, Payload: raw})
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, topicPrefix+topic, env).Err()
}

func (b *RedisBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	pubsub := b.client.Subscribe(context.Background(), topicPrefix+topic)

	// confirm the subscription before returning so the caller can safely
	// fetch its baseline snapshot afterwards
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %q: %w", topic, err)
	}

	sub := &redisSub{pubsub: pubsub}
	go func() {
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Printf("bad event on topic %q: %v", topic, err)
				continue
			}
			handler(ev)
		}
	}()

	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	once   sync.Once
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		s.pubsub.Close()
	})
}
