package bridge

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is a Redis pub/sub backed Broker.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker creates a Redis-backed broker.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends a payload on a Redis channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Redis pub/sub subscription on a channel.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// Confirm the subscription before handing it out so publishes after
	// Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, 64),
	}
	go sub.pump(ctx)
	return sub, nil
}

// HealthCheck pings Redis.
func (b *RedisBroker) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// pump copies broker messages into the output channel until the pub/sub
// connection closes or the context is cancelled.
func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.out)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-ctx.Done():
				s.pubsub.Close()
				return
			}
		}
	}
}
