package bridge

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker for testing and single-process
// setups. It mirrors pub/sub semantics: publishes reach only subscriptions
// that exist at publish time.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{} // key: channel
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish delivers a payload to current subscribers of a channel. Slow
// subscribers with a full buffer miss the message rather than block the
// publisher.
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[channel] {
		select {
		case sub.out <- payload:
		default:
		}
	}
	return nil
}

// Subscribe opens a subscription on a channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		broker:  b,
		channel: channel,
		out:     make(chan []byte, 64),
	}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// HealthCheck always succeeds.
func (b *MemoryBroker) HealthCheck(_ context.Context) error {
	return nil
}

type memorySubscription struct {
	broker    *MemoryBroker
	channel   string
	out       chan []byte
	closeOnce sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.channel], s)
		if len(s.broker.subs[s.channel]) == 0 {
			delete(s.broker.subs, s.channel)
		}
		s.broker.mu.Unlock()
		close(s.out)
	})
	return nil
}
