// Package bridge carries stream events from the worker process to the
// serving process over a pub/sub broker. Delivery is fire-and-forget: the
// ledger, not the bridge, is the durable record of task progress.
package bridge

import "context"

// Broker abstracts the pub/sub transport between worker and server.
type Broker interface {
	// Publish sends a payload on a channel. Subscribers that are not
	// listening at publish time never see the message.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription on a channel. The returned subscription
	// delivers payloads until Close is called or ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// HealthCheck verifies the broker is reachable.
	HealthCheck(ctx context.Context) error
}

// Subscription is a live channel subscription.
type Subscription interface {
	// Messages returns the payload channel. It is closed when the
	// subscription ends.
	Messages() <-chan []byte

	// Close tears down the subscription.
	Close() error
}
