// Package bus carries in-process events between the dispatcher and the
// components that observe it. It is a thin layer over github.com/cskr/pubsub.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	// Publish waits until every subscriber buffer has room for msg.
	Publish(topic string, msg any)
	// TryPublish skips subscribers whose buffers are full.
	TryPublish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

// New returns a bus whose subscriptions buffer up to capacity messages.
// A non-positive capacity selects the default.
func New(logger *slog.Logger, capacity int) *PubSubBus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PubSubBus{ps: pubsub.New(capacity), logger: logger}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.trace("publish", topic, msg)
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) TryPublish(topic string, msg any) {
	b.trace("try_publish", topic, msg)
	b.ps.TryPub(msg, topic)
}

func (b *PubSubBus) Subscribe(topic string) Subscription {
	b.logger.Debug("subscribe", "topic", topic)
	return b.ps.Sub(topic)
}

// Unsubscribe detaches ch. Messages still in flight are drained in the
// background until pubsub closes ch, so a blocked Publish cannot hang.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	go func() {
		for range ch {
		}
	}()

	b.logger.Debug("unsubscribe", "topics", topics)
	b.ps.Unsub(ch, topics...)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func (b *PubSubBus) trace(op, topic string, msg any) {
	if !b.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	b.logger.Debug(op, "topic", topic, "payload_type", fmt.Sprintf("%T", msg))
}

// Listen subscribes to topic right away and calls fn with every message of
// type T from a new goroutine until ctx is done or the bus shuts down.
// Messages of other types are skipped.
func Listen[T any](ctx context.Context, b MessageBus, topic string, fn func(T)) {
	sub := b.Subscribe(topic)

	go func() {
		defer b.Unsubscribe(sub, topic)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				if msg, ok := raw.(T); ok {
					fn(msg)
				}
			}
		}
	}()
}
