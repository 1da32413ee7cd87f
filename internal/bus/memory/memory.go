// Package memory is an in-process bus backend for tests and the paper
// trading mode: topics are plain buffered channels, grounded on the
// teacher's channel-based worker hookup in trader/auto_trader.go.
package memory

import (
	"context"
	"sync"

	"tradeengine/internal/bus"
)

// Bus is an in-memory, fan-out pub/sub implementing both bus.Producer
// and bus.Consumer against the same set of named topics.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]chan bus.Message
}

// New constructs an empty in-memory bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]chan bus.Message)}
}

// Publish fans the message out to every consumer currently subscribed to
// topic. Non-blocking: a slow subscriber's channel is buffered, but a
// full channel drops the message rather than stalling the producer,
// matching the "nothing else may block" suspension-point rule (spec.md
// §5) for this in-memory test backend.
func (b *Bus) Publish(ctx context.Context, topic, key string, value []byte) error {
	b.mu.Lock()
	chans := append([]chan bus.Message(nil), b.subs[topic]...)
	b.mu.Unlock()

	msg := bus.Message{Topic: topic, Key: key, Value: value, Ack: func() {}}
	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Close is a no-op for the in-memory backend.
func (b *Bus) Close() error { return nil }

// Consume registers handler against topic and blocks, dispatching
// messages until ctx is cancelled.
func (b *Bus) Consume(ctx context.Context, topic string, handler bus.Handler) error {
	ch := make(chan bus.Message, 256)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil {
				continue
			}
		}
	}
}
