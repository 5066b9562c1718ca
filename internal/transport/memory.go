package transport

import (
	"context"
	"sync"
)

// MemoryBus is an in-process topic fan-out. Slow subscribers drop
// messages instead of blocking publishers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]bool
	buffer int

	closeOnce sync.Once
	closed    chan struct{}
}

type memorySub struct {
	ch chan Message
}

// NewMemoryBus creates a bus whose subscriptions buffer up to buffer
// messages each.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 100
	}
	return &MemoryBus{
		subs:   make(map[string]map[*memorySub]bool),
		buffer: buffer,
		closed: make(chan struct{}),
	}
}

// Publish delivers a copy of payload to every current subscriber.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	if err := validTopic(topic); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe blocks delivering messages on topic to h until ctx is done or
// the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	if err := validTopic(topic); err != nil {
		return err
	}
	s := &memorySub{ch: make(chan Message, b.buffer)}

	b.mu.Lock()
	select {
	case <-b.closed:
		b.mu.Unlock()
		return ErrClosed
	default:
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]bool)
	}
	b.subs[topic][s] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs[topic], s)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return nil
		case msg := <-s.ch:
			h(ctx, msg)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close ends every subscription. Further publishes fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
