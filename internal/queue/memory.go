package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process bus for single-binary deployments and tests. Each
// consumer receives every message published to one of its topics; Publish
// blocks while a subscribed consumer's buffer is full.
type Memory struct {
	mu     sync.Mutex
	subs   map[*memoryConsumer][]string
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*memoryConsumer][]string)}
}

func (m *Memory) Consumer(topics ...string) Consumer {
	c := &memoryConsumer{
		bus:   m,
		msgCh: make(chan Message, defaultBuffer),
		errCh: make(chan error),
		done:  make(chan struct{}),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		c.closeChans()
		return c
	}
	m.subs[c] = normalizeList(topics)
	return c
}

func (m *Memory) Publish(ctx context.Context, topic string, key, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var targets []*memoryConsumer
	for c, topics := range m.subs {
		if containsTopic(topics, topic) {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	msg := Message{
		Topic:     topic,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}
	for _, c := range targets {
		if err := c.deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close detaches every consumer and closes their channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for c := range subs {
		c.shutdown()
	}
	return nil
}

func (m *Memory) detach(c *memoryConsumer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, c)
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

type memoryConsumer struct {
	bus   *Memory
	msgCh chan Message
	errCh chan error

	// sending guards msgCh against close while a delivery is in flight.
	sending sync.RWMutex
	done    chan struct{}
	once    sync.Once
}

func (c *memoryConsumer) deliver(ctx context.Context, msg Message) error {
	c.sending.RLock()
	defer c.sending.RUnlock()
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.msgCh <- msg:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConsumer) Messages() <-chan Message { return c.msgCh }
func (c *memoryConsumer) Errors() <-chan error     { return c.errCh }

func (c *memoryConsumer) Close() error {
	c.bus.detach(c)
	c.shutdown()
	return nil
}

func (c *memoryConsumer) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.sending.Lock()
		defer c.sending.Unlock()
		close(c.msgCh)
		close(c.errCh)
	})
}

func (c *memoryConsumer) closeChans() {
	c.once.Do(func() {
		close(c.done)
		close(c.msgCh)
		close(c.errCh)
	})
}
