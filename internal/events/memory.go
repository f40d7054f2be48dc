package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const memoryMaxAttempts = 3

// MemoryBus keeps an append-only log per topic inside the process. Every
// subscription reads its topic from the first message.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string][]Message
	notify chan struct{}
	log    *slog.Logger
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		topics: make(map[string][]Message),
		notify: make(chan struct{}),
		log:    logger,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Topic == "" {
		return errors.New("topic is required")
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	msg.Data = append([]byte(nil), msg.Data...)

	b.mu.Lock()
	b.topics[msg.Topic] = append(b.topics[msg.Topic], msg)
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	if h == nil {
		return errors.New("handler is required")
	}
	offset := 0
	for {
		b.mu.Lock()
		pending := b.topics[topic][offset:]
		wait := b.notify
		b.mu.Unlock()

		for _, msg := range pending {
			if ctx.Err() != nil {
				return nil
			}
			b.deliver(ctx, group, msg, h)
			offset++
		}
		if len(pending) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-wait:
		}
	}
}

func (b *MemoryBus) deliver(ctx context.Context, group string, msg Message, h Handler) {
	var err error
	for attempt := 1; attempt <= memoryMaxAttempts; attempt++ {
		if err = h(ctx, msg); err == nil {
			return
		}
		b.log.Warn("event handler failed", "topic", msg.Topic, "group", group, "key", msg.Key, "attempt", attempt, "err", err)
	}
	b.log.Error("event dropped after retries", "topic", msg.Topic, "group", group, "key", msg.Key, "err", err)
}

// Messages returns a copy of everything published on topic so far.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.topics[topic]...)
}
