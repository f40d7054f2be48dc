package events

import (
	"context"
	"time"
)

// Message is one record on a topic. Key groups messages that must be
// delivered in publish order.
type Message struct {
	Topic       string
	Key         string
	Data        []byte
	PublishedAt time.Time
}

// Handler processes one message. A non-nil error asks the transport to
// redeliver it.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber delivers every message on topic to h, starting from the oldest
// retained message. Subscribe blocks until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

type Bus interface {
	Publisher
	Subscriber
}
