package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

const keyAttribute = "key"

// PubSub carries messages over Google Cloud Pub/Sub. Topics are created with
// message ordering enabled and messages are published with their Key as the
// ordering key.
type PubSub struct {
	client *pubsub.Client
	log    *slog.Logger
	replay bool

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

type PubSubOptions struct {
	// Replay seeks every new subscription back to the start of the
	// retention window before receiving.
	Replay        bool
	ClientOptions []option.ClientOption
}

func NewPubSub(ctx context.Context, projectID string, logger *slog.Logger, opts PubSubOptions) (*PubSub, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	p := NewPubSubFromClient(client, logger)
	p.replay = opts.Replay
	return p, nil
}

func NewPubSubFromClient(client *pubsub.Client, logger *slog.Logger) *PubSub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSub{
		client: client,
		log:    logger,
		topics: make(map[string]*pubsub.Topic),
	}
}

func (p *PubSub) Publish(ctx context.Context, msg Message) error {
	t, err := p.topic(ctx, msg.Topic)
	if err != nil {
		return err
	}
	out := &pubsub.Message{
		Data:        msg.Data,
		OrderingKey: msg.Key,
		Attributes:  map[string]string{keyAttribute: msg.Key},
	}
	if _, err := t.Publish(ctx, out).Get(ctx); err != nil {
		if msg.Key != "" {
			t.ResumePublish(msg.Key)
		}
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (p *PubSub) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	if h == nil {
		return errors.New("handler is required")
	}
	t, err := p.topic(ctx, topic)
	if err != nil {
		return err
	}
	sub, err := p.subscription(ctx, group+"-"+topic, t)
	if err != nil {
		return err
	}
	if p.replay {
		if err := sub.SeekToTime(ctx, time.Unix(0, 0)); err != nil {
			p.log.Warn("subscription seek failed", "subscription", sub.ID(), "err", err)
		}
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	p.log.Info("subscription receiving", "topic", topic, "group", group)
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := Message{
			Topic:       topic,
			Key:         m.OrderingKey,
			Data:        m.Data,
			PublishedAt: m.PublishTime,
		}
		if msg.Key == "" {
			msg.Key = m.Attributes[keyAttribute]
		}
		if err := h(ctx, msg); err != nil {
			p.log.Error("event handler failed", "topic", topic, "group", group, "message_id", m.ID, "err", err)
			m.Nack()
			return
		}
		m.Ack()
	})
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	return p.client.Close()
}

func (p *PubSub) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	if name == "" {
		return nil, errors.New("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}

	t := p.client.Topic(name)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", name, err)
	}
	if !ok {
		t, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("create topic %q: %w", name, err)
		}
	}
	t.EnableMessageOrdering = true
	p.topics[name] = t
	return t, nil
}

func (p *PubSub) subscription(ctx context.Context, name string, t *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", name, err)
	}
	if ok {
		return sub, nil
	}
	sub, err = p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:                 t,
		AckDeadline:           20 * time.Second,
		EnableMessageOrdering: true,
		RetainAckedMessages:   true,
		RetentionDuration:     7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", name, err)
	}
	return sub, nil
}
