package task

import (
	"context"

	"taskos/internal/events"
)

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// BusPublisher encodes task events onto a topic keyed by task id, so all
// events of one task keep their order.
type BusPublisher struct {
	bus   events.Publisher
	topic string
}

func NewBusPublisher(bus events.Publisher, topic string) *BusPublisher {
	return &BusPublisher{bus: bus, topic: topic}
}

func (p *BusPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, events.Message{
		Topic:       p.topic,
		Key:         ev.Task().String(),
		Data:        data,
		PublishedAt: ev.Time(),
	})
}

type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
