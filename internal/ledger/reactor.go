package ledger

import (
	"context"
	"errors"
	"log/slog"

	"taskos/internal/events"
	"taskos/internal/metrics"
	"taskos/internal/task"
)

// Reactor turns task events into ledger postings: an assignment charges the
// assignee the task price, a completion rewards the completer.
type Reactor struct {
	ledger *Ledger
	pub    events.Publisher
	topic  string
	log    *slog.Logger
}

func NewReactor(l *Ledger, pub events.Publisher, accountingTopic string, logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{ledger: l, pub: pub, topic: accountingTopic, log: logger}
}

func (r *Reactor) Handle(ctx context.Context, msg events.Message) (err error) {
	defer func() { metrics.Handled("ledger", err) }()

	ev, err := task.Decode(msg.Data)
	if err != nil {
		r.log.Warn("skipping undecodable task event", "key", msg.Key, "err", err)
		return nil
	}

	var p Posting
	switch e := ev.(type) {
	case task.CreateEvent:
		return nil
	case task.AssignEvent:
		p, err = r.ledger.Penalty(ctx, e.Assignee, e.TaskID, e.Price, e.Timestamp)
	case task.CompleteEvent:
		p, err = r.ledger.Reward(ctx, e.UserID, e.TaskID, e.Reward, e.Timestamp)
	default:
		r.log.Warn("unhandled task event", "type", ev.Type())
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrNegativeAmount) || errors.Is(err, ErrInvalidEntry) {
			r.log.Warn("rejected task event posting", "task_id", ev.Task(), "type", ev.Type(), "err", err)
			return nil
		}
		return err
	}

	// The posting is durable at this point; redelivering the task event
	// would post it twice, so a failed announcement is only logged.
	if err := announce(ctx, r.pub, r.topic, p); err != nil {
		r.log.Error("balance change publish failed", "user_id", p.UserID, "err", err)
	}
	return nil
}
