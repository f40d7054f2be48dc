package analytics

import (
	"context"
	"log/slog"
	"time"

	"taskos/internal/events"
	"taskos/internal/ledger"
	"taskos/internal/metrics"
	"taskos/internal/task"
)

// DayNumber counts days since 1970-01-01 for the calendar date t falls on
// in loc.
func DayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

type Aggregator struct {
	store Store
	loc   *time.Location
	log   *slog.Logger
	now   func() time.Time
}

func NewAggregator(store Store, loc *time.Location, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{store: store, loc: loc, log: logger, now: time.Now}
}

func (a *Aggregator) OnPrice(ctx context.Context, price int64, at time.Time) error {
	return a.store.RecordPrice(ctx, DayNumber(at, a.loc), price)
}

// MaxPriceForInterval is the highest price seen on any day from from to to,
// both inclusive. Days without data count as zero.
func (a *Aggregator) MaxPriceForInterval(ctx context.Context, from, to time.Time) (int64, error) {
	return a.store.MaxPrice(ctx, DayNumber(from, a.loc), DayNumber(to, a.loc))
}

// OnBalance books a user's balance change against the company's revenue for
// the day. Every decrease marks the user as a loser for that day.
func (a *Aggregator) OnBalance(ctx context.Context, userID string, previous, current int64, at time.Time) error {
	day := DayNumber(at, a.loc)
	delta := current - previous
	if err := a.store.AddRevenue(ctx, day, -delta); err != nil {
		return err
	}
	if delta < 0 {
		return a.store.AddLoser(ctx, day, userID)
	}
	return nil
}

func (a *Aggregator) Today(ctx context.Context) (DailyStats, error) {
	return a.store.Day(ctx, DayNumber(a.now(), a.loc))
}

func (a *Aggregator) TopRevenueToday(ctx context.Context) (int64, error) {
	s, err := a.Today(ctx)
	return s.TopRevenue, err
}

func (a *Aggregator) LoserCountToday(ctx context.Context) (int64, error) {
	s, err := a.Today(ctx)
	return s.Losers, err
}

// HandleTaskEvent feeds completion rewards into the daily max price.
func (a *Aggregator) HandleTaskEvent(ctx context.Context, msg events.Message) (err error) {
	defer func() { metrics.Handled("analytics_tasks", err) }()

	ev, err := task.Decode(msg.Data)
	if err != nil {
		a.log.Warn("skipping undecodable task event", "key", msg.Key, "err", err)
		return nil
	}
	switch e := ev.(type) {
	case task.CompleteEvent:
		return a.OnPrice(ctx, e.Reward, e.Timestamp)
	case task.CreateEvent, task.AssignEvent:
		return nil
	default:
		a.log.Warn("unhandled task event", "type", ev.Type())
		return nil
	}
}

func (a *Aggregator) HandleBalance(ctx context.Context, msg events.Message) (err error) {
	defer func() { metrics.Handled("analytics_accounting", err) }()

	ev, err := ledger.DecodeBalanceChanged(msg.Data)
	if err != nil {
		a.log.Warn("skipping undecodable balance event", "key", msg.Key, "err", err)
		return nil
	}
	return a.OnBalance(ctx, ev.UserID, ev.Previous, ev.Current, ev.Timestamp)
}
