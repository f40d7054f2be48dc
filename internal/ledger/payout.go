package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskos/internal/events"
	"taskos/internal/metrics"
)

type PayoutSummary struct {
	Users int   `json:"users"`
	Total int64 `json:"total"`
}

// PayoutRunner settles every outstanding balance.
type PayoutRunner struct {
	ledger *Ledger
	pub    events.Publisher
	topic  string
	log    *slog.Logger
}

func NewPayoutRunner(l *Ledger, pub events.Publisher, accountingTopic string, logger *slog.Logger) *PayoutRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayoutRunner{ledger: l, pub: pub, topic: accountingTopic, log: logger}
}

// Run pays out each user with a positive outstanding amount. Failures for one
// user do not stop the others; they are returned joined.
func (p *PayoutRunner) Run(ctx context.Context) (PayoutSummary, error) {
	var summary PayoutSummary
	owed, err := p.ledger.OutstandingPayouts(ctx)
	if err != nil {
		metrics.PayoutRuns.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("list outstanding payouts: %w", err)
	}

	var errs []error
	now := p.ledger.now()
	for userID, amount := range owed {
		posting, err := p.ledger.Payout(ctx, userID, amount, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		summary.Users++
		summary.Total += amount
		if err := announce(ctx, p.pub, p.topic, posting); err != nil {
			p.log.Error("balance change publish failed", "user_id", userID, "err", err)
		}
	}

	outcome := "ok"
	if len(errs) > 0 {
		outcome = "partial"
	}
	metrics.PayoutRuns.WithLabelValues(outcome).Inc()
	p.log.Info("payout run complete", "users", summary.Users, "total", summary.Total, "failures", len(errs))
	return summary, errors.Join(errs...)
}
