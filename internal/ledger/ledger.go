package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskos/internal/metrics"

	"github.com/google/uuid"
)

// Posting is the result of one Post: the entry and the user's books around it.
type Posting struct {
	UserID   string `json:"user_id"`
	Kind     Kind   `json:"kind"`
	Entry    Entry  `json:"entry"`
	Current  Books  `json:"current"`
	Previous Books  `json:"previous"`
}

type Ledger struct {
	store Store
	loc   *time.Location
	log   *slog.Logger
	now   func() time.Time
}

func New(store Store, loc *time.Location, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		store: store,
		loc:   loc,
		log:   logger,
		now:   time.Now,
	}
}

func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Post appends e to the user's shelf. A zero timestamp is stamped with now.
func (l *Ledger) Post(ctx context.Context, userID string, e Entry) (Posting, error) {
	if userID == "" {
		return Posting{}, fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	}
	if err := e.Validate(); err != nil {
		return Posting{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	kind, _ := e.Kind()
	current, previous, err := l.store.Post(ctx, userID, e)
	if err != nil {
		return Posting{}, fmt.Errorf("post %s for %s: %w", kind, userID, err)
	}
	metrics.LedgerPostings.WithLabelValues(string(kind)).Inc()
	metrics.LedgerPostedAmount.WithLabelValues(string(kind)).Add(float64(e.Amount))
	l.log.Debug("ledger posting", "user_id", userID, "kind", kind, "amount", e.Amount)
	return Posting{UserID: userID, Kind: kind, Entry: e, Current: current, Previous: previous}, nil
}

// Penalty charges the user for taking a task.
func (l *Ledger) Penalty(ctx context.Context, userID string, taskID uuid.UUID, amount int64, at time.Time) (Posting, error) {
	return l.Post(ctx, userID, Entry{
		Debit:     UserStonks,
		Credit:    CompanyStonks,
		Amount:    amount,
		Timestamp: at,
		Metadata:  map[string]string{"taskId": taskID.String()},
	})
}

// Reward pays the user for completing a task.
func (l *Ledger) Reward(ctx context.Context, userID string, taskID uuid.UUID, amount int64, at time.Time) (Posting, error) {
	return l.Post(ctx, userID, Entry{
		Debit:     CompanyStonks,
		Credit:    UserStonks,
		Amount:    amount,
		Timestamp: at,
		Metadata:  map[string]string{"taskId": taskID.String()},
	})
}

func (l *Ledger) Payout(ctx context.Context, userID string, amount int64, at time.Time) (Posting, error) {
	return l.Post(ctx, userID, Entry{
		Debit:     UserStonks,
		Credit:    MagicRevenue,
		Amount:    amount,
		Timestamp: at,
	})
}

func (l *Ledger) Books(ctx context.Context, userID string) (Books, error) {
	return l.store.Books(ctx, userID)
}

func (l *Ledger) Entries(ctx context.Context, userID string) ([]Entry, error) {
	return l.store.Entries(ctx, userID)
}

func (l *Ledger) OutstandingPayout(ctx context.Context, userID string) (int64, error) {
	books, err := l.store.Books(ctx, userID)
	if err != nil {
		return 0, err
	}
	return books.Outstanding(), nil
}

// OutstandingPayouts lists every user the company owes a positive amount.
func (l *Ledger) OutstandingPayouts(ctx context.Context) (map[string]int64, error) {
	users, err := l.store.Users(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, id := range users {
		v, err := l.OutstandingPayout(ctx, id)
		if err != nil {
			return nil, err
		}
		if v > 0 {
			out[id] = v
		}
	}
	return out, nil
}

// TotalStonksForDate is the company's net take since the start of date's day:
// entries debiting the company add, every other entry subtracts.
func (l *Ledger) TotalStonksForDate(ctx context.Context, date time.Time) (int64, error) {
	entries, err := l.store.EntriesSince(ctx, StartOfDay(date, l.loc))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.Debit == CompanyStonks {
			total += e.Amount
		} else {
			total -= e.Amount
		}
	}
	return total, nil
}

func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
