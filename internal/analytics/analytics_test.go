package analytics

import (
	"context"
	"testing"
	"time"

	"taskos/internal/events"
	"taskos/internal/ledger"
	"taskos/internal/task"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestDayNumber(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tz data unavailable: %v", err)
	}
	tests := []struct {
		name string
		at   time.Time
		loc  *time.Location
		want int64
	}{
		{name: "epoch", at: time.Unix(0, 0), loc: time.UTC, want: 0},
		{name: "late utc", at: time.Date(1970, 1, 2, 23, 59, 0, 0, time.UTC), loc: time.UTC, want: 1},
		{name: "utc evening is next day in tokyo", at: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC), loc: tokyo, want: DayNumber(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.UTC)},
	}
	for _, tc := range tests {
		if got := DayNumber(tc.at, tc.loc); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb, "taskos:analytics:"),
	}
}

func TestAggregator(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			a := NewAggregator(store, time.UTC, nil)
			a.now = func() time.Time { return now }

			day := 24 * time.Hour
			for _, p := range []struct {
				price int64
				at    time.Time
			}{
				{25, now.Add(-3 * day)},
				{38, now.Add(-2 * day)},
				{22, now},
				{31, now},
				{27, now},
			} {
				if err := a.OnPrice(ctx, p.price, p.at); err != nil {
					t.Fatalf("on price: %v", err)
				}
			}

			got, err := a.MaxPriceForInterval(ctx, now.Add(-1*day), now)
			if err != nil {
				t.Fatalf("max price: %v", err)
			}
			if got != 31 {
				t.Fatalf("max over last two days=%d want 31", got)
			}
			if got, _ := a.MaxPriceForInterval(ctx, now.Add(-5*day), now); got != 38 {
				t.Fatalf("max over week=%d want 38", got)
			}
			if got, _ := a.MaxPriceForInterval(ctx, now.Add(10*day), now.Add(12*day)); got != 0 {
				t.Fatalf("empty interval=%d want 0", got)
			}

			steps := []struct {
				user              string
				previous, current int64
			}{
				{"u1", 0, -15},
				{"u1", -15, 15},
				{"u2", 0, -12},
				{"u2", -12, -24},
			}
			for _, s := range steps {
				if err := a.OnBalance(ctx, s.user, s.previous, s.current, now); err != nil {
					t.Fatalf("on balance: %v", err)
				}
			}
			rev, err := a.TopRevenueToday(ctx)
			if err != nil {
				t.Fatalf("top revenue: %v", err)
			}
			if rev != 9 {
				t.Fatalf("top revenue=%d want 9", rev)
			}
			losers, err := a.LoserCountToday(ctx)
			if err != nil {
				t.Fatalf("losers: %v", err)
			}
			if losers != 2 {
				t.Fatalf("losers=%d want 2", losers)
			}
		})
	}
}

func TestAggregatorHandlesEvents(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(NewMemoryStore(), time.UTC, nil)
	at := time.Now()
	a.now = func() time.Time { return at }

	complete, err := task.Encode(task.CompleteEvent{TaskID: uuid.New(), UserID: "u1", Reward: 33, Timestamp: at, SchemaVersion: task.CompleteVersion})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	assign, _ := task.Encode(task.AssignEvent{TaskID: uuid.New(), Assignee: "u1", Price: 99, Timestamp: at, SchemaVersion: task.AssignVersion})
	for _, data := range [][]byte{complete, assign, []byte("junk")} {
		if err := a.HandleTaskEvent(ctx, events.Message{Data: data}); err != nil {
			t.Fatalf("handle task event: %v", err)
		}
	}

	balance, _ := ledger.EncodeBalanceChanged(ledger.BalanceChanged{UserID: "u1", Previous: 10, Current: 4, Timestamp: at})
	if err := a.HandleBalance(ctx, events.Message{Data: balance}); err != nil {
		t.Fatalf("handle balance: %v", err)
	}
	if err := a.HandleBalance(ctx, events.Message{Data: []byte(`{"type":"Other"}`)}); err != nil {
		t.Fatalf("handle bad balance: %v", err)
	}

	stats, err := a.Today(ctx)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if stats.MaxPrice != 33 || stats.TopRevenue != 6 || stats.Losers != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
