package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"taskos/internal/config"
	"taskos/internal/events"
	"taskos/internal/reassign"
	"taskos/internal/task"
)

func testConfig() config.Config {
	return config.Config{
		Topics: config.Topics{
			Tasks:      "task-events",
			Accounting: "accounting",
			Reassign:   "reassign",
			Users:      "user",
		},
		Location:     time.UTC,
		PayoutEvery:  time.Hour,
		ReassignSeed: 69,
		RunReactors:  true,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInMemoryPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	go a.RunConsumers(ctx)

	for _, u := range []reassign.User{
		{ID: "w1", Email: "w1@example.com", Role: reassign.RoleWorker},
		{ID: "w2", Email: "w2@example.com", Role: reassign.RoleWorker},
	} {
		data, _ := json.Marshal(u)
		if err := a.Bus.Publish(ctx, events.Message{Topic: "user", Key: u.ID, Data: data}); err != nil {
			t.Fatalf("publish user: %v", err)
		}
	}
	eventually(t, "directory to fill", func() bool {
		users, _ := a.Directory.Users(ctx)
		return len(users) == 2
	})

	tk, err := a.Tasks.Create(ctx, task.CreateInput{Title: "Renew cert", JiraID: "OPS-44"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := a.Tasks.Assign(ctx, tk.ID, "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	done, err := a.Tasks.Complete(ctx, "w1", tk.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := done.Reward - tk.Price
	eventually(t, "ledger to settle", func() bool {
		total, _ := a.Ledger.TotalStonksForDate(ctx, time.Now())
		return total == want
	})
	eventually(t, "analytics to see the completion", func() bool {
		stats, _ := a.Analytics.Today(ctx)
		return stats.MaxPrice == done.Reward && stats.Losers == 1
	})

	summary, err := a.Payouts.Run(ctx)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if want > 0 && summary.Total != want {
		t.Fatalf("paid %d want %d", summary.Total, want)
	}
}

func TestReassignThroughBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if err := a.Directory.Upsert(ctx, reassign.User{ID: "w1", Role: reassign.RoleWorker}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	go a.RunConsumers(ctx)

	tk, _ := a.Tasks.Create(ctx, task.CreateInput{Title: "Patch", JiraID: "SEC-2"})
	if _, err := a.Tasks.Assign(ctx, tk.ID, "someone-else"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	n, err := a.Reassign.ReassignAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reassign all: n=%d err=%v", n, err)
	}
	eventually(t, "task to move to w1", func() bool {
		got, _ := a.Tasks.Get(ctx, tk.ID)
		return got.Assignee == "w1"
	})
}
