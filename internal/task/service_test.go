package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskos/internal/amount"
	"taskos/internal/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	// seen captures whether the task was already written when the event
	// went out.
	store *MemoryStore
	seen  []bool
}

func (p *recordingPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.store != nil {
		t, ok, _ := p.store.Get(ctx, ev.Task())
		p.seen = append(p.seen, ok && t.UpdatedAt.Equal(ev.Time()))
	}
	p.events = append(p.events, ev)
	return nil
}

type failingStore struct {
	*MemoryStore
	setErr error
	getErr error
}

func (s *failingStore) Get(ctx context.Context, id uuid.UUID) (Task, bool, error) {
	if s.getErr != nil {
		return Task{}, false, s.getErr
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s *failingStore) Set(ctx context.Context, t Task) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.Set(ctx, t)
}

func newTestService(store Store, pub Publisher) *Service {
	svc := NewService(store, pub, nil, nil)
	tick := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return svc
}

func validInput() CreateInput {
	return CreateInput{Title: "Fix login", JiraID: "OPS-12", Description: "users bounce"}
}

func TestCreatePublishesThenPersists(t *testing.T) {
	store := NewMemoryStore()
	pub := &recordingPublisher{store: store}
	svc := newTestService(store, pub)
	ctx := context.Background()

	tk, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tk.State != StateNew {
		t.Fatalf("state=%s want new", tk.State)
	}
	if tk.Price != amount.Price(tk.ID) {
		t.Fatalf("price=%d want %d", tk.Price, amount.Price(tk.ID))
	}
	if tk.Price < amount.PriceMin || tk.Price > amount.PriceMax {
		t.Fatalf("price %d out of range", tk.Price)
	}
	if len(pub.events) != 1 {
		t.Fatalf("got %d events want 1", len(pub.events))
	}
	ev, ok := pub.events[0].(CreateEvent)
	if !ok {
		t.Fatalf("got %T want CreateEvent", pub.events[0])
	}
	if ev.SchemaVersion != CreateVersion || ev.JiraID != "OPS-12" || ev.Price != tk.Price {
		t.Fatalf("unexpected event %+v", ev)
	}
	if pub.seen[0] {
		t.Fatalf("task was written before its event was published")
	}
	if _, ok, _ := store.Get(ctx, tk.ID); !ok {
		t.Fatalf("task not persisted")
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "missing title", in: CreateInput{JiraID: "OPS-1"}},
		{name: "bracket title", in: CreateInput{Title: "[OPS-1] fix", JiraID: "OPS-1"}},
		{name: "missing jira", in: CreateInput{Title: "fix"}},
		{name: "lowercase jira", in: CreateInput{Title: "fix", JiraID: "ops-1"}},
		{name: "jira without number", in: CreateInput{Title: "fix", JiraID: "OPS-"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			svc := newTestService(NewMemoryStore(), pub)
			_, err := svc.Create(context.Background(), tc.in)
			if !errors.Is(err, ErrInvalidTask) {
				t.Fatalf("got %v want ErrInvalidTask", err)
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation classification")
			}
			if len(pub.events) != 0 {
				t.Fatalf("invalid input must not publish")
			}
		})
	}
}

func TestLifecycleLegality(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	tk, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Complete(ctx, "alice", tk.ID); !errors.Is(err, ErrTaskNotCompletable) {
		t.Fatalf("complete new task: got %v", err)
	}

	assigned, err := svc.Assign(ctx, tk.ID, "alice")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.State != StateAssigned || assigned.Assignee != "alice" {
		t.Fatalf("unexpected task %+v", assigned)
	}
	ev := pub.events[len(pub.events)-1].(AssignEvent)
	if ev.Price != tk.Price || ev.Assignee != "alice" {
		t.Fatalf("assign event %+v should carry price %d", ev, tk.Price)
	}

	if _, err := svc.Assign(ctx, tk.ID, "bob"); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if _, err := svc.Complete(ctx, "alice", tk.ID); !errors.Is(err, ErrTaskCompletePermission) {
		t.Fatalf("complete by non-assignee: got %v", err)
	}

	done, err := svc.Complete(ctx, "bob", tk.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State != StateCompleted || done.Reward != amount.Reward(tk.ID) {
		t.Fatalf("unexpected completed task %+v", done)
	}
	cev := pub.events[len(pub.events)-1].(CompleteEvent)
	if cev.UserID != "bob" || cev.Reward != done.Reward {
		t.Fatalf("unexpected complete event %+v", cev)
	}

	before := len(pub.events)
	if _, err := svc.Assign(ctx, tk.ID, "carol"); !errors.Is(err, ErrTaskNotAssignable) {
		t.Fatalf("assign completed: got %v", err)
	}
	if _, err := svc.Complete(ctx, "bob", tk.ID); !errors.Is(err, ErrTaskNotCompletable) {
		t.Fatalf("complete completed: got %v", err)
	}
	if len(pub.events) != before {
		t.Fatalf("rejected transitions must not publish")
	}

	if _, err := svc.Assign(ctx, uuid.New(), "alice"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("assign missing: got %v", err)
	}
	if _, err := svc.Complete(ctx, "alice", uuid.New()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("complete missing: got %v", err)
	}
}

func TestPublishFailureLeavesTaskUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	tk, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("broker down")
	pub.err = boom
	_, err = svc.Assign(ctx, tk.ID, "alice")
	if !errors.Is(err, ErrPublish) || !errors.Is(err, boom) {
		t.Fatalf("got %v want ErrPublish wrapping cause", err)
	}
	if IsValidation(err) {
		t.Fatalf("publish failure must not be a validation error")
	}
	got, _, _ := store.Get(ctx, tk.ID)
	if got.State != StateNew || got.Assignee != "" {
		t.Fatalf("task changed after failed publish: %+v", got)
	}

	if _, err := svc.Create(ctx, validInput()); !errors.Is(err, ErrPublish) {
		t.Fatalf("create: got %v want ErrPublish", err)
	}
}

func TestPersistFailureAfterPublishIsTolerated(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore()}
	pub := &recordingPublisher{}
	svc := newTestService(store, pub)

	tk, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	before := testutil.ToFloat64(metrics.TaskPersistFailures)
	store.setErr = errors.New("disk full")
	got, err := svc.Assign(ctx, tk.ID, "alice")
	if err != nil {
		t.Fatalf("assign should succeed despite write failure: %v", err)
	}
	if got.State != StateAssigned {
		t.Fatalf("returned state %s want assigned", got.State)
	}
	if len(pub.events) != 2 {
		t.Fatalf("assign event should have been published")
	}
	if after := testutil.ToFloat64(metrics.TaskPersistFailures); after != before+1 {
		t.Fatalf("persist failures %v want %v", after, before+1)
	}
	stored, _, _ := store.MemoryStore.Get(ctx, tk.ID)
	if stored.State != StateNew {
		t.Fatalf("stored state %s should be stale", stored.State)
	}
}

func TestStoreReadFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), getErr: errors.New("timeout")}
	svc := newTestService(store, &recordingPublisher{})
	_, err := svc.Assign(context.Background(), uuid.New(), "alice")
	if !errors.Is(err, ErrStoreRead) {
		t.Fatalf("got %v want ErrStoreRead", err)
	}
}

func TestPersistSurvivesCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, &recordingPublisher{})
	tk, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.pub = PublisherFunc(func(context.Context, Event) error {
		cancel()
		return nil
	})
	if _, err := svc.Assign(ctx, tk.ID, "alice"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, _, _ := store.Get(context.Background(), tk.ID)
	if got.State != StateAssigned {
		t.Fatalf("write should run even after cancellation, state=%s", got.State)
	}
}

func TestListAssigned(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore(), &recordingPublisher{})
	a, _ := svc.Create(ctx, validInput())
	b, _ := svc.Create(ctx, validInput())
	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Assign(ctx, a.ID, "alice"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.Assign(ctx, b.ID, "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.Complete(ctx, "bob", b.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := svc.ListAssigned(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("got %+v want only task %s", got, a.ID)
	}
}

func countEvents[T Event](pub *recordingPublisher) int {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	n := 0
	for _, ev := range pub.events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func TestConcurrentCompleteSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	svc := NewService(store, pub, nil, nil)

	tk, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Assign(ctx, tk.ID, "alice"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	const callers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Complete(ctx, "alice", tk.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			others = append(others, err)
		}()
	}
	close(start)
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("successful completes=%d want 1", succeeded)
	}
	for _, err := range others {
		if !errors.Is(err, ErrTaskNotCompletable) {
			t.Fatalf("losing complete got %v want ErrTaskNotCompletable", err)
		}
	}
	if n := countEvents[CompleteEvent](pub); n != 1 {
		t.Fatalf("complete events=%d want 1", n)
	}
	got, _, _ := store.Get(ctx, tk.ID)
	if got.State != StateCompleted {
		t.Fatalf("state=%s want completed", got.State)
	}
}

func TestAssignRacingCompleteIsSerialized(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 25; round++ {
		store := NewMemoryStore()
		pub := &recordingPublisher{}
		svc := NewService(store, pub, nil, nil)

		tk, err := svc.Create(ctx, validInput())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := svc.Assign(ctx, tk.ID, "alice"); err != nil {
			t.Fatalf("assign: %v", err)
		}

		var (
			wg                     sync.WaitGroup
			assignErr, completeErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, assignErr = svc.Assign(ctx, tk.ID, "bob")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, completeErr = svc.Complete(ctx, "alice", tk.ID)
		}()
		close(start)
		wg.Wait()

		got, _, _ := store.Get(ctx, tk.ID)
		switch {
		case completeErr == nil:
			// Complete ran first; the task can no longer be assigned.
			if !errors.Is(assignErr, ErrTaskNotAssignable) {
				t.Fatalf("round %d: assign after complete got %v", round, assignErr)
			}
			if got.State != StateCompleted || got.Assignee != "alice" {
				t.Fatalf("round %d: unexpected task %+v", round, got)
			}
			if n := countEvents[CompleteEvent](pub); n != 1 {
				t.Fatalf("round %d: complete events=%d want 1", round, n)
			}
			if n := countEvents[AssignEvent](pub); n != 1 {
				t.Fatalf("round %d: assign events=%d want 1", round, n)
			}
		case assignErr == nil:
			// Assign ran first; alice is no longer the assignee.
			if !errors.Is(completeErr, ErrTaskCompletePermission) {
				t.Fatalf("round %d: complete after reassign got %v", round, completeErr)
			}
			if got.State != StateAssigned || got.Assignee != "bob" {
				t.Fatalf("round %d: unexpected task %+v", round, got)
			}
			if n := countEvents[CompleteEvent](pub); n != 0 {
				t.Fatalf("round %d: complete events=%d want 0", round, n)
			}
			if n := countEvents[AssignEvent](pub); n != 2 {
				t.Fatalf("round %d: assign events=%d want 2", round, n)
			}
		default:
			t.Fatalf("round %d: both failed: assign=%v complete=%v", round, assignErr, completeErr)
		}
	}
}
