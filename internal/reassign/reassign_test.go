package reassign

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"taskos/internal/events"
	"taskos/internal/task"

	"github.com/google/uuid"
)

func workers() *MemoryDirectory {
	return NewMemoryDirectory(
		User{ID: "w1", Role: RoleWorker},
		User{ID: "w2", Role: RoleWorker},
		User{ID: "w3", Role: RoleWorker},
		User{ID: "boss", Role: RoleManager},
		User{ID: "acct", Role: RoleAccountant},
	)
}

func TestPickWithoutCommitRepeats(t *testing.T) {
	s := NewStrategy(workers(), DefaultSeed)
	ctx := context.Background()

	first, err := s.Pick(ctx)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := s.Pick(ctx)
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if again.Candidate != first.Candidate {
			t.Fatalf("uncommitted pick moved from %s to %s", first.Candidate.ID, again.Candidate.ID)
		}
	}
}

func TestCommittedSequenceIsReproducible(t *testing.T) {
	ctx := context.Background()
	run := func() []string {
		s := NewStrategy(workers(), DefaultSeed)
		var out []string
		for i := 0; i < 20; i++ {
			d, err := s.Pick(ctx)
			if err != nil {
				t.Fatalf("pick: %v", err)
			}
			if d.Candidate.Role != RoleWorker {
				t.Fatalf("picked non-worker %+v", d.Candidate)
			}
			out = append(out, d.Candidate.ID)
			if err := d.Commit(); err != nil {
				t.Fatalf("commit: %v", err)
			}
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sequence diverged at %d: %v vs %v", i, a, b)
		}
	}
}

func TestStaleDrawCannotCommit(t *testing.T) {
	s := NewStrategy(workers(), DefaultSeed)
	ctx := context.Background()
	d1, _ := s.Pick(ctx)
	d2, _ := s.Pick(ctx)
	if err := d1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := d2.Commit(); !errors.Is(err, ErrStaleDraw) {
		t.Fatalf("got %v want ErrStaleDraw", err)
	}
}

func TestPickWithoutWorkers(t *testing.T) {
	s := NewStrategy(NewMemoryDirectory(User{ID: "boss", Role: RoleAdmin}), DefaultSeed)
	if _, err := s.Pick(context.Background()); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("got %v want ErrNoWorkers", err)
	}
}

type flakyTasks struct {
	*task.Service
	fail error
}

func (f *flakyTasks) Assign(ctx context.Context, id uuid.UUID, assignee string) (task.Task, error) {
	if f.fail != nil {
		return task.Task{}, f.fail
	}
	return f.Service.Assign(ctx, id, assignee)
}

func TestReassignCommitsOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemoryBus(nil)
	tasks := &flakyTasks{Service: task.NewService(task.NewMemoryStore(), task.NewBusPublisher(bus, "task-events"), nil, nil)}
	strategy := NewStrategy(workers(), DefaultSeed)
	svc := NewService(tasks, strategy, bus, "reassign", nil, nil)

	tk, err := tasks.Create(ctx, task.CreateInput{Title: "Deploy", JiraID: "OPS-3"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := tasks.Assign(ctx, tk.ID, "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	expected, _ := strategy.Pick(ctx)
	tasks.fail = errors.New("broker down")
	if _, err := svc.Reassign(ctx, tk.ID); err == nil {
		t.Fatalf("expected failure")
	}
	if again, _ := strategy.Pick(ctx); again.Candidate != expected.Candidate || strategy.gen != 0 {
		t.Fatalf("failed reassign advanced the generator")
	}

	tasks.fail = nil
	got, err := svc.Reassign(ctx, tk.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.Assignee != expected.Candidate.ID {
		t.Fatalf("assignee=%s want %s", got.Assignee, expected.Candidate.ID)
	}
	if strategy.gen != 1 {
		t.Fatalf("successful reassign should commit the draw")
	}
}

func TestReassignAllPublishesPerAssignedTask(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemoryBus(nil)
	tasks := task.NewService(task.NewMemoryStore(), task.NewBusPublisher(bus, "task-events"), nil, nil)
	svc := NewService(tasks, NewStrategy(workers(), DefaultSeed), bus, "reassign", nil, nil)

	var assigned []uuid.UUID
	for i := 0; i < 3; i++ {
		tk, err := tasks.Create(ctx, task.CreateInput{Title: "Job", JiraID: "OPS-1"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if i < 2 {
			if _, err := tasks.Assign(ctx, tk.ID, "w1"); err != nil {
				t.Fatalf("assign: %v", err)
			}
			assigned = append(assigned, tk.ID)
		}
	}

	n, err := svc.ReassignAll(ctx)
	if err != nil {
		t.Fatalf("reassign all: %v", err)
	}
	if n != 2 {
		t.Fatalf("sent %d want 2", n)
	}
	msgs := bus.Messages("reassign")
	if len(msgs) != 2 {
		t.Fatalf("got %d requests want 2", len(msgs))
	}
	seen := map[uuid.UUID]bool{}
	for _, m := range msgs {
		var req Requested
		if err := json.Unmarshal(m.Data, &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		seen[req.TaskID] = true
	}
	for _, id := range assigned {
		if !seen[id] {
			t.Fatalf("no request for %s", id)
		}
	}

	for _, m := range msgs {
		if err := svc.Handle(ctx, m); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	for _, id := range assigned {
		tk, _ := tasks.Get(ctx, id)
		if tk.State != task.StateAssigned {
			t.Fatalf("task %s state %s", id, tk.State)
		}
	}
}

func TestHandleSkipsCompletedTask(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemoryBus(nil)
	tasks := task.NewService(task.NewMemoryStore(), task.NewBusPublisher(bus, "task-events"), nil, nil)
	strategy := NewStrategy(workers(), DefaultSeed)
	svc := NewService(tasks, strategy, bus, "reassign", nil, nil)

	tk, _ := tasks.Create(ctx, task.CreateInput{Title: "Job", JiraID: "OPS-1"})
	_, _ = tasks.Assign(ctx, tk.ID, "w1")
	_, _ = tasks.Complete(ctx, "w1", tk.ID)

	data, _ := json.Marshal(Requested{TaskID: tk.ID, Timestamp: 1})
	if err := svc.Handle(ctx, events.Message{Topic: "reassign", Data: data}); err != nil {
		t.Fatalf("handle should drop validation failures: %v", err)
	}
	if strategy.gen != 0 {
		t.Fatalf("draw for a completed task must not be committed")
	}
}

func TestUserReactor(t *testing.T) {
	dir := NewMemoryDirectory()
	r := NewUserReactor(dir, nil)
	ctx := context.Background()

	msgs := []string{
		`{"id":"w9","email":"w9@example.com","role":"worker"}`,
		`{"id":"m1","email":"m1@example.com","role":"MANAGER"}`,
		`{"id":"x","role":"janitor"}`,
		`not json`,
	}
	for _, raw := range msgs {
		if err := r.Handle(ctx, events.Message{Topic: "user", Data: []byte(raw)}); err != nil {
			t.Fatalf("handle %q: %v", raw, err)
		}
	}
	users, _ := dir.Users(ctx)
	if len(users) != 2 || users[0].ID != "m1" || users[0].Role != RoleManager || users[1].ID != "w9" {
		t.Fatalf("unexpected directory %+v", users)
	}
}
