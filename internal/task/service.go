package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskos/internal/amount"
	"taskos/internal/lock"
	"taskos/internal/metrics"

	"github.com/google/uuid"
)

type CreateInput struct {
	Title       string `json:"title" validate:"required"`
	JiraID      string `json:"jira_id" validate:"required"`
	Description string `json:"description"`
}

// Service drives tasks through new, assigned and completed. Every transition
// publishes its event before the task is written; a failed publish leaves
// the task untouched, a failed write after a publish is only logged.
type Service struct {
	store Store
	pub   Publisher
	locks lock.Locker
	log   *slog.Logger
	now   func() time.Time
	newID func() uuid.UUID
}

func NewService(store Store, pub Publisher, locks lock.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Service{
		store: store,
		pub:   pub,
		locks: locks,
		log:   logger,
		now:   time.Now,
		newID: uuid.New,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	t, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.JiraID = strings.TrimSpace(in.JiraID)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if !validTitle(in.Title) {
		return Task{}, fmt.Errorf("%w: title must not contain brackets", ErrInvalidTask)
	}
	if !ValidateJiraID(in.JiraID) {
		return Task{}, fmt.Errorf("%w: jira id must look like ABC-123", ErrInvalidTask)
	}

	now := s.now()
	t := Task{
		ID:          s.newID(),
		Title:       in.Title,
		JiraID:      in.JiraID,
		Description: in.Description,
		State:       StateNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.Price = amount.Price(t.ID)

	ev := CreateEvent{
		TaskID:        t.ID,
		Price:         t.Price,
		Title:         t.Title,
		Description:   t.Description,
		JiraID:        t.JiraID,
		Timestamp:     now,
		SchemaVersion: CreateVersion,
	}
	if err := s.publish(ctx, ev); err != nil {
		return Task{}, err
	}
	s.persist(ctx, t)
	return t, nil
}

func (s *Service) Assign(ctx context.Context, id uuid.UUID, assignee string) (Task, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return Task{}, fmt.Errorf("%w: assignee is required", ErrInvalidTask)
	}
	unlock, err := s.locks.Lock(ctx, lockKey(id))
	if err != nil {
		return Task{}, err
	}
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.State == StateCompleted {
		return Task{}, ErrTaskNotAssignable
	}

	now := s.now()
	ev := AssignEvent{
		TaskID:        t.ID,
		Assignee:      assignee,
		Price:         t.Price,
		Timestamp:     now,
		SchemaVersion: AssignVersion,
	}
	if err := s.publish(ctx, ev); err != nil {
		return Task{}, err
	}
	t.State = StateAssigned
	t.Assignee = assignee
	t.UpdatedAt = now
	s.persist(ctx, t)
	return t, nil
}

func (s *Service) Complete(ctx context.Context, actor string, id uuid.UUID) (Task, error) {
	actor = strings.TrimSpace(actor)
	unlock, err := s.locks.Lock(ctx, lockKey(id))
	if err != nil {
		return Task{}, err
	}
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.State != StateAssigned {
		return Task{}, ErrTaskNotCompletable
	}
	if actor == "" || actor != t.Assignee {
		return Task{}, ErrTaskCompletePermission
	}

	now := s.now()
	reward := amount.Reward(t.ID)
	ev := CompleteEvent{
		TaskID:        t.ID,
		UserID:        actor,
		Reward:        reward,
		Timestamp:     now,
		SchemaVersion: CompleteVersion,
	}
	if err := s.publish(ctx, ev); err != nil {
		return Task{}, err
	}
	t.State = StateCompleted
	t.Reward = reward
	t.UpdatedAt = now
	s.persist(ctx, t)
	return t, nil
}

// ListAssigned returns every task currently in the assigned state.
func (s *Service) ListAssigned(ctx context.Context) ([]Task, error) {
	out, err := s.store.ListAssigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, ev Event) error {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Error("task event publish failed", "task_id", ev.Task(), "type", ev.Type(), "err", err)
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	metrics.TaskTransitions.WithLabelValues(string(ev.Type())).Inc()
	return nil
}

// persist runs detached from the caller's cancellation: the event is already
// out, so the write is attempted even if the request goes away.
func (s *Service) persist(ctx context.Context, t Task) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Set(ctx, t); err != nil {
		metrics.TaskPersistFailures.Inc()
		s.log.Error("task write failed after publish", "task_id", t.ID, "state", t.State, "err", fmt.Errorf("%w: %w", ErrStoreWrite, err))
	}
}

func lockKey(id uuid.UUID) string {
	return "task:" + id.String()
}
