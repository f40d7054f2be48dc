package reassign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskos/internal/events"
	"taskos/internal/lock"
	"taskos/internal/metrics"
	"taskos/internal/task"

	"github.com/google/uuid"
)

const lockKey = "reassign"

type Tasks interface {
	ListAssigned(ctx context.Context) ([]task.Task, error)
	Assign(ctx context.Context, id uuid.UUID, assignee string) (task.Task, error)
}

// Requested asks a consumer to move one task to a freshly drawn worker.
type Requested struct {
	TaskID    uuid.UUID `json:"taskId"`
	Timestamp int64     `json:"timestamp"`
}

type Service struct {
	tasks    Tasks
	strategy *Strategy
	pub      events.Publisher
	topic    string
	locks    lock.Locker
	log      *slog.Logger
	now      func() time.Time
}

func NewService(tasks Tasks, strategy *Strategy, pub events.Publisher, topic string, locks lock.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Service{
		tasks:    tasks,
		strategy: strategy,
		pub:      pub,
		topic:    topic,
		locks:    locks,
		log:      logger,
		now:      time.Now,
	}
}

// ReassignAll publishes one reassignment request per assigned task. Nothing
// is reassigned until the requests are consumed.
func (s *Service) ReassignAll(ctx context.Context) (int, error) {
	assigned, err := s.tasks.ListAssigned(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, t := range assigned {
		data, err := json.Marshal(Requested{TaskID: t.ID, Timestamp: s.now().UnixMilli()})
		if err != nil {
			return sent, err
		}
		if err := s.pub.Publish(ctx, events.Message{Topic: s.topic, Key: t.ID.String(), Data: data}); err != nil {
			return sent, fmt.Errorf("publish reassign %s: %w", t.ID, err)
		}
		sent++
	}
	s.log.Info("reassignment requested", "tasks", sent)
	return sent, nil
}

// Reassign draws a worker and assigns the task to them. The generator only
// advances when the assignment succeeds.
func (s *Service) Reassign(ctx context.Context, id uuid.UUID) (task.Task, error) {
	unlock, err := s.locks.Lock(ctx, lockKey)
	if err != nil {
		return task.Task{}, err
	}
	defer unlock()

	draw, err := s.strategy.Pick(ctx)
	if err != nil {
		metrics.ReassignDraws.WithLabelValues("no_candidate").Inc()
		return task.Task{}, err
	}
	t, err := s.tasks.Assign(ctx, id, draw.Candidate.ID)
	if err != nil {
		metrics.ReassignDraws.WithLabelValues("discarded").Inc()
		return task.Task{}, err
	}
	if err := draw.Commit(); err != nil {
		s.log.Warn("reassign draw not committed", "task_id", id, "err", err)
	}
	return t, nil
}

func (s *Service) Handle(ctx context.Context, msg events.Message) (err error) {
	defer func() { metrics.Handled("reassign", err) }()

	var req Requested
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.TaskID == uuid.Nil {
		s.log.Warn("skipping invalid reassign request", "key", msg.Key, "err", err)
		return nil
	}
	t, err := s.Reassign(ctx, req.TaskID)
	if err != nil {
		if task.IsValidation(err) || errors.Is(err, ErrNoWorkers) {
			s.log.Warn("reassign skipped", "task_id", req.TaskID, "err", err)
			return nil
		}
		return err
	}
	s.log.Info("task reassigned", "task_id", t.ID, "assignee", t.Assignee)
	return nil
}
