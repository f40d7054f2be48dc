package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const taskColumns = `id, title, jira_id, description, price, reward, state, assignee, created_at, updated_at`

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (Task, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM taskos.tasks
		WHERE id = $1
	`, id)
	return lookupTask(row)
}

// lookupTask maps a missing row to (Task{}, false, nil).
func lookupTask(row pgx.Row) (Task, bool, error) {
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

func (s *PgStore) Set(ctx context.Context, t Task) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO taskos.tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			jira_id = EXCLUDED.jira_id,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			reward = EXCLUDED.reward,
			state = EXCLUDED.state,
			assignee = EXCLUDED.assignee,
			updated_at = EXCLUDED.updated_at
	`, t.ID, t.Title, t.JiraID, t.Description, t.Price, t.Reward, string(t.State), t.Assignee, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *PgStore) ListAssigned(ctx context.Context) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM taskos.tasks
		WHERE state = 'assigned'
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t     Task
		state string
	)
	err := row.Scan(&t.ID, &t.Title, &t.JiraID, &t.Description, &t.Price, &t.Reward, &state, &t.Assignee, &t.CreatedAt, &t.UpdatedAt)
	t.State = State(state)
	return t, err
}
