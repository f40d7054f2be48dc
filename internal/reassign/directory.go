package reassign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"taskos/internal/events"
	"taskos/internal/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Role string

const (
	RoleWorker     Role = "worker"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAccountant Role = "accountant"
)

type User struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Role  Role   `json:"role" validate:"required,oneof=worker admin manager accountant"`
}

var validate = validator.New()

func (u User) Validate() error {
	return validate.Struct(u)
}

// Directory lists known users ordered by id, so draws over it are
// reproducible.
type Directory interface {
	Users(ctx context.Context) ([]User, error)
	Upsert(ctx context.Context, u User) error
}

type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *MemoryDirectory) Users(context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) Upsert(_ context.Context, u User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return nil
}

type PgDirectory struct {
	db *pgxpool.Pool
}

func NewPgDirectory(db *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{db: db}
}

func (d *PgDirectory) Users(ctx context.Context) ([]User, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, email, role
		FROM taskos.users
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]User, 0)
	for rows.Next() {
		var (
			u    User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Email, &role); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *PgDirectory) Upsert(ctx context.Context, u User) error {
	_, err := d.db.Exec(ctx, `
		INSERT INTO taskos.users (id, email, role, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			updated_at = now()
	`, u.ID, u.Email, string(u.Role))
	return err
}

// UserReactor keeps a Directory in sync with the users topic.
type UserReactor struct {
	dir Directory
	log *slog.Logger
}

func NewUserReactor(dir Directory, logger *slog.Logger) *UserReactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserReactor{dir: dir, log: logger}
}

func (r *UserReactor) Handle(ctx context.Context, msg events.Message) (err error) {
	defer func() { metrics.Handled("users", err) }()

	var u User
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		r.log.Warn("skipping undecodable user", "key", msg.Key, "err", err)
		return nil
	}
	u.Role = Role(strings.ToLower(string(u.Role)))
	if err := u.Validate(); err != nil {
		r.log.Warn("skipping invalid user", "user_id", u.ID, "err", err)
		return nil
	}
	if err := r.dir.Upsert(ctx, u); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}
