package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore serializes postings per user with a transaction-scoped advisory
// lock on the user id.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Post(ctx context.Context, userID string, e Entry) (Books, Books, error) {
	var current, previous Books
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return current, previous, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return current, previous, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return current, previous, fmt.Errorf("lock shelf: %w", err)
	}
	previous, err = loadBooks(ctx, tx, userID)
	if err != nil {
		return current, previous, err
	}
	current = previous.Reflect(e)

	if _, err := tx.Exec(ctx, `
		INSERT INTO taskos.ledger_entries (user_id, debit_book, credit_book, amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, string(e.Debit), string(e.Credit), e.Amount, meta, e.Timestamp); err != nil {
		return current, previous, fmt.Errorf("insert entry: %w", err)
	}
	for _, b := range []Book{e.Debit, e.Credit} {
		bucket := current.Get(b)
		if _, err := tx.Exec(ctx, `
			INSERT INTO taskos.ledger_books (user_id, book, increase, decrease)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, book) DO UPDATE SET
				increase = EXCLUDED.increase,
				decrease = EXCLUDED.decrease
		`, userID, string(b), bucket.Increase, bucket.Decrease); err != nil {
			return current, previous, fmt.Errorf("update book %s: %w", b, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return current, previous, err
	}
	return current, previous, nil
}

func (s *PgStore) Books(ctx context.Context, userID string) (Books, error) {
	return loadBooks(ctx, s.db, userID)
}

func (s *PgStore) Entries(ctx context.Context, userID string) ([]Entry, error) {
	return s.queryEntries(ctx, `
		SELECT debit_book, credit_book, amount, metadata, created_at
		FROM taskos.ledger_entries
		WHERE user_id = $1
		ORDER BY id
	`, userID)
}

func (s *PgStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT user_id
		FROM taskos.ledger_books
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PgStore) EntriesSince(ctx context.Context, since time.Time) ([]Entry, error) {
	return s.queryEntries(ctx, `
		SELECT debit_book, credit_book, amount, metadata, created_at
		FROM taskos.ledger_entries
		WHERE created_at >= $1
		ORDER BY id
	`, since)
}

func (s *PgStore) queryEntries(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e             Entry
			debit, credit string
			meta          []byte
		)
		if err := rows.Scan(&debit, &credit, &e.Amount, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Debit, e.Credit = Book(debit), Book(credit)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode entry metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadBooks(ctx context.Context, q querier, userID string) (Books, error) {
	var out Books
	rows, err := q.Query(ctx, `
		SELECT book, increase, decrease
		FROM taskos.ledger_books
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			book string
			b    Bucket
		)
		if err := rows.Scan(&book, &b.Increase, &b.Decrease); err != nil {
			return out, err
		}
		if p := out.bucket(Book(book)); p != nil {
			*p = b
		}
	}
	return out, rows.Err()
}
