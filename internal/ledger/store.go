package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store keeps one shelf per user. Post must serialize writers of the same
// user and return the books before and after the entry.
type Store interface {
	Post(ctx context.Context, userID string, e Entry) (current, previous Books, err error)
	Books(ctx context.Context, userID string) (Books, error)
	Entries(ctx context.Context, userID string) ([]Entry, error)
	Users(ctx context.Context) ([]string, error)
	EntriesSince(ctx context.Context, since time.Time) ([]Entry, error)
}

type shelf struct {
	mu      sync.Mutex
	entries []Entry
	books   Books
}

type MemoryStore struct {
	mu      sync.RWMutex
	shelves map[string]*shelf
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shelves: make(map[string]*shelf)}
}

func (s *MemoryStore) shelf(userID string) *shelf {
	s.mu.RLock()
	sh, ok := s.shelves[userID]
	s.mu.RUnlock()
	if ok {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shelves[userID]; !ok {
		sh = &shelf{}
		s.shelves[userID] = sh
	}
	return sh
}

func (s *MemoryStore) Post(_ context.Context, userID string, e Entry) (Books, Books, error) {
	sh := s.shelf(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	previous := sh.books
	sh.entries = append(sh.entries, e)
	sh.books = previous.Reflect(e)
	return sh.books, previous, nil
}

func (s *MemoryStore) Books(_ context.Context, userID string) (Books, error) {
	sh := s.shelf(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.books, nil
}

func (s *MemoryStore) Entries(_ context.Context, userID string) ([]Entry, error) {
	sh := s.shelf(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return append([]Entry(nil), sh.entries...), nil
}

func (s *MemoryStore) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.shelves))
	for id := range s.shelves {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) EntriesSince(ctx context.Context, since time.Time) ([]Entry, error) {
	users, _ := s.Users(ctx)
	out := make([]Entry, 0)
	for _, id := range users {
		sh := s.shelf(id)
		sh.mu.Lock()
		for _, e := range sh.entries {
			if !e.Timestamp.Before(since) {
				out = append(out, e)
			}
		}
		sh.mu.Unlock()
	}
	return out, nil
}
