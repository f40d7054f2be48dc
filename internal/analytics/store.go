package analytics

import (
	"context"
	"sync"
)

type DailyStats struct {
	Day        int64 `json:"day"`
	MaxPrice   int64 `json:"max_price"`
	TopRevenue int64 `json:"top_revenue"`
	Losers     int64 `json:"losers"`
}

// Store keeps per-day buckets. RecordPrice keeps the larger of the stored
// and given price.
type Store interface {
	RecordPrice(ctx context.Context, day, price int64) error
	MaxPrice(ctx context.Context, from, to int64) (int64, error)
	AddRevenue(ctx context.Context, day, delta int64) error
	AddLoser(ctx context.Context, day int64, userID string) error
	Day(ctx context.Context, day int64) (DailyStats, error)
}

type bucket struct {
	maxPrice   int64
	topRevenue int64
	losers     map[string]struct{}
}

type MemoryStore struct {
	mu   sync.Mutex
	days map[int64]*bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[int64]*bucket)}
}

func (s *MemoryStore) day(d int64) *bucket {
	b, ok := s.days[d]
	if !ok {
		b = &bucket{losers: make(map[string]struct{})}
		s.days[d] = b
	}
	return b
}

func (s *MemoryStore) RecordPrice(_ context.Context, day, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.day(day)
	if price > b.maxPrice {
		b.maxPrice = price
	}
	return nil
}

func (s *MemoryStore) MaxPrice(_ context.Context, from, to int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out int64
	for d, b := range s.days {
		if d >= from && d <= to && b.maxPrice > out {
			out = b.maxPrice
		}
	}
	return out, nil
}

func (s *MemoryStore) AddRevenue(_ context.Context, day, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.day(day).topRevenue += delta
	return nil
}

func (s *MemoryStore) AddLoser(_ context.Context, day int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.day(day).losers[userID] = struct{}{}
	return nil
}

func (s *MemoryStore) Day(_ context.Context, day int64) (DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.days[day]
	if !ok {
		return DailyStats{Day: day}, nil
	}
	return DailyStats{
		Day:        day,
		MaxPrice:   b.maxPrice,
		TopRevenue: b.topRevenue,
		Losers:     int64(len(b.losers)),
	}, nil
}
