package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	fieldMaxPrice   = "maxPrice"
	fieldTopRevenue = "topRevenue"

	// maxIntervalDays bounds MaxPrice lookups against Redis.
	maxIntervalDays = 3660
)

var ErrIntervalTooLong = errors.New("interval too long")

var maxScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local v = tonumber(ARGV[2])
if v > cur then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return v
end
return cur
`)

// RedisStore keeps each day in a hash plus a set of losing users.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) dayKey(day int64) string {
	return fmt.Sprintf("%sday:%d", s.prefix, day)
}

func (s *RedisStore) losersKey(day int64) string {
	return fmt.Sprintf("%sday:%d:losers", s.prefix, day)
}

func (s *RedisStore) RecordPrice(ctx context.Context, day, price int64) error {
	return maxScript.Run(ctx, s.rdb, []string{s.dayKey(day)}, fieldMaxPrice, price).Err()
}

func (s *RedisStore) MaxPrice(ctx context.Context, from, to int64) (int64, error) {
	if to < from {
		return 0, nil
	}
	if to-from > maxIntervalDays {
		return 0, fmt.Errorf("%w: %d days", ErrIntervalTooLong, to-from+1)
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, to-from+1)
	for d := from; d <= to; d++ {
		cmds = append(cmds, pipe.HGet(ctx, s.dayKey(d), fieldMaxPrice))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	var out int64
	for _, cmd := range cmds {
		v, err := cmd.Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if v > out {
			out = v
		}
	}
	return out, nil
}

func (s *RedisStore) AddRevenue(ctx context.Context, day, delta int64) error {
	return s.rdb.HIncrBy(ctx, s.dayKey(day), fieldTopRevenue, delta).Err()
}

func (s *RedisStore) AddLoser(ctx context.Context, day int64, userID string) error {
	return s.rdb.SAdd(ctx, s.losersKey(day), userID).Err()
}

func (s *RedisStore) Day(ctx context.Context, day int64) (DailyStats, error) {
	out := DailyStats{Day: day}
	pipe := s.rdb.Pipeline()
	maxCmd := pipe.HGet(ctx, s.dayKey(day), fieldMaxPrice)
	revCmd := pipe.HGet(ctx, s.dayKey(day), fieldTopRevenue)
	losersCmd := pipe.SCard(ctx, s.losersKey(day))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return out, err
	}
	var err error
	if out.MaxPrice, err = int64OrZero(maxCmd); err != nil {
		return out, err
	}
	if out.TopRevenue, err = int64OrZero(revCmd); err != nil {
		return out, err
	}
	out.Losers = losersCmd.Val()
	return out, nil
}

func int64OrZero(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
