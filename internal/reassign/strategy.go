package reassign

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"taskos/internal/metrics"
)

const DefaultSeed = uint64(69)

var (
	ErrNoWorkers = errors.New("no workers available")
	ErrStaleDraw = errors.New("draw is stale: generator advanced since it was made")
)

// Strategy picks a random worker from a generator shared by the whole
// process. A pick does not advance the generator; only committing the
// returned Draw does, so a failed reassignment can be retried with the same
// outcome.
type Strategy struct {
	dir Directory

	mu    sync.Mutex
	state rand.PCG
	gen   uint64
}

func NewStrategy(dir Directory, seed uint64) *Strategy {
	return &Strategy{
		dir:   dir,
		state: *rand.NewPCG(seed, 0),
	}
}

type Draw struct {
	Candidate User

	s    *Strategy
	next rand.PCG
	gen  uint64
}

func (s *Strategy) Pick(ctx context.Context) (Draw, error) {
	users, err := s.dir.Users(ctx)
	if err != nil {
		return Draw{}, fmt.Errorf("list workers: %w", err)
	}
	workers := make([]User, 0, len(users))
	for _, u := range users {
		if u.Role == RoleWorker {
			workers = append(workers, u)
		}
	}
	if len(workers) == 0 {
		return Draw{}, ErrNoWorkers
	}

	s.mu.Lock()
	next := s.state
	gen := s.gen
	s.mu.Unlock()

	idx := rand.New(&next).IntN(len(workers))
	return Draw{Candidate: workers[idx], s: s, next: next, gen: gen}, nil
}

// Commit installs the generator state that follows this draw.
func (d Draw) Commit() error {
	if d.s == nil {
		return ErrStaleDraw
	}
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if d.s.gen != d.gen {
		metrics.ReassignDraws.WithLabelValues("stale").Inc()
		return ErrStaleDraw
	}
	d.s.state = d.next
	d.s.gen++
	metrics.ReassignDraws.WithLabelValues("committed").Inc()
	return nil
}
