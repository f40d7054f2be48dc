package amount

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/google/uuid"
)

const (
	PriceMin  = int64(10)
	PriceMax  = int64(20)
	RewardMin = int64(20)
	RewardMax = int64(40)
)

// For draws one integer in [min, max] from a generator seeded by the 128 bits
// of id. The same id and range always yield the same value.
func For(id uuid.UUID, min, max int64) int64 {
	if max < min {
		min, max = max, min
	}
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	r := rand.New(rand.NewPCG(hi, lo))
	return min + r.Int64N(max-min+1)
}

func Price(id uuid.UUID) int64 {
	return For(id, PriceMin, PriceMax)
}

func Reward(id uuid.UUID) int64 {
	return For(id, RewardMin, RewardMax)
}
