package nft

import (
	"math/rand/v2"
	"sync"

	"github.com/complicesconecta/backend/internal/models"
)

// Roller draws the rarity of a mint. Couple mints are never common.
type Roller interface {
	Roll(couple bool) models.Rarity
}

// RollerFunc adapts a function to Roller.
type RollerFunc func(couple bool) models.Rarity

func (f RollerFunc) Roll(couple bool) models.Rarity { return f(couple) }

var tiers = []struct {
	rarity models.Rarity
	weight int
}{
	{models.RarityCommon, 60},
	{models.RarityRare, 25},
	{models.RarityEpic, 10},
	{models.RarityLegendary, 5},
}

// WeightedRoller draws from the tier weights with a seeded source.
type WeightedRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeightedRoller returns a randomly seeded roller.
func NewWeightedRoller() *WeightedRoller {
	return NewSeededRoller(rand.Uint64(), rand.Uint64())
}

// NewSeededRoller returns a deterministic roller.
func NewSeededRoller(seed1, seed2 uint64) *WeightedRoller {
	return &WeightedRoller{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (r *WeightedRoller) Roll(couple bool) models.Rarity {
	total := 0
	for _, tier := range tiers {
		if couple && tier.rarity == models.RarityCommon {
			continue
		}
		total += tier.weight
	}

	r.mu.Lock()
	n := r.rng.IntN(total)
	r.mu.Unlock()

	for _, tier := range tiers {
		if couple && tier.rarity == models.RarityCommon {
			continue
		}
		if n < tier.weight {
			return tier.rarity
		}
		n -= tier.weight
	}
	return models.RarityRare
}
