package router

import (
	"math/rand/v2"
	"sync"
)

// RandSource supplies the randomness for shadow sampling.
type RandSource interface {
	// Float64 returns a uniform value in [0,1).
	Float64() float64
	// IntN returns a uniform value in [0,n).
	IntN(n int) int
}

type systemRand struct{}

func (systemRand) Float64() float64 { return rand.Float64() }
func (systemRand) IntN(n int) int   { return rand.IntN(n) }

// SystemRand returns a RandSource backed by the runtime-seeded global
// generator.
func SystemRand() RandSource { return systemRand{} }

// SeededRand is a reproducible RandSource safe for concurrent use.
type SeededRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRand returns a SeededRand using a PCG stream seeded with seed.
func NewSeededRand(seed uint64) *SeededRand {
	return &SeededRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

func (s *SeededRand) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}
