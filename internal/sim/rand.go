// Package sim holds the randomness and persona pools shared by the
// simulated transports.
package sim

import (
	"math/rand/v2"
	"sync"
)

// Rand is the source of randomness for simulators. Tests inject a scripted
// implementation to make emission deterministic.
type Rand interface {
	// Float64 returns a number in [0, 1).
	Float64() float64
	// IntN returns a number in [0, n). n must be positive.
	IntN(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Script is a Rand that replays fixed values, cycling when exhausted.
// An empty script returns 0 for every call.
type Script struct {
	mu     sync.Mutex
	Floats []float64
	Ints   []int
	fi, ii int
}

func (s *Script) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Floats) == 0 {
		return 0
	}
	v := s.Floats[s.fi%len(s.Floats)]
	s.fi++
	return v
}

func (s *Script) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Ints) == 0 {
		return 0
	}
	v := s.Ints[s.ii%len(s.Ints)]
	s.ii++
	return v % n
}

// Pick returns a random element of items. items must be non-empty.
func Pick[T any](r Rand, items []T) T {
	return items[r.IntN(len(items))]
}

// Chance reports true with probability p.
func Chance(r Rand, p float64) bool {
	return r.Float64() < p
}
