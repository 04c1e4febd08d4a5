// Package randx provides the injectable randomness source used by the feed
// and the simulated broker, so tests can seed every probabilistic path.
package randx

import (
	"math/rand"
	"sync"
)

// Source is the subset of math/rand the simulation needs.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// NewLocked returns a seeded Source safe for concurrent use.
func NewLocked(seed int64) Source {
	return &locked{r: rand.New(rand.NewSource(seed))}
}

type locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *locked) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
