package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// Registry maps strategy type tags to constructors. It is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in variant
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ma_cross", NewMACross)
	r.Register("rsi", NewRSI)
	r.Register("bollinger", NewBollinger)
	r.Register("macd", NewMACD)
	r.Register("scripted", NewScripted)
	return r
}

// Register adds a constructor under the given type tag, replacing any
// previous registration.
func (r *Registry) Register(tag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[tag] = ctor
}

// New builds an evaluator for the given type tag. It returns
// domain.ErrUnsupportedStrategy for unknown tags.
func (r *Registry) New(tag string, ps domain.Parameters) (Evaluator, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy type %q: %w", tag, domain.ErrUnsupportedStrategy)
	}
	return ctor(ps)
}

// Tags returns the registered type tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.constructors))
	for tag := range r.constructors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
