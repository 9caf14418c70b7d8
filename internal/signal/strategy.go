// Package signal defines the Strategy interface for signal computation over
// daily candle history and provides a Registry for managing multiple
// strategy implementations, plus the Analyzer that runs them as background
// tasks.
package signal

import (
	"sort"

	"stockpit/internal/domain"
)

// Strategy computes a trading signal for one stock from its candle history.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// MinCandles returns the minimum history length the strategy needs.
	MinCandles() int

	// Evaluate inspects candles (oldest first) and returns a signal, or nil
	// when the history is inconclusive.
	Evaluate(candles []domain.Candle) (*domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
