// Package strategy defines the strategy contract, a registry of strategy
// factories, and the adapter that bridges strategies onto the event bus.
package strategy

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// Strategy is a pure function of market data to intended direction.
// Implementations own their indicator state and must clear it in Reset.
// They never track positions or decide whether a trade is warranted; that
// is the risk manager's job.
type Strategy interface {
	Name() string
	// OnBar returns +1 (long), -1 (short) or 0 (no opinion) for the bar.
	OnBar(bar *types.Bar) int
	Reset()
	Parameters() map[string]float64
	SetParameters(params map[string]float64) error
	// ParameterSpace enumerates candidate values per parameter for
	// external optimizers.
	ParameterSpace() map[string][]float64
}

// Factory builds a fresh strategy instance from parameters. Every run gets
// its own instance; nothing is shared between runs.
type Factory func(params map[string]float64) (Strategy, error)

// Registry maps strategy names to factories.
type Registry struct {
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in
// strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}
	r.Register("ma_crossover", func(params map[string]float64) (Strategy, error) {
		s := NewMACrossover()
		if err := s.SetParameters(params); err != nil {
			return nil, err
		}
		return s, nil
	})
	return r
}

// Register adds a factory under a name, replacing any previous one.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
	r.logger.Debug("strategy registered", zap.String("name", name))
}

// Build instantiates a strategy by name.
func (r *Registry) Build(name string, params map[string]float64) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(params)
}

// List returns the registered strategy names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
