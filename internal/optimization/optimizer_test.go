package optimization_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/data"
	"github.com/admf-trader/backtest-engine/internal/optimization"
	"github.com/admf-trader/backtest-engine/internal/strategy"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

var start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func waveSeries(t *testing.T, n int) *data.Series {
	t.Helper()
	bars := make([]*types.Bar, n)
	for i := range bars {
		price := decimal.NewFromInt(90)
		if (i/11)%2 == 1 {
			price = decimal.NewFromInt(110)
		}
		bars[i] = &types.Bar{
			Symbol:    "MINI",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price.Add(decimal.NewFromInt(1)),
			Low: price.Sub(decimal.NewFromInt(1)), Close: price,
			Volume: decimal.NewFromInt(100000),
		}
	}
	series, err := data.NewSeries(map[string][]*types.Bar{"MINI": bars})
	if err != nil {
		t.Fatal(err)
	}
	return series
}

func sweepConfig() types.BacktestConfig {
	return types.BacktestConfig{
		RunID:          "sweep_test",
		Symbols:        []string{"MINI"},
		InitialCapital: decimal.NewFromInt(100000),
		Strategy: types.StrategyConfig{
			Name:       "ma_crossover",
			Parameters: map[string]float64{"fast_window": 5, "slow_window": 15},
		},
		Risk: types.RiskConfig{
			Sizing: types.SizingConfig{Method: types.SizingFixed, Quantity: decimal.NewFromInt(10)},
		},
	}
}

// flat never signals, so every trial produces a zero-trade run. A 2x2
// parameter space keeps the sweep size easy to assert.
type flat struct{ params map[string]float64 }

func (f *flat) Name() string                   { return "flat" }
func (f *flat) OnBar(*types.Bar) int           { return 0 }
func (f *flat) Reset()                         {}
func (f *flat) Parameters() map[string]float64 { return f.params }
func (f *flat) SetParameters(p map[string]float64) error {
	f.params = p
	return nil
}
func (f *flat) ParameterSpace() map[string][]float64 {
	return map[string][]float64{"a": {1, 2}, "b": {10, 20}}
}

func TestSweepCoversWholeGrid(t *testing.T) {
	registry := strategy.NewRegistry(zap.NewNop())
	registry.Register("flat", func(params map[string]float64) (strategy.Strategy, error) {
		return &flat{params: params}, nil
	})

	cfg := sweepConfig()
	cfg.Strategy.Name = "flat"

	opt := optimization.New(zap.NewNop(), registry, optimization.Config{MaxParallel: 2})
	result, err := opt.Run(context.Background(), cfg, waveSeries(t, 40))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Trials) != 4 {
		t.Fatalf("trials = %d, want 4 (2x2 grid)", len(result.Trials))
	}
	seen := make(map[string]bool)
	for _, trial := range result.Trials {
		if trial.Err != nil {
			t.Errorf("trial %v failed: %v", trial.Parameters, trial.Err)
			continue
		}
		key := trial.Result.RunID
		if seen[key] {
			t.Errorf("duplicate trial run id %s", key)
		}
		seen[key] = true
		if trial.Result.BarsProcessed != 40 {
			t.Errorf("trial processed %d bars, want 40", trial.Result.BarsProcessed)
		}
	}
	if result.Best == nil {
		t.Fatal("sweep produced no best trial")
	}
}

func TestSweepRanksTrialsByObjective(t *testing.T) {
	registry := strategy.NewRegistry(zap.NewNop())
	opt := optimization.New(zap.NewNop(), registry, optimization.Config{
		Objective:   optimization.ObjectiveTotalReturn,
		MaxParallel: 4,
	})

	result, err := opt.Run(context.Background(), sweepConfig(), waveSeries(t, 100))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// ma_crossover declares 5 fast x 4 slow candidates.
	if len(result.Trials) != 20 {
		t.Fatalf("trials = %d, want 20", len(result.Trials))
	}
	for i := 1; i < len(result.Trials); i++ {
		prev, cur := result.Trials[i-1], result.Trials[i]
		if prev.Err != nil || cur.Err != nil {
			continue
		}
		if cur.Score.GreaterThan(prev.Score) {
			t.Errorf("trials out of order at %d: %s before %s", i, prev.Score, cur.Score)
		}
	}
	if result.Best == nil || !result.Best.Score.Equal(result.Trials[0].Score) {
		t.Error("best trial should be the first ranked trial")
	}
}

func TestSweepRejectsUnknownStrategy(t *testing.T) {
	registry := strategy.NewRegistry(zap.NewNop())
	opt := optimization.New(zap.NewNop(), registry, optimization.Config{})

	cfg := sweepConfig()
	cfg.Strategy.Name = "nope"
	if _, err := opt.Run(context.Background(), cfg, waveSeries(t, 10)); err == nil {
		t.Error("unknown strategy should fail the sweep")
	}
}
