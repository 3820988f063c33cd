// Package optimization runs parameter sweeps over a strategy's declared
// parameter space. Each trial is a full, isolated backtest; trials share
// nothing but the immutable bar series.
package optimization

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/backtester"
	"github.com/admf-trader/backtest-engine/internal/data"
	"github.com/admf-trader/backtest-engine/internal/strategy"
	"github.com/admf-trader/backtest-engine/internal/workers"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

// Objective names the metric a sweep maximizes.
type Objective string

const (
	ObjectiveSharpe      Objective = "sharpe_ratio"
	ObjectiveTotalReturn Objective = "total_return"
	ObjectiveProfitFact  Objective = "profit_factor"
)

// Config configures a sweep.
type Config struct {
	Objective   Objective
	MaxParallel int
}

// Trial is one parameter combination and its outcome.
type Trial struct {
	Parameters map[string]float64    `json:"parameters"`
	Score      decimal.Decimal       `json:"score"`
	Result     *types.BacktestResult `json:"result,omitempty"`
	Err        error                 `json:"-"`
}

// Result is the outcome of a sweep. Trials are sorted best first.
type Result struct {
	Objective Objective     `json:"objective"`
	Trials    []Trial       `json:"trials"`
	Best      *Trial        `json:"best,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Optimizer sweeps a strategy's parameter grid against one config and
// bar series.
type Optimizer struct {
	logger   *zap.Logger
	registry *strategy.Registry
	config   Config
}

// New creates an optimizer.
func New(logger *zap.Logger, registry *strategy.Registry, config Config) *Optimizer {
	if config.Objective == "" {
		config.Objective = ObjectiveSharpe
	}
	return &Optimizer{logger: logger, registry: registry, config: config}
}

// Run enumerates the strategy's parameter space and backtests every
// combination. Trials that fail to build or run are kept in the result
// with their error and a zero score.
func (o *Optimizer) Run(ctx context.Context, cfg types.BacktestConfig, series *data.Series) (*Result, error) {
	probe, err := o.registry.Build(cfg.Strategy.Name, cfg.Strategy.Parameters)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	combos := expandGrid(probe.ParameterSpace())
	if len(combos) == 0 {
		return nil, fmt.Errorf("strategy %q declares no parameter space", cfg.Strategy.Name)
	}

	started := time.Now()
	o.logger.Info("parameter sweep starting",
		zap.String("strategy", cfg.Strategy.Name),
		zap.Int("combinations", len(combos)),
		zap.String("objective", string(o.config.Objective)),
	)

	poolCfg := workers.DefaultPoolConfig("optimizer")
	if o.config.MaxParallel > 0 {
		poolCfg.NumWorkers = o.config.MaxParallel
	}
	if poolCfg.QueueSize < len(combos) {
		poolCfg.QueueSize = len(combos)
	}
	pool := workers.NewPool(o.logger, poolCfg)
	pool.Start()
	defer pool.Stop()

	trials := make([]Trial, len(combos))
	var mu sync.Mutex

	for i, params := range combos {
		i, params := i, params
		if err := pool.SubmitFunc(func() error {
			trial := o.runTrial(ctx, cfg, series, params, i)
			mu.Lock()
			trials[i] = trial
			mu.Unlock()
			return trial.Err
		}); err != nil {
			trials[i] = Trial{Parameters: params, Err: err}
		}
	}
	pool.Wait()

	sort.SliceStable(trials, func(a, b int) bool {
		if (trials[a].Err == nil) != (trials[b].Err == nil) {
			return trials[a].Err == nil
		}
		return trials[a].Score.GreaterThan(trials[b].Score)
	})

	result := &Result{
		Objective: o.config.Objective,
		Trials:    trials,
		Duration:  time.Since(started),
	}
	if len(trials) > 0 && trials[0].Err == nil {
		result.Best = &trials[0]
	}
	o.logger.Info("parameter sweep finished",
		zap.Int("trials", len(trials)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (o *Optimizer) runTrial(ctx context.Context, cfg types.BacktestConfig, series *data.Series, params map[string]float64, index int) Trial {
	trial := Trial{Parameters: params}

	trialCfg := cfg
	trialCfg.RunID = fmt.Sprintf("%s-trial-%03d", cfg.RunID, index)
	trialCfg.Strategy.Parameters = params

	strat, err := o.registry.Build(trialCfg.Strategy.Name, params)
	if err != nil {
		trial.Err = err
		return trial
	}
	coordinator, err := backtester.NewCoordinator(o.logger, trialCfg, series, strat)
	if err != nil {
		trial.Err = err
		return trial
	}
	result, err := coordinator.Run(ctx)
	if err != nil {
		trial.Err = err
		return trial
	}

	trial.Result = result
	trial.Score = o.score(result)
	return trial
}

func (o *Optimizer) score(result *types.BacktestResult) decimal.Decimal {
	if result.Metrics == nil {
		return decimal.Zero
	}
	switch o.config.Objective {
	case ObjectiveTotalReturn:
		return result.Metrics.TotalReturn
	case ObjectiveProfitFact:
		return result.Metrics.ProfitFactor
	default:
		return result.Metrics.SharpeRatio
	}
}

// expandGrid builds the cartesian product of the parameter space, with
// parameter names iterated in sorted order so trial indices are stable.
func expandGrid(space map[string][]float64) []map[string]float64 {
	names := make([]string, 0, len(space))
	for name, values := range space {
		if len(values) == 0 {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	combos := []map[string]float64{{}}
	for _, name := range names {
		next := make([]map[string]float64, 0, len(combos)*len(space[name]))
		for _, combo := range combos {
			for _, value := range space[name] {
				expanded := make(map[string]float64, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}
				expanded[name] = value
				next = append(next, expanded)
			}
		}
		combos = next
	}
	return combos
}
