// Package backtester wires the pipeline components together and drives
// the run loop.
package backtester

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/broker"
	"github.com/admf-trader/backtest-engine/internal/data"
	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/internal/metrics"
	"github.com/admf-trader/backtest-engine/internal/portfolio"
	"github.com/admf-trader/backtest-engine/internal/risk"
	"github.com/admf-trader/backtest-engine/internal/strategy"
	"github.com/admf-trader/backtest-engine/pkg/types"
	"github.com/admf-trader/backtest-engine/pkg/utils"
)

// BAR dispatch priorities. The broker fills queued orders first, the
// portfolio marks next, the strategy reacts last so it always sees a
// settled book.
const (
	priorityBroker    = 0
	priorityPortfolio = 10
	priorityStrategy  = 20
)

// progressEvery is the bar interval between progress callbacks.
const progressEvery = 25

// ProgressFunc receives periodic run progress. Called on the driver
// goroutine; it must not publish events.
type ProgressFunc func(types.BacktestProgress)

// Coordinator owns one complete set of pipeline components and runs
// backtests over them. A coordinator is reusable: every Run starts with a
// full reset, so consecutive runs are independent.
type Coordinator struct {
	logger *zap.Logger
	cfg    types.BacktestConfig

	bus         *events.Bus
	dataHandler *data.Handler
	adapter     *strategy.Adapter
	riskManager *risk.Manager
	registry    *broker.Registry
	simBroker   *broker.SimBroker
	portfolio   *portfolio.Portfolio

	fills []types.Fill

	cancelled  atomic.Bool
	onProgress ProgressFunc
}

// NewCoordinator builds and wires a fresh component set for the config.
func NewCoordinator(logger *zap.Logger, cfg types.BacktestConfig, series *data.Series, strat strategy.Strategy) (*Coordinator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = utils.GenerateRunID()
	}

	bus := events.NewBus(logger, 0)
	registry := broker.NewRegistry(logger, bus)
	simBroker, err := broker.NewSimBroker(logger, bus, registry, cfg.Broker)
	if err != nil {
		return nil, err
	}
	sizer, err := risk.NewSizer(cfg.Risk.Sizing)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		logger:      logger,
		cfg:         cfg,
		bus:         bus,
		dataHandler: data.NewHandler(logger, series),
		adapter:     strategy.NewAdapter(logger, bus, strat),
		riskManager: risk.NewManager(logger, bus, sizer, cfg.Risk.Limits, cfg.InitialCapital),
		registry:    registry,
		simBroker:   simBroker,
		portfolio:   portfolio.New(logger, bus, cfg.InitialCapital),
	}

	c.simBroker.Bind(priorityBroker)
	c.portfolio.Bind(priorityPortfolio)
	c.adapter.Bind(priorityStrategy)
	c.registry.Bind()
	c.riskManager.Bind()
	bus.Subscribe(events.EventTypeFill, c.recordFill, events.SubscriptionOptions{Name: "coordinator"})
	return c, nil
}

// RunID returns the run identifier.
func (c *Coordinator) RunID() string {
	return c.cfg.RunID
}

// SetProgressFunc installs the progress callback.
func (c *Coordinator) SetProgressFunc(fn ProgressFunc) {
	c.onProgress = fn
}

// Cancel requests a cooperative stop. The current bar's handler chain
// completes, then the run exits and publishes its end event.
func (c *Coordinator) Cancel() {
	c.cancelled.Store(true)
}

func (c *Coordinator) recordFill(ev events.Event) error {
	fillEvent, ok := ev.(*events.FillEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	c.fills = append(c.fills, *fillEvent.Fill)
	return nil
}

// reset clears every component's per-run state. Mandatory before each run:
// stale rule ids or dedup keys from a previous run would swallow every
// fresh signal.
func (c *Coordinator) reset() {
	c.bus.Reset()
	c.riskManager.Reset()
	c.registry.Reset()
	c.portfolio.Reset()
	c.dataHandler.Reset()
	c.adapter.Reset()
	c.simBroker.Reset()
	c.fills = nil
	c.cancelled.Store(false)
}

// Run executes one backtest and returns its result. The context provides
// a second cancellation path alongside Cancel.
func (c *Coordinator) Run(ctx context.Context) (*types.BacktestResult, error) {
	c.reset()
	startedAt := time.Now()
	totalBars := c.dataHandler.TotalBars()

	var firstTS, lastTS time.Time
	if first := c.dataHandler.Peek(); first != nil {
		firstTS = first.Timestamp
	}
	c.bus.Publish(events.NewBacktestStartEvent(c.cfg.RunID, firstTS))
	c.logger.Info("backtest started",
		zap.String("run_id", c.cfg.RunID),
		zap.Int("total_bars", totalBars),
		zap.Strings("symbols", c.cfg.Symbols),
	)

	barsProcessed := 0
	lastDate := ""
	cancelled := false

	for {
		next := c.dataHandler.Peek()
		if next == nil {
			break
		}
		if c.cancelled.Load() || ctx.Err() != nil {
			cancelled = true
			break
		}

		// A calendar-date change flattens positions before the strategy
		// sees the new day: the injected market closes fill at this bar's
		// open since the broker runs first in the BAR chain.
		if c.cfg.ClosePositionsEOD && lastDate != "" && utils.DateKey(next.Timestamp) != lastDate {
			for _, symbol := range c.riskManager.OpenSymbols() {
				c.riskManager.InjectEODClose(symbol, lastDate, next.Timestamp)
			}
		}

		c.dataHandler.EmitNext(c.bus)
		metrics.BarsProcessed.Inc()
		barsProcessed++
		lastTS = next.Timestamp
		lastDate = utils.DateKey(next.Timestamp)

		if c.onProgress != nil && barsProcessed%progressEvery == 0 {
			c.onProgress(types.BacktestProgress{
				RunID:         c.cfg.RunID,
				Status:        "running",
				BarsProcessed: barsProcessed,
				TotalBars:     totalBars,
				CurrentTime:   lastTS,
				CurrentEquity: c.portfolio.Equity(),
			})
		}
	}

	reason := "completed"
	switch {
	case cancelled:
		reason = "cancelled"
		c.simBroker.CancelAll("run cancelled")
	case c.cfg.CloseAtEnd:
		for _, symbol := range c.riskManager.OpenSymbols() {
			c.riskManager.InjectEODClose(symbol, lastDate, lastTS)
		}
		c.simBroker.FlushAtLastClose()
	default:
		c.simBroker.CancelAll("end of data")
	}

	c.bus.Publish(events.NewBacktestEndEvent(c.cfg.RunID, reason, lastTS))

	result := c.collectResult(startedAt, barsProcessed, cancelled)
	status := "completed"
	if cancelled {
		status = "cancelled"
	}
	metrics.RunsCompleted.WithLabelValues(status).Inc()
	if c.onProgress != nil {
		c.onProgress(types.BacktestProgress{
			RunID:         c.cfg.RunID,
			Status:        status,
			BarsProcessed: barsProcessed,
			TotalBars:     totalBars,
			CurrentTime:   lastTS,
			CurrentEquity: result.FinalEquity,
		})
	}
	c.logger.Info("backtest finished",
		zap.String("run_id", c.cfg.RunID),
		zap.String("status", status),
		zap.Int("bars", barsProcessed),
		zap.String("final_equity", result.FinalEquity.String()),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (c *Coordinator) collectResult(startedAt time.Time, barsProcessed int, cancelled bool) *types.BacktestResult {
	busStats := c.bus.Stats()
	curve := c.portfolio.EquityCurve()
	transactions := c.portfolio.Transactions()

	finalEquity := c.cfg.InitialCapital
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}

	completedAt := time.Now()
	return &types.BacktestResult{
		RunID:          c.cfg.RunID,
		InitialCapital: c.cfg.InitialCapital,
		FinalCash:      c.portfolio.Cash(),
		FinalEquity:    finalEquity,
		RealizedPnL:    c.portfolio.RealizedPnL(),
		Commission:     c.portfolio.TotalCommission(),
		EquityCurve:    curve,
		Trades:         c.fills,
		Orders:         c.registry.Orders(),
		OrderStateLog:  c.registry.StateLog(),
		Positions:      c.portfolio.Positions(),
		Counters: types.RunCounters{
			SignalsDeduped:     busStats.SignalsDeduped,
			EventsDeduped:      busStats.EventsDeduped,
			OrdersRejected:     c.registry.Rejected(),
			OrdersSuppressed:   c.riskManager.Suppressed(),
			HandlerErrors:      busStats.HandlerErrors,
			InvalidTransitions: c.registry.InvalidTransitions(),
		},
		Metrics:         CalculateMetrics(c.cfg.InitialCapital, curve, transactions),
		BarsProcessed:   barsProcessed,
		Cancelled:       cancelled,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		Duration:        completedAt.Sub(startedAt),
		EventsPublished: busStats.EventsPublished,
	}
}
