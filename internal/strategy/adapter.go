package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/pkg/types"
	"github.com/admf-trader/backtest-engine/pkg/utils"
)

// Adapter subscribes a strategy to BAR events and turns its non-zero
// directions into SIGNAL events keyed by a deterministic rule id of the
// form {strategy}_{symbol}_{BUY|SELL}_group_{bucket}.
type Adapter struct {
	logger   *zap.Logger
	bus      *events.Bus
	strategy Strategy
	sub      *events.Subscription

	signalsEmitted int
}

// NewAdapter creates an adapter for one strategy instance.
func NewAdapter(logger *zap.Logger, bus *events.Bus, strat Strategy) *Adapter {
	return &Adapter{logger: logger, bus: bus, strategy: strat}
}

// Bind subscribes the adapter to BAR events at the given priority.
func (a *Adapter) Bind(priority int) {
	a.sub = a.bus.Subscribe(events.EventTypeBar, a.onBar, events.SubscriptionOptions{
		Priority: priority,
		Name:     "strategy:" + a.strategy.Name(),
	})
}

// Unbind removes the bus subscription.
func (a *Adapter) Unbind() {
	a.bus.Unsubscribe(a.sub)
	a.sub = nil
}

func (a *Adapter) onBar(ev events.Event) error {
	barEvent, ok := ev.(*events.BarEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	bar := barEvent.Bar

	direction := utils.SignInt(a.strategy.OnBar(bar))
	if direction == 0 {
		return nil
	}

	dirLabel := "BUY"
	if direction < 0 {
		dirLabel = "SELL"
	}
	ruleID := fmt.Sprintf("%s_%s_%s_group_%s",
		a.strategy.Name(), bar.Symbol, dirLabel, utils.TimeBucket(bar.Timestamp))

	signal := &types.Signal{
		ID:        utils.GenerateID("sig"),
		Symbol:    bar.Symbol,
		Direction: direction,
		Price:     bar.Close,
		Timestamp: bar.Timestamp,
		RuleID:    ruleID,
		Strategy:  a.strategy.Name(),
	}

	a.signalsEmitted++
	a.logger.Debug("signal emitted",
		zap.String("rule_id", ruleID),
		zap.Int("direction", direction),
		zap.String("price", signal.Price.String()),
	)
	a.bus.Publish(events.NewSignalEvent(signal))
	return nil
}

// SignalsEmitted returns the number of signals produced since the last
// reset.
func (a *Adapter) SignalsEmitted() int {
	return a.signalsEmitted
}

// Reset clears the adapter counter and the strategy's indicator state.
func (a *Adapter) Reset() {
	a.signalsEmitted = 0
	a.strategy.Reset()
}
