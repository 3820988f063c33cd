package broker

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/pkg/types"
	"github.com/admf-trader/backtest-engine/pkg/utils"
)

// SimBroker simulates execution against historical bars. Registered orders
// queue until a bar satisfies their fill condition; market orders fill at
// the next bar's open, or at the current bar's close under the
// current_close fill model.
type SimBroker struct {
	logger     *zap.Logger
	bus        *events.Bus
	registry   *Registry
	slippage   SlippageModel
	commission CommissionModel

	fillModel        types.FillModel
	maxParticipation decimal.Decimal

	pending  []string
	lastBars map[string]*types.Bar
}

// NewSimBroker creates a simulated broker.
func NewSimBroker(logger *zap.Logger, bus *events.Bus, registry *Registry, cfg types.BrokerConfig) (*SimBroker, error) {
	slippage, err := NewSlippageModel(cfg.Slippage)
	if err != nil {
		return nil, err
	}
	commission, err := NewCommissionModel(cfg.Commission)
	if err != nil {
		return nil, err
	}

	fillModel := cfg.FillModel
	if fillModel == "" {
		fillModel = types.FillModelNextOpen
	}
	return &SimBroker{
		logger:           logger,
		bus:              bus,
		registry:         registry,
		slippage:         slippage,
		commission:       commission,
		fillModel:        fillModel,
		maxParticipation: cfg.MaxParticipation,
		lastBars:         make(map[string]*types.Bar),
	}, nil
}

// Bind subscribes the broker. barPriority must be lower than every other
// BAR subscriber so queued orders fill before the portfolio marks and the
// strategy reacts.
func (b *SimBroker) Bind(barPriority int) {
	b.bus.Subscribe(events.EventTypeOrderStateChange, b.onStateChange, events.SubscriptionOptions{Name: "broker"})
	b.bus.Subscribe(events.EventTypeBar, b.onBar, events.SubscriptionOptions{
		Priority: barPriority,
		Name:     "broker",
	})
}

func (b *SimBroker) onStateChange(ev events.Event) error {
	changeEvent, ok := ev.(*events.OrderStateChangeEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	change := changeEvent.Change
	if change.To != types.OrderStatusPending || change.Reason != ReasonRegistered {
		return nil
	}

	order, ok := b.registry.Get(change.OrderID)
	if !ok {
		return fmt.Errorf("registered order %s not found", change.OrderID)
	}

	if b.fillModel == types.FillModelCurrentClose && order.Type == types.OrderTypeMarket {
		if bar, ok := b.lastBars[order.Symbol]; ok {
			b.execute(order, bar.Close, bar)
			if order.Status.IsTerminal() {
				return nil
			}
		}
	}
	b.pending = append(b.pending, order.ID)
	return nil
}

func (b *SimBroker) onBar(ev events.Event) error {
	barEvent, ok := ev.(*events.BarEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	bar := barEvent.Bar
	b.lastBars[bar.Symbol] = bar

	remaining := b.pending[:0]
	for _, orderID := range b.pending {
		order, ok := b.registry.Get(orderID)
		if !ok || order.Status.IsTerminal() {
			continue
		}
		if order.Symbol != bar.Symbol {
			remaining = append(remaining, orderID)
			continue
		}

		price, fills := b.fillPrice(order, bar)
		if fills {
			b.execute(order, price, bar)
		}
		if !order.Status.IsTerminal() {
			remaining = append(remaining, orderID)
		}
	}
	b.pending = remaining
	return nil
}

// fillPrice decides whether the bar satisfies the order and at what raw
// price, before slippage.
func (b *SimBroker) fillPrice(order *types.Order, bar *types.Bar) (decimal.Decimal, bool) {
	switch order.Type {
	case types.OrderTypeMarket:
		return bar.Open, true
	case types.OrderTypeLimit:
		if order.Side == types.OrderSideBuy {
			if bar.Open.LessThanOrEqual(order.LimitPrice) {
				return bar.Open, true
			}
			if bar.Low.LessThanOrEqual(order.LimitPrice) {
				return order.LimitPrice, true
			}
		} else {
			if bar.Open.GreaterThanOrEqual(order.LimitPrice) {
				return bar.Open, true
			}
			if bar.High.GreaterThanOrEqual(order.LimitPrice) {
				return order.LimitPrice, true
			}
		}
	case types.OrderTypeStop:
		if order.Side == types.OrderSideBuy {
			if bar.Open.GreaterThanOrEqual(order.StopPrice) {
				return bar.Open, true
			}
			if bar.High.GreaterThanOrEqual(order.StopPrice) {
				return order.StopPrice, true
			}
		} else {
			if bar.Open.LessThanOrEqual(order.StopPrice) {
				return bar.Open, true
			}
			if bar.Low.LessThanOrEqual(order.StopPrice) {
				return order.StopPrice, true
			}
		}
	}
	return decimal.Zero, false
}

// execute fills as much of the order as the participation cap allows,
// publishes the FILL and advances the order state.
func (b *SimBroker) execute(order *types.Order, rawPrice decimal.Decimal, bar *types.Bar) {
	qty := order.Remaining()
	if b.maxParticipation.IsPositive() && bar.Volume.IsPositive() {
		maxQty := bar.Volume.Mul(b.maxParticipation).Floor()
		if maxQty.LessThanOrEqual(decimal.Zero) {
			return
		}
		if qty.GreaterThan(maxQty) {
			qty = maxQty
		}
	}

	price := b.slippage.Adjust(order.Side, rawPrice, qty, bar)
	fill := &types.Fill{
		ID:         utils.GenerateFillID(),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		Timestamp:  bar.Timestamp,
		Commission: b.commission.Charge(qty, price),
		RuleID:     order.RuleID,
	}

	b.logger.Debug("order filled",
		zap.String("order_id", order.ID),
		zap.String("fill_id", fill.ID),
		zap.String("quantity", qty.String()),
		zap.String("price", price.String()),
	)
	b.bus.Publish(events.NewFillEvent(fill))
	if err := b.registry.ApplyFill(fill); err != nil {
		b.logger.Error("fill could not be applied",
			zap.String("fill_id", fill.ID),
			zap.Error(err),
		)
	}
}

// FlushAtLastClose fills every still-pending order at the last seen close
// of its symbol, ignoring participation caps. Used by the end-of-run
// close-at-end policy.
func (b *SimBroker) FlushAtLastClose() {
	pending := b.pending
	b.pending = nil
	for _, orderID := range pending {
		order, ok := b.registry.Get(orderID)
		if !ok || order.Status.IsTerminal() {
			continue
		}
		bar, ok := b.lastBars[order.Symbol]
		if !ok {
			b.pending = append(b.pending, orderID)
			continue
		}
		qty := order.Remaining()
		price := b.slippage.Adjust(order.Side, bar.Close, qty, bar)
		fill := &types.Fill{
			ID:         utils.GenerateFillID(),
			OrderID:    order.ID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Quantity:   qty,
			Price:      price,
			Timestamp:  bar.Timestamp,
			Commission: b.commission.Charge(qty, price),
			RuleID:     order.RuleID,
		}
		b.bus.Publish(events.NewFillEvent(fill))
		if err := b.registry.ApplyFill(fill); err != nil {
			b.logger.Error("flush fill could not be applied",
				zap.String("fill_id", fill.ID),
				zap.Error(err),
			)
		}
	}
}

// CancelAll cancels every still-pending order.
func (b *SimBroker) CancelAll(reason string) {
	pending := b.pending
	b.pending = nil
	for _, orderID := range pending {
		order, ok := b.registry.Get(orderID)
		if !ok || order.Status.IsTerminal() {
			continue
		}
		if err := b.registry.Cancel(orderID, reason); err != nil {
			b.logger.Warn("cancel failed",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}
}

// PendingCount returns the number of queued orders.
func (b *SimBroker) PendingCount() int {
	return len(b.pending)
}

// Reset clears the queue and the bar cache and restores deterministic
// slippage state.
func (b *SimBroker) Reset() {
	b.pending = nil
	b.lastBars = make(map[string]*types.Bar)
	b.slippage.Reset()
}
