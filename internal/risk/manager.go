package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/internal/metrics"
	"github.com/admf-trader/backtest-engine/pkg/types"
	"github.com/admf-trader/backtest-engine/pkg/utils"
)

// Manager turns SIGNAL events into ORDER events. It compares the signal's
// intended direction against the current net position, emits a CLOSE order
// when the direction flips and an OPEN order sized by the configured sizer,
// and enforces the risk limits.
//
// The manager keeps its own rule-id set even though the bus already dedups
// signals: a fresh bus (or a replayed event object) must still not produce
// a second order chain for the same rule id.
type Manager struct {
	logger *zap.Logger
	bus    *events.Bus
	sizer  Sizer
	limits types.RiskLimits

	processedRuleIDs map[string]struct{}
	currentDirection map[string]int
	// netQty mirrors the portfolio's signed positions, rebuilt from fills.
	netQty map[string]decimal.Decimal
	marks  map[string]decimal.Decimal
	equity decimal.Decimal

	initialEquity decimal.Decimal

	suppressed int64
}

// NewManager creates a risk manager with the given sizer and limits.
// initialEquity seeds the equity cache until the first portfolio update.
func NewManager(logger *zap.Logger, bus *events.Bus, sizer Sizer, limits types.RiskLimits, initialEquity decimal.Decimal) *Manager {
	return &Manager{
		logger:           logger,
		bus:              bus,
		sizer:            sizer,
		limits:           limits,
		processedRuleIDs: make(map[string]struct{}),
		currentDirection: make(map[string]int),
		netQty:           make(map[string]decimal.Decimal),
		marks:            make(map[string]decimal.Decimal),
		equity:           initialEquity,
		initialEquity:    initialEquity,
	}
}

// Bind subscribes the manager to the events it consumes.
func (m *Manager) Bind() {
	m.bus.Subscribe(events.EventTypeSignal, m.onSignal, events.SubscriptionOptions{Name: "risk"})
	m.bus.Subscribe(events.EventTypeFill, m.onFill, events.SubscriptionOptions{Name: "risk"})
	m.bus.Subscribe(events.EventTypePortfolioUpdate, m.onPortfolioUpdate, events.SubscriptionOptions{Name: "risk"})
}

func (m *Manager) onSignal(ev events.Event) error {
	sigEvent, ok := ev.(*events.SignalEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	sig := sigEvent.Signal

	if _, seen := m.processedRuleIDs[sig.RuleID]; seen {
		m.logger.Debug("rule id already processed", zap.String("rule_id", sig.RuleID))
		return nil
	}
	m.processedRuleIDs[sig.RuleID] = struct{}{}

	cur := m.currentDirection[sig.Symbol]
	tgt := utils.SignInt(sig.Direction)
	if tgt == 0 || tgt == cur {
		return nil
	}

	pos := m.netQty[sig.Symbol]
	if cur != 0 && !pos.IsZero() {
		m.emitClose(sig, pos)
	}

	m.emitOpen(sig, tgt)
	m.currentDirection[sig.Symbol] = tgt
	return nil
}

// emitClose flattens the current position ahead of a direction flip.
func (m *Manager) emitClose(sig *types.Signal, pos decimal.Decimal) {
	side := types.OrderSideSell
	if pos.IsNegative() {
		side = types.OrderSideBuy
	}
	m.publishOrder(&types.Order{
		ID:        utils.GenerateOrderID(),
		Symbol:    sig.Symbol,
		Side:      side,
		Type:      types.OrderTypeMarket,
		Quantity:  pos.Abs(),
		Status:    types.OrderStatusCreated,
		CreatedAt: sig.Timestamp,
		UpdatedAt: sig.Timestamp,
		RuleID:    sig.RuleID + "_CLOSE",
		Action:    types.OrderActionClose,
	})
}

func (m *Manager) emitOpen(sig *types.Signal, tgt int) {
	qty := m.sizer.Quantity(sig.Price, m.equity)
	if qty.LessThanOrEqual(decimal.Zero) {
		m.logger.Debug("sizer returned zero quantity", zap.String("rule_id", sig.RuleID))
		return
	}
	if reason := m.checkLimits(sig.Symbol, qty, sig.Price); reason != "" {
		m.suppressed++
		metrics.OrdersSuppressed.Inc()
		m.logger.Info("open order suppressed",
			zap.String("rule_id", sig.RuleID),
			zap.String("symbol", sig.Symbol),
			zap.String("reason", reason),
		)
		return
	}

	side := types.OrderSideBuy
	if tgt < 0 {
		side = types.OrderSideSell
	}
	m.publishOrder(&types.Order{
		ID:        utils.GenerateOrderID(),
		Symbol:    sig.Symbol,
		Side:      side,
		Type:      types.OrderTypeMarket,
		Quantity:  qty,
		Status:    types.OrderStatusCreated,
		CreatedAt: sig.Timestamp,
		UpdatedAt: sig.Timestamp,
		RuleID:    sig.RuleID + "_OPEN",
		Action:    types.OrderActionOpen,
	})
}

// checkLimits returns a non-empty reason when the prospective open order
// violates a configured limit.
func (m *Manager) checkLimits(symbol string, qty, price decimal.Decimal) string {
	if m.limits.EnforceSinglePosition {
		for s := range m.exposedSymbols() {
			if s != symbol {
				return "single position enforced, " + s + " is open"
			}
		}
	}
	if m.limits.MaxPositions > 0 {
		open := 0
		for s := range m.exposedSymbols() {
			if s != symbol {
				open++
			}
		}
		if open >= m.limits.MaxPositions {
			return fmt.Sprintf("max positions %d reached", m.limits.MaxPositions)
		}
	}
	if m.limits.MaxPositionSize.IsPositive() && qty.GreaterThan(m.limits.MaxPositionSize) {
		return "max position size exceeded"
	}
	if m.limits.MaxExposure.IsPositive() && m.equity.IsPositive() {
		exposure := qty.Mul(price).Abs()
		for s, q := range m.netQty {
			if s == symbol || q.IsZero() {
				continue
			}
			exposure = exposure.Add(q.Abs().Mul(m.markFor(s, price)))
		}
		if exposure.Div(m.equity).GreaterThan(m.limits.MaxExposure) {
			return "max exposure exceeded"
		}
	}
	return ""
}

// exposedSymbols covers both filled positions and in-flight open intent.
// An order emitted this bar has not filled yet, but it must already count
// against position limits or simultaneous signals would all pass.
func (m *Manager) exposedSymbols() map[string]struct{} {
	out := make(map[string]struct{})
	for s, q := range m.netQty {
		if !q.IsZero() {
			out[s] = struct{}{}
		}
	}
	for s, d := range m.currentDirection {
		if d != 0 {
			out[s] = struct{}{}
		}
	}
	return out
}

func (m *Manager) markFor(symbol string, fallback decimal.Decimal) decimal.Decimal {
	if mark, ok := m.marks[symbol]; ok && mark.IsPositive() {
		return mark
	}
	return fallback
}

func (m *Manager) publishOrder(order *types.Order) {
	m.logger.Debug("order emitted",
		zap.String("order_id", order.ID),
		zap.String("rule_id", order.RuleID),
		zap.String("side", string(order.Side)),
		zap.String("action", string(order.Action)),
		zap.String("quantity", order.Quantity.String()),
	)
	m.bus.Publish(events.NewOrderEvent(order))
}

// onFill rebuilds the net position and re-derives the direction from its
// sign. Coordinator-injected closes and partial fills land here too, so
// direction always matches what the portfolio actually holds.
func (m *Manager) onFill(ev events.Event) error {
	fillEvent, ok := ev.(*events.FillEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	fill := fillEvent.Fill

	q := fill.Quantity
	if fill.Side == types.OrderSideSell {
		q = q.Neg()
	}
	net := m.netQty[fill.Symbol].Add(q)
	m.netQty[fill.Symbol] = net
	m.currentDirection[fill.Symbol] = net.Sign()
	return nil
}

func (m *Manager) onPortfolioUpdate(ev events.Event) error {
	updateEvent, ok := ev.(*events.PortfolioUpdateEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	m.equity = updateEvent.Update.Equity
	for symbol, pos := range updateEvent.Update.Positions {
		if pos.MarkPrice.IsPositive() {
			m.marks[symbol] = pos.MarkPrice
		}
	}
	return nil
}

// InjectEODClose emits a synthetic close order for one non-flat position,
// tagged with the EOD rule id for the date. Used by the coordinator.
func (m *Manager) InjectEODClose(symbol string, date string, ts time.Time) bool {
	pos := m.netQty[symbol]
	if pos.IsZero() {
		return false
	}
	side := types.OrderSideSell
	if pos.IsNegative() {
		side = types.OrderSideBuy
	}
	m.publishOrder(&types.Order{
		ID:        utils.GenerateOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      types.OrderTypeMarket,
		Quantity:  pos.Abs(),
		Status:    types.OrderStatusCreated,
		CreatedAt: ts,
		UpdatedAt: ts,
		RuleID:    "EOD_" + date + "_" + symbol,
		Action:    types.OrderActionClose,
	})
	return true
}

// OpenSymbols returns the symbols with a non-flat net position.
func (m *Manager) OpenSymbols() []string {
	var out []string
	for symbol, q := range m.netQty {
		if !q.IsZero() {
			out = append(out, symbol)
		}
	}
	return out
}

// Direction returns the tracked direction for a symbol.
func (m *Manager) Direction(symbol string) int {
	return m.currentDirection[symbol]
}

// Suppressed returns the number of limit-suppressed opens since reset.
func (m *Manager) Suppressed() int64 {
	return m.suppressed
}

// Reset clears all per-run state. Must run before any new bar of a
// subsequent run; stale rule ids would otherwise swallow fresh signals.
func (m *Manager) Reset() {
	m.processedRuleIDs = make(map[string]struct{})
	m.currentDirection = make(map[string]int)
	m.netQty = make(map[string]decimal.Decimal)
	m.marks = make(map[string]decimal.Decimal)
	m.equity = m.initialEquity
	m.suppressed = 0
}
