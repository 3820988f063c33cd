// Package portfolio maintains positions, cash and the equity curve from
// the fill and bar stream.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

type position struct {
	quantity     decimal.Decimal // signed: positive long, negative short
	costBasis    decimal.Decimal // defined only while quantity != 0
	realizedPnL  decimal.Decimal
	transactions []types.Transaction
}

// Portfolio owns all position records. It consumes FILL to mutate
// positions and cash, and BAR to mark-to-market and extend the equity
// curve.
type Portfolio struct {
	logger *zap.Logger
	bus    *events.Bus

	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*position
	marks          map[string]decimal.Decimal
	equityCurve    []types.EquityCurvePoint
	commission     decimal.Decimal
}

// New creates a portfolio with the given starting cash.
func New(logger *zap.Logger, bus *events.Bus, initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		logger:         logger,
		bus:            bus,
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*position),
		marks:          make(map[string]decimal.Decimal),
	}
}

// Bind subscribes the portfolio. barPriority should sit between the broker
// and the strategy so marks reflect fills from the same bar but the
// strategy sees a settled portfolio.
func (p *Portfolio) Bind(barPriority int) {
	p.bus.Subscribe(events.EventTypeFill, p.onFill, events.SubscriptionOptions{Name: "portfolio"})
	p.bus.Subscribe(events.EventTypeBar, p.onBar, events.SubscriptionOptions{
		Priority: barPriority,
		Name:     "portfolio",
	})
}

func (p *Portfolio) onFill(ev events.Event) error {
	fillEvent, ok := ev.(*events.FillEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	fill := fillEvent.Fill

	q := fill.Quantity
	if fill.Side == types.OrderSideSell {
		q = q.Neg()
	}

	pos, ok := p.positions[fill.Symbol]
	if !ok {
		pos = &position{}
		p.positions[fill.Symbol] = pos
	}

	var realized decimal.Decimal
	if !pos.quantity.IsZero() && q.Sign() != pos.quantity.Sign() {
		closed := decimal.Min(pos.quantity.Abs(), q.Abs())
		realized = closed.Mul(fill.Price.Sub(pos.costBasis)).Mul(decimal.NewFromInt(int64(pos.quantity.Sign())))
		pos.realizedPnL = pos.realizedPnL.Add(realized)
	}

	newQty := pos.quantity.Add(q)
	switch {
	case newQty.IsZero():
		pos.costBasis = decimal.Zero
	case pos.quantity.IsZero() || q.Sign() == pos.quantity.Sign():
		oldNotional := pos.quantity.Abs().Mul(pos.costBasis)
		addNotional := q.Abs().Mul(fill.Price)
		pos.costBasis = oldNotional.Add(addNotional).Div(newQty.Abs())
	case newQty.Sign() != pos.quantity.Sign():
		// Flip: the residual exposure was opened at this fill's price.
		pos.costBasis = fill.Price
	}
	pos.quantity = newQty

	p.cash = p.cash.Sub(q.Mul(fill.Price)).Sub(fill.Commission)
	p.commission = p.commission.Add(fill.Commission)
	p.marks[fill.Symbol] = fill.Price

	pos.transactions = append(pos.transactions, types.Transaction{
		FillID:      fill.ID,
		OrderID:     fill.OrderID,
		Side:        fill.Side,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Commission:  fill.Commission,
		RealizedPnL: realized,
		Timestamp:   fill.Timestamp,
	})

	p.logger.Debug("fill applied",
		zap.String("symbol", fill.Symbol),
		zap.String("quantity", newQty.String()),
		zap.String("cash", p.cash.String()),
		zap.String("realized", realized.String()),
	)
	p.publishUpdate(fillEvent.GetTimestamp())
	return nil
}

func (p *Portfolio) onBar(ev events.Event) error {
	barEvent, ok := ev.(*events.BarEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	bar := barEvent.Bar

	p.marks[bar.Symbol] = bar.Close
	equity := p.Equity()

	// One equity sample per distinct bar timestamp; bars for other symbols
	// at the same instant refresh the sample instead of appending.
	if n := len(p.equityCurve); n > 0 && p.equityCurve[n-1].Timestamp.Equal(bar.Timestamp) {
		p.equityCurve[n-1].Equity = equity
		p.equityCurve[n-1].Cash = p.cash
	} else {
		p.equityCurve = append(p.equityCurve, types.EquityCurvePoint{
			Timestamp: bar.Timestamp,
			Equity:    equity,
			Cash:      p.cash,
		})
	}

	p.publishUpdate(bar.Timestamp)
	return nil
}

func (p *Portfolio) publishUpdate(ts time.Time) {
	p.bus.Publish(events.NewPortfolioUpdateEvent(&types.PortfolioUpdate{
		Timestamp:   ts,
		Cash:        p.cash,
		Equity:      p.Equity(),
		RealizedPnL: p.RealizedPnL(),
		Positions:   p.Positions(),
	}))
}

// Equity is cash plus the mark-to-market value of every open position.
func (p *Portfolio) Equity() decimal.Decimal {
	equity := p.cash
	for symbol, pos := range p.positions {
		if pos.quantity.IsZero() {
			continue
		}
		mark, ok := p.marks[symbol]
		if !ok {
			mark = pos.costBasis
		}
		equity = equity.Add(pos.quantity.Mul(mark))
	}
	return equity
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}

// RealizedPnL returns the realized profit across all positions.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.realizedPnL)
	}
	return total
}

// TotalCommission returns the cumulative commission paid.
func (p *Portfolio) TotalCommission() decimal.Decimal {
	return p.commission
}

// Positions returns read-only snapshots of every position.
func (p *Portfolio) Positions() map[string]types.PositionSnapshot {
	out := make(map[string]types.PositionSnapshot, len(p.positions))
	for symbol, pos := range p.positions {
		mark := p.marks[symbol]
		out[symbol] = types.PositionSnapshot{
			Symbol:      symbol,
			Quantity:    pos.quantity,
			CostBasis:   pos.costBasis,
			RealizedPnL: pos.realizedPnL,
			MarkPrice:   mark,
			MarketValue: pos.quantity.Mul(mark),
		}
	}
	return out
}

// Position returns the snapshot for one symbol, zero-valued when absent.
func (p *Portfolio) Position(symbol string) types.PositionSnapshot {
	if snap, ok := p.Positions()[symbol]; ok {
		return snap
	}
	return types.PositionSnapshot{Symbol: symbol}
}

// EquityCurve returns a copy of the equity curve.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint {
	out := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// Transactions returns every recorded transaction in fill order per symbol.
func (p *Portfolio) Transactions() []types.Transaction {
	var out []types.Transaction
	for _, pos := range p.positions {
		out = append(out, pos.transactions...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Reset restores the portfolio to its initial state: no positions, cash
// back to initial capital, empty equity curve.
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]*position)
	p.marks = make(map[string]decimal.Decimal)
	p.equityCurve = nil
	p.commission = decimal.Zero
}
