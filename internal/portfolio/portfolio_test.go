package portfolio_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/internal/portfolio"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func newPortfolio() (*portfolio.Portfolio, *events.Bus) {
	bus := events.NewBus(zap.NewNop(), 0)
	p := portfolio.New(zap.NewNop(), bus, decimal.NewFromInt(100000))
	p.Bind(10)
	return p, bus
}

func publishFill(bus *events.Bus, id string, side types.OrderSide, qty, price int64) {
	bus.Publish(events.NewFillEvent(&types.Fill{
		ID: id, OrderID: "ord_" + id, Symbol: "MINI", Side: side,
		Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(price),
		Timestamp: t0,
	}))
}

func publishBar(bus *events.Bus, symbol string, minute int, close int64) {
	price := decimal.NewFromInt(close)
	bus.Publish(events.NewBarEvent(&types.Bar{
		Symbol: symbol, Timestamp: t0.Add(time.Duration(minute) * time.Minute),
		Open: price, High: price, Low: price, Close: price,
		Volume: decimal.NewFromInt(1000),
	}))
}

func TestLongRoundTripRealizesProfit(t *testing.T) {
	p, bus := newPortfolio()

	publishFill(bus, "f1", types.OrderSideBuy, 100, 50)
	publishFill(bus, "f2", types.OrderSideSell, 100, 60)

	if !p.RealizedPnL().Equal(decimal.NewFromInt(1000)) {
		t.Errorf("realized = %s, want 1000", p.RealizedPnL())
	}
	pos := p.Position("MINI")
	if !pos.Quantity.IsZero() {
		t.Errorf("position should be flat, got %s", pos.Quantity)
	}
	if !pos.CostBasis.IsZero() {
		t.Errorf("cost basis should reset on full close, got %s", pos.CostBasis)
	}
	if !p.Cash().Equal(decimal.NewFromInt(101000)) {
		t.Errorf("cash = %s, want 101000", p.Cash())
	}
}

func TestShortRoundTripAfterFlip(t *testing.T) {
	p, bus := newPortfolio()

	publishFill(bus, "f1", types.OrderSideBuy, 100, 50)
	publishFill(bus, "f2", types.OrderSideSell, 100, 60)
	// Go short, then cover lower.
	publishFill(bus, "f3", types.OrderSideSell, 100, 60)
	publishFill(bus, "f4", types.OrderSideBuy, 100, 55)

	if !p.RealizedPnL().Equal(decimal.NewFromInt(1500)) {
		t.Errorf("total realized = %s, want 1500", p.RealizedPnL())
	}
	if !p.Position("MINI").Quantity.IsZero() {
		t.Errorf("position should be flat")
	}
}

func TestFlipInOneFillSetsResidualBasis(t *testing.T) {
	p, bus := newPortfolio()

	publishFill(bus, "f1", types.OrderSideBuy, 100, 50)
	// Sell 150: closes the 100-lot at 60 (realizing 1000) and opens a
	// 50-share short with basis 60.
	publishFill(bus, "f2", types.OrderSideSell, 150, 60)

	pos := p.Position("MINI")
	if !pos.Quantity.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("quantity = %s, want -50", pos.Quantity)
	}
	if !pos.CostBasis.Equal(decimal.NewFromInt(60)) {
		t.Errorf("cost basis = %s, want flip price 60", pos.CostBasis)
	}
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("realized = %s, want 1000", pos.RealizedPnL)
	}
}

func TestWeightedAverageCostBasis(t *testing.T) {
	p, bus := newPortfolio()

	publishFill(bus, "f1", types.OrderSideBuy, 100, 50)
	publishFill(bus, "f2", types.OrderSideBuy, 100, 60)

	pos := p.Position("MINI")
	if !pos.CostBasis.Equal(decimal.NewFromInt(55)) {
		t.Errorf("cost basis = %s, want 55", pos.CostBasis)
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(200)) {
		t.Errorf("quantity = %s, want 200", pos.Quantity)
	}
}

func TestCommissionReducesCash(t *testing.T) {
	p, bus := newPortfolio()

	bus.Publish(events.NewFillEvent(&types.Fill{
		ID: "f1", OrderID: "o1", Symbol: "MINI", Side: types.OrderSideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(100),
		Commission: decimal.NewFromInt(5), Timestamp: t0,
	}))

	// 100000 - 1000 notional - 5 commission
	if !p.Cash().Equal(decimal.NewFromInt(98995)) {
		t.Errorf("cash = %s", p.Cash())
	}
	if !p.TotalCommission().Equal(decimal.NewFromInt(5)) {
		t.Errorf("commission = %s", p.TotalCommission())
	}
}

func TestAccountingIdentity(t *testing.T) {
	// cash + open notional at basis - realized - commission = initial.
	p, bus := newPortfolio()

	fills := []struct {
		side       types.OrderSide
		qty, price int64
	}{
		{types.OrderSideBuy, 100, 50},
		{types.OrderSideBuy, 50, 56},
		{types.OrderSideSell, 120, 58},
		{types.OrderSideSell, 80, 61},
		{types.OrderSideBuy, 30, 59},
	}
	for i, f := range fills {
		publishFill(bus, "f"+string(rune('a'+i)), f.side, f.qty, f.price)
	}

	openNotional := decimal.Zero
	for _, pos := range p.Positions() {
		openNotional = openNotional.Add(pos.Quantity.Mul(pos.CostBasis))
	}
	identity := p.Cash().Add(openNotional).Sub(p.RealizedPnL()).Add(p.TotalCommission())
	if !identity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("accounting identity broken: %s", identity)
	}
}

func TestEquityCurveOnePointPerTimestamp(t *testing.T) {
	p, bus := newPortfolio()

	publishBar(bus, "AAA", 0, 100)
	publishBar(bus, "BBB", 0, 200)
	publishBar(bus, "AAA", 1, 101)

	curve := p.EquityCurve()
	if len(curve) != 2 {
		t.Fatalf("expected 2 distinct timestamps, got %d", len(curve))
	}
	if !curve[0].Equity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("flat book equity = %s", curve[0].Equity)
	}
}

func TestMarkToMarketEquity(t *testing.T) {
	p, bus := newPortfolio()

	publishFill(bus, "f1", types.OrderSideBuy, 100, 50)
	publishBar(bus, "MINI", 0, 55)

	// 100000 - 5000 cash + 100 * 55 marked
	if !p.Equity().Equal(decimal.NewFromInt(100500)) {
		t.Errorf("equity = %s, want 100500", p.Equity())
	}
}

func TestPortfolioUpdatePublishedOnFillAndBar(t *testing.T) {
	p, bus := newPortfolio()
	_ = p

	count := 0
	bus.Subscribe(events.EventTypePortfolioUpdate, func(events.Event) error {
		count++
		return nil
	})

	publishFill(bus, "f1", types.OrderSideBuy, 10, 50)
	publishBar(bus, "MINI", 0, 50)

	if count != 2 {
		t.Errorf("expected updates on both fill and bar, got %d", count)
	}
}

func TestResetRestoresInitialState(t *testing.T) {
	p, bus := newPortfolio()

	publishFill(bus, "f1", types.OrderSideBuy, 100, 50)
	publishBar(bus, "MINI", 0, 55)

	p.Reset()
	if !p.Cash().Equal(decimal.NewFromInt(100000)) {
		t.Errorf("cash after reset = %s", p.Cash())
	}
	if len(p.Positions()) != 0 {
		t.Errorf("positions should be cleared")
	}
	if len(p.EquityCurve()) != 0 {
		t.Errorf("equity curve should be cleared")
	}
	if !p.RealizedPnL().IsZero() {
		t.Errorf("realized should be cleared")
	}
}
