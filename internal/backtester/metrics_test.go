package backtester_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/internal/backtester"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

func curveOf(equities ...int64) []types.EquityCurvePoint {
	points := make([]types.EquityCurvePoint, len(equities))
	for i, e := range equities {
		points[i] = types.EquityCurvePoint{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Equity:    decimal.NewFromInt(e),
		}
	}
	return points
}

func TestMetricsTotalReturn(t *testing.T) {
	m := backtester.CalculateMetrics(decimal.NewFromInt(100000),
		curveOf(100000, 105000, 110000), nil)
	if !m.TotalReturn.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("total return = %s, want 0.1", m.TotalReturn)
	}
}

func TestMetricsMaxDrawdown(t *testing.T) {
	m := backtester.CalculateMetrics(decimal.NewFromInt(100000),
		curveOf(100000, 120000, 90000, 110000), nil)
	// Peak 120000 to trough 90000 is a 25% drawdown.
	if !m.MaxDrawdown.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("max drawdown = %s, want 0.25", m.MaxDrawdown)
	}
}

func TestMetricsWinRateAndProfitFactor(t *testing.T) {
	transactions := []types.Transaction{
		{RealizedPnL: decimal.NewFromInt(300)},
		{RealizedPnL: decimal.NewFromInt(100)},
		{RealizedPnL: decimal.NewFromInt(-200)},
		{RealizedPnL: decimal.Zero}, // opening trade, not a round trip
	}
	m := backtester.CalculateMetrics(decimal.NewFromInt(100000),
		curveOf(100000, 100200), transactions)

	if m.TotalTrades != 3 || m.WinningTrades != 2 || m.LosingTrades != 1 {
		t.Errorf("trade counts wrong: %+v", m)
	}
	want := decimal.NewFromInt(2).Div(decimal.NewFromInt(3))
	if !m.WinRate.Equal(want) {
		t.Errorf("win rate = %s", m.WinRate)
	}
	if !m.ProfitFactor.Equal(decimal.NewFromInt(2)) {
		t.Errorf("profit factor = %s, want 2", m.ProfitFactor)
	}
}

func TestMetricsEmptyCurve(t *testing.T) {
	m := backtester.CalculateMetrics(decimal.NewFromInt(100000), nil, nil)
	if !m.TotalReturn.IsZero() || !m.MaxDrawdown.IsZero() {
		t.Errorf("empty curve should produce zero metrics: %+v", m)
	}
}

func TestMetricsFlatCurveHasZeroSharpe(t *testing.T) {
	m := backtester.CalculateMetrics(decimal.NewFromInt(100000),
		curveOf(100000, 100000, 100000, 100000), nil)
	if !m.SharpeRatio.IsZero() {
		t.Errorf("flat curve sharpe = %s", m.SharpeRatio)
	}
}
