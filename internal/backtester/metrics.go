package backtester

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

const tradingDaysPerYear = 252

// CalculateMetrics summarizes a completed run from its equity curve and
// the realized transactions.
func CalculateMetrics(initialCapital decimal.Decimal, curve []types.EquityCurvePoint, transactions []types.Transaction) *types.PerformanceMetrics {
	m := &types.PerformanceMetrics{}
	if len(curve) == 0 || initialCapital.LessThanOrEqual(decimal.Zero) {
		return m
	}

	final := curve[len(curve)-1].Equity
	m.TotalReturn = final.Sub(initialCapital).Div(initialCapital)
	m.AnnualizedReturn = annualize(m.TotalReturn, curve[0].Timestamp, curve[len(curve)-1].Timestamp)
	m.MaxDrawdown = maxDrawdown(curve)
	m.SharpeRatio = sharpe(curve)

	wins, losses := decimal.Zero, decimal.Zero
	for _, tx := range transactions {
		if tx.RealizedPnL.IsZero() {
			continue
		}
		m.TotalTrades++
		if tx.RealizedPnL.IsPositive() {
			m.WinningTrades++
			wins = wins.Add(tx.RealizedPnL)
		} else {
			m.LosingTrades++
			losses = losses.Add(tx.RealizedPnL.Abs())
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades)))
	}
	if losses.IsPositive() {
		m.ProfitFactor = wins.Div(losses)
	}
	return m
}

func annualize(totalReturn decimal.Decimal, start, end time.Time) decimal.Decimal {
	days := end.Sub(start).Hours() / 24
	if days < 1 {
		days = 1
	}
	years := days / 365.25
	r, _ := totalReturn.Float64()
	if years <= 0 || r <= -1 {
		return totalReturn
	}
	return decimal.NewFromFloat(math.Pow(1+r, 1/years) - 1)
}

func maxDrawdown(curve []types.EquityCurvePoint) decimal.Decimal {
	peak := curve[0].Equity
	worst := decimal.Zero
	for _, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(point.Equity).Div(peak)
			if dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe computes the annualized Sharpe ratio over per-sample returns with
// a zero risk-free rate.
func sharpe(curve []types.EquityCurvePoint) decimal.Decimal {
	if len(curve) < 3 {
		return decimal.Zero
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return decimal.Zero
	}

	return decimal.NewFromFloat(mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear))
}
