// Package risk translates signals into orders: sizing, limits and the
// second line of rule-id idempotence.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// Sizer maps price and account equity to an order quantity. A zero
// quantity suppresses order emission.
type Sizer interface {
	Name() string
	Quantity(price, equity decimal.Decimal) decimal.Decimal
}

// NewSizer builds the configured sizer.
func NewSizer(cfg types.SizingConfig) (Sizer, error) {
	switch cfg.Method {
	case "", types.SizingFixed:
		return &fixedSizer{quantity: cfg.Quantity}, nil
	case types.SizingPercentEquity:
		return &percentEquitySizer{percent: cfg.Percent}, nil
	case types.SizingPercentRisk:
		return &percentRiskSizer{riskPercent: cfg.RiskPercent, stopDistance: cfg.StopDistance}, nil
	case types.SizingVolatilityTarget:
		return &volatilityTargetSizer{targetVol: cfg.TargetVol, realizedVol: cfg.RealizedVol}, nil
	default:
		return nil, fmt.Errorf("unknown sizing method %q", cfg.Method)
	}
}

type fixedSizer struct {
	quantity decimal.Decimal
}

func (s *fixedSizer) Name() string { return string(types.SizingFixed) }

func (s *fixedSizer) Quantity(_, _ decimal.Decimal) decimal.Decimal {
	if s.quantity.IsNegative() {
		return decimal.Zero
	}
	return s.quantity
}

type percentEquitySizer struct {
	percent decimal.Decimal // fraction of equity, e.g. 0.1 for 10%
}

func (s *percentEquitySizer) Name() string { return string(types.SizingPercentEquity) }

func (s *percentEquitySizer) Quantity(price, equity decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) || s.percent.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return equity.Mul(s.percent).Div(price).Floor()
}

type percentRiskSizer struct {
	riskPercent  decimal.Decimal // fraction of equity risked per trade
	stopDistance decimal.Decimal // price distance to the protective stop
}

func (s *percentRiskSizer) Name() string { return string(types.SizingPercentRisk) }

func (s *percentRiskSizer) Quantity(_, equity decimal.Decimal) decimal.Decimal {
	if s.stopDistance.LessThanOrEqual(decimal.Zero) || s.riskPercent.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return equity.Mul(s.riskPercent).Div(s.stopDistance).Floor()
}

type volatilityTargetSizer struct {
	targetVol   decimal.Decimal
	realizedVol decimal.Decimal
}

func (s *volatilityTargetSizer) Name() string { return string(types.SizingVolatilityTarget) }

func (s *volatilityTargetSizer) Quantity(price, equity decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) || s.realizedVol.LessThanOrEqual(decimal.Zero) ||
		s.targetVol.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	notional := equity.Mul(s.targetVol).Div(s.realizedVol)
	return notional.Div(price).Floor()
}
