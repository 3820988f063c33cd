package broker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// CommissionModel computes the commission charged on one fill.
type CommissionModel interface {
	Name() string
	Charge(quantity, price decimal.Decimal) decimal.Decimal
}

// NewCommissionModel builds the configured commission model.
func NewCommissionModel(cfg types.CommissionConfig) (CommissionModel, error) {
	switch cfg.Model {
	case "", types.CommissionNone:
		return &noCommission{}, nil
	case types.CommissionPercentage:
		return &percentageCommission{rate: cfg.Rate, min: cfg.Min, max: cfg.Max}, nil
	case types.CommissionFixed:
		return &fixedCommission{perTrade: cfg.PerTrade}, nil
	case types.CommissionPerShare:
		return &perShareCommission{rate: cfg.PerShare}, nil
	case types.CommissionTiered:
		if len(cfg.Tiers) == 0 {
			return nil, fmt.Errorf("tiered commission requires at least one tier")
		}
		return &tieredCommission{tiers: cfg.Tiers}, nil
	default:
		return nil, fmt.Errorf("unknown commission model %q", cfg.Model)
	}
}

type noCommission struct{}

func (m *noCommission) Name() string { return string(types.CommissionNone) }
func (m *noCommission) Charge(_, _ decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

type percentageCommission struct {
	rate decimal.Decimal
	min  decimal.Decimal
	max  decimal.Decimal
}

func (m *percentageCommission) Name() string { return string(types.CommissionPercentage) }

func (m *percentageCommission) Charge(quantity, price decimal.Decimal) decimal.Decimal {
	c := quantity.Mul(price).Abs().Mul(m.rate)
	if m.min.IsPositive() && c.LessThan(m.min) {
		c = m.min
	}
	if m.max.IsPositive() && c.GreaterThan(m.max) {
		c = m.max
	}
	return c
}

type fixedCommission struct {
	perTrade decimal.Decimal
}

func (m *fixedCommission) Name() string { return string(types.CommissionFixed) }
func (m *fixedCommission) Charge(_, _ decimal.Decimal) decimal.Decimal {
	return m.perTrade
}

type perShareCommission struct {
	rate decimal.Decimal
}

func (m *perShareCommission) Name() string { return string(types.CommissionPerShare) }
func (m *perShareCommission) Charge(quantity, _ decimal.Decimal) decimal.Decimal {
	return quantity.Abs().Mul(m.rate)
}

// tieredCommission picks the rate of the first tier whose UpTo bound
// covers the notional. A zero UpTo is the open-ended top tier.
type tieredCommission struct {
	tiers []types.CommissionTier
}

func (m *tieredCommission) Name() string { return string(types.CommissionTiered) }

func (m *tieredCommission) Charge(quantity, price decimal.Decimal) decimal.Decimal {
	notional := quantity.Mul(price).Abs()
	for _, tier := range m.tiers {
		if tier.UpTo.IsZero() || notional.LessThanOrEqual(tier.UpTo) {
			return notional.Mul(tier.Rate)
		}
	}
	last := m.tiers[len(m.tiers)-1]
	return notional.Mul(last.Rate)
}
