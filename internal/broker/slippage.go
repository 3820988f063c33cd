package broker

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// SlippageModel adjusts an execution price adversely to the taker: buys
// fill higher, sells fill lower.
type SlippageModel interface {
	Name() string
	Adjust(side types.OrderSide, price, quantity decimal.Decimal, bar *types.Bar) decimal.Decimal
	// Reset restores the model's deterministic state for a fresh run.
	Reset()
}

// NewSlippageModel builds the configured slippage model.
func NewSlippageModel(cfg types.SlippageConfig) (SlippageModel, error) {
	switch cfg.Model {
	case "", types.SlippageNone:
		return &noSlippage{}, nil
	case types.SlippageFixed:
		return &fixedSlippage{basisPoints: cfg.BasisPoints}, nil
	case types.SlippageVariable:
		m := &variableSlippage{
			baseBps:          cfg.BaseBps,
			sizeImpact:       cfg.SizeImpact,
			volatilityImpact: cfg.VolatilityImpact,
			randomFactor:     cfg.RandomFactor,
			seed:             cfg.Seed,
		}
		m.Reset()
		return m, nil
	default:
		return nil, fmt.Errorf("unknown slippage model %q", cfg.Model)
	}
}

func applyBps(side types.OrderSide, price, bps decimal.Decimal) decimal.Decimal {
	adj := price.Mul(bps).Div(decimal.NewFromInt(10000))
	if side == types.OrderSideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

type noSlippage struct{}

func (m *noSlippage) Name() string { return string(types.SlippageNone) }
func (m *noSlippage) Adjust(_ types.OrderSide, price, _ decimal.Decimal, _ *types.Bar) decimal.Decimal {
	return price
}
func (m *noSlippage) Reset() {}

type fixedSlippage struct {
	basisPoints decimal.Decimal
}

func (m *fixedSlippage) Name() string { return string(types.SlippageFixed) }
func (m *fixedSlippage) Adjust(side types.OrderSide, price, _ decimal.Decimal, _ *types.Bar) decimal.Decimal {
	return applyBps(side, price, m.basisPoints)
}
func (m *fixedSlippage) Reset() {}

// variableSlippage scales with order size relative to bar volume and with
// the bar's range, plus an optional seeded random component. Reset reseeds
// the generator so two runs over the same data produce the same fills.
type variableSlippage struct {
	baseBps          decimal.Decimal
	sizeImpact       decimal.Decimal
	volatilityImpact decimal.Decimal
	randomFactor     decimal.Decimal
	seed             int64
	rng              *rand.Rand
}

func (m *variableSlippage) Name() string { return string(types.SlippageVariable) }

func (m *variableSlippage) Adjust(side types.OrderSide, price, quantity decimal.Decimal, bar *types.Bar) decimal.Decimal {
	bps := m.baseBps

	if m.sizeImpact.IsPositive() && bar != nil && bar.Volume.IsPositive() {
		participation := quantity.Div(bar.Volume)
		bps = bps.Add(m.sizeImpact.Mul(participation).Mul(decimal.NewFromInt(10000)))
	}
	if m.volatilityImpact.IsPositive() && bar != nil && bar.Close.IsPositive() {
		barRange := bar.High.Sub(bar.Low).Div(bar.Close)
		bps = bps.Add(m.volatilityImpact.Mul(barRange).Mul(decimal.NewFromInt(10000)))
	}
	if m.randomFactor.IsPositive() {
		noise := decimal.NewFromFloat(m.rng.Float64())
		bps = bps.Add(m.randomFactor.Mul(noise))
	}
	return applyBps(side, price, bps)
}

func (m *variableSlippage) Reset() {
	m.rng = rand.New(rand.NewSource(m.seed))
}
