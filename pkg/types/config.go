// Package types provides configuration types for the backtest engine.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SizingMethod selects how the risk manager sizes open orders.
type SizingMethod string

const (
	SizingFixed            SizingMethod = "fixed"
	SizingPercentEquity    SizingMethod = "percent_equity"
	SizingPercentRisk      SizingMethod = "percent_risk"
	SizingVolatilityTarget SizingMethod = "volatility_target"
)

// FillModel selects the price a market order fills at.
type FillModel string

const (
	FillModelNextOpen     FillModel = "next_open"
	FillModelCurrentClose FillModel = "current_close"
)

// SlippageModelName selects the slippage model.
type SlippageModelName string

const (
	SlippageNone     SlippageModelName = "none"
	SlippageFixed    SlippageModelName = "fixed"
	SlippageVariable SlippageModelName = "variable"
)

// CommissionModelName selects the commission model.
type CommissionModelName string

const (
	CommissionNone       CommissionModelName = "none"
	CommissionPercentage CommissionModelName = "percentage"
	CommissionFixed      CommissionModelName = "fixed"
	CommissionPerShare   CommissionModelName = "per_share"
	CommissionTiered     CommissionModelName = "tiered"
)

// BacktestConfig is the full configuration of one run.
type BacktestConfig struct {
	RunID          string          `json:"runId" mapstructure:"run_id"`
	Symbols        []string        `json:"symbols" mapstructure:"symbols"`
	InitialCapital decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`

	ClosePositionsEOD bool `json:"closePositionsEod" mapstructure:"close_positions_eod"`
	CloseAtEnd        bool `json:"closeAtEnd" mapstructure:"close_at_end"`

	Strategy StrategyConfig `json:"strategy" mapstructure:"strategy"`
	Risk     RiskConfig     `json:"risk" mapstructure:"risk"`
	Broker   BrokerConfig   `json:"broker" mapstructure:"broker"`
	Data     DataConfig     `json:"data" mapstructure:"data"`
}

// StrategyConfig names the strategy to run and its parameters.
type StrategyConfig struct {
	Name       string             `json:"name" mapstructure:"name"`
	Parameters map[string]float64 `json:"parameters" mapstructure:"parameters"`
}

// RiskConfig configures sizing and limits.
type RiskConfig struct {
	Sizing SizingConfig `json:"sizing" mapstructure:"sizing"`
	Limits RiskLimits   `json:"limits" mapstructure:"limits"`
}

// SizingConfig parameterizes the configured sizing method. Only the fields
// relevant to Method are consulted.
type SizingConfig struct {
	Method       SizingMethod    `json:"method" mapstructure:"method"`
	Quantity     decimal.Decimal `json:"quantity" mapstructure:"quantity"`
	Percent      decimal.Decimal `json:"percent" mapstructure:"percent"`
	RiskPercent  decimal.Decimal `json:"riskPercent" mapstructure:"risk_percent"`
	StopDistance decimal.Decimal `json:"stopDistance" mapstructure:"stop_distance"`
	TargetVol    decimal.Decimal `json:"targetVol" mapstructure:"target_vol"`
	RealizedVol  decimal.Decimal `json:"realizedVol" mapstructure:"realized_vol"`
}

// RiskLimits are hard limits enforced before order emission.
type RiskLimits struct {
	MaxPositions          int             `json:"maxPositions" mapstructure:"max_positions"`
	MaxPositionSize       decimal.Decimal `json:"maxPositionSize" mapstructure:"max_position_size"`
	MaxExposure           decimal.Decimal `json:"maxExposure" mapstructure:"max_exposure"`
	EnforceSinglePosition bool            `json:"enforceSinglePosition" mapstructure:"enforce_single_position"`
}

// BrokerConfig configures the simulated broker.
type BrokerConfig struct {
	FillModel        FillModel        `json:"fillModel" mapstructure:"fill_model"`
	Slippage         SlippageConfig   `json:"slippage" mapstructure:"slippage"`
	Commission       CommissionConfig `json:"commission" mapstructure:"commission"`
	MaxParticipation decimal.Decimal  `json:"maxParticipation" mapstructure:"max_participation"`
}

// SlippageConfig parameterizes the slippage model.
type SlippageConfig struct {
	Model            SlippageModelName `json:"model" mapstructure:"model"`
	BasisPoints      decimal.Decimal   `json:"basisPoints" mapstructure:"basis_points"`
	BaseBps          decimal.Decimal   `json:"baseBps" mapstructure:"base_bps"`
	SizeImpact       decimal.Decimal   `json:"sizeImpact" mapstructure:"size_impact"`
	VolatilityImpact decimal.Decimal   `json:"volatilityImpact" mapstructure:"volatility_impact"`
	RandomFactor     decimal.Decimal   `json:"randomFactor" mapstructure:"random_factor"`
	Seed             int64             `json:"seed" mapstructure:"seed"`
}

// CommissionTier is one rung of a tiered commission schedule, applying to
// notional order values up to UpTo (zero UpTo = no upper bound).
type CommissionTier struct {
	UpTo decimal.Decimal `json:"upTo" mapstructure:"up_to"`
	Rate decimal.Decimal `json:"rate" mapstructure:"rate"`
}

// CommissionConfig parameterizes the commission model.
type CommissionConfig struct {
	Model    CommissionModelName `json:"model" mapstructure:"model"`
	Rate     decimal.Decimal     `json:"rate" mapstructure:"rate"`
	Min      decimal.Decimal     `json:"min" mapstructure:"min"`
	Max      decimal.Decimal     `json:"max" mapstructure:"max"`
	PerTrade decimal.Decimal     `json:"perTrade" mapstructure:"per_trade"`
	PerShare decimal.Decimal     `json:"perShare" mapstructure:"per_share"`
	Tiers    []CommissionTier    `json:"tiers" mapstructure:"tiers"`
}

// DataConfig locates the historical data on disk.
type DataConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	TimestampFormat string `json:"timestampFormat" mapstructure:"timestamp_format"`
}

// Validate checks required fields and value ranges. Validation failures are
// fatal before a run starts.
func (c *BacktestConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is required")
	}
	if c.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("initial_capital must be > 0")
	}
	switch c.Risk.Sizing.Method {
	case "", SizingFixed, SizingPercentEquity, SizingPercentRisk, SizingVolatilityTarget:
	default:
		return fmt.Errorf("risk.sizing.method %q is not recognized", c.Risk.Sizing.Method)
	}
	switch c.Broker.FillModel {
	case "", FillModelNextOpen, FillModelCurrentClose:
	default:
		return fmt.Errorf("broker.fill_model %q is not recognized", c.Broker.FillModel)
	}
	switch c.Broker.Slippage.Model {
	case "", SlippageNone, SlippageFixed, SlippageVariable:
	default:
		return fmt.Errorf("broker.slippage.model %q is not recognized", c.Broker.Slippage.Model)
	}
	switch c.Broker.Commission.Model {
	case "", CommissionNone, CommissionPercentage, CommissionFixed, CommissionPerShare, CommissionTiered:
	default:
		return fmt.Errorf("broker.commission.model %q is not recognized", c.Broker.Commission.Model)
	}
	if c.Broker.MaxParticipation.IsNegative() {
		return fmt.Errorf("broker.max_participation must be >= 0")
	}
	if c.Risk.Limits.MaxPositions < 0 {
		return fmt.Errorf("risk.limits.max_positions must be >= 0")
	}
	return nil
}

// ApplyDefaults fills unset optional fields.
func (c *BacktestConfig) ApplyDefaults() {
	if c.Risk.Sizing.Method == "" {
		c.Risk.Sizing.Method = SizingFixed
	}
	if c.Risk.Sizing.Method == SizingFixed && c.Risk.Sizing.Quantity.IsZero() {
		c.Risk.Sizing.Quantity = decimal.NewFromInt(1)
	}
	if c.Broker.FillModel == "" {
		c.Broker.FillModel = FillModelNextOpen
	}
	if c.Broker.Slippage.Model == "" {
		c.Broker.Slippage.Model = SlippageNone
	}
	if c.Broker.Commission.Model == "" {
		c.Broker.Commission.Model = CommissionNone
	}
	if c.Data.TimestampFormat == "" {
		c.Data.TimestampFormat = "2006-01-02 15:04:05"
	}
}
