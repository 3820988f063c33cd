package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/internal/config"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `
symbols: [MINI]
initial_capital: 100000
close_positions_eod: true
strategy:
  name: ma_crossover
  parameters:
    fast_window: 5
    slow_window: 15
risk:
  sizing:
    method: fixed
    quantity: 10
  limits:
    enforce_single_position: true
broker:
  fill_model: next_open
  slippage:
    model: fixed
    basis_points: 5
  commission:
    model: percentage
    rate: 0.001
data:
  dir: ./testdata
  timestamp_format: "2006-01-02 15:04:05"
`

func TestLoadYAML(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "MINI" {
		t.Errorf("symbols = %v", cfg.Symbols)
	}
	if !cfg.InitialCapital.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("initial capital = %s", cfg.InitialCapital)
	}
	if !cfg.ClosePositionsEOD {
		t.Error("close_positions_eod should be true")
	}
	if cfg.Strategy.Name != "ma_crossover" || cfg.Strategy.Parameters["slow_window"] != 15 {
		t.Errorf("strategy = %+v", cfg.Strategy)
	}
	if cfg.Risk.Sizing.Method != types.SizingFixed || !cfg.Risk.Sizing.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("sizing = %+v", cfg.Risk.Sizing)
	}
	if !cfg.Risk.Limits.EnforceSinglePosition {
		t.Error("enforce_single_position should be true")
	}
	if cfg.Broker.FillModel != types.FillModelNextOpen {
		t.Errorf("fill model = %s", cfg.Broker.FillModel)
	}
	if !cfg.Broker.Slippage.BasisPoints.Equal(decimal.NewFromInt(5)) {
		t.Errorf("slippage bps = %s", cfg.Broker.Slippage.BasisPoints)
	}
	if !cfg.Broker.Commission.Rate.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("commission rate = %s", cfg.Broker.Commission.Rate)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "symbols: [MINI]\ninitial_capital: 1000\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Risk.Sizing.Method != types.SizingFixed {
		t.Errorf("default sizing method = %s", cfg.Risk.Sizing.Method)
	}
	if !cfg.Risk.Sizing.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("default fixed quantity = %s", cfg.Risk.Sizing.Quantity)
	}
	if cfg.Broker.FillModel != types.FillModelNextOpen {
		t.Errorf("default fill model = %s", cfg.Broker.FillModel)
	}
	if cfg.Broker.Slippage.Model != types.SlippageNone {
		t.Errorf("default slippage = %s", cfg.Broker.Slippage.Model)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "symbols: []\ninitial_capital: 1000\n")); err == nil {
		t.Error("empty symbols should fail validation")
	}
	if _, err := config.Load(writeConfig(t, "symbols: [MINI]\ninitial_capital: -5\n")); err == nil {
		t.Error("negative capital should fail validation")
	}
	if _, err := config.Load(writeConfig(t, "symbols: [MINI]\ninitial_capital: 1000\nbroker:\n  fill_model: psychic\n")); err == nil {
		t.Error("unknown fill model should fail validation")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ADMF_INITIAL_CAPITAL", "250000")
	cfg, err := config.Load(writeConfig(t, "symbols: [MINI]\ninitial_capital: 1000\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.InitialCapital.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("env override not applied, capital = %s", cfg.InitialCapital)
	}
}
