package report_test

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/report"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

func sampleResult() *types.BacktestResult {
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	return &types.BacktestResult{
		RunID:          "run_export",
		InitialCapital: decimal.NewFromInt(100000),
		FinalCash:      decimal.NewFromInt(101000),
		FinalEquity:    decimal.NewFromInt(101000),
		EquityCurve: []types.EquityCurvePoint{
			{Timestamp: ts, Equity: decimal.NewFromInt(100000), Cash: decimal.NewFromInt(100000)},
			{Timestamp: ts.Add(time.Minute), Equity: decimal.NewFromInt(101000), Cash: decimal.NewFromInt(101000)},
		},
		Trades: []types.Fill{{
			ID: "f1", OrderID: "o1", Symbol: "MINI", Side: types.OrderSideBuy,
			Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(100),
			Timestamp: ts, RuleID: "ma_crossover_MINI_BUY_group_20240102_0930_OPEN",
		}},
		OrderStateLog: []types.OrderStateChange{
			{OrderID: "o1", From: types.OrderStatusCreated, To: types.OrderStatusPending, Reason: "registered", Timestamp: ts},
			{OrderID: "o1", From: types.OrderStatusPending, To: types.OrderStatusFilled, Reason: "fill f1", FilledQty: decimal.NewFromInt(10), Timestamp: ts},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestExportWritesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	exporter := report.NewExporter(zap.NewNop(), dir)

	runDir, err := exporter.Export(sampleResult())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if runDir != filepath.Join(dir, "run_export") {
		t.Errorf("run dir = %s", runDir)
	}
	for _, name := range []string{"result.json", "equity_curve.csv", "trades.csv", "order_state_log.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}
}

func TestExportResultJSONRoundTrips(t *testing.T) {
	exporter := report.NewExporter(zap.NewNop(), t.TempDir())
	runDir, err := exporter.Export(sampleResult())
	if err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(runDir, "result.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded types.BacktestResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("result.json does not parse: %v", err)
	}
	if decoded.RunID != "run_export" || !decoded.FinalEquity.Equal(decimal.NewFromInt(101000)) {
		t.Errorf("decoded result = %+v", decoded)
	}
}

func TestExportTradesCSV(t *testing.T) {
	exporter := report.NewExporter(zap.NewNop(), t.TempDir())
	runDir, err := exporter.Export(sampleResult())
	if err != nil {
		t.Fatal(err)
	}

	rows := readCSV(t, filepath.Join(runDir, "trades.csv"))
	if len(rows) != 2 {
		t.Fatalf("trades.csv rows = %d, want header + 1", len(rows))
	}
	if rows[0][8] != "rule_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][3] != "MINI" || rows[1][8] != "ma_crossover_MINI_BUY_group_20240102_0930_OPEN" {
		t.Errorf("trade row = %v", rows[1])
	}
}

func TestExportOrderStateLogCSV(t *testing.T) {
	exporter := report.NewExporter(zap.NewNop(), t.TempDir())
	runDir, err := exporter.Export(sampleResult())
	if err != nil {
		t.Fatal(err)
	}

	rows := readCSV(t, filepath.Join(runDir, "order_state_log.csv"))
	if len(rows) != 3 {
		t.Fatalf("order_state_log.csv rows = %d, want header + 2", len(rows))
	}
	if rows[1][2] != "created" || rows[1][3] != "pending" || rows[1][4] != "registered" {
		t.Errorf("first transition row = %v", rows[1])
	}
	if rows[2][3] != "filled" {
		t.Errorf("second transition row = %v", rows[2])
	}
}
