package data_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/data"
)

func TestCSVReadCaseInsensitiveHeader(t *testing.T) {
	input := strings.Join([]string{
		"Timestamp,OPEN,High,low,Close,Volume",
		"2024-01-02 09:30:00,100.5,101,100,100.75,5000",
		"2024-01-02 09:31:00,100.75,102,100.5,101.5,6000",
	}, "\n")

	loader := data.NewCSVLoader(zap.NewNop(), "2006-01-02 15:04:05")
	bars, err := loader.Read(strings.NewReader(input), "MINI")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Symbol != "MINI" {
		t.Errorf("symbol should come from the caller, got %q", bars[0].Symbol)
	}
	if !bars[0].Open.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("open parsed incorrectly: %s", bars[0].Open)
	}
	if !bars[1].Close.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("close parsed incorrectly: %s", bars[1].Close)
	}
	if !bars[1].Timestamp.After(bars[0].Timestamp) {
		t.Error("timestamps should be ascending")
	}
}

func TestCSVReadUnixTimestamps(t *testing.T) {
	input := "timestamp,open,high,low,close,volume\n1704188400,10,11,9,10.5,100\n"
	loader := data.NewCSVLoader(zap.NewNop(), "unix")
	bars, err := loader.Read(strings.NewReader(input), "MINI")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if bars[0].Timestamp.Unix() != 1704188400 {
		t.Errorf("unix timestamp parsed incorrectly: %v", bars[0].Timestamp)
	}
}

func TestCSVReadRejectsMissingColumns(t *testing.T) {
	input := "timestamp,open,close\n2024-01-02 09:30:00,1,2\n"
	loader := data.NewCSVLoader(zap.NewNop(), "")
	if _, err := loader.Read(strings.NewReader(input), "MINI"); err == nil {
		t.Fatal("expected missing columns to be rejected")
	}
}

func TestCSVReadRejectsOutOfOrderRows(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,open,high,low,close,volume",
		"2024-01-02 09:31:00,1,1,1,1,1",
		"2024-01-02 09:30:00,1,1,1,1,1",
	}, "\n")
	loader := data.NewCSVLoader(zap.NewNop(), "")
	if _, err := loader.Read(strings.NewReader(input), "MINI"); err == nil {
		t.Fatal("expected out-of-order rows to be rejected")
	}
}

func TestCSVLoadDirSymbolFromFilename(t *testing.T) {
	dir := t.TempDir()
	content := "timestamp,open,high,low,close,volume\n2024-01-02 09:30:00,1,1,1,1,1\n"
	if err := os.WriteFile(filepath.Join(dir, "MINI.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := data.NewCSVLoader(zap.NewNop(), "")
	perSymbol, err := loader.LoadDir(dir, []string{"MINI"})
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(perSymbol["MINI"]) != 1 {
		t.Fatalf("expected 1 bar for MINI, got %d", len(perSymbol["MINI"]))
	}
}
