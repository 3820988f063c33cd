// Package report writes run artifacts to disk: the full result as JSON
// plus CSV extracts of the equity curve, trades and order audit log.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// Exporter writes result artifacts under a directory, one subdirectory
// per run id.
type Exporter struct {
	logger *zap.Logger
	dir    string
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(logger *zap.Logger, dir string) *Exporter {
	return &Exporter{logger: logger, dir: dir}
}

// Export writes every artifact for the result and returns the run's
// output directory.
func (e *Exporter) Export(result *types.BacktestResult) (string, error) {
	runDir := filepath.Join(e.dir, result.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	steps := []struct {
		name string
		fn   func(string, *types.BacktestResult) error
	}{
		{"result.json", e.writeResult},
		{"equity_curve.csv", e.writeEquityCurve},
		{"trades.csv", e.writeTrades},
		{"order_state_log.csv", e.writeOrderStateLog},
	}
	for _, step := range steps {
		if err := step.fn(filepath.Join(runDir, step.name), result); err != nil {
			return "", fmt.Errorf("write %s: %w", step.name, err)
		}
	}

	e.logger.Info("run artifacts written",
		zap.String("run_id", result.RunID),
		zap.String("dir", runDir),
	)
	return runDir, nil
}

func (e *Exporter) writeResult(path string, result *types.BacktestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (e *Exporter) writeEquityCurve(path string, result *types.BacktestResult) error {
	return writeCSV(path, []string{"timestamp", "equity", "cash"}, len(result.EquityCurve), func(i int) []string {
		p := result.EquityCurve[i]
		return []string{p.Timestamp.UTC().Format(time.RFC3339), p.Equity.String(), p.Cash.String()}
	})
}

func (e *Exporter) writeTrades(path string, result *types.BacktestResult) error {
	return writeCSV(path,
		[]string{"timestamp", "fill_id", "order_id", "symbol", "side", "quantity", "price", "commission", "rule_id"},
		len(result.Trades), func(i int) []string {
			t := result.Trades[i]
			return []string{
				t.Timestamp.UTC().Format(time.RFC3339),
				t.ID, t.OrderID, t.Symbol, string(t.Side),
				t.Quantity.String(), t.Price.String(), t.Commission.String(),
				t.RuleID,
			}
		})
}

func (e *Exporter) writeOrderStateLog(path string, result *types.BacktestResult) error {
	return writeCSV(path,
		[]string{"timestamp", "order_id", "from", "to", "reason", "filled_qty"},
		len(result.OrderStateLog), func(i int) []string {
			c := result.OrderStateLog[i]
			return []string{
				c.Timestamp.UTC().Format(time.RFC3339),
				c.OrderID, string(c.From), string(c.To), c.Reason,
				c.FilledQty.String(),
			}
		})
}

func writeCSV(path string, header []string, rows int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
