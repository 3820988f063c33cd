package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// CSVLoader reads bar histories from CSV files with columns
// {timestamp, open, high, low, close, volume}. Header matching is
// case-insensitive; the symbol is implicit in the filename
// (e.g. MINI.csv -> MINI).
type CSVLoader struct {
	logger *zap.Logger
	// TimestampFormat is a time.Parse layout, or "unix" for epoch seconds.
	TimestampFormat string
}

// NewCSVLoader creates a loader with the given timestamp layout.
func NewCSVLoader(logger *zap.Logger, timestampFormat string) *CSVLoader {
	if timestampFormat == "" {
		timestampFormat = "2006-01-02 15:04:05"
	}
	return &CSVLoader{logger: logger, TimestampFormat: timestampFormat}
}

// LoadDir loads <symbol>.csv for each requested symbol from dir.
func (l *CSVLoader) LoadDir(dir string, symbols []string) (map[string][]*types.Bar, error) {
	out := make(map[string][]*types.Bar, len(symbols))
	for _, symbol := range symbols {
		path := filepath.Join(dir, symbol+".csv")
		bars, err := l.LoadFile(path, symbol)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		out[symbol] = bars
	}
	return out, nil
}

// LoadFile loads one symbol's bars from a CSV file.
func (l *CSVLoader) LoadFile(path, symbol string) ([]*types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := l.Read(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.logger.Debug("loaded bars",
		zap.String("symbol", symbol),
		zap.String("path", path),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}

// Read parses bars from r for the given symbol.
func (l *CSVLoader) Read(r io.Reader, symbol string) ([]*types.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var bars []*types.Bar
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		bar, err := l.parseRow(record, cols, symbol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(bars) > 0 && bar.Timestamp.Before(bars[len(bars)-1].Timestamp) {
			return nil, fmt.Errorf("line %d: timestamps out of order", line)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type columnIndex struct {
	timestamp, open, high, low, close, volume int
}

func mapColumns(header []string) (columnIndex, error) {
	idx := columnIndex{-1, -1, -1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp", "date", "datetime":
			idx.timestamp = i
		case "open":
			idx.open = i
		case "high":
			idx.high = i
		case "low":
			idx.low = i
		case "close":
			idx.close = i
		case "volume":
			idx.volume = i
		}
	}
	if idx.timestamp < 0 || idx.open < 0 || idx.high < 0 || idx.low < 0 || idx.close < 0 || idx.volume < 0 {
		return idx, fmt.Errorf("header missing one of timestamp/open/high/low/close/volume: %v", header)
	}
	return idx, nil
}

func (l *CSVLoader) parseRow(record []string, cols columnIndex, symbol string) (*types.Bar, error) {
	ts, err := l.parseTimestamp(record[cols.timestamp])
	if err != nil {
		return nil, err
	}

	fields := [5]decimal.Decimal{}
	for i, col := range [5]int{cols.open, cols.high, cols.low, cols.close, cols.volume} {
		d, err := decimal.NewFromString(strings.TrimSpace(record[col]))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", record[col], err)
		}
		fields[i] = d
	}

	return &types.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func (l *CSVLoader) parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if l.TimestampFormat == "unix" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse unix timestamp %q: %w", raw, err)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(l.TimestampFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
