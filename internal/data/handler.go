// Package data provides the historical bar series and the replay handler
// that feeds bars into the event pipeline.
package data

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

// Series is an immutable, merged view over per-symbol bar histories,
// ordered by (timestamp, symbol). Bars with equal timestamps across symbols
// emit in lexical symbol order, so replay order is stable.
type Series struct {
	bars    []*types.Bar
	symbols []string
}

// NewSeries merges per-symbol histories into one timeline. Each symbol's
// bars must already be in non-decreasing timestamp order.
func NewSeries(perSymbol map[string][]*types.Bar) (*Series, error) {
	var merged []*types.Bar
	symbols := make([]string, 0, len(perSymbol))

	for symbol, bars := range perSymbol {
		symbols = append(symbols, symbol)
		for i, bar := range bars {
			if bar.Symbol != symbol {
				return nil, fmt.Errorf("bar %d of %s carries symbol %q", i, symbol, bar.Symbol)
			}
			if i > 0 && bar.Timestamp.Before(bars[i-1].Timestamp) {
				return nil, fmt.Errorf("bars for %s are out of order at index %d", symbol, i)
			}
			merged = append(merged, bar)
		}
	}
	sort.Strings(symbols)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].Symbol < merged[j].Symbol
	})

	return &Series{bars: merged, symbols: symbols}, nil
}

// Len returns the total number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Symbols returns the symbols present, sorted.
func (s *Series) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Handler replays a Series onto the bus one bar at a time. It holds no
// state beyond its cursor; Reset rewinds to the first bar.
type Handler struct {
	logger *zap.Logger
	series *Series
	cursor int
}

// NewHandler creates a replay handler over a series.
func NewHandler(logger *zap.Logger, series *Series) *Handler {
	return &Handler{logger: logger, series: series}
}

// Peek returns the next bar without advancing, or nil when exhausted.
func (h *Handler) Peek() *types.Bar {
	if h.cursor >= len(h.series.bars) {
		return nil
	}
	return h.series.bars[h.cursor]
}

// EmitNext publishes the next bar to the bus and advances the cursor. It
// returns false once the series is exhausted.
func (h *Handler) EmitNext(bus *events.Bus) bool {
	if h.cursor >= len(h.series.bars) {
		return false
	}
	bar := h.series.bars[h.cursor]
	h.cursor++
	bus.Publish(events.NewBarEvent(bar))
	return true
}

// Remaining returns the number of bars not yet emitted.
func (h *Handler) Remaining() int {
	return len(h.series.bars) - h.cursor
}

// TotalBars returns the series length.
func (h *Handler) TotalBars() int {
	return len(h.series.bars)
}

// Reset rewinds the handler to the first bar.
func (h *Handler) Reset() {
	h.cursor = 0
}
