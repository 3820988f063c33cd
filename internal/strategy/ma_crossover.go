package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// MACrossover is the reference moving-average crossover strategy. It is
// edge-triggered: a signal fires only on the bar where the fast average
// crosses the slow one, not while it stays on one side.
type MACrossover struct {
	fastWindow int
	slowWindow int

	state map[string]*maState
}

type maState struct {
	closes  []decimal.Decimal
	lastPos int // -1 fast below slow, +1 fast above, 0 unknown
}

// NewMACrossover creates the strategy with the default windows (5/15).
func NewMACrossover() *MACrossover {
	return &MACrossover{
		fastWindow: 5,
		slowWindow: 15,
		state:      make(map[string]*maState),
	}
}

func (s *MACrossover) Name() string { return "ma_crossover" }

// OnBar feeds one close into the per-symbol windows and reports a
// crossing, if any.
func (s *MACrossover) OnBar(bar *types.Bar) int {
	st, ok := s.state[bar.Symbol]
	if !ok {
		st = &maState{}
		s.state[bar.Symbol] = st
	}

	st.closes = append(st.closes, bar.Close)
	if len(st.closes) > s.slowWindow {
		st.closes = st.closes[len(st.closes)-s.slowWindow:]
	}
	if len(st.closes) < s.slowWindow {
		return 0
	}

	fast := mean(st.closes[len(st.closes)-s.fastWindow:])
	slow := mean(st.closes)

	pos := 0
	switch {
	case fast.GreaterThan(slow):
		pos = 1
	case fast.LessThan(slow):
		pos = -1
	}

	prev := st.lastPos
	if pos != 0 {
		st.lastPos = pos
	}
	if prev != 0 && pos != 0 && pos != prev {
		return pos
	}
	return 0
}

func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// Reset drops all per-symbol indicator state.
func (s *MACrossover) Reset() {
	s.state = make(map[string]*maState)
}

func (s *MACrossover) Parameters() map[string]float64 {
	return map[string]float64{
		"fast_window": float64(s.fastWindow),
		"slow_window": float64(s.slowWindow),
	}
}

func (s *MACrossover) SetParameters(params map[string]float64) error {
	fast, slow := s.fastWindow, s.slowWindow
	if v, ok := params["fast_window"]; ok {
		fast = int(v)
	}
	if v, ok := params["slow_window"]; ok {
		slow = int(v)
	}
	if fast < 1 || slow < 2 || fast >= slow {
		return fmt.Errorf("invalid windows fast=%d slow=%d", fast, slow)
	}
	s.fastWindow, s.slowWindow = fast, slow
	return nil
}

func (s *MACrossover) ParameterSpace() map[string][]float64 {
	return map[string][]float64{
		"fast_window": {3, 5, 8, 10, 12},
		"slow_window": {15, 20, 30, 50},
	}
}
