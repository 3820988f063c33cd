package strategy_test

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/internal/strategy"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

// scripted replays a fixed direction sequence, one entry per bar.
type scripted struct {
	dirs []int
	pos  int
}

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) OnBar(*types.Bar) int {
	if s.pos >= len(s.dirs) {
		return 0
	}
	d := s.dirs[s.pos]
	s.pos++
	return d
}
func (s *scripted) Reset()                                  { s.pos = 0 }
func (s *scripted) Parameters() map[string]float64          { return nil }
func (s *scripted) SetParameters(map[string]float64) error  { return nil }
func (s *scripted) ParameterSpace() map[string][]float64    { return nil }

func TestAdapterEmitsSignalsWithRuleIDs(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 0)
	adapter := strategy.NewAdapter(zap.NewNop(), bus, &scripted{dirs: []int{0, 1, 0, -1}})
	adapter.Bind(20)

	var signals []*types.Signal
	bus.Subscribe(events.EventTypeSignal, func(ev events.Event) error {
		signals = append(signals, ev.(*events.SignalEvent).Signal)
		return nil
	})

	for i := 0; i < 4; i++ {
		bus.Publish(events.NewBarEvent(barAt("MINI", i, 100)))
	}

	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Direction != 1 || signals[1].Direction != -1 {
		t.Errorf("directions wrong: %+v", signals)
	}
	if !strings.HasPrefix(signals[0].RuleID, "scripted_MINI_BUY_group_") {
		t.Errorf("long rule id malformed: %s", signals[0].RuleID)
	}
	if !strings.HasPrefix(signals[1].RuleID, "scripted_MINI_SELL_group_") {
		t.Errorf("short rule id malformed: %s", signals[1].RuleID)
	}
	if adapter.SignalsEmitted() != 2 {
		t.Errorf("SignalsEmitted = %d", adapter.SignalsEmitted())
	}
}

func TestAdapterUsesBarCloseAndTimestamp(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 0)
	adapter := strategy.NewAdapter(zap.NewNop(), bus, &scripted{dirs: []int{1}})
	adapter.Bind(20)

	var got *types.Signal
	bus.Subscribe(events.EventTypeSignal, func(ev events.Event) error {
		got = ev.(*events.SignalEvent).Signal
		return nil
	})

	b := barAt("MINI", 7, 123.45)
	bus.Publish(events.NewBarEvent(b))

	if got == nil {
		t.Fatal("no signal emitted")
	}
	if !got.Price.Equal(b.Close) {
		t.Errorf("signal price %s, want bar close %s", got.Price, b.Close)
	}
	if !got.Timestamp.Equal(b.Timestamp) {
		t.Errorf("signal timestamp %v, want bar timestamp %v", got.Timestamp, b.Timestamp)
	}
}

func TestAdapterResetRestartsStrategy(t *testing.T) {
	strat := &scripted{dirs: []int{1}}
	bus := events.NewBus(zap.NewNop(), 0)
	adapter := strategy.NewAdapter(zap.NewNop(), bus, strat)
	adapter.Bind(20)

	count := 0
	bus.Subscribe(events.EventTypeSignal, func(events.Event) error {
		count++
		return nil
	})

	bus.Publish(events.NewBarEvent(barAt("MINI", 0, 100)))
	adapter.Reset()
	bus.Reset()
	bus.Publish(events.NewBarEvent(barAt("MINI", 0, 100)))

	if count != 2 {
		t.Errorf("expected the strategy to replay after reset, got %d signals", count)
	}
	if adapter.SignalsEmitted() != 1 {
		t.Errorf("counter should restart at reset, got %d", adapter.SignalsEmitted())
	}
}

func TestAdapterUnbindStopsSignals(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 0)
	adapter := strategy.NewAdapter(zap.NewNop(), bus, &scripted{dirs: []int{1, 1}})
	adapter.Bind(20)

	count := 0
	bus.Subscribe(events.EventTypeSignal, func(events.Event) error {
		count++
		return nil
	})

	bus.Publish(events.NewBarEvent(barAt("MINI", 0, 100)))
	adapter.Unbind()
	bus.Publish(events.NewBarEvent(barAt("MINI", 1, 100)))

	if count != 1 {
		t.Errorf("expected 1 signal after unbind, got %d", count)
	}
}
