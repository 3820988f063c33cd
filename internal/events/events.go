// Package events defines the typed events flowing through the backtest
// pipeline and the bus that carries them.
package events

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// EventType is the category of an event. The set is closed.
type EventType string

const (
	EventTypeBar              EventType = "bar"
	EventTypeSignal           EventType = "signal"
	EventTypeOrder            EventType = "order"
	EventTypeFill             EventType = "fill"
	EventTypeOrderStateChange EventType = "order_state_change"
	EventTypePortfolioUpdate  EventType = "portfolio_update"
	EventTypeBacktestStart    EventType = "backtest_start"
	EventTypeBacktestEnd      EventType = "backtest_end"
)

// Event is the universal envelope. Events are value-like after construction
// except for the consumed flag, which lets a handler short-circuit the
// remaining handlers of the same dispatch.
type Event interface {
	GetID() string
	GetType() EventType
	// GetTimestamp is the logical timestamp, taken from the market bar that
	// caused the event, never from the wall clock.
	GetTimestamp() time.Time
	// DedupKey returns the bus deduplication key, or "" when the event type
	// has none.
	DedupKey() string
	Consumed() bool
	MarkConsumed()
}

// BaseEvent provides the common envelope fields.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	consumed  bool
}

func (e *BaseEvent) GetID() string           { return e.ID }
func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) DedupKey() string        { return "" }
func (e *BaseEvent) Consumed() bool          { return e.consumed }
func (e *BaseEvent) MarkConsumed()           { e.consumed = true }

var eventCounter atomic.Int64

func generateEventID() string {
	return fmt.Sprintf("evt_%d", eventCounter.Add(1))
}

func newBase(t EventType, ts time.Time) BaseEvent {
	return BaseEvent{ID: generateEventID(), Type: t, Timestamp: ts}
}

// BarEvent carries one OHLCV bar.
type BarEvent struct {
	BaseEvent
	Bar *types.Bar `json:"bar"`
}

// NewBarEvent creates a bar event stamped with the bar's own timestamp.
func NewBarEvent(bar *types.Bar) *BarEvent {
	return &BarEvent{BaseEvent: newBase(EventTypeBar, bar.Timestamp), Bar: bar}
}

// SignalEvent carries a strategy signal. Its dedup key is the rule id, the
// single authoritative barrier against duplicate signals.
type SignalEvent struct {
	BaseEvent
	Signal *types.Signal `json:"signal"`
}

func (e *SignalEvent) DedupKey() string { return "signal:" + e.Signal.RuleID }

// NewSignalEvent creates a signal event.
func NewSignalEvent(sig *types.Signal) *SignalEvent {
	return &SignalEvent{BaseEvent: newBase(EventTypeSignal, sig.Timestamp), Signal: sig}
}

// OrderEvent carries a newly created order toward the registry.
type OrderEvent struct {
	BaseEvent
	Order *types.Order `json:"order"`
}

func (e *OrderEvent) DedupKey() string { return "order:" + e.Order.ID }

// NewOrderEvent creates an order event.
func NewOrderEvent(order *types.Order) *OrderEvent {
	return &OrderEvent{BaseEvent: newBase(EventTypeOrder, order.CreatedAt), Order: order}
}

// FillEvent carries an execution confirmation.
type FillEvent struct {
	BaseEvent
	Fill *types.Fill `json:"fill"`
}

func (e *FillEvent) DedupKey() string { return "fill:" + e.Fill.ID }

// NewFillEvent creates a fill event.
func NewFillEvent(fill *types.Fill) *FillEvent {
	return &FillEvent{BaseEvent: newBase(EventTypeFill, fill.Timestamp), Fill: fill}
}

// OrderStateChangeEvent announces one transition of the order state
// machine. Consumers hold the order id only; order records stay with the
// registry.
type OrderStateChangeEvent struct {
	BaseEvent
	Change types.OrderStateChange `json:"change"`
}

// NewOrderStateChangeEvent creates an order state change event.
func NewOrderStateChangeEvent(change types.OrderStateChange) *OrderStateChangeEvent {
	return &OrderStateChangeEvent{BaseEvent: newBase(EventTypeOrderStateChange, change.Timestamp), Change: change}
}

// PortfolioUpdateEvent carries a portfolio snapshot.
type PortfolioUpdateEvent struct {
	BaseEvent
	Update *types.PortfolioUpdate `json:"update"`
}

// NewPortfolioUpdateEvent creates a portfolio update event.
func NewPortfolioUpdateEvent(update *types.PortfolioUpdate) *PortfolioUpdateEvent {
	return &PortfolioUpdateEvent{BaseEvent: newBase(EventTypePortfolioUpdate, update.Timestamp), Update: update}
}

// BacktestStartEvent marks the beginning of a run.
type BacktestStartEvent struct {
	BaseEvent
	RunID string `json:"runId"`
}

// NewBacktestStartEvent creates a backtest start event.
func NewBacktestStartEvent(runID string, ts time.Time) *BacktestStartEvent {
	return &BacktestStartEvent{BaseEvent: newBase(EventTypeBacktestStart, ts), RunID: runID}
}

// BacktestEndEvent marks the end of a run, normal or cancelled.
type BacktestEndEvent struct {
	BaseEvent
	RunID  string `json:"runId"`
	Reason string `json:"reason"`
}

// NewBacktestEndEvent creates a backtest end event.
func NewBacktestEndEvent(runID, reason string, ts time.Time) *BacktestEndEvent {
	return &BacktestEndEvent{BaseEvent: newBase(EventTypeBacktestEnd, ts), RunID: runID, Reason: reason}
}
