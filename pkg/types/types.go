// Package types provides shared type definitions for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus represents the status of an order.
//
// Valid transitions: created -> pending -> {partial -> filled, filled,
// rejected, canceled}. Partial may re-enter itself with increasing filled
// quantity. Filled, rejected and canceled are terminal.
type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "created"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusCanceled OrderStatus = "canceled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled:
		return true
	}
	return false
}

// OrderAction distinguishes orders that open exposure from orders that
// close it.
type OrderAction string

const (
	OrderActionOpen  OrderAction = "open"
	OrderActionClose OrderAction = "close"
)

// Bar is a single OHLCV record at one timestamp for one symbol.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is a strategy's directional opinion for one symbol, keyed by a
// deterministic rule id.
type Signal struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Direction int             `json:"direction"` // +1 long, -1 short, 0 flat
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	RuleID    string          `json:"ruleId"`
	Strategy  string          `json:"strategy"`
}

// Order is a broker-bound instruction. Quantity is always positive;
// direction lives in Side.
type Order struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Type         OrderType       `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	LimitPrice   decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice    decimal.Decimal `json:"stopPrice,omitempty"`
	Status       OrderStatus     `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	RuleID       string          `json:"ruleId"`
	Action       OrderAction     `json:"action"`
	FilledQty    decimal.Decimal `json:"filledQty"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Commission   decimal.Decimal `json:"commission"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Fill confirms partial or full execution of an order.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"orderId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
	Commission decimal.Decimal `json:"commission"`
	RuleID     string          `json:"ruleId"`
}

// OrderStateChange is one entry of the order audit log.
type OrderStateChange struct {
	OrderID   string          `json:"orderId"`
	From      OrderStatus     `json:"from"`
	To        OrderStatus     `json:"to"`
	Reason    string          `json:"reason,omitempty"`
	FilledQty decimal.Decimal `json:"filledQty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Transaction is one position-affecting execution, recorded on the
// position's log.
type Transaction struct {
	FillID      string          `json:"fillId"`
	OrderID     string          `json:"orderId"`
	Side        OrderSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// PositionSnapshot is a read-only copy of a position. Quantity is signed:
// positive long, negative short, zero flat.
type PositionSnapshot struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	MarkPrice   decimal.Decimal `json:"markPrice"`
	MarketValue decimal.Decimal `json:"marketValue"`
}

// PortfolioUpdate is the payload of a PORTFOLIO_UPDATE event.
type PortfolioUpdate struct {
	Timestamp   time.Time                   `json:"timestamp"`
	Cash        decimal.Decimal             `json:"cash"`
	Equity      decimal.Decimal             `json:"equity"`
	RealizedPnL decimal.Decimal             `json:"realizedPnl"`
	Positions   map[string]PositionSnapshot `json:"positions"`
}

// EquityCurvePoint is one sample of the equity curve.
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
}

// RunCounters surfaces contained failures of a run as summary counts.
type RunCounters struct {
	SignalsDeduped     int64 `json:"signalsDeduped"`
	EventsDeduped      int64 `json:"eventsDeduped"`
	OrdersRejected     int64 `json:"ordersRejected"`
	OrdersSuppressed   int64 `json:"ordersSuppressed"`
	HandlerErrors      int64 `json:"handlerErrors"`
	InvalidTransitions int64 `json:"invalidTransitions"`
}

// PerformanceMetrics summarizes a completed run.
type PerformanceMetrics struct {
	TotalReturn      decimal.Decimal `json:"totalReturn"`
	AnnualizedReturn decimal.Decimal `json:"annualizedReturn"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	SharpeRatio      decimal.Decimal `json:"sharpeRatio"`
	WinRate          decimal.Decimal `json:"winRate"`
	ProfitFactor     decimal.Decimal `json:"profitFactor"`
	TotalTrades      int             `json:"totalTrades"`
	WinningTrades    int             `json:"winningTrades"`
	LosingTrades     int             `json:"losingTrades"`
}

// BacktestResult aggregates everything a run produced.
type BacktestResult struct {
	RunID           string                      `json:"runId"`
	InitialCapital  decimal.Decimal             `json:"initialCapital"`
	FinalCash       decimal.Decimal             `json:"finalCash"`
	FinalEquity     decimal.Decimal             `json:"finalEquity"`
	RealizedPnL     decimal.Decimal             `json:"realizedPnl"`
	Commission      decimal.Decimal             `json:"commission"`
	EquityCurve     []EquityCurvePoint          `json:"equityCurve"`
	Trades          []Fill                      `json:"trades"`
	Orders          []Order                     `json:"orders"`
	OrderStateLog   []OrderStateChange          `json:"orderStateLog"`
	Positions       map[string]PositionSnapshot `json:"positions"`
	Counters        RunCounters                 `json:"counters"`
	Metrics         *PerformanceMetrics         `json:"metrics,omitempty"`
	BarsProcessed   int                         `json:"barsProcessed"`
	Cancelled       bool                        `json:"cancelled"`
	StartedAt       time.Time                   `json:"startedAt"`
	CompletedAt     time.Time                   `json:"completedAt"`
	Duration        time.Duration               `json:"duration"`
	EventsPublished int64                       `json:"eventsPublished"`
}

// BacktestProgress reports the state of a running backtest.
type BacktestProgress struct {
	RunID         string          `json:"runId"`
	Status        string          `json:"status"` // running, completed, failed, cancelled
	BarsProcessed int             `json:"barsProcessed"`
	TotalBars     int             `json:"totalBars"`
	CurrentTime   time.Time       `json:"currentTime"`
	CurrentEquity decimal.Decimal `json:"currentEquity"`
	Error         string          `json:"error,omitempty"`
}
