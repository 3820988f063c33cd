// Package broker tracks the order state machine and simulates execution
// against historical bars.
package broker

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/events"
	"github.com/admf-trader/backtest-engine/internal/metrics"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

// ReasonRegistered tags the CREATED -> PENDING transition published when an
// order passes registry validation. The broker keys its queueing on it.
const ReasonRegistered = "registered"

var validTransitions = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusCreated: {types.OrderStatusPending, types.OrderStatusRejected},
	types.OrderStatusPending: {types.OrderStatusPartial, types.OrderStatusFilled, types.OrderStatusRejected, types.OrderStatusCanceled},
	types.OrderStatusPartial: {types.OrderStatusPartial, types.OrderStatusFilled, types.OrderStatusCanceled},
}

func transitionAllowed(from, to types.OrderStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Registry is the single source of truth for order state. Other components
// hold order ids only; the records live here.
type Registry struct {
	logger *zap.Logger
	bus    *events.Bus

	orders   map[string]*types.Order
	ordering []string
	stateLog []types.OrderStateChange

	rejected           int64
	invalidTransitions int64
}

// NewRegistry creates an order registry.
func NewRegistry(logger *zap.Logger, bus *events.Bus) *Registry {
	return &Registry{
		logger: logger,
		bus:    bus,
		orders: make(map[string]*types.Order),
	}
}

// Bind subscribes the registry to ORDER events.
func (r *Registry) Bind() {
	r.bus.Subscribe(events.EventTypeOrder, r.onOrder, events.SubscriptionOptions{Name: "registry"})
}

func (r *Registry) onOrder(ev events.Event) error {
	orderEvent, ok := ev.(*events.OrderEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	return r.Register(orderEvent.Order)
}

// Register validates and stores an order. A valid order immediately
// transitions CREATED -> PENDING with reason "registered"; an invalid one
// is stored as REJECTED so the audit trail shows what was refused.
func (r *Registry) Register(order *types.Order) error {
	if err := validateOrder(order); err != nil {
		r.rejected++
		metrics.OrdersRejected.Inc()
		r.logger.Warn("order rejected",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		order.Status = types.OrderStatusCreated
		r.store(order)
		r.applyTransition(order, types.OrderStatusRejected, err.Error())
		return nil
	}
	if _, dup := r.orders[order.ID]; dup {
		return fmt.Errorf("order %s already registered", order.ID)
	}

	order.Status = types.OrderStatusCreated
	r.store(order)
	r.applyTransition(order, types.OrderStatusPending, ReasonRegistered)
	return nil
}

func validateOrder(order *types.Order) error {
	if order.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if order.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if order.Side != types.OrderSideBuy && order.Side != types.OrderSideSell {
		return fmt.Errorf("side %q is not recognized", order.Side)
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quantity must be > 0")
	}
	switch order.Type {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if order.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("limit order requires a limit price")
		}
	case types.OrderTypeStop:
		if order.StopPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("stop order requires a stop price")
		}
	default:
		return fmt.Errorf("order type %q is not recognized", order.Type)
	}
	return nil
}

func (r *Registry) store(order *types.Order) {
	if _, exists := r.orders[order.ID]; !exists {
		r.ordering = append(r.ordering, order.ID)
	}
	r.orders[order.ID] = order
}

// Transition moves an order to a new status, enforcing the state machine.
func (r *Registry) Transition(orderID string, to types.OrderStatus, reason string) error {
	order, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if !transitionAllowed(order.Status, to) {
		r.invalidTransitions++
		r.logger.Warn("invalid order transition",
			zap.String("order_id", orderID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(to)),
		)
		return fmt.Errorf("transition %s -> %s not allowed", order.Status, to)
	}
	r.applyTransition(order, to, reason)
	return nil
}

func (r *Registry) applyTransition(order *types.Order, to types.OrderStatus, reason string) {
	change := types.OrderStateChange{
		OrderID:   order.ID,
		From:      order.Status,
		To:        to,
		Reason:    reason,
		FilledQty: order.FilledQty,
		Timestamp: order.UpdatedAt,
	}
	order.Status = to
	r.stateLog = append(r.stateLog, change)
	r.bus.Publish(events.NewOrderStateChangeEvent(change))
}

// ApplyFill records an execution on the order and transitions it to
// PARTIAL or FILLED depending on the remaining quantity.
func (r *Registry) ApplyFill(fill *types.Fill) error {
	order, ok := r.orders[fill.OrderID]
	if !ok {
		return fmt.Errorf("order %s not found", fill.OrderID)
	}
	if fill.Quantity.GreaterThan(order.Remaining()) {
		return fmt.Errorf("fill %s quantity %s exceeds remaining %s",
			fill.ID, fill.Quantity, order.Remaining())
	}

	prevNotional := order.AvgFillPrice.Mul(order.FilledQty)
	order.FilledQty = order.FilledQty.Add(fill.Quantity)
	order.AvgFillPrice = prevNotional.Add(fill.Price.Mul(fill.Quantity)).Div(order.FilledQty)
	order.Commission = order.Commission.Add(fill.Commission)
	order.UpdatedAt = fill.Timestamp

	to := types.OrderStatusPartial
	if order.Remaining().IsZero() {
		to = types.OrderStatusFilled
	}
	return r.Transition(order.ID, to, "fill "+fill.ID)
}

// Cancel marks a live order canceled.
func (r *Registry) Cancel(orderID, reason string) error {
	return r.Transition(orderID, types.OrderStatusCanceled, reason)
}

// Get looks up an order by id.
func (r *Registry) Get(orderID string) (*types.Order, bool) {
	order, ok := r.orders[orderID]
	return order, ok
}

// Orders returns copies of all orders in registration order.
func (r *Registry) Orders() []types.Order {
	out := make([]types.Order, 0, len(r.ordering))
	for _, id := range r.ordering {
		out = append(out, *r.orders[id])
	}
	return out
}

// StateLog returns a copy of the transition log.
func (r *Registry) StateLog() []types.OrderStateChange {
	out := make([]types.OrderStateChange, len(r.stateLog))
	copy(out, r.stateLog)
	return out
}

// Rejected returns the number of validation rejections since reset.
func (r *Registry) Rejected() int64 {
	return r.rejected
}

// InvalidTransitions returns the number of refused transitions since reset.
func (r *Registry) InvalidTransitions() int64 {
	return r.invalidTransitions
}

// Reset clears the order map, the log and the counters.
func (r *Registry) Reset() {
	r.orders = make(map[string]*types.Order)
	r.ordering = nil
	r.stateLog = nil
	r.rejected = 0
	r.invalidTransitions = 0
}
