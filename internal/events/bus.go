package events

import (
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/admf-trader/backtest-engine/internal/metrics"
)

// Handler processes one event. A returned error is logged and counted; it
// never aborts dispatch to the remaining handlers.
type Handler func(event Event) error

// SubscriptionOptions configures a subscription.
type SubscriptionOptions struct {
	// Priority orders handlers for the same event type: lower runs first.
	// Ties break by registration order.
	Priority int
	// Name labels the subscription in logs.
	Name string
}

// Subscription represents an active handler registration.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   Handler
	Options   SubscriptionOptions
	seq       int64
	active    bool
}

// BusStats are the bus counters for the current run.
type BusStats struct {
	EventsPublished  int64 `json:"eventsPublished"`
	EventsDispatched int64 `json:"eventsDispatched"`
	EventsDeduped    int64 `json:"eventsDeduped"`
	SignalsDeduped   int64 `json:"signalsDeduped"`
	HandlerErrors    int64 `json:"handlerErrors"`
}

// Bus is a typed publish/subscribe hub with ordered synchronous dispatch.
//
// All publishes must happen on the driver goroutine; the bus holds no locks.
// Dispatch is depth-first: a nested Publish from inside a handler completes
// before the outer dispatch proceeds to its next handler, so no event is
// lost and no handler of the outer event is skipped.
type Bus struct {
	logger      *zap.Logger
	subscribers map[EventType][]*Subscription
	seq         int64

	// seen holds dedup keys dispatched in the current run. Reset empties it.
	seen map[string]struct{}

	trace      []Event
	traceLimit int

	stats BusStats
}

var subscriptionCounter atomic.Int64

// NewBus creates a bus. traceLimit bounds the retained event trace;
// zero disables tracing.
func NewBus(logger *zap.Logger, traceLimit int) *Bus {
	return &Bus{
		logger:      logger,
		subscribers: make(map[EventType][]*Subscription),
		seen:        make(map[string]struct{}),
		traceLimit:  traceLimit,
	}
}

// Subscribe registers a handler for an event type. Subscribing during a
// dispatch takes effect on the next published event.
func (b *Bus) Subscribe(eventType EventType, handler Handler, opts ...SubscriptionOptions) *Subscription {
	var options SubscriptionOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	b.seq++
	sub := &Subscription{
		ID:        "sub_" + itoa(subscriptionCounter.Add(1)),
		EventType: eventType,
		Handler:   handler,
		Options:   options,
		seq:       b.seq,
		active:    true,
	}

	subs := append(b.subscribers[eventType], sub)
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Options.Priority != subs[j].Options.Priority {
			return subs[i].Options.Priority < subs[j].Options.Priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.subscribers[eventType] = subs

	b.logger.Debug("subscription added",
		zap.String("id", sub.ID),
		zap.String("event_type", string(eventType)),
		zap.String("name", options.Name),
		zap.Int("priority", options.Priority),
	)
	return sub
}

// Unsubscribe deactivates a subscription. Taking effect immediately for
// events not yet dispatched; an in-flight dispatch still completes.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.active {
		return
	}
	sub.active = false
	subs := b.subscribers[sub.EventType]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.EventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Publish synchronously invokes every registered handler for the event's
// type, in (priority, registration) order, and returns the number of
// handlers actually invoked. Duplicate events (per DedupKey) are dropped
// with zero handlers invoked.
func (b *Bus) Publish(event Event) int {
	b.stats.EventsPublished++
	metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()

	if key := event.DedupKey(); key != "" {
		if _, dup := b.seen[key]; dup {
			b.stats.EventsDeduped++
			if event.GetType() == EventTypeSignal {
				b.stats.SignalsDeduped++
			}
			metrics.EventsDeduped.WithLabelValues(string(event.GetType())).Inc()
			b.logger.Debug("duplicate event dropped",
				zap.String("event_id", event.GetID()),
				zap.String("dedup_key", key),
			)
			return 0
		}
		b.seen[key] = struct{}{}
	}

	if b.traceLimit > 0 {
		if len(b.trace) == b.traceLimit {
			copy(b.trace, b.trace[1:])
			b.trace = b.trace[:b.traceLimit-1]
		}
		b.trace = append(b.trace, event)
	}

	// Copy the handler list so subscribe/unsubscribe during dispatch only
	// affects later events.
	registered := b.subscribers[event.GetType()]
	handlers := make([]*Subscription, len(registered))
	copy(handlers, registered)

	invoked := 0
	for _, sub := range handlers {
		if !sub.active {
			continue
		}
		if event.Consumed() {
			break
		}
		b.invoke(sub, event)
		invoked++
	}

	b.stats.EventsDispatched++
	return invoked
}

// invoke runs one handler with panic recovery. Failures are contained here.
func (b *Bus) invoke(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.HandlerErrors++
			metrics.HandlerErrors.Inc()
			b.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("name", sub.Options.Name),
				zap.String("event_id", event.GetID()),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		b.stats.HandlerErrors++
		metrics.HandlerErrors.Inc()
		b.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("name", sub.Options.Name),
			zap.String("event_id", event.GetID()),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

// Reset clears the dedup set, the trace buffer and the per-run counters.
// Subscriptions survive.
func (b *Bus) Reset() {
	b.seen = make(map[string]struct{})
	b.trace = b.trace[:0]
	b.stats = BusStats{}
}

// Stats returns the counters accumulated since the last Reset.
func (b *Bus) Stats() BusStats {
	return b.stats
}

// Trace returns the retained event trace.
func (b *Bus) Trace() []Event {
	out := make([]Event, len(b.trace))
	copy(out, b.trace)
	return out
}

// SubscriberCount returns the number of active handlers for a type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	return len(b.subscribers[eventType])
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
