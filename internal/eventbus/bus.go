// Package eventbus implements the circuit's topic-routed pub/sub: ordered
// per-topic delivery, synchronous single-threaded cooperative dispatch,
// subscriber failure isolation, and a replayable in-memory event log.
// Dispatch is grounded on kernel.Processor's snapshot-then-read discipline —
// the subscriber list is snapshotted under lock so a handler may itself
// subscribe or unsubscribe without deadlocking the bus.
package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/observability"
)

// Handler processes one delivered Event. A returned error is caught and
// logged by the bus; it never halts delivery to other subscribers and never
// removes the event from the log.
type Handler func(Event) error

type subscription struct {
	id      int64
	pattern string
	handler Handler
}

// Subscription is an opaque handle returned by Subscribe, passed back to
// Unsubscribe.
type Subscription struct {
	id int64
}

// Bus is a single in-process event bus. The zero value is not usable; build
// one with New.
type Bus struct {
	mu      sync.Mutex
	nextID  int64
	subs    []*subscription
	log     []Event
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New constructs an empty Bus. logger must not be nil.
func New(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// WithMetrics attaches a Prometheus metrics sink; publishes and isolated
// subscriber failures are counted by it from that point on.
func (b *Bus) WithMetrics(metrics *observability.Metrics) *Bus {
	b.metrics = metrics
	return b
}

// Subscribe registers handler for every topic matching pattern. A pattern is
// either an exact topic, a prefix ending in "*" (e.g. "circuit.*"), or the
// bare wildcard "*" matching every topic.
func (b *Bus) Subscribe(pattern string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, pattern: pattern, handler: handler}
	b.subs = append(b.subs, sub)
	return Subscription{id: sub.id}
}

// Unsubscribe removes a previously registered subscription. Unsubscribing an
// already-removed or unknown Subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish constructs an Event, appends it to the log, and synchronously
// invokes every matching subscriber in registration order. It does not
// return until every matching subscriber has been invoked once. A panicking
// or error-returning handler is isolated: logged at Warn, does not prevent
// delivery to the remaining subscribers, and does not remove the event from
// the log.
func (b *Bus) Publish(topic string, payload any, source string) (Event, error) {
	ev, err := newEvent(topic, payload, source)
	if err != nil {
		return Event{}, fmt.Errorf("eventbus: publish %q: %w", topic, err)
	}

	b.mu.Lock()
	b.log = append(b.log, ev)
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matches(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.EventsPublishedTotal.WithLabelValues(topic).Inc()
	}

	for _, s := range matched {
		b.dispatchOne(s, ev)
	}
	return ev, nil
}

func (b *Bus) dispatchOne(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("eventbus: subscriber panicked",
				zap.String("topic", ev.Topic),
				zap.String("pattern", s.pattern),
				zap.Any("recovered", r))
			if b.metrics != nil {
				b.metrics.SubscriberErrorsTotal.WithLabelValues(ev.Topic).Inc()
			}
		}
	}()
	if err := s.handler(ev); err != nil {
		b.logger.Warn("eventbus: subscriber returned error",
			zap.String("topic", ev.Topic),
			zap.String("pattern", s.pattern),
			zap.Error(err))
		if b.metrics != nil {
			b.metrics.SubscriberErrorsTotal.WithLabelValues(ev.Topic).Inc()
		}
	}
}

func matches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == topic
}

// Log returns a snapshot of every event published so far, in publication
// order. Mutating the returned slice does not affect the bus.
func (b *Bus) Log() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// ExportNDJSON writes the event log to w as newline-delimited JSON, one
// Event per line, for external audit.
func (b *Bus) ExportNDJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, ev := range b.Log() {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("eventbus: export: marshal event %s: %w", ev.EventID, err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("eventbus: export: write: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("eventbus: export: write: %w", err)
		}
	}
	return bw.Flush()
}
