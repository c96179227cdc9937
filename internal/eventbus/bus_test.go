package eventbus_test

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/eventbus"
)

func TestBus_Publish_ExactTopicDelivery(t *testing.T) {
	b := eventbus.New(zap.NewNop())
	var received []string
	b.Subscribe("threshold.detected", func(ev eventbus.Event) error {
		received = append(received, ev.Topic)
		return nil
	})
	if _, err := b.Publish("threshold.detected", map[string]any{"value": 1}, "detector"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := b.Publish("simulation.complete", map[string]any{"value": 2}, "simulator"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received) != 1 || received[0] != "threshold.detected" {
		t.Errorf("expected exactly one exact-topic delivery, got %v", received)
	}
}

func TestBus_Publish_WildcardAndPrefixDelivery(t *testing.T) {
	b := eventbus.New(zap.NewNop())
	var wildcard, prefix int
	b.Subscribe("*", func(ev eventbus.Event) error { wildcard++; return nil })
	b.Subscribe("circuit.*", func(ev eventbus.Event) error { prefix++; return nil })

	b.Publish("circuit.complete", nil, "circuit")
	b.Publish("threshold.detected", nil, "detector")

	if wildcard != 2 {
		t.Errorf("expected wildcard subscriber to see both events, got %d", wildcard)
	}
	if prefix != 1 {
		t.Errorf("expected prefix subscriber to see only circuit.* events, got %d", prefix)
	}
}

func TestBus_Publish_OrderPreservedPerTopic(t *testing.T) {
	b := eventbus.New(zap.NewNop())
	var order []int
	b.Subscribe("threshold.detected", func(ev eventbus.Event) error {
		order = append(order, ev.Payload.(int))
		return nil
	})
	for i := 0; i < 5; i++ {
		b.Publish("threshold.detected", i, "detector")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected publication order preserved, got %v", order)
		}
	}
}

func TestBus_Publish_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := eventbus.New(zap.NewNop())
	var secondCalled bool
	b.Subscribe("threshold.detected", func(ev eventbus.Event) error {
		return errors.New("boom")
	})
	b.Subscribe("threshold.detected", func(ev eventbus.Event) error {
		secondCalled = true
		return nil
	})
	if _, err := b.Publish("threshold.detected", nil, "detector"); err != nil {
		t.Fatalf("Publish itself must not fail on subscriber error: %v", err)
	}
	if !secondCalled {
		t.Error("expected second subscriber to still be invoked")
	}
	if len(b.Log()) != 1 {
		t.Errorf("expected failing subscriber to not drop the event from the log, got %d entries", len(b.Log()))
	}
}

func TestBus_Unsubscribe_StopsDelivery(t *testing.T) {
	b := eventbus.New(zap.NewNop())
	var calls int
	sub := b.Subscribe("threshold.detected", func(ev eventbus.Event) error {
		calls++
		return nil
	})
	b.Publish("threshold.detected", nil, "detector")
	b.Unsubscribe(sub)
	b.Publish("threshold.detected", nil, "detector")
	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestBus_ExportNDJSON_OneLinePerEvent(t *testing.T) {
	b := eventbus.New(zap.NewNop())
	b.Publish("threshold.detected", nil, "detector")
	b.Publish("simulation.complete", nil, "simulator")

	var buf strings.Builder
	if err := b.ExportNDJSON(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 NDJSON lines, got %d", len(lines))
	}
}
