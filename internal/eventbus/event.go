package eventbus

import (
	"time"

	"github.com/octoreflex/govcircuit/internal/hashchain"
)

// Event is one message delivered on the bus. EventID is a 12-hex digest
// derived from the canonical form of every other field, matching the
// event_hash / prediction_hash family of content hashes used throughout the
// data model, just at a shorter length reserved for bus identity.
type Event struct {
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
}

type eventContent struct {
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(topic string, payload any, source string) (Event, error) {
	ts := time.Now().UTC()
	content := eventContent{Topic: topic, Payload: payload, Source: source, Timestamp: ts}
	id, err := hashchain.ShortHash(content, 12)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Topic:     topic,
		Payload:   payload,
		Source:    source,
		Timestamp: ts,
		EventID:   id,
	}, nil
}
