package domain

import (
	"encoding/json"
	"errors"

	events "github.com/sakashimaa/go-order-saga/pkg/domain"
)

var ErrMissingEventID = errors.New("event has no event_id")

// Message is an order_events record as it arrives from Kafka. EventID is the
// outbox row id assigned by the publisher.
type Message struct {
	Event   string          `json:"event"`
	EventID int64           `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

type CompensationFailed struct {
	EventID int64
	events.CompensationFailedEvent
}

type ReconciliationExhausted struct {
	EventID int64
	events.ReconciliationExhaustedEvent
}

// Alert is one operator email.
type Alert struct {
	Subject string
	Body    string
}
