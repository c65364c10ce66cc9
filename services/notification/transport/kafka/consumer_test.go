package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHandler struct {
	compensation   []domain.CompensationFailed
	reconciliation []domain.ReconciliationExhausted
	err            error
}

func (f *fakeHandler) HandleCompensationFailed(_ context.Context, event domain.CompensationFailed) error {
	f.compensation = append(f.compensation, event)
	return f.err
}

func (f *fakeHandler) HandleReconciliationExhausted(_ context.Context, event domain.ReconciliationExhausted) error {
	f.reconciliation = append(f.reconciliation, event)
	return f.err
}

func message(t *testing.T, envelope events.Envelope) *sarama.ConsumerMessage {
	t.Helper()

	value, err := json.Marshal(envelope)
	require.NoError(t, err)

	return &sarama.ConsumerMessage{Topic: events.OrderEventsTopic, Value: value}
}

func TestProcessMessage_CompensationFailed(t *testing.T) {
	handler := &fakeHandler{}
	consumer := NewConsumer(handler, zap.NewNop())

	err := consumer.ProcessMessage(context.Background(), message(t, events.Envelope{
		Event:   events.EventCompensationFailed,
		EventID: 11,
		Payload: events.CompensationFailedEvent{TaskID: 4, ReservationID: "res-1", Reason: "order failed"},
	}))
	require.NoError(t, err)

	require.Len(t, handler.compensation, 1)
	require.Equal(t, int64(11), handler.compensation[0].EventID)
	require.Equal(t, int64(4), handler.compensation[0].TaskID)
	require.Equal(t, "res-1", handler.compensation[0].ReservationID)
	require.Empty(t, handler.reconciliation)
}

func TestProcessMessage_ReconciliationExhausted(t *testing.T) {
	handler := &fakeHandler{}
	consumer := NewConsumer(handler, zap.NewNop())

	err := consumer.ProcessMessage(context.Background(), message(t, events.Envelope{
		Event:   events.EventReconciliationExhausted,
		EventID: 12,
		Payload: events.ReconciliationExhaustedEvent{TaskID: 5, ReservationID: "res-2", Attempts: 20},
	}))
	require.NoError(t, err)

	require.Len(t, handler.reconciliation, 1)
	require.Equal(t, 20, handler.reconciliation[0].Attempts)
}

func TestProcessMessage_HandlerErrorIsReturned(t *testing.T) {
	handler := &fakeHandler{err: errors.New("smtp down")}
	consumer := NewConsumer(handler, zap.NewNop())

	err := consumer.ProcessMessage(context.Background(), message(t, events.Envelope{
		Event:   events.EventCompensationFailed,
		EventID: 13,
		Payload: events.CompensationFailedEvent{ReservationID: "res-3"},
	}))
	require.EqualError(t, err, "smtp down")
}

func TestProcessMessage_Skipped(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
	}{
		{name: "not json", value: []byte("{oops")},
		{name: "other event", value: []byte(`{"event":"OrderConfirmed","event_id":1,"payload":{}}`)},
		{name: "missing event id", value: []byte(`{"event":"CompensationFailed","payload":{"task_id":1}}`)},
		{name: "bad payload", value: []byte(`{"event":"ReconciliationExhausted","event_id":2,"payload":"nope"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &fakeHandler{err: errors.New("must not be called")}
			consumer := NewConsumer(handler, zap.NewNop())

			err := consumer.ProcessMessage(context.Background(), &sarama.ConsumerMessage{Value: tt.value})
			require.NoError(t, err)
			require.Empty(t, handler.compensation)
			require.Empty(t, handler.reconciliation)
		})
	}
}
