package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/pkg/kafka"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/domain"
	"go.uber.org/zap"
)

type AlertHandler interface {
	HandleCompensationFailed(ctx context.Context, event domain.CompensationFailed) error
	HandleReconciliationExhausted(ctx context.Context, event domain.ReconciliationExhausted) error
}

type Consumer struct {
	handler AlertHandler
	logger  *zap.Logger
}

func NewConsumer(handler AlertHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		handler: handler,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, brokers []string, groupID string, topics []string) error {
	if len(topics) == 0 {
		topics = []string{events.OrderEventsTopic}
	}

	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		topics,
		c.ProcessMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// ProcessMessage returns an error only when the message should be redelivered.
// Payloads that can never be handled are logged and acknowledged.
func (c *Consumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var message domain.Message
	if err := json.Unmarshal(msg.Value, &message); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling envelope", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}

	switch message.Event {
	case events.EventCompensationFailed:
		event := domain.CompensationFailed{EventID: message.EventID}
		if !c.decode(ctx, message, &event.CompensationFailedEvent) {
			return nil
		}

		return c.handler.HandleCompensationFailed(ctx, event)
	case events.EventReconciliationExhausted:
		event := domain.ReconciliationExhausted{EventID: message.EventID}
		if !c.decode(ctx, message, &event.ReconciliationExhaustedEvent) {
			return nil
		}

		return c.handler.HandleReconciliationExhausted(ctx, event)
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event", message.Event))
		return nil
	}
}

func (c *Consumer) decode(ctx context.Context, message domain.Message, out any) bool {
	if message.EventID <= 0 {
		mylogger.Error(ctx, c.logger, "Event without event_id dropped", zap.String("event", message.Event))
		return false
	}

	if err := json.Unmarshal(message.Payload, out); err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"Error parsing event payload",
			zap.String("event", message.Event),
			zap.Int64("event_id", message.EventID),
			zap.Error(err),
		)
		return false
	}

	return true
}
