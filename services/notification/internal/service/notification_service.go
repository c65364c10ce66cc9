package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/go-order-saga/pkg/outbox/utils"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/infrastructure/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type NotificationService struct {
	emailSender email.Sender
	logger      *zap.Logger
	pool        *pgxpool.Pool
	tracer      trace.Tracer
}

func NewNotificationService(emailSender email.Sender, logger *zap.Logger, pool *pgxpool.Pool) *NotificationService {
	return &NotificationService{
		emailSender: emailSender,
		logger:      logger,
		pool:        pool,
		tracer:      otel.Tracer("notification-service"),
	}
}

func (s *NotificationService) HandleCompensationFailed(ctx context.Context, event domain.CompensationFailed) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleCompensationFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", event.EventID),
		attribute.String("reservation_id", event.ReservationID),
	)

	return s.alertOnce(ctx, event.EventID, CompensationFailedAlert(event.CompensationFailedEvent))
}

func (s *NotificationService) HandleReconciliationExhausted(ctx context.Context, event domain.ReconciliationExhausted) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleReconciliationExhausted")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", event.EventID),
		attribute.String("reservation_id", event.ReservationID),
	)

	return s.alertOnce(ctx, event.EventID, ReconciliationExhaustedAlert(event.ReconciliationExhaustedEvent))
}

func (s *NotificationService) alertOnce(ctx context.Context, eventID int64, alert domain.Alert) error {
	if eventID <= 0 {
		return domain.ErrMissingEventID
	}

	err := outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, eventID, func(ctx context.Context) error {
		return s.emailSender.SendOperatorAlert(ctx, alert)
	})
	if err != nil {
		return err
	}

	mylogger.Info(ctx, s.logger, "Operator alert handled", zap.Int64("event_id", eventID), zap.String("subject", alert.Subject))

	return nil
}

// CompensationFailedAlert renders the email for a reconciliation task: either a
// reservation whose stock could not be returned or a cancellation whose status
// write was lost.
func CompensationFailedAlert(e events.CompensationFailedEvent) domain.Alert {
	var b strings.Builder

	subject := fmt.Sprintf("[order-saga] stock release failed for reservation %s", e.ReservationID)
	if e.OrderID != "" {
		subject = fmt.Sprintf("[order-saga] cancellation of order %s not saved", e.OrderID)
		fmt.Fprintf(&b, "Order %s had its stock released but is still recorded as confirmed.\n", e.OrderID)
		b.WriteString("Reconciliation will mark it cancelled.\n\n")
	} else {
		fmt.Fprintf(&b, "Releasing reservation %s failed and was handed to reconciliation.\n\n", e.ReservationID)
	}

	fmt.Fprintf(&b, "Reservation: %s\n", e.ReservationID)
	fmt.Fprintf(&b, "Task:        %d\n", e.TaskID)
	fmt.Fprintf(&b, "User:        %d\n", e.UserID)
	fmt.Fprintf(&b, "Reason:      %s\n", e.Reason)
	fmt.Fprintf(&b, "Error:       %s\n", e.LastError)
	fmt.Fprintf(&b, "Failed at:   %s\n", e.FailedAt.UTC().Format(time.RFC3339))

	if len(e.Lines) > 0 {
		b.WriteString("\nLines:\n")
		for _, l := range e.Lines {
			fmt.Fprintf(&b, "  product %d x %d\n", l.ProductID, l.Quantity)
		}
	}

	return domain.Alert{
		Subject: subject,
		Body:    b.String(),
	}
}

func ReconciliationExhaustedAlert(e events.ReconciliationExhaustedEvent) domain.Alert {
	var b strings.Builder

	fmt.Fprintf(&b, "Reconciliation gave up on reservation %s. Manual action is required.\n\n", e.ReservationID)
	fmt.Fprintf(&b, "Task:       %d\n", e.TaskID)
	fmt.Fprintf(&b, "Attempts:   %d\n", e.Attempts)
	fmt.Fprintf(&b, "Last error: %s\n", e.LastError)
	fmt.Fprintf(&b, "Gave up at: %s\n", e.GaveUpAt.UTC().Format(time.RFC3339))

	return domain.Alert{
		Subject: fmt.Sprintf("[order-saga] reconciliation exhausted for reservation %s", e.ReservationID),
		Body:    b.String(),
	}
}
