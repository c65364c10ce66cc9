package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/order/internal/metrics"
	"github.com/sakashimaa/go-order-saga/services/order/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const cancelNotSavedReason = "stock released but cancellation not saved"

type Ledger interface {
	InsertOrder(ctx context.Context, order *domain.Order, claim *domain.IdempotencyClaim) error
	UpdateStatus(ctx context.Context, orderID string, update repository.StatusUpdate) (*domain.Order, error)
	UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error)
	ReadOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Order, int64, error)
}

type IdempotencyStore interface {
	ClaimCreate(ctx context.Context, claim *domain.IdempotencyClaim) (*repository.ClaimResult, error)
	MarkRetryable(ctx context.Context, claim *domain.IdempotencyClaim) error
	ReleaseClaim(ctx context.Context, claim *domain.IdempotencyClaim) error
	FindCompleted(ctx context.Context, op domain.Operation, scope, key string) (string, error)
}

type ReconciliationQueue interface {
	Enqueue(ctx context.Context, task *domain.CompensationTask) error
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, credential string) (*domain.Identity, error)
}

type Inventory interface {
	Reserve(ctx context.Context, reservationID string, lines []domain.CartLine) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID string, lines []domain.CartLine) error
}

// CompensationPolicy bounds the release issued when an order cannot be saved.
type CompensationPolicy struct {
	Retry   utils.RetryPolicy
	Timeout time.Duration
}

func CompensationPolicyFromConfig(c config.Compensation) CompensationPolicy {
	retries := uint64(0)
	if c.MaxAttempts > 1 {
		retries = c.MaxAttempts - 1
	}

	return CompensationPolicy{
		Retry: utils.RetryPolicy{
			MaxRetries:     retries,
			InitialBackoff: c.InitialBackoff,
			MaxBackoff:     c.MaxBackoff,
		},
		Timeout: c.Timeout,
	}
}

type Deps struct {
	Ledger       Ledger
	Keys         IdempotencyStore
	Queue        ReconciliationQueue
	Verifier     TokenVerifier
	Inventory    Inventory
	Compensation CompensationPolicy
	Metrics      *metrics.Metrics
}

type CreateOrderInput struct {
	Credential      string
	IdempotencyKey  string
	Cart            []domain.CartLine
	ShippingAddress string
}

// OrderService orchestrates order creation across the user service, the
// product service and the ledger.
type OrderService struct {
	ledger       Ledger
	keys         IdempotencyStore
	queue        ReconciliationQueue
	verifier     TokenVerifier
	inventory    Inventory
	compensation CompensationPolicy
	metrics      *metrics.Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
	newID        func() string
}

func NewOrderService(deps Deps, logger *zap.Logger) *OrderService {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop()
	}

	if deps.Compensation.Timeout <= 0 {
		deps.Compensation.Timeout = 30 * time.Second
	}

	return &OrderService{
		ledger:       deps.Ledger,
		keys:         deps.Keys,
		queue:        deps.Queue,
		verifier:     deps.Verifier,
		inventory:    deps.Inventory,
		compensation: deps.Compensation,
		metrics:      m,
		logger:       logger,
		tracer:       otel.Tracer("order_service"),
		newID:        uuid.NewString,
	}
}

// CreateOrder authenticates the caller, reserves the whole cart once and
// records a confirmed order. A repeated idempotency key returns the order
// created by the first request.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	order, outcome, err := s.createOrder(ctx, in)
	s.metrics.OrdersCreated.WithLabelValues(outcome).Inc()

	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order_id", order.ID))

	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, string, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return nil, "invalid", domain.ErrMissingIdempotencyKey
	}

	cart, err := domain.NormalizeCart(in.Cart)
	if err != nil {
		return nil, "invalid", err
	}

	identity, err := s.verifier.VerifyToken(ctx, in.Credential)
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Token verification failed", zap.Error(err))
		return nil, outcomeOf(err), err
	}

	claimResult, err := s.keys.ClaimCreate(ctx, &domain.IdempotencyClaim{
		Operation:     domain.OperationCreate,
		Scope:         strconv.FormatInt(identity.UserID, 10),
		Key:           key,
		RequestHash:   domain.CartHash(cart, in.ShippingAddress),
		ReservationID: s.newID(),
		Cart:          cart,
	})
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Idempotency key not claimed", zap.String("idempotency_key", key), zap.Error(err))
		return nil, "rejected_key", err
	}

	claim := claimResult.Claim

	if claimResult.Replay {
		order, err := s.ledger.ReadOrder(ctx, claim.OrderID)
		if err != nil {
			return nil, "error", fmt.Errorf("failed to read order %s for replay: %w", claim.OrderID, err)
		}

		mylogger.Info(ctx, s.logger, "Replaying idempotent create", zap.String("order_id", order.ID))
		return order, "replayed", nil
	}

	reservation, err := s.inventory.Reserve(ctx, claim.ReservationID, cart)
	if err != nil {
		s.abandonClaim(ctx, claim, err)
		return nil, outcomeOf(err), err
	}

	if rejection := reservation.Rejection(); rejection != nil {
		s.releaseClaim(ctx, claim)

		mylogger.Info(
			ctx,
			s.logger,
			"Reservation rejected",
			zap.Int64("product_id", rejection.ProductID),
			zap.Int32("requested", rejection.Requested),
			zap.Int64("available", rejection.Available),
		)

		return nil, "insufficient_stock", rejection
	}

	order := &domain.Order{
		ID:              s.newID(),
		UserID:          identity.UserID,
		Status:          domain.OrderStatusConfirmed,
		ReservationID:   claim.ReservationID,
		ShippingAddress: in.ShippingAddress,
		Lines:           make([]domain.OrderLine, 0, len(cart)),
	}

	for _, line := range cart {
		price, ok := reservation.PriceOf(line.ProductID)
		if !ok {
			cause := fmt.Errorf("reservation %s has no price for product %d", claim.ReservationID, line.ProductID)
			return nil, "persist_failed", s.compensate(ctx, identity.UserID, claim, cart, cause)
		}

		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: price,
		})
	}

	order.CalculateTotal()

	if err := s.ledger.InsertOrder(ctx, order, claim); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			// the reservation now belongs to whoever resumed the claim
			return nil, "rejected_key", fmt.Errorf("%w: %v", domain.ErrRequestInProgress, err)
		}

		return nil, "persist_failed", s.compensate(ctx, identity.UserID, claim, cart, err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order confirmed",
		zap.String("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total_amount", order.TotalAmount),
	)

	return order, "confirmed", nil
}

// compensate releases the reservation of an order that could not be saved.
// It ignores caller cancellation and, once its attempts are spent, hands the
// release over to the reconciliation queue.
func (s *OrderService) compensate(ctx context.Context, userID int64, claim *domain.IdempotencyClaim, lines []domain.CartLine, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensation.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "OrderService.compensate")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", claim.ReservationID))

	mylogger.Warn(
		ctx,
		s.logger,
		"Order persist failed, releasing reserved stock",
		zap.String("reservation_id", claim.ReservationID),
		zap.Error(cause),
	)

	attempts := 0
	err := utils.Retry(ctx, s.compensation.Retry, func(ctx context.Context) error {
		attempts++
		return s.inventory.Release(ctx, claim.ReservationID, lines)
	}, func(err error, next time.Duration) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Compensating release failed, retrying",
			zap.String("reservation_id", claim.ReservationID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
	if err == nil {
		s.metrics.Compensations.WithLabelValues("released").Inc()
		s.releaseClaim(ctx, claim)

		return fmt.Errorf("%w: %v", domain.ErrOrderPersistFailed, cause)
	}

	span.RecordError(err)
	s.metrics.Compensations.WithLabelValues("enqueued").Inc()

	task := &domain.CompensationTask{
		ReservationID: claim.ReservationID,
		UserID:        userID,
		Lines:         lines,
		Reason:        cause.Error(),
		LastError:     err.Error(),
	}

	if qErr := s.queue.Enqueue(ctx, task); qErr != nil {
		// the claim stays pending, so the stale claim sweep still finds it
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to enqueue compensation task",
			zap.String("reservation_id", claim.ReservationID),
			zap.Error(qErr),
		)
	} else {
		mylogger.Error(
			ctx,
			s.logger,
			"Compensation failed, reconciliation task queued",
			zap.Int64("task_id", task.ID),
			zap.String("reservation_id", claim.ReservationID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %w: release failed after %d attempts: %v", domain.ErrCompensationFailed, domain.ErrOrderPersistFailed, attempts, err)
}

// abandonClaim records that a reservation call failed. After a transport
// failure the stock may still have been reserved, so the claim keeps its
// reservation id for a retry with the same key.
func (s *OrderService) abandonClaim(ctx context.Context, claim *domain.IdempotencyClaim, cause error) {
	ctx = context.WithoutCancel(ctx)

	mylogger.Warn(
		ctx,
		s.logger,
		"Reservation failed",
		zap.String("reservation_id", claim.ReservationID),
		zap.Error(cause),
	)

	if domain.IsTransportError(cause) || errors.Is(cause, context.Canceled) {
		if err := s.keys.MarkRetryable(ctx, claim); err != nil {
			mylogger.Warn(ctx, s.logger, "Failed to mark idempotency key retryable", zap.Error(err))
		}
		return
	}

	s.releaseClaim(ctx, claim)
}

func (s *OrderService) releaseClaim(ctx context.Context, claim *domain.IdempotencyClaim) {
	if err := s.keys.ReleaseClaim(context.WithoutCancel(ctx), claim); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to release idempotency key",
			zap.String("idempotency_key", claim.Key),
			zap.Error(err),
		)
	}
}

// CancelOrder releases the order's stock and marks it cancelled. The status
// only changes after the product service confirmed the release.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, idempotencyKey string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	order, outcome, err := s.cancelOrder(ctx, orderID, strings.TrimSpace(idempotencyKey))
	s.metrics.OrdersCancelled.WithLabelValues(outcome).Inc()

	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return order, nil
}

func (s *OrderService) cancelOrder(ctx context.Context, orderID, key string) (*domain.Order, string, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, "invalid", fmt.Errorf("%w: %s", domain.ErrInvalidOrderID, orderID)
	}

	if key != "" {
		_, err := s.keys.FindCompleted(ctx, domain.OperationCancel, orderID, key)
		switch {
		case err == nil:
			order, err := s.ledger.ReadOrder(ctx, orderID)
			if err != nil {
				return nil, "error", err
			}
			return order, "replayed", nil
		case !errors.Is(err, repository.ErrClaimNotFound):
			return nil, "error", err
		}
	}

	order, err := s.ledger.ReadOrder(ctx, orderID)
	if err != nil {
		return nil, outcomeOf(err), err
	}

	if err := domain.ValidateTransition(order.Status, domain.OrderStatusCancelled); err != nil {
		mylogger.Info(ctx, s.logger, "Order cannot be cancelled", zap.String("order_id", orderID), zap.String("status", string(order.Status)))
		return nil, "invalid_transition", err
	}

	if err := s.inventory.Release(ctx, order.ReservationID, order.CartLines()); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Stock release failed, order left unchanged",
			zap.String("order_id", orderID),
			zap.Error(err),
		)

		return nil, "release_failed", fmt.Errorf("%w: %w", domain.ErrCancelFailed, err)
	}

	updated, err := s.saveCancellation(ctx, order, key)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			return nil, "invalid_transition", err
		case errors.Is(err, domain.ErrOrderNotFound):
			return nil, "not_found", err
		}

		return nil, s.queueCancellation(ctx, order, err), fmt.Errorf("%w: stock released, status not saved: %w", domain.ErrCancelFailed, err)
	}

	mylogger.Info(ctx, s.logger, "Order cancelled", zap.String("order_id", orderID))

	return updated, "cancelled", nil
}

// saveCancellation records a cancel whose stock is already back. The write
// outlives the caller and is retried; only a lost race with another status
// change stops it early.
func (s *OrderService) saveCancellation(ctx context.Context, order *domain.Order, key string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensation.Timeout)
	defer cancel()

	var updated *domain.Order
	attempts := 0

	err := utils.Retry(ctx, s.compensation.Retry, func(ctx context.Context) error {
		attempts++

		var err error
		updated, err = s.ledger.UpdateStatus(ctx, order.ID, repository.StatusUpdate{
			To:             domain.OrderStatusCancelled,
			Expected:       order.Status,
			IdempotencyKey: key,
		})
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrOrderNotFound) {
			return utils.Permanent(err)
		}

		return err
	}, func(err error, next time.Duration) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Saving cancellation failed, retrying",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// queueCancellation hands an unsaved cancel to the reconciler and returns the
// outcome label for the request.
func (s *OrderService) queueCancellation(ctx context.Context, order *domain.Order, cause error) string {
	ctx = context.WithoutCancel(ctx)

	task := &domain.CompensationTask{
		Kind:          domain.TaskCancel,
		OrderID:       order.ID,
		ReservationID: order.ReservationID,
		UserID:        order.UserID,
		Lines:         order.CartLines(),
		Reason:        cancelNotSavedReason,
		LastError:     cause.Error(),
	}

	if err := s.queue.Enqueue(ctx, task); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Stock released but cancellation neither saved nor queued",
			zap.String("order_id", order.ID),
			zap.String("reservation_id", order.ReservationID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)

		return "persist_failed"
	}

	s.metrics.Compensations.WithLabelValues("cancel_enqueued").Inc()
	mylogger.Error(
		ctx,
		s.logger,
		"Stock released but cancellation not saved, reconciliation task queued",
		zap.Int64("task_id", task.ID),
		zap.String("order_id", order.ID),
		zap.Error(cause),
	)

	return "cancel_queued"
}

// UpdateShippingAddress changes the delivery address of an order that is not
// cancelled or failed. Stock and totals are untouched.
func (s *OrderService) UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateShippingAddress")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	if _, err := uuid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidOrderID, orderID)
	}

	address, err := domain.NormalizeShippingAddress(address)
	if err != nil {
		return nil, err
	}

	order, err := s.ledger.UpdateShippingAddress(ctx, orderID, address)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mylogger.Info(ctx, s.logger, "Shipping address changed", zap.String("order_id", orderID))

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	if _, err := uuid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidOrderID, orderID)
	}

	return s.ledger.ReadOrder(ctx, orderID)
}

func (s *OrderService) ListOrdersForUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Order, int64, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrdersForUser")
	defer span.End()

	if userID <= 0 {
		return nil, 0, fmt.Errorf("%w: user id %d", domain.ErrUnauthenticated, userID)
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, filter.Status)
	}

	return s.ledger.ListByUser(ctx, userID, filter.Normalize())
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrTransportTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrTransportUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrReservationClosed), errors.Is(err, domain.ErrRequestRejected):
		return "rejected"
	default:
		return "error"
	}
}
