package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/go-order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxWriter interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *outboxDomain.OutboxEvent) error
}

// StatusUpdate describes one ledger status change. Expected, when set, must
// match the stored status or the update is refused.
type StatusUpdate struct {
	To             domain.OrderStatus
	Expected       domain.OrderStatus
	IdempotencyKey string
}

// OrderRepository is the order ledger. Every write runs in its own
// transaction together with the matching outbox event.
type OrderRepository struct {
	pool   *pgxpool.Pool
	outbox OutboxWriter
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, outbox OutboxWriter, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{
		pool:   pool,
		outbox: outbox,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

// InsertOrder stores the order with all its lines, completes the create claim
// and enqueues OrderConfirmed. Nothing is written unless all of it succeeds.
func (r *OrderRepository) InsertOrder(ctx context.Context, order *domain.Order, claim *domain.IdempotencyClaim) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.InsertOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Int64("user_id", order.UserID),
		attribute.Int("lines_count", len(order.Lines)),
	)

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		if err := r.insertOrder(ctx, tx, order); err != nil {
			return err
		}

		if claim != nil {
			if err := completeCreateClaim(ctx, tx, claim, order.ID); err != nil {
				return err
			}
		}

		event, err := outboxDomain.NewEvent("Order", order.ID, events.EventOrderConfirmed, events.OrderEventsTopic, events.OrderConfirmedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			ReservationID: order.ReservationID,
			TotalAmount:   order.TotalAmount,
			Lines:         order.EventLines(),
			ConfirmedAt:   order.CreatedAt,
		})
		if err != nil {
			return err
		}

		return r.outbox.SaveOutboxEvent(ctx, tx, event)
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)

		return err
	}

	return nil
}

func (r *OrderRepository) insertOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	queryOrder := `
		INSERT INTO orders (id, user_id, status, total_amount, reservation_id, shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.ID,
		order.UserID,
		string(order.Status),
		order.TotalAmount,
		order.ReservationID,
		order.ShippingAddress,
	).Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_reservation_id_key" {
			return ErrClaimLost
		}

		return fmt.Errorf("failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		line.OrderID = order.ID

		batch.Queue(
			`INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4, $5)`,
			line.ID,
			line.OrderID,
			line.ProductID,
			line.Quantity,
			line.UnitPrice,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range order.Lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert order lines: %w", err)
	}

	return nil
}

// UpdateStatus moves an order along the status machine. An illegal
// transition returns ErrInvalidTransition and writes nothing.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, update StatusUpdate) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(update.To)),
	)

	var order *domain.Order

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		current, err := r.selectOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}

		if update.Expected != "" && current.Status != update.Expected {
			return fmt.Errorf("%w: order is %s, expected %s", domain.ErrInvalidTransition, current.Status, update.Expected)
		}

		if err := domain.ValidateTransition(current.Status, update.To); err != nil {
			return err
		}

		query := `
			UPDATE orders
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3
			RETURNING updated_at
		`

		if err := tx.QueryRow(ctx, query, string(update.To), orderID, string(current.Status)).
			Scan(&current.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: order %s changed concurrently", domain.ErrInvalidTransition, orderID)
			}
			return fmt.Errorf("failed to update order status: %w", err)
		}

		from := current.Status
		current.Status = update.To

		if update.IdempotencyKey != "" {
			if err := recordCompleted(ctx, tx, domain.OperationCancel, orderID, update.IdempotencyKey, orderID); err != nil {
				return err
			}
		}

		eventType := events.EventOrderCancelled
		if update.To == domain.OrderStatusFailed {
			eventType = events.EventOrderFailed
		}

		event, err := outboxDomain.NewEvent("Order", orderID, eventType, events.OrderEventsTopic, events.OrderStatusChangedEvent{
			OrderID:   orderID,
			UserID:    current.UserID,
			From:      string(from),
			To:        string(update.To),
			Lines:     current.EventLines(),
			ChangedAt: current.UpdatedAt,
		})
		if err != nil {
			return err
		}

		if err := r.outbox.SaveOutboxEvent(ctx, tx, event); err != nil {
			return err
		}

		order = current
		return nil
	})
	if err != nil {
		span.RecordError(err)

		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrOrderNotFound) {
			mylogger.Warn(ctx, r.logger, "Order status not changed", zap.String("order_id", orderID), zap.Error(err))
		} else {
			mylogger.Error(ctx, r.logger, "Failed to update order status", zap.String("order_id", orderID), zap.Error(err))
		}

		return nil, err
	}

	return order, nil
}

// UpdateShippingAddress changes where a pending or confirmed order ships to and
// enqueues OrderAddressChanged. A cancelled or failed order returns
// ErrOrderClosed.
func (r *OrderRepository) UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateShippingAddress")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	var order *domain.Order

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		current, err := r.selectOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}

		if !current.AcceptsAddressChange() {
			return fmt.Errorf("%w: order is %s", domain.ErrOrderClosed, current.Status)
		}

		query := `
			UPDATE orders
			SET shipping_address = $1, updated_at = NOW()
			WHERE id = $2
			RETURNING updated_at
		`

		if err := tx.QueryRow(ctx, query, address, orderID).Scan(&current.UpdatedAt); err != nil {
			return fmt.Errorf("failed to update shipping address: %w", err)
		}

		current.ShippingAddress = address

		event, err := outboxDomain.NewEvent("Order", orderID, events.EventOrderAddressChanged, events.OrderEventsTopic, events.OrderAddressChangedEvent{
			OrderID:         orderID,
			UserID:          current.UserID,
			ShippingAddress: address,
			ChangedAt:       current.UpdatedAt,
		})
		if err != nil {
			return err
		}

		if err := r.outbox.SaveOutboxEvent(ctx, tx, event); err != nil {
			return err
		}

		order = current
		return nil
	})
	if err != nil {
		span.RecordError(err)

		if errors.Is(err, domain.ErrOrderClosed) || errors.Is(err, domain.ErrOrderNotFound) {
			mylogger.Warn(ctx, r.logger, "Shipping address not changed", zap.String("order_id", orderID), zap.Error(err))
		} else {
			mylogger.Error(ctx, r.logger, "Failed to update shipping address", zap.String("order_id", orderID), zap.Error(err))
		}

		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) ReadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ReadOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	var order *domain.Order

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		var err error
		order, err = r.selectOrder(ctx, tx, orderID, false)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	return order, nil
}

// ListByUser returns one page of the user's orders, newest first, and the
// total number of orders matching the filter.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Order, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByUser")
	defer span.End()

	filter = filter.Normalize()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("status", string(filter.Status)),
		attribute.Int("page", int(filter.Page)),
	)

	var (
		orders []*domain.Order
		total  int64
	)

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		countQuery := `
			SELECT COUNT(*)
			FROM orders
			WHERE user_id = $1 AND ($2 = '' OR status = $2)
		`

		if err := tx.QueryRow(ctx, countQuery, userID, string(filter.Status)).Scan(&total); err != nil {
			return fmt.Errorf("failed to count orders: %w", err)
		}

		if total == 0 {
			return nil
		}

		query := `
			SELECT id::text, user_id, status, total_amount, reservation_id::text, shipping_address, created_at, updated_at
			FROM orders
			WHERE user_id = $1 AND ($2 = '' OR status = $2)
			ORDER BY created_at DESC, id
			LIMIT $3 OFFSET $4
		`

		rows, err := tx.Query(ctx, query, userID, string(filter.Status), filter.PageSize, filter.Offset())
		if err != nil {
			return fmt.Errorf("failed to query orders: %w", err)
		}

		orders, err = pgx.CollectRows(rows, scanOrder)
		if err != nil {
			return fmt.Errorf("failed to scan orders: %w", err)
		}

		return r.attachLines(ctx, tx, orders)
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to list orders", zap.Int64("user_id", userID), zap.Error(err))

		return nil, 0, err
	}

	return orders, total, nil
}

func (r *OrderRepository) selectOrder(ctx context.Context, tx pgx.Tx, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id::text, user_id, status, total_amount, reservation_id::text, shipping_address, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	order, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if err := r.attachLines(ctx, tx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, tx pgx.Tx, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	query := `
		SELECT id::text, order_id::text, product_id, quantity, unit_price
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, product_id
	`

	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return fmt.Errorf("failed to scan order line: %w", err)
		}

		if o, ok := byID[line.OrderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}

	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)

	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&status,
		&o.TotalAmount,
		&o.ReservationID,
		&o.ShippingAddress,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()

	return &o, nil
}
