package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/go-order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxWriter interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *outboxDomain.OutboxEvent) error
}

// ReservationRepository holds stock for reservations. Every reservation id is
// recorded, so repeating a call never moves stock twice.
type ReservationRepository struct {
	pool   *pgxpool.Pool
	outbox OutboxWriter
	logger *zap.Logger
	tracer trace.Tracer
}

func NewReservationRepository(pool *pgxpool.Pool, outbox OutboxWriter, logger *zap.Logger) *ReservationRepository {
	return &ReservationRepository{
		pool:   pool,
		outbox: outbox,
		logger: logger,
		tracer: otel.Tracer("reservation_repo"),
	}
}

type stockRow struct {
	price     int64
	available int64
}

// Reserve takes every line or nothing. lines must be normalized: unique
// products sorted by id.
func (r *ReservationRepository) Reserve(ctx context.Context, reservationID string, lines []domain.StockLine) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.Int("lines_count", len(lines)),
	)

	var res *domain.Reservation

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, status)
			VALUES ($1, 'pending')
			ON CONFLICT (id) DO NOTHING
		`, reservationID)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

		if tag.RowsAffected() == 0 {
			res, err = r.loadReservation(ctx, tx, reservationID)
			if err != nil {
				return err
			}
			if res.Status == domain.ReservationReleased {
				return fmt.Errorf("%w: %s", domain.ErrReservationClosed, reservationID)
			}

			mylogger.Info(ctx, r.logger, "Replaying stored reservation", zap.String("reservation_id", reservationID))
			return nil
		}

		stock, err := r.lockProducts(ctx, tx, lines)
		if err != nil {
			return err
		}

		res = &domain.Reservation{ID: reservationID, AllReserved: true}
		for _, l := range lines {
			row, ok := stock[l.ProductID]
			reserved := ok && row.available >= int64(l.Quantity)
			if !reserved {
				res.AllReserved = false
			}

			res.Lines = append(res.Lines, domain.ReservationLine{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Reserved:  reserved,
				Available: row.available,
				UnitPrice: row.price,
			})
		}

		res.Status = domain.ReservationRejected
		if res.AllReserved {
			res.Status = domain.ReservationReserved

			if err := r.decrement(ctx, tx, lines); err != nil {
				return err
			}
		}

		if err := r.saveLines(ctx, tx, res); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2
		`, string(res.Status), reservationID); err != nil {
			return fmt.Errorf("failed to update reservation: %w", err)
		}

		if !res.AllReserved {
			return nil
		}

		return r.saveEvent(ctx, tx, events.EventStockReserved, reservationID, lines)
	})
	if err != nil {
		span.RecordError(err)

		if !errors.Is(err, domain.ErrReservationClosed) {
			mylogger.Error(ctx, r.logger, "Failed to reserve stock", zap.String("reservation_id", reservationID), zap.Error(err))
		}

		return nil, err
	}

	span.SetAttributes(attribute.Bool("all_reserved", res.AllReserved))

	return res, nil
}

// Release returns the stock held by reservationID. Unknown ids are recorded
// as released so a reservation arriving late cannot take stock. Lines whose
// product no longer exists stay unreleased and are reported back.
func (r *ReservationRepository) Release(ctx context.Context, reservationID string) (*domain.ReleaseResult, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Release")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	result := &domain.ReleaseResult{}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1 FOR UPDATE`, reservationID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := tx.Exec(ctx, `
				INSERT INTO reservations (id, status) VALUES ($1, 'released')
				ON CONFLICT (id) DO NOTHING
			`, reservationID); err != nil {
				return fmt.Errorf("failed to record released reservation: %w", err)
			}

			result.Released = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}

		if domain.ReservationStatus(status) != domain.ReservationReserved {
			result.Released = true
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT product_id, requested
			FROM reservation_lines
			WHERE reservation_id = $1 AND reserved AND NOT released
			ORDER BY product_id
		`, reservationID)
		if err != nil {
			return fmt.Errorf("failed to query reservation lines: %w", err)
		}

		pending, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StockLine, error) {
			var l domain.StockLine
			err := row.Scan(&l.ProductID, &l.Quantity)
			return l, err
		})
		if err != nil {
			return fmt.Errorf("failed to scan reservation lines: %w", err)
		}

		var released []domain.StockLine
		for _, l := range pending {
			tag, err := tx.Exec(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity + $1, updated_at = NOW()
				WHERE id = $2
			`, l.Quantity, l.ProductID)
			if err != nil {
				return fmt.Errorf("failed to return stock for product %d: %w", l.ProductID, err)
			}

			if tag.RowsAffected() == 0 {
				mylogger.Warn(ctx, r.logger, "Product vanished, stock not returned", zap.Int64("product_id", l.ProductID))
				result.FailedProductIDs = append(result.FailedProductIDs, l.ProductID)
				continue
			}

			if _, err := tx.Exec(ctx, `
				UPDATE reservation_lines SET released = TRUE
				WHERE reservation_id = $1 AND product_id = $2
			`, reservationID, l.ProductID); err != nil {
				return fmt.Errorf("failed to mark line released: %w", err)
			}

			released = append(released, l)
			result.ProductIDs = append(result.ProductIDs, l.ProductID)
		}

		if len(result.FailedProductIDs) > 0 {
			return nil
		}

		result.Released = true

		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = 'released', updated_at = NOW() WHERE id = $1
		`, reservationID); err != nil {
			return fmt.Errorf("failed to update reservation: %w", err)
		}

		return r.saveEvent(ctx, tx, events.EventStockReleased, reservationID, released)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to release stock", zap.String("reservation_id", reservationID), zap.Error(err))

		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("released", result.Released),
		attribute.Int("failed_count", len(result.FailedProductIDs)),
	)

	return result, nil
}

func (r *ReservationRepository) lockProducts(ctx context.Context, tx pgx.Tx, lines []domain.StockLine) (map[int64]stockRow, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, price, stock_quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	stock := make(map[int64]stockRow, len(ids))
	for rows.Next() {
		var (
			id  int64
			row stockRow
		)
		if err := rows.Scan(&id, &row.price, &row.available); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		stock[id] = row
	}

	return stock, rows.Err()
}

func (r *ReservationRepository) decrement(ctx context.Context, tx pgx.Tx, lines []domain.StockLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE id = $2
		`, l.Quantity, l.ProductID)
	}

	results := tx.SendBatch(ctx, batch)
	for _, l := range lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to decrease stock for product %d: %w", l.ProductID, err)
		}
	}

	return results.Close()
}

func (r *ReservationRepository) saveLines(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	batch := &pgx.Batch{}
	for _, l := range res.Lines {
		batch.Queue(`
			INSERT INTO reservation_lines (reservation_id, product_id, requested, reserved, available, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, res.ID, l.ProductID, l.Requested, l.Reserved, l.Available, l.UnitPrice)
	}

	results := tx.SendBatch(ctx, batch)
	for range res.Lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to save reservation lines: %w", err)
		}
	}

	return results.Close()
}

func (r *ReservationRepository) loadReservation(ctx context.Context, tx pgx.Tx, reservationID string) (*domain.Reservation, error) {
	res := &domain.Reservation{ID: reservationID}

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id = $1`, reservationID).Scan(&status); err != nil {
		return nil, fmt.Errorf("failed to read reservation: %w", err)
	}
	res.Status = domain.ReservationStatus(status)

	rows, err := tx.Query(ctx, `
		SELECT product_id, requested, reserved, available, unit_price
		FROM reservation_lines
		WHERE reservation_id = $1
		ORDER BY product_id
	`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read reservation lines: %w", err)
	}

	res.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ReservationLine, error) {
		var l domain.ReservationLine
		err := row.Scan(&l.ProductID, &l.Requested, &l.Reserved, &l.Available, &l.UnitPrice)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation lines: %w", err)
	}

	res.AllReserved = res.Status == domain.ReservationReserved

	return res, nil
}

func (r *ReservationRepository) saveEvent(ctx context.Context, tx pgx.Tx, eventType, reservationID string, lines []domain.StockLine) error {
	payload := events.StockMovementEvent{
		ReservationID: reservationID,
		Lines:         make([]events.OrderLine, 0, len(lines)),
		At:            time.Now().UTC(),
	}
	for _, l := range lines {
		payload.Lines = append(payload.Lines, events.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	event, err := outboxDomain.NewEvent("Reservation", reservationID, eventType, events.ProductEventsTopic, payload)
	if err != nil {
		return err
	}

	return r.outbox.SaveOutboxEvent(ctx, tx, event)
}

func (r *ReservationRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, r.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
