package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
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

// ReconciliationRepository stores releases that must still happen.
type ReconciliationRepository struct {
	pool   *pgxpool.Pool
	outbox OutboxWriter
	logger *zap.Logger
	tracer trace.Tracer
}

func NewReconciliationRepository(pool *pgxpool.Pool, outbox OutboxWriter, logger *zap.Logger) *ReconciliationRepository {
	return &ReconciliationRepository{
		pool:   pool,
		outbox: outbox,
		logger: logger,
		tracer: otel.Tracer("reconciliation_repository"),
	}
}

// Enqueue durably records task, burns the create claim that owned the
// reservation and emits CompensationFailed, all in one transaction.
func (r *ReconciliationRepository) Enqueue(ctx context.Context, task *domain.CompensationTask) error {
	ctx, span := r.tracer.Start(ctx, "ReconciliationRepository.Enqueue")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", task.ReservationID))

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		return r.EnqueueTx(ctx, tx, task)
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to enqueue compensation task",
			zap.String("reservation_id", task.ReservationID),
			zap.Error(err),
		)

		return err
	}

	return nil
}

func (r *ReconciliationRepository) EnqueueTx(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask) error {
	lines, err := json.Marshal(task.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal task lines: %w", err)
	}

	if task.Kind == "" {
		task.Kind = domain.TaskRelease
	}

	query := `
		INSERT INTO compensation_tasks (kind, order_id, reservation_id, user_id, lines, reason, last_error)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7)
		ON CONFLICT (reservation_id) DO UPDATE
		SET kind = EXCLUDED.kind, order_id = EXCLUDED.order_id, status = 'pending',
		    last_error = EXCLUDED.last_error, next_attempt_at = NOW(), updated_at = NOW()
		RETURNING id, status, attempts, next_attempt_at, created_at
	`

	var status string
	if err := tx.QueryRow(ctx, query, string(task.Kind), task.OrderID, task.ReservationID, task.UserID, lines, task.Reason, task.LastError).
		Scan(&task.ID, &status, &task.Attempts, &task.NextAttemptAt, &task.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert compensation task: %w", err)
	}
	task.Status = domain.TaskStatus(status)

	burn := `
		UPDATE idempotency_keys
		SET status = 'failed', updated_at = NOW()
		WHERE reservation_id = $1 AND status IN ('pending', 'retryable')
	`
	if _, err := tx.Exec(ctx, burn, task.ReservationID); err != nil {
		return fmt.Errorf("failed to burn idempotency key: %w", err)
	}

	event, err := outboxDomain.NewEvent(
		"Reservation",
		task.ReservationID,
		events.EventCompensationFailed,
		events.OrderEventsTopic,
		events.CompensationFailedEvent{
			TaskID:        task.ID,
			ReservationID: task.ReservationID,
			OrderID:       task.OrderID,
			UserID:        task.UserID,
			Reason:        task.Reason,
			LastError:     task.LastError,
			Lines:         toEventLines(task.Lines),
			FailedAt:      task.CreatedAt,
		},
	)
	if err != nil {
		return err
	}

	return r.outbox.SaveOutboxEvent(ctx, tx, event)
}

// GetDueTasks locks up to limit pending tasks whose retry time has come.
func (r *ReconciliationRepository) GetDueTasks(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.CompensationTask, error) {
	ctx, span := r.tracer.Start(ctx, "ReconciliationRepository.GetDueTasks")
	defer span.End()

	query := `
		SELECT id, kind, COALESCE(order_id::text, ''), reservation_id::text, user_id, lines, reason,
		       attempts, status, last_error, next_attempt_at, created_at
		FROM compensation_tasks
		WHERE status = 'pending' AND next_attempt_at <= NOW()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query compensation tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.CompensationTask
	for rows.Next() {
		var (
			t      domain.CompensationTask
			kind   string
			lines  []byte
			status string
		)

		if err := rows.Scan(&t.ID, &kind, &t.OrderID, &t.ReservationID, &t.UserID, &lines, &t.Reason, &t.Attempts, &status, &t.LastError, &t.NextAttemptAt, &t.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan compensation task: %w", err)
		}

		if err := json.Unmarshal(lines, &t.Lines); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task %d lines: %w", t.ID, err)
		}
		t.Kind = domain.TaskKind(kind)
		t.Status = domain.TaskStatus(status)

		tasks = append(tasks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(tasks)))

	return tasks, nil
}

// MarkTaskDone closes the task and frees the idempotency key it burned.
func (r *ReconciliationRepository) MarkTaskDone(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask) error {
	ctx, span := r.tracer.Start(ctx, "ReconciliationRepository.MarkTaskDone")
	defer span.End()

	span.SetAttributes(attribute.Int64("task_id", task.ID))

	if _, err := tx.Exec(ctx, `
		UPDATE compensation_tasks
		SET status = 'done', attempts = attempts + 1, last_error = '', updated_at = NOW()
		WHERE id = $1
	`, task.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark task %d done: %w", task.ID, err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE reservation_id = $1 AND status = 'failed'
	`, task.ReservationID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to free idempotency key: %w", err)
	}

	task.Status = domain.TaskDone
	return nil
}

func (r *ReconciliationRepository) MarkTaskRetry(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask, nextAttemptAt time.Time, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "ReconciliationRepository.MarkTaskRetry")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("task_id", task.ID),
		attribute.String("error_message", errMsg),
	)

	query := `
		UPDATE compensation_tasks
		SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING attempts
	`

	if err := tx.QueryRow(ctx, query, errMsg, nextAttemptAt, task.ID).Scan(&task.Attempts); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reschedule task %d: %w", task.ID, err)
	}

	task.LastError = errMsg
	task.NextAttemptAt = nextAttemptAt

	return nil
}

// MarkTaskDead gives up on the task and emits ReconciliationExhausted for operators.
func (r *ReconciliationRepository) MarkTaskDead(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "ReconciliationRepository.MarkTaskDead")
	defer span.End()

	span.SetAttributes(attribute.Int64("task_id", task.ID))

	query := `
		UPDATE compensation_tasks
		SET status = 'dead', attempts = attempts + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING attempts, updated_at
	`

	var gaveUpAt time.Time
	if err := tx.QueryRow(ctx, query, errMsg, task.ID).Scan(&task.Attempts, &gaveUpAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark task %d dead: %w", task.ID, err)
	}

	task.Status = domain.TaskDead
	task.LastError = errMsg

	event, err := outboxDomain.NewEvent(
		"Reservation",
		task.ReservationID,
		events.EventReconciliationExhausted,
		events.OrderEventsTopic,
		events.ReconciliationExhaustedEvent{
			TaskID:        task.ID,
			ReservationID: task.ReservationID,
			Attempts:      task.Attempts,
			LastError:     errMsg,
			GaveUpAt:      gaveUpAt,
		},
	)
	if err != nil {
		return err
	}

	return r.outbox.SaveOutboxEvent(ctx, tx, event)
}

// LockStaleClaims returns create claims left pending or retryable for longer
// than olderThan. Their reservation may still hold stock nobody will confirm.
func (r *ReconciliationRepository) LockStaleClaims(ctx context.Context, tx pgx.Tx, olderThan time.Duration, limit int) ([]*domain.IdempotencyClaim, error) {
	ctx, span := r.tracer.Start(ctx, "ReconciliationRepository.LockStaleClaims")
	defer span.End()

	query := `
		SELECT scope, idem_key, request_hash, reservation_id::text, cart, created_at, updated_at
		FROM idempotency_keys
		WHERE operation = 'create' AND status IN ('pending', 'retryable')
		  AND reservation_id IS NOT NULL
		  AND updated_at < NOW() - make_interval(secs => $1)
		ORDER BY updated_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, olderThan.Seconds(), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query stale claims: %w", err)
	}
	defer rows.Close()

	var claims []*domain.IdempotencyClaim
	for rows.Next() {
		c := domain.IdempotencyClaim{Operation: domain.OperationCreate, Status: domain.ClaimPending}

		var cart []byte
		if err := rows.Scan(&c.Scope, &c.Key, &c.RequestHash, &c.ReservationID, &cart, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stale claim: %w", err)
		}

		if err := json.Unmarshal(cart, &c.Cart); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stale claim cart: %w", err)
		}

		claims = append(claims, &c)
	}

	return claims, rows.Err()
}

// ClaimUserID parses the user id a create claim is scoped to.
func ClaimUserID(c *domain.IdempotencyClaim) int64 {
	id, _ := strconv.ParseInt(c.Scope, 10, 64)
	return id
}

func toEventLines(lines []domain.CartLine) []events.OrderLine {
	out := make([]events.OrderLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, events.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}
