package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
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

const abandonedReason = "request abandoned after reserving stock"

type TaskStore interface {
	GetDueTasks(ctx context.Context, tx pgx.Tx, limit int) ([]*domain.CompensationTask, error)
	MarkTaskDone(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask) error
	MarkTaskRetry(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask, nextAttemptAt time.Time, errMsg string) error
	MarkTaskDead(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask, errMsg string) error
	LockStaleClaims(ctx context.Context, tx pgx.Tx, olderThan time.Duration, limit int) ([]*domain.IdempotencyClaim, error)
	EnqueueTx(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask) error
}

type Releaser interface {
	Release(ctx context.Context, reservationID string, lines []domain.CartLine) error
}

type OrderStatusWriter interface {
	UpdateStatus(ctx context.Context, orderID string, upd repository.StatusUpdate) (*domain.Order, error)
}

type Settings struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	MaxBackoff  time.Duration
	StaleAfter  time.Duration
}

func SettingsFromConfig(r config.Reconciler, idem config.Idempotency) Settings {
	return Settings{
		Interval:    r.Interval,
		BatchSize:   r.BatchSize,
		MaxAttempts: r.MaxAttempts,
		MaxBackoff:  r.MaxBackoff,
		StaleAfter:  idem.StaleAfter,
	}
}

// Reconciler retries stock releases and cancellations the order service could
// not finish inline and turns abandoned create requests into releases.
type Reconciler struct {
	pool     *pgxpool.Pool
	store    TaskStore
	releaser Releaser
	orders   OrderStatusWriter
	settings Settings
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewReconciler(
	pool *pgxpool.Pool,
	store TaskStore,
	releaser Releaser,
	orders OrderStatusWriter,
	settings Settings,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	if settings.Interval <= 0 {
		settings.Interval = 5 * time.Second
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 20
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 20
	}
	if settings.MaxBackoff <= 0 {
		settings.MaxBackoff = 10 * time.Minute
	}
	if m == nil {
		m = metrics.Nop()
	}

	return &Reconciler{
		pool:     pool,
		store:    store,
		releaser: releaser,
		orders:   orders,
		settings: settings,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("reconciler"),
		now:      time.Now,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	mylogger.Info(ctx, r.logger, "Starting reconciler", zap.Duration("interval", r.settings.Interval))

	ticker := time.NewTicker(r.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, r.logger, "Reconciler stopping")
			return
		case <-ticker.C:
			if r.settings.StaleAfter > 0 {
				if _, err := r.SweepStaleClaims(ctx); err != nil {
					mylogger.Error(ctx, r.logger, "Error sweeping stale idempotency keys", zap.Error(err))
				}
			}

			if _, err := r.ProcessBatch(ctx); err != nil {
				mylogger.Error(ctx, r.logger, "Error processing reconciliation batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch retries one batch of due tasks and returns how many completed.
func (r *Reconciler) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Reconciler.ProcessBatch")
	defer span.End()

	released := 0

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tasks, err := r.store.GetDueTasks(ctx, tx, r.settings.BatchSize)
		if err != nil {
			return err
		}

		for _, task := range tasks {
			ok, err := r.reconcile(ctx, tx, task)
			if err != nil {
				return err
			}
			if ok {
				released++
			}
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("released", released))

	return released, nil
}

func (r *Reconciler) reconcile(ctx context.Context, tx pgx.Tx, task *domain.CompensationTask) (bool, error) {
	outcome, releaseErr := r.run(ctx, task)
	if releaseErr == nil {
		if err := r.store.MarkTaskDone(ctx, tx, task); err != nil {
			return false, fmt.Errorf("failed to close task %d: %w", task.ID, err)
		}

		r.metrics.ReconciliationTasks.WithLabelValues(outcome).Inc()
		mylogger.Info(
			ctx,
			r.logger,
			"Reconciliation task completed",
			zap.Int64("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.String("reservation_id", task.ReservationID),
			zap.String("order_id", task.OrderID),
		)

		return true, nil
	}

	attempt := task.Attempts + 1

	if attempt >= r.settings.MaxAttempts {
		if err := r.store.MarkTaskDead(ctx, tx, task, releaseErr.Error()); err != nil {
			return false, fmt.Errorf("failed to bury task %d: %w", task.ID, err)
		}

		r.metrics.ReconciliationTasks.WithLabelValues("dead").Inc()
		mylogger.Error(
			ctx,
			r.logger,
			"Reconciliation gave up on reservation",
			zap.Int64("task_id", task.ID),
			zap.String("reservation_id", task.ReservationID),
			zap.Int("attempts", attempt),
			zap.Error(releaseErr),
		)

		return false, nil
	}

	next := r.now().Add(utils.NextDelay(attempt, r.settings.Interval, r.settings.MaxBackoff))
	if err := r.store.MarkTaskRetry(ctx, tx, task, next, releaseErr.Error()); err != nil {
		return false, fmt.Errorf("failed to reschedule task %d: %w", task.ID, err)
	}

	r.metrics.ReconciliationTasks.WithLabelValues("retry").Inc()
	mylogger.Warn(
		ctx,
		r.logger,
		"Reconciliation attempt failed",
		zap.Int64("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(releaseErr),
	)

	return false, nil
}

// run performs one attempt of the task. A cancel task's stock is already back
// in the catalogue, so it only re-applies the cancelled status. An order that
// is already final or gone has nothing left to cancel.
func (r *Reconciler) run(ctx context.Context, task *domain.CompensationTask) (string, error) {
	if task.Kind != domain.TaskCancel {
		return "released", r.releaser.Release(ctx, task.ReservationID, task.Lines)
	}

	_, err := r.orders.UpdateStatus(ctx, task.OrderID, repository.StatusUpdate{To: domain.OrderStatusCancelled})
	switch {
	case err == nil:
		return "cancelled", nil
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderNotFound):
		mylogger.Warn(
			ctx,
			r.logger,
			"Queued cancellation no longer applies",
			zap.Int64("task_id", task.ID),
			zap.String("order_id", task.OrderID),
			zap.Error(err),
		)
		return "cancel_skipped", nil
	default:
		return "", err
	}
}

// SweepStaleClaims queues a release for every create request that reserved
// stock and then went quiet for longer than StaleAfter.
func (r *Reconciler) SweepStaleClaims(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Reconciler.SweepStaleClaims")
	defer span.End()

	queued := 0

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		claims, err := r.store.LockStaleClaims(ctx, tx, r.settings.StaleAfter, r.settings.BatchSize)
		if err != nil {
			return err
		}

		for _, claim := range claims {
			task := &domain.CompensationTask{
				Kind:          domain.TaskRelease,
				ReservationID: claim.ReservationID,
				UserID:        repository.ClaimUserID(claim),
				Lines:         claim.Cart,
				Reason:        abandonedReason,
			}

			if err := r.store.EnqueueTx(ctx, tx, task); err != nil {
				return fmt.Errorf("failed to queue release for reservation %s: %w", claim.ReservationID, err)
			}

			queued++
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if queued > 0 {
		r.metrics.ReconciliationTasks.WithLabelValues("swept").Add(float64(queued))
		mylogger.Warn(ctx, r.logger, "Stale idempotency keys queued for release", zap.Int("count", queued))
	}

	return queued, nil
}

func (r *Reconciler) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(cleanupCtx, r.logger, "Reconciler failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
