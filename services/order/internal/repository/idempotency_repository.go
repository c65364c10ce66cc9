package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ClaimResult is the outcome of claiming a create key. Replay is set when the
// key already produced an order; Claim.OrderID then names it.
type ClaimResult struct {
	Claim  *domain.IdempotencyClaim
	Replay bool
}

type IdempotencyRepository struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	tracer     trace.Tracer
	staleAfter time.Duration
}

func NewIdempotencyRepository(pool *pgxpool.Pool, logger *zap.Logger, staleAfter time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{
		pool:       pool,
		logger:     logger,
		tracer:     otel.Tracer("idempotency_repository"),
		staleAfter: staleAfter,
	}
}

// ClaimCreate registers claim as in flight. When the key is already known it
// either replays the finished order, resumes a retryable or abandoned claim
// with its original reservation id, or refuses.
func (r *IdempotencyRepository) ClaimCreate(ctx context.Context, claim *domain.IdempotencyClaim) (*ClaimResult, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.ClaimCreate")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", claim.Scope),
		attribute.String("idempotency_key", claim.Key),
	)

	cart, err := json.Marshal(claim.Cart)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cart: %w", err)
	}

	var result *ClaimResult

	err = withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO idempotency_keys (operation, scope, idem_key, request_hash, reservation_id, status, cart)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6)
			ON CONFLICT DO NOTHING
		`

		tag, err := tx.Exec(ctx, insert, string(domain.OperationCreate), claim.Scope, claim.Key, claim.RequestHash, claim.ReservationID, cart)
		if err != nil {
			return fmt.Errorf("failed to insert idempotency key: %w", err)
		}

		if tag.RowsAffected() == 1 {
			claim.Status = domain.ClaimPending
			result = &ClaimResult{Claim: claim}
			return nil
		}

		existing, stale, err := r.lockClaim(ctx, tx, domain.OperationCreate, claim.Scope, claim.Key)
		if err != nil {
			return err
		}

		if existing.RequestHash != claim.RequestHash {
			return domain.ErrIdempotencyKeyReuse
		}

		switch existing.Status {
		case domain.ClaimCompleted:
			result = &ClaimResult{Claim: existing, Replay: true}
			return nil
		case domain.ClaimFailed:
			return domain.ErrIdempotencyKeyFailed
		case domain.ClaimPending:
			if !stale {
				return domain.ErrRequestInProgress
			}
		}

		takeover := `
			UPDATE idempotency_keys
			SET status = 'pending', updated_at = NOW()
			WHERE operation = $1 AND scope = $2 AND idem_key = $3
		`
		if _, err := tx.Exec(ctx, takeover, string(domain.OperationCreate), claim.Scope, claim.Key); err != nil {
			return fmt.Errorf("failed to resume idempotency key: %w", err)
		}

		existing.Status = domain.ClaimPending
		result = &ClaimResult{Claim: existing}

		mylogger.Info(
			ctx,
			r.logger,
			"Resuming idempotent request",
			zap.String("idempotency_key", claim.Key),
			zap.String("reservation_id", existing.ReservationID),
		)

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return result, nil
}

// MarkRetryable lets the next request with the same key resume the claim.
func (r *IdempotencyRepository) MarkRetryable(ctx context.Context, claim *domain.IdempotencyClaim) error {
	return r.setStatus(ctx, "IdempotencyRepository.MarkRetryable", claim, domain.ClaimRetryable)
}

// ReleaseClaim forgets a claim whose request ended without holding stock.
func (r *IdempotencyRepository) ReleaseClaim(ctx context.Context, claim *domain.IdempotencyClaim) error {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.ReleaseClaim")
	defer span.End()

	query := `
		DELETE FROM idempotency_keys
		WHERE operation = $1 AND scope = $2 AND idem_key = $3 AND status = 'pending'
	`

	if _, err := r.pool.Exec(ctx, query, string(claim.Operation), claim.Scope, claim.Key); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}

	return nil
}

// FindCompleted returns the order id recorded for a finished request.
func (r *IdempotencyRepository) FindCompleted(ctx context.Context, op domain.Operation, scope, key string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.FindCompleted")
	defer span.End()

	query := `
		SELECT COALESCE(order_id::text, '')
		FROM idempotency_keys
		WHERE operation = $1 AND scope = $2 AND idem_key = $3 AND status = 'completed'
	`

	var orderID string
	if err := r.pool.QueryRow(ctx, query, string(op), scope, key).Scan(&orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrClaimNotFound
		}

		span.RecordError(err)
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}

	return orderID, nil
}

func (r *IdempotencyRepository) setStatus(ctx context.Context, spanName string, claim *domain.IdempotencyClaim, status domain.ClaimStatus) error {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	query := `
		UPDATE idempotency_keys
		SET status = $1, updated_at = NOW()
		WHERE operation = $2 AND scope = $3 AND idem_key = $4 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, string(status), string(claim.Operation), claim.Scope, claim.Key)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update idempotency key: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}

	claim.Status = status
	return nil
}

func (r *IdempotencyRepository) lockClaim(ctx context.Context, tx pgx.Tx, op domain.Operation, scope, key string) (*domain.IdempotencyClaim, bool, error) {
	query := `
		SELECT operation, scope, idem_key, request_hash, COALESCE(reservation_id::text, ''),
		       COALESCE(order_id::text, ''), status, cart, created_at, updated_at,
		       updated_at < NOW() - make_interval(secs => $4)
		FROM idempotency_keys
		WHERE operation = $1 AND scope = $2 AND idem_key = $3
		FOR UPDATE
	`

	var (
		c      domain.IdempotencyClaim
		opName string
		status string
		cart   []byte
		stale  bool
	)

	err := tx.QueryRow(ctx, query, string(op), scope, key, r.staleAfter.Seconds()).Scan(
		&opName,
		&c.Scope,
		&c.Key,
		&c.RequestHash,
		&c.ReservationID,
		&c.OrderID,
		&status,
		&cart,
		&c.CreatedAt,
		&c.UpdatedAt,
		&stale,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// the conflicting row was deleted between insert and select
			return nil, false, domain.ErrRequestInProgress
		}
		return nil, false, fmt.Errorf("failed to lock idempotency key: %w", err)
	}

	c.Operation = domain.Operation(opName)
	c.Status = domain.ClaimStatus(status)

	if err := json.Unmarshal(cart, &c.Cart); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cart: %w", err)
	}

	return &c, stale, nil
}

// completeCreateClaim binds the claim to orderID inside the order transaction.
func completeCreateClaim(ctx context.Context, tx pgx.Tx, claim *domain.IdempotencyClaim, orderID string) error {
	query := `
		UPDATE idempotency_keys
		SET status = 'completed', order_id = $1, updated_at = NOW()
		WHERE operation = $2 AND scope = $3 AND idem_key = $4
		  AND reservation_id = $5 AND status = 'pending'
	`

	tag, err := tx.Exec(ctx, query, orderID, string(domain.OperationCreate), claim.Scope, claim.Key, claim.ReservationID)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}

	claim.Status = domain.ClaimCompleted
	claim.OrderID = orderID

	return nil
}

func recordCompleted(ctx context.Context, tx pgx.Tx, op domain.Operation, scope, key, orderID string) error {
	query := `
		INSERT INTO idempotency_keys (operation, scope, idem_key, request_hash, status, order_id)
		VALUES ($1, $2, $3, $2, 'completed', $4)
		ON CONFLICT DO NOTHING
	`

	if _, err := tx.Exec(ctx, query, string(op), scope, key, orderID); err != nil {
		return fmt.Errorf("failed to record idempotency key: %w", err)
	}

	return nil
}
