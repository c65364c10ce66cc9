package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authpb "github.com/sakashimaa/go-order-saga/proto/auth"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type TokenVerifier struct {
	client authpb.AuthServiceClient
	policy Policy
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewTokenVerifier(client authpb.AuthServiceClient, policy Policy, logger *zap.Logger) *TokenVerifier {
	return &TokenVerifier{
		client: client,
		policy: policy,
		cb:     newBreaker("AuthService", logger),
		logger: logger,
		tracer: otel.Tracer("token_verifier"),
		now:    time.Now,
	}
}

// VerifyToken resolves a credential to the user it was issued for. Anything
// short of a valid, unexpired token is ErrUnauthenticated.
func (v *TokenVerifier) VerifyToken(ctx context.Context, credential string) (*domain.Identity, error) {
	ctx, span := v.tracer.Start(ctx, "TokenVerifier.VerifyToken")
	defer span.End()

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", domain.ErrUnauthenticated)
	}

	var resp *authpb.VerifyTokenResponse

	err := invoke(ctx, v.policy, v.cb, v.logger, "VerifyToken", func(ctx context.Context) error {
		var err error
		resp, err = v.client.VerifyToken(ctx, &authpb.VerifyTokenRequest{Token: credential})
		return err
	})
	if err != nil {
		span.RecordError(err)

		// any deliberate rejection of the credential means the caller is not signed in
		if !domain.IsTransportError(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrUnauthenticated) {
			return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
		}

		return nil, err
	}

	identity := &domain.Identity{
		UserID:    resp.UserID,
		Valid:     resp.Valid,
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
	}

	if !identity.Valid || identity.UserID <= 0 {
		return nil, fmt.Errorf("%w: token rejected", domain.ErrUnauthenticated)
	}

	if resp.ExpiresAt != 0 && !identity.ExpiresAt.After(v.now()) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
	}

	span.SetAttributes(attribute.Int64("user_id", identity.UserID))

	return identity, nil
}
