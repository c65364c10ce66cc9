package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Policy bounds every remote call: each attempt gets Timeout, and transport
// failures are retried according to Retry.
type Policy struct {
	Timeout time.Duration
	Retry   utils.RetryPolicy
}

func PolicyFromConfig(c config.Client) Policy {
	return Policy{
		Timeout: c.Timeout,
		Retry: utils.RetryPolicy{
			MaxRetries:     c.MaxRetries,
			InitialBackoff: c.InitialBackoff,
			MaxBackoff:     c.MaxBackoff,
		},
	}
}

func Dial(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating gRPC client for %s: %w", target, err)
	}

	return conn, nil
}

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return utils.NewBreaker(name, logger, func(err error) bool {
		return err == nil || !isTransportStatus(err)
	})
}

// invoke runs fn under the policy and the breaker and returns a translated
// error. Business rejections are returned on the first attempt.
func invoke(
	ctx context.Context,
	p Policy,
	cb *gobreaker.CircuitBreaker,
	logger *zap.Logger,
	method string,
	fn func(ctx context.Context) error,
) error {
	return utils.Retry(ctx, p.Retry, func(ctx context.Context) error {
		_, err := utils.ExecuteWithBreaker(cb, func() (struct{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()

			return struct{}{}, fn(callCtx)
		})
		if err == nil {
			return nil
		}

		translated := translate(err)
		if !domain.IsTransportError(translated) {
			return utils.Permanent(translated)
		}

		return translated
	}, func(err error, next time.Duration) {
		mylogger.Warn(
			ctx,
			logger,
			"Remote call failed, retrying",
			zap.String("method", method),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

func isTransportStatus(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal, codes.Unknown:
		return true
	default:
		return false
	}
}

// translate maps a call failure onto the domain errors. Anything the remote
// side did not reject on purpose counts as a transport failure, so the call
// is retried and a claim holding a reservation stays resumable.
func translate(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTransportTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", domain.ErrTransportTimeout, st.Message())
	case codes.Unavailable, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", domain.ErrTransportUnavailable, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrReservationClosed, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrRequestRejected, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", domain.ErrTransportUnavailable, st.Code(), st.Message())
	}
}
