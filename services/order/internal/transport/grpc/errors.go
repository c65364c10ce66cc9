package grpc

import (
	"context"
	"errors"

	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"google.golang.org/grpc/codes"
)

// mapErrorCode checks the saga failures first: they wrap the transport
// errors that caused them and must still surface as Internal.
func mapErrorCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrCancelFailed),
		errors.Is(err, domain.ErrCompensationFailed),
		errors.Is(err, domain.ErrOrderPersistFailed):
		return codes.Internal
	case errors.Is(err, domain.ErrUnauthenticated):
		return codes.Unauthenticated
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrReservationClosed),
		errors.Is(err, domain.ErrOrderClosed):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidOrderID),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrMissingIdempotencyKey),
		errors.Is(err, domain.ErrRequestRejected):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrTransportTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrTransportUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, domain.ErrRequestInProgress):
		return codes.Aborted
	case errors.Is(err, domain.ErrIdempotencyKeyReuse),
		errors.Is(err, domain.ErrIdempotencyKeyFailed):
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}
