package grpc

import (
	"context"
	"errors"

	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/repository"
	"google.golang.org/grpc/codes"
)

func mapErrorCode(err error) codes.Code {
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrEmptyReservation),
		errors.Is(err, domain.ErrInvalidLine),
		errors.Is(err, domain.ErrInvalidReservationID):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrReservationClosed):
		return codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}
