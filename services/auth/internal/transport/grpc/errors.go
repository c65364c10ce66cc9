package grpc

import (
	"errors"

	"github.com/sakashimaa/go-order-saga/services/auth/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/auth/pkg/validator"
	"google.golang.org/grpc/codes"
)

func mapErrorCode(err error) codes.Code {
	switch {
	case errors.Is(err, validator.ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInvalidCredentials):
		return codes.Unauthenticated
	case errors.Is(err, domain.ErrUserNotActivated):
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}
