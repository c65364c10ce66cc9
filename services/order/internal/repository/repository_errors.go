package repository

import "errors"

var (
	// ErrClaimLost means another request took over the idempotency claim
	// and now owns its reservation.
	ErrClaimLost     = errors.New("idempotency claim taken over by another request")
	ErrClaimNotFound = errors.New("idempotency claim not found")
)
