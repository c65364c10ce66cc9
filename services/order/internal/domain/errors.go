package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrInvalidProduct        = errors.New("invalid product")
	ErrInvalidStatus         = errors.New("invalid order status")
	ErrInvalidOrderID        = errors.New("invalid order id")
	ErrInvalidAddress        = errors.New("invalid shipping address")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrOrderNotFound   = errors.New("order not found")

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderClosed       = errors.New("order can no longer be changed")

	ErrTransportTimeout     = errors.New("remote call timed out")
	ErrTransportUnavailable = errors.New("remote service unavailable")
	ErrPartialRelease       = errors.New("stock release partially failed")

	ErrProductNotFound   = errors.New("product not found")
	ErrReservationClosed = errors.New("reservation already released")
	ErrRequestRejected   = errors.New("request rejected by remote service")

	ErrOrderPersistFailed = errors.New("failed to persist order")
	ErrCancelFailed       = errors.New("failed to cancel order")
	ErrCompensationFailed = errors.New("failed to release reserved stock")

	ErrRequestInProgress    = errors.New("request with this idempotency key is in progress")
	ErrIdempotencyKeyReuse  = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyFailed = errors.New("idempotency key belongs to a failed request")
)

// InsufficientStockError names the first rejected product. Lines holds every
// rejected line of the reservation.
type InsufficientStockError struct {
	ProductID int64
	Requested int32
	Available int64
	Lines     []ReservationLine
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrTransportUnavailable)
}
