package domain

import "errors"

var (
	ErrEmptyReservation     = errors.New("reservation has no lines")
	ErrInvalidLine          = errors.New("invalid reservation line")
	ErrInvalidReservationID = errors.New("invalid reservation id")
	ErrReservationClosed    = errors.New("reservation already released")
)
