package domain

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationReserved ReservationStatus = "reserved"
	ReservationRejected ReservationStatus = "rejected"
	ReservationReleased ReservationStatus = "released"
)

type ReservationLine struct {
	ProductID int64
	Requested int32
	Reserved  bool
	Available int64
	UnitPrice int64
}

// Reservation is the stored outcome of a ReserveStock call. A repeated call
// with the same id returns it unchanged.
type Reservation struct {
	ID          string
	Status      ReservationStatus
	AllReserved bool
	Lines       []ReservationLine
}

// ProductIDs lists the products touched by the reservation.
func (r *Reservation) ProductIDs() []int64 {
	ids := make([]int64, 0, len(r.Lines))
	for _, l := range r.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

type ReleaseResult struct {
	Released         bool
	FailedProductIDs []int64
	// ProductIDs holds the products whose stock went back up.
	ProductIDs []int64
}
