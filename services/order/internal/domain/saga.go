package domain

import "time"

type Identity struct {
	UserID    int64
	Valid     bool
	ExpiresAt time.Time
}

type ReservationLine struct {
	ProductID int64
	Requested int32
	Reserved  bool
	Available int64
	UnitPrice int64
}

type Reservation struct {
	ID          string
	AllReserved bool
	Lines       []ReservationLine
}

// Rejection converts a refused reservation into the error returned to callers.
func (r *Reservation) Rejection() *InsufficientStockError {
	if r.AllReserved {
		return nil
	}

	var rejected []ReservationLine
	for _, l := range r.Lines {
		if !l.Reserved {
			rejected = append(rejected, l)
		}
	}

	if len(rejected) == 0 {
		return &InsufficientStockError{}
	}

	first := rejected[0]
	return &InsufficientStockError{
		ProductID: first.ProductID,
		Requested: first.Requested,
		Available: first.Available,
		Lines:     rejected,
	}
}

// PriceOf returns the unit price reserved for productID.
func (r *Reservation) PriceOf(productID int64) (int64, bool) {
	for _, l := range r.Lines {
		if l.ProductID == productID && l.Reserved {
			return l.UnitPrice, true
		}
	}
	return 0, false
}

type Operation string

const (
	OperationCreate Operation = "create"
	OperationCancel Operation = "cancel"
)

type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimRetryable ClaimStatus = "retryable"
	ClaimCompleted ClaimStatus = "completed"
	ClaimFailed    ClaimStatus = "failed"
)

// IdempotencyClaim binds a client key to the reservation and, once
// persisted, to the order it produced.
type IdempotencyClaim struct {
	Operation     Operation
	Scope         string
	Key           string
	RequestHash   string
	ReservationID string
	OrderID       string
	Status        ClaimStatus
	Cart          []CartLine
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskDead    TaskStatus = "dead"
)

// TaskKind says what a task still has to do. A release task returns the
// reservation's stock; a cancel task finds the stock already returned and
// only has to record the order as cancelled.
type TaskKind string

const (
	TaskRelease TaskKind = "release"
	TaskCancel  TaskKind = "cancel"
)

// CompensationTask is a durable request to finish a release or a cancellation
// that the request path could not finish itself.
type CompensationTask struct {
	ID            int64
	Kind          TaskKind
	OrderID       string
	ReservationID string
	UserID        int64
	Lines         []CartLine
	Reason        string
	Attempts      int
	Status        TaskStatus
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}
