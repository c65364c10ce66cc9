package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/order/internal/repository"
)

type fakeLedger struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	keys      *fakeKeys
	insertErr error
	updateErr error
	inserts   int
	updates   int
	// updateFailures, when positive, limits updateErr to the first n updates.
	updateFailures int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{orders: make(map[string]*domain.Order)}
}

func (l *fakeLedger) InsertOrder(ctx context.Context, order *domain.Order, claim *domain.IdempotencyClaim) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inserts++

	if err := ctx.Err(); err != nil {
		return err
	}
	if l.insertErr != nil {
		return l.insertErr
	}

	stored := *order
	stored.Lines = append([]domain.OrderLine(nil), order.Lines...)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	l.orders[order.ID] = &stored

	if l.keys != nil {
		l.keys.complete(domain.OperationCreate, claim.Scope, claim.Key, order.ID)
	}

	claim.Status = domain.ClaimCompleted
	claim.OrderID = order.ID

	return nil
}

func (l *fakeLedger) UpdateStatus(ctx context.Context, orderID string, update repository.StatusUpdate) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.updates++

	if l.updateErr != nil && (l.updateFailures == 0 || l.updates <= l.updateFailures) {
		return nil, l.updateErr
	}

	o, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	if update.Expected != "" && o.Status != update.Expected {
		return nil, domain.ErrInvalidTransition
	}
	if err := domain.ValidateTransition(o.Status, update.To); err != nil {
		return nil, err
	}

	o.Status = update.To
	o.UpdatedAt = time.Now()

	if l.keys != nil && update.IdempotencyKey != "" {
		l.keys.complete(domain.OperationCancel, orderID, update.IdempotencyKey, orderID)
	}

	copied := *o
	return &copied, nil
}

func (l *fakeLedger) UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if !o.AcceptsAddressChange() {
		return nil, domain.ErrOrderClosed
	}

	o.ShippingAddress = address
	o.UpdatedAt = time.Now()

	copied := *o
	return &copied, nil
}

func (l *fakeLedger) ReadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	copied := *o
	return &copied, nil
}

func (l *fakeLedger) ListByUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Order, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*domain.Order
	for _, o := range l.orders {
		if o.UserID != userID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		copied := *o
		out = append(out, &copied)
	}

	return out, int64(len(out)), nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

type claimKey struct {
	op    domain.Operation
	scope string
	key   string
}

type fakeKeys struct {
	mu     sync.Mutex
	claims map[claimKey]*domain.IdempotencyClaim
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{claims: make(map[claimKey]*domain.IdempotencyClaim)}
}

func (k *fakeKeys) ClaimCreate(ctx context.Context, claim *domain.IdempotencyClaim) (*repository.ClaimResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := claimKey{claim.Operation, claim.Scope, claim.Key}

	existing, ok := k.claims[id]
	if !ok {
		stored := *claim
		stored.Status = domain.ClaimPending
		k.claims[id] = &stored

		copied := stored
		return &repository.ClaimResult{Claim: &copied}, nil
	}

	if existing.RequestHash != claim.RequestHash {
		return nil, domain.ErrIdempotencyKeyReuse
	}

	switch existing.Status {
	case domain.ClaimCompleted:
		copied := *existing
		return &repository.ClaimResult{Claim: &copied, Replay: true}, nil
	case domain.ClaimFailed:
		return nil, domain.ErrIdempotencyKeyFailed
	case domain.ClaimPending:
		return nil, domain.ErrRequestInProgress
	}

	existing.Status = domain.ClaimPending
	copied := *existing
	return &repository.ClaimResult{Claim: &copied}, nil
}

func (k *fakeKeys) MarkRetryable(ctx context.Context, claim *domain.IdempotencyClaim) error {
	return k.setStatus(claim, domain.ClaimRetryable)
}

func (k *fakeKeys) ReleaseClaim(ctx context.Context, claim *domain.IdempotencyClaim) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := claimKey{claim.Operation, claim.Scope, claim.Key}
	if c, ok := k.claims[id]; ok && c.Status == domain.ClaimPending {
		delete(k.claims, id)
	}
	return nil
}

func (k *fakeKeys) FindCompleted(ctx context.Context, op domain.Operation, scope, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	c, ok := k.claims[claimKey{op, scope, key}]
	if !ok || c.Status != domain.ClaimCompleted {
		return "", repository.ErrClaimNotFound
	}
	return c.OrderID, nil
}

// complete mirrors the ledger binding the claim inside the order transaction.
func (k *fakeKeys) complete(op domain.Operation, scope, key, orderID string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := claimKey{op, scope, key}
	c, ok := k.claims[id]
	if !ok {
		c = &domain.IdempotencyClaim{Operation: op, Scope: scope, Key: key}
		k.claims[id] = c
	}
	c.Status = domain.ClaimCompleted
	c.OrderID = orderID
}

func (k *fakeKeys) setStatus(claim *domain.IdempotencyClaim, status domain.ClaimStatus) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	c, ok := k.claims[claimKey{claim.Operation, claim.Scope, claim.Key}]
	if !ok || c.Status != domain.ClaimPending {
		return repository.ErrClaimNotFound
	}
	c.Status = status
	return nil
}

func (k *fakeKeys) get(op domain.Operation, scope, key string) (*domain.IdempotencyClaim, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	c, ok := k.claims[claimKey{op, scope, key}]
	if !ok {
		return nil, false
	}
	copied := *c
	return &copied, true
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*domain.CompensationTask
	err   error
}

func (q *fakeQueue) Enqueue(ctx context.Context, task *domain.CompensationTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}

	task.ID = int64(len(q.tasks) + 1)
	task.Status = domain.TaskPending
	q.tasks = append(q.tasks, task)
	return nil
}

type fakeVerifier struct {
	tokens map[string]int64
	err    error
}

func (v *fakeVerifier) VerifyToken(ctx context.Context, credential string) (*domain.Identity, error) {
	if v.err != nil {
		return nil, v.err
	}

	userID, ok := v.tokens[credential]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}

	return &domain.Identity{UserID: userID, Valid: true, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type releaseCall struct {
	ReservationID string
	Lines         []domain.CartLine
	CtxErr        error
}

// fakeInventory reserves all-or-nothing and replays the outcome of a known
// reservation id.
type fakeInventory struct {
	mu           sync.Mutex
	stock        map[int64]int64
	prices       map[int64]int64
	reservations map[string]*domain.Reservation
	reserveCalls int
	reserveErr   error
	onReserve    func()
	releases     []releaseCall
	releaseErr   error
	// releaseFailures makes the first n releases fail with releaseErr,
	// every release when negative.
	releaseFailures int
}

func newFakeInventory(stock, prices map[int64]int64) *fakeInventory {
	return &fakeInventory{
		stock:        stock,
		prices:       prices,
		reservations: make(map[string]*domain.Reservation),
	}
}

func (f *fakeInventory) Reserve(ctx context.Context, reservationID string, lines []domain.CartLine) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reserveCalls++

	if f.onReserve != nil {
		f.onReserve()
	}
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}

	if r, ok := f.reservations[reservationID]; ok {
		return r, nil
	}

	res := &domain.Reservation{ID: reservationID, AllReserved: true}
	for _, l := range lines {
		available := f.stock[l.ProductID]
		ok := available >= int64(l.Quantity)
		if !ok {
			res.AllReserved = false
		}
		res.Lines = append(res.Lines, domain.ReservationLine{
			ProductID: l.ProductID,
			Requested: l.Quantity,
			Reserved:  ok,
			Available: available,
			UnitPrice: f.prices[l.ProductID],
		})
	}

	if res.AllReserved {
		for _, l := range lines {
			f.stock[l.ProductID] -= int64(l.Quantity)
		}
	}

	f.reservations[reservationID] = res
	return res, nil
}

func (f *fakeInventory) Release(ctx context.Context, reservationID string, lines []domain.CartLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releases = append(f.releases, releaseCall{ReservationID: reservationID, Lines: lines, CtxErr: ctx.Err()})

	if f.releaseErr != nil && (f.releaseFailures < 0 || len(f.releases) <= f.releaseFailures) {
		return f.releaseErr
	}

	r, ok := f.reservations[reservationID]
	if !ok || !r.AllReserved {
		return nil
	}

	for _, l := range lines {
		f.stock[l.ProductID] += int64(l.Quantity)
	}
	delete(f.reservations, reservationID)

	return nil
}

func (f *fakeInventory) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.releases)
}

func (f *fakeInventory) available(productID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}

var errBoom = errors.New("boom")
