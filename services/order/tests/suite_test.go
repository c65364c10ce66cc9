package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sakashimaa/go-order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/go-order-saga/pkg/testsuite"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	orderRepository "github.com/sakashimaa/go-order-saga/services/order/internal/repository"
	"github.com/sakashimaa/go-order-saga/services/order/internal/service"
	"github.com/sakashimaa/go-order-saga/services/order/internal/worker"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const (
	testToken        = "user-42"
	testUserID int64 = 42
)

type IntegrationTestSuite struct {
	testsuite.BaseSuite

	Orders     *orderRepository.OrderRepository
	Keys       *orderRepository.IdempotencyRepository
	Recon      *orderRepository.ReconciliationRepository
	Inventory  *stubInventory
	Service    *service.OrderService
	Reconciler *worker.Reconciler
	Ledger     *flakyLedger
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure("../migrations", testsuite.Infrastructure{})
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.BaseSuite.TearDownInfrastructure()
}

func (s *IntegrationTestSuite) SetupTest() {
	s.BaseSuite.TruncateTables("orders", "order_lines", "idempotency_keys", "compensation_tasks", "outbox")

	logger := zap.NewNop()
	outboxRepo := repository.NewOutboxRepository()

	s.Orders = orderRepository.NewOrderRepository(s.DbPool, outboxRepo, logger)
	s.Keys = orderRepository.NewIdempotencyRepository(s.DbPool, logger, time.Minute)
	s.Recon = orderRepository.NewReconciliationRepository(s.DbPool, outboxRepo, logger)
	s.Inventory = newStubInventory(map[int64]int64{1: 5, 2: 10}, map[int64]int64{1: 250, 2: 1000})
	s.Ledger = &flakyLedger{OrderRepository: s.Orders}

	s.Service = service.NewOrderService(service.Deps{
		Ledger:    s.Ledger,
		Keys:      s.Keys,
		Queue:     s.Recon,
		Verifier:  stubVerifier{},
		Inventory: s.Inventory,
		Compensation: service.CompensationPolicy{
			Retry: utils.RetryPolicy{
				MaxRetries:     1,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
			},
			Timeout: 5 * time.Second,
		},
	}, logger)

	s.Reconciler = worker.NewReconciler(s.DbPool, s.Recon, s.Inventory, s.Orders, worker.Settings{
		Interval:    time.Second,
		BatchSize:   10,
		MaxAttempts: 3,
		MaxBackoff:  time.Minute,
		StaleAfter:  time.Minute,
	}, nil, logger)
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration tests need docker")
	}

	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) createOrder(key string, cart ...domain.CartLine) (*domain.Order, error) {
	return s.Service.CreateOrder(s.Ctx, service.CreateOrderInput{
		Credential:      testToken,
		IdempotencyKey:  key,
		Cart:            cart,
		ShippingAddress: "1 Infinite Loop",
	})
}

func (s *IntegrationTestSuite) outboxEvents() []string {
	rows, err := s.DbPool.Query(s.Ctx, `SELECT event_type FROM outbox ORDER BY id`)
	s.Require().NoError(err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		s.Require().NoError(rows.Scan(&t))
		types = append(types, t)
	}
	s.Require().NoError(rows.Err())

	return types
}

func (s *IntegrationTestSuite) claimStatus(op domain.Operation, scope, key string) string {
	var status string
	err := s.DbPool.QueryRow(s.Ctx, `
		SELECT status FROM idempotency_keys
		WHERE operation = $1 AND scope = $2 AND idem_key = $3
	`, string(op), scope, key).Scan(&status)
	if err != nil {
		return ""
	}
	return status
}

func (s *IntegrationTestSuite) count(table string) int {
	var n int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// flakyLedger fails InsertOrder while failInsert is set.
type flakyLedger struct {
	*orderRepository.OrderRepository
	failInsert bool
}

func (l *flakyLedger) InsertOrder(ctx context.Context, order *domain.Order, claim *domain.IdempotencyClaim) error {
	if l.failInsert {
		return errors.New("ledger unavailable")
	}
	return l.OrderRepository.InsertOrder(ctx, order, claim)
}

type stubVerifier struct{}

func (stubVerifier) VerifyToken(ctx context.Context, credential string) (*domain.Identity, error) {
	if credential != testToken {
		return nil, domain.ErrUnauthenticated
	}
	return &domain.Identity{UserID: testUserID, Valid: true, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// stubInventory keeps stock in memory and deduplicates by reservation id.
type stubInventory struct {
	mu           sync.Mutex
	stock        map[int64]int64
	prices       map[int64]int64
	held         map[string][]domain.CartLine
	reserveCalls int
	releaseErr   error
}

func newStubInventory(stock, prices map[int64]int64) *stubInventory {
	return &stubInventory{stock: stock, prices: prices, held: make(map[string][]domain.CartLine)}
}

func (i *stubInventory) Reserve(ctx context.Context, reservationID string, lines []domain.CartLine) (*domain.Reservation, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.reserveCalls++

	res := &domain.Reservation{ID: reservationID, AllReserved: true}
	_, replay := i.held[reservationID]

	for _, l := range lines {
		available := i.stock[l.ProductID]
		ok := replay || available >= int64(l.Quantity)
		if !ok {
			res.AllReserved = false
		}
		res.Lines = append(res.Lines, domain.ReservationLine{
			ProductID: l.ProductID,
			Requested: l.Quantity,
			Reserved:  ok,
			Available: available,
			UnitPrice: i.prices[l.ProductID],
		})
	}

	if res.AllReserved && !replay {
		for _, l := range lines {
			i.stock[l.ProductID] -= int64(l.Quantity)
		}
		i.held[reservationID] = lines
	}

	return res, nil
}

func (i *stubInventory) Release(ctx context.Context, reservationID string, lines []domain.CartLine) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.releaseErr != nil {
		return i.releaseErr
	}

	held, ok := i.held[reservationID]
	if !ok {
		return nil
	}

	for _, l := range held {
		i.stock[l.ProductID] += int64(l.Quantity)
	}
	delete(i.held, reservationID)

	return nil
}

func (i *stubInventory) available(productID int64) int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock[productID]
}

func (i *stubInventory) setReleaseErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.releaseErr = err
}
