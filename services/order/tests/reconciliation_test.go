package tests

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/order/internal/repository"
)

func updateTo(status domain.OrderStatus) repository.StatusUpdate {
	return repository.StatusUpdate{To: status}
}

func (s *IntegrationTestSuite) TestCompensation_LedgerFailureReleasesStock() {
	s.Ledger.failInsert = true

	_, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 2})
	s.ErrorIs(err, domain.ErrOrderPersistFailed)
	s.NotErrorIs(err, domain.ErrCompensationFailed)

	s.Equal(int64(5), s.Inventory.available(1))
	s.Equal(0, s.count("orders"))
	s.Equal(0, s.count("compensation_tasks"))
	s.Empty(s.claimStatus(domain.OperationCreate, "42", "key-1"))

	s.Ledger.failInsert = false

	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 2})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusConfirmed, order.Status)
}

func (s *IntegrationTestSuite) TestCompensation_ExhaustedQueuesTask() {
	s.Ledger.failInsert = true
	s.Inventory.setReleaseErr(fmt.Errorf("%w: product service down", domain.ErrTransportUnavailable))

	_, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 2})
	s.ErrorIs(err, domain.ErrCompensationFailed)
	s.ErrorIs(err, domain.ErrOrderPersistFailed)

	s.Equal(1, s.count("compensation_tasks"))
	s.Equal("failed", s.claimStatus(domain.OperationCreate, "42", "key-1"))
	s.Equal([]string{"CompensationFailed"}, s.outboxEvents())
	s.Equal(int64(3), s.Inventory.available(1))

	s.Ledger.failInsert = false

	_, err = s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 2})
	s.ErrorIs(err, domain.ErrIdempotencyKeyFailed)

	s.Inventory.setReleaseErr(nil)

	released, err := s.Reconciler.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, released)
	s.Equal(int64(5), s.Inventory.available(1))

	var status string
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT status FROM compensation_tasks`).Scan(&status))
	s.Equal("done", status)

	s.Empty(s.claimStatus(domain.OperationCreate, "42", "key-1"), "a reconciled key can be used again")
}

func (s *IntegrationTestSuite) TestReconciler_RetriesThenGivesUp() {
	reservationID := uuid.NewString()

	err := s.Recon.Enqueue(s.Ctx, &domain.CompensationTask{
		ReservationID: reservationID,
		UserID:        testUserID,
		Lines:         []domain.CartLine{{ProductID: 1, Quantity: 1}},
		Reason:        "test",
	})
	s.Require().NoError(err)

	s.Inventory.setReleaseErr(fmt.Errorf("%w: down", domain.ErrTransportTimeout))

	for attempt := 1; attempt <= 3; attempt++ {
		released, err := s.Reconciler.ProcessBatch(s.Ctx)
		s.Require().NoError(err)
		s.Zero(released)

		// make the rescheduled task due again
		_, err = s.DbPool.Exec(s.Ctx, `UPDATE compensation_tasks SET next_attempt_at = NOW() - INTERVAL '1 second'`)
		s.Require().NoError(err)
	}

	var (
		status   string
		attempts int
	)
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT status, attempts FROM compensation_tasks`).Scan(&status, &attempts))
	s.Equal("dead", status)
	s.Equal(3, attempts)

	s.Equal([]string{"CompensationFailed", "ReconciliationExhausted"}, s.outboxEvents())
}

func (s *IntegrationTestSuite) TestReconciler_SweepsStaleClaims() {
	claim := &domain.IdempotencyClaim{
		Operation:     domain.OperationCreate,
		Scope:         "42",
		Key:           "abandoned",
		RequestHash:   domain.CartHash([]domain.CartLine{{ProductID: 2, Quantity: 4}}, ""),
		ReservationID: uuid.NewString(),
		Cart:          []domain.CartLine{{ProductID: 2, Quantity: 4}},
	}

	res, err := s.Keys.ClaimCreate(s.Ctx, claim)
	s.Require().NoError(err)
	s.False(res.Replay)

	_, err = s.Inventory.Reserve(s.Ctx, claim.ReservationID, claim.Cart)
	s.Require().NoError(err)
	s.Equal(int64(6), s.Inventory.available(2))

	queued, err := s.Reconciler.SweepStaleClaims(s.Ctx)
	s.Require().NoError(err)
	s.Zero(queued, "fresh claims are left alone")

	_, err = s.DbPool.Exec(s.Ctx, `UPDATE idempotency_keys SET updated_at = NOW() - INTERVAL '10 minutes'`)
	s.Require().NoError(err)

	queued, err = s.Reconciler.SweepStaleClaims(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, queued)
	s.Equal("failed", s.claimStatus(domain.OperationCreate, "42", "abandoned"))

	released, err := s.Reconciler.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, released)
	s.Equal(int64(10), s.Inventory.available(2))
}

func (s *IntegrationTestSuite) TestReconciler_FinishesQueuedCancellation() {
	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 2})
	s.Require().NoError(err)

	// stock came back but the status write was lost
	s.Require().NoError(s.Inventory.Release(s.Ctx, order.ReservationID, order.CartLines()))
	s.Equal(int64(5), s.Inventory.available(1))

	err = s.Recon.Enqueue(s.Ctx, &domain.CompensationTask{
		Kind:          domain.TaskCancel,
		OrderID:       order.ID,
		ReservationID: order.ReservationID,
		UserID:        testUserID,
		Lines:         order.CartLines(),
		Reason:        "test",
		LastError:     "connection reset",
	})
	s.Require().NoError(err)

	done, err := s.Reconciler.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, done)

	stored, err := s.Orders.ReadOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, stored.Status)
	s.Equal(int64(5), s.Inventory.available(1), "a cancel task never releases twice")

	var kind, status string
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT kind, status FROM compensation_tasks`).Scan(&kind, &status))
	s.Equal("cancel", kind)
	s.Equal("done", status)

	s.Equal([]string{"OrderConfirmed", "CompensationFailed", "OrderCancelled"}, s.outboxEvents())
}

func (s *IntegrationTestSuite) TestReconciler_DropsCancellationForSettledOrder() {
	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 1})
	s.Require().NoError(err)

	_, err = s.Service.CancelOrder(s.Ctx, order.ID, "")
	s.Require().NoError(err)

	err = s.Recon.Enqueue(s.Ctx, &domain.CompensationTask{
		Kind:          domain.TaskCancel,
		OrderID:       order.ID,
		ReservationID: order.ReservationID,
		UserID:        testUserID,
		Lines:         order.CartLines(),
		Reason:        "test",
	})
	s.Require().NoError(err)

	done, err := s.Reconciler.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, done)

	var status string
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT status FROM compensation_tasks`).Scan(&status))
	s.Equal("done", status)
}
