package tests

import (
	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/order/internal/repository"
)

func (s *IntegrationTestSuite) newClaim(key string) *domain.IdempotencyClaim {
	cart := []domain.CartLine{{ProductID: 1, Quantity: 1}}

	return &domain.IdempotencyClaim{
		Operation:     domain.OperationCreate,
		Scope:         "42",
		Key:           key,
		RequestHash:   domain.CartHash(cart, ""),
		ReservationID: uuid.NewString(),
		Cart:          cart,
	}
}

func (s *IntegrationTestSuite) TestClaimCreate_FreshPendingIsInProgress() {
	_, err := s.Keys.ClaimCreate(s.Ctx, s.newClaim("k"))
	s.Require().NoError(err)

	_, err = s.Keys.ClaimCreate(s.Ctx, s.newClaim("k"))
	s.ErrorIs(err, domain.ErrRequestInProgress)
}

func (s *IntegrationTestSuite) TestClaimCreate_RetryableResumesReservation() {
	first := s.newClaim("k")

	_, err := s.Keys.ClaimCreate(s.Ctx, first)
	s.Require().NoError(err)
	s.Require().NoError(s.Keys.MarkRetryable(s.Ctx, first))

	res, err := s.Keys.ClaimCreate(s.Ctx, s.newClaim("k"))
	s.Require().NoError(err)
	s.False(res.Replay)
	s.Equal(first.ReservationID, res.Claim.ReservationID)
	s.Equal(domain.ClaimPending, res.Claim.Status)
}

func (s *IntegrationTestSuite) TestClaimCreate_StaleTakeoverFencesOriginalWriter() {
	first := s.newClaim("k")

	_, err := s.Keys.ClaimCreate(s.Ctx, first)
	s.Require().NoError(err)

	_, err = s.DbPool.Exec(s.Ctx, `UPDATE idempotency_keys SET updated_at = NOW() - INTERVAL '10 minutes'`)
	s.Require().NoError(err)

	res, err := s.Keys.ClaimCreate(s.Ctx, s.newClaim("k"))
	s.Require().NoError(err)
	s.Equal(first.ReservationID, res.Claim.ReservationID)

	winner := &domain.Order{
		ID:            uuid.NewString(),
		UserID:        testUserID,
		Status:        domain.OrderStatusConfirmed,
		ReservationID: first.ReservationID,
		Lines:         []domain.OrderLine{{ProductID: 1, Quantity: 1, UnitPrice: 250}},
	}
	winner.CalculateTotal()
	s.Require().NoError(s.Orders.InsertOrder(s.Ctx, winner, res.Claim))

	loser := *winner
	loser.ID = uuid.NewString()
	err = s.Orders.InsertOrder(s.Ctx, &loser, first)
	s.ErrorIs(err, repository.ErrClaimLost)

	s.Equal(1, s.count("orders"))
}

func (s *IntegrationTestSuite) TestReleaseClaim_FreesKey() {
	claim := s.newClaim("k")

	_, err := s.Keys.ClaimCreate(s.Ctx, claim)
	s.Require().NoError(err)
	s.Require().NoError(s.Keys.ReleaseClaim(s.Ctx, claim))

	res, err := s.Keys.ClaimCreate(s.Ctx, s.newClaim("k"))
	s.Require().NoError(err)
	s.NotEqual(claim.ReservationID, res.Claim.ReservationID)
}
