package tests

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/repository"
)

func (s *IntegrationTestSuite) TestReleaseStock_Idempotent() {
	apple := s.seed("apple", 250, 5)
	id := uuid.NewString()

	_, err := s.Service.ReserveStock(s.Ctx, id, []domain.StockLine{{ProductID: apple, Quantity: 4}})
	s.Require().NoError(err)
	s.Require().Equal(int64(1), s.stock(apple))

	for i := 0; i < 3; i++ {
		result, err := s.Service.ReleaseStock(s.Ctx, id)
		s.Require().NoError(err)
		s.Require().True(result.Released)
	}

	s.Require().Equal(int64(5), s.stock(apple))
	s.Require().Equal([]string{events.EventStockReserved, events.EventStockReleased}, s.outboxEvents())
}

func (s *IntegrationTestSuite) TestReleaseStock_UnknownReservationBlocksLateReserve() {
	apple := s.seed("apple", 250, 5)
	id := uuid.NewString()

	result, err := s.Service.ReleaseStock(s.Ctx, id)
	s.Require().NoError(err)
	s.Require().True(result.Released)

	_, err = s.Service.ReserveStock(s.Ctx, id, []domain.StockLine{{ProductID: apple, Quantity: 1}})
	s.Require().ErrorIs(err, domain.ErrReservationClosed)
	s.Require().Equal(int64(5), s.stock(apple))
}

func (s *IntegrationTestSuite) TestReleaseStock_RejectedReservationIsNoop() {
	apple := s.seed("apple", 250, 5)
	id := uuid.NewString()

	res, err := s.Service.ReserveStock(s.Ctx, id, []domain.StockLine{{ProductID: apple, Quantity: 50}})
	s.Require().NoError(err)
	s.Require().False(res.AllReserved)

	result, err := s.Service.ReleaseStock(s.Ctx, id)
	s.Require().NoError(err)
	s.Require().True(result.Released)
	s.Require().Equal(int64(5), s.stock(apple))
}

func (s *IntegrationTestSuite) TestReleaseStock_VanishedProduct() {
	apple := s.seed("apple", 250, 5)
	pear := s.seed("pear", 1000, 10)
	id := uuid.NewString()

	_, err := s.Service.ReserveStock(s.Ctx, id, []domain.StockLine{
		{ProductID: apple, Quantity: 1},
		{ProductID: pear, Quantity: 2},
	})
	s.Require().NoError(err)

	_, err = s.DbPool.Exec(s.Ctx, `DELETE FROM products WHERE id = $1`, pear)
	s.Require().NoError(err)

	result, err := s.Service.ReleaseStock(s.Ctx, id)
	s.Require().NoError(err)
	s.Require().False(result.Released)
	s.Require().Equal([]int64{pear}, result.FailedProductIDs)
	s.Require().Equal(int64(5), s.stock(apple))

	// a retry must not return the apple a second time
	result, err = s.Service.ReleaseStock(s.Ctx, id)
	s.Require().NoError(err)
	s.Require().False(result.Released)
	s.Require().Equal(int64(5), s.stock(apple))
}

func (s *IntegrationTestSuite) TestReleaseStock_EventPayload() {
	apple := s.seed("apple", 250, 5)
	id := uuid.NewString()

	_, err := s.Service.ReserveStock(s.Ctx, id, []domain.StockLine{{ProductID: apple, Quantity: 2}})
	s.Require().NoError(err)
	_, err = s.Service.ReleaseStock(s.Ctx, id)
	s.Require().NoError(err)

	var raw []byte
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `
		SELECT payload FROM outbox WHERE event_type = $1
	`, events.EventStockReleased).Scan(&raw))

	var envelope struct {
		Payload events.StockMovementEvent `json:"payload"`
	}
	s.Require().NoError(json.Unmarshal(raw, &envelope))
	s.Require().Equal(id, envelope.Payload.ReservationID)
	s.Require().Len(envelope.Payload.Lines, 1)
	s.Require().Equal(int32(2), envelope.Payload.Lines[0].Quantity)
}

func (s *IntegrationTestSuite) TestGetProduct_CacheInvalidatedOnReserve() {
	apple := s.seed("apple", 250, 5)
	key := fmt.Sprintf("product:%d", apple)

	p, err := s.Service.GetProduct(s.Ctx, apple)
	s.Require().NoError(err)
	s.Require().Equal(int64(5), p.StockQuantity)
	s.Require().Equal(int64(1), s.Redis.Exists(s.Ctx, key).Val())

	_, err = s.Service.ReserveStock(s.Ctx, uuid.NewString(), []domain.StockLine{{ProductID: apple, Quantity: 3}})
	s.Require().NoError(err)
	s.Require().Equal(int64(0), s.Redis.Exists(s.Ctx, key).Val())

	p, err = s.Service.GetProduct(s.Ctx, apple)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), p.StockQuantity)
}

func (s *IntegrationTestSuite) TestGetProduct_NotFound() {
	_, err := s.Service.GetProduct(s.Ctx, 404)
	s.Require().ErrorIs(err, repository.ErrProductNotFound)
}
