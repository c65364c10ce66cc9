package tests

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
)

func (s *IntegrationTestSuite) TestReserveStock_AllLines() {
	apple := s.seed("apple", 250, 5)
	pear := s.seed("pear", 1000, 10)
	id := uuid.NewString()

	res, err := s.Service.ReserveStock(s.Ctx, id, []domain.StockLine{
		{ProductID: pear, Quantity: 4},
		{ProductID: apple, Quantity: 2},
		{ProductID: apple, Quantity: 1},
	})
	s.Require().NoError(err)
	s.Require().True(res.AllReserved)
	s.Require().Equal(domain.ReservationReserved, res.Status)
	s.Require().Len(res.Lines, 2)

	s.Require().Equal(apple, res.Lines[0].ProductID)
	s.Require().Equal(int32(3), res.Lines[0].Requested)
	s.Require().Equal(int64(250), res.Lines[0].UnitPrice)
	s.Require().Equal(int64(1000), res.Lines[1].UnitPrice)

	s.Require().Equal(int64(2), s.stock(apple))
	s.Require().Equal(int64(6), s.stock(pear))
	s.Require().Equal([]string{events.EventStockReserved}, s.outboxEvents())
}

func (s *IntegrationTestSuite) TestReserveStock_ShortfallTouchesNothing() {
	apple := s.seed("apple", 250, 5)
	pear := s.seed("pear", 1000, 10)

	res, err := s.Service.ReserveStock(s.Ctx, uuid.NewString(), []domain.StockLine{
		{ProductID: apple, Quantity: 100},
		{ProductID: pear, Quantity: 1},
	})
	s.Require().NoError(err)
	s.Require().False(res.AllReserved)
	s.Require().Equal(domain.ReservationRejected, res.Status)

	s.Require().False(res.Lines[0].Reserved)
	s.Require().Equal(int64(5), res.Lines[0].Available)
	s.Require().True(res.Lines[1].Reserved)

	s.Require().Equal(int64(5), s.stock(apple))
	s.Require().Equal(int64(10), s.stock(pear))
	s.Require().Empty(s.outboxEvents())
}

func (s *IntegrationTestSuite) TestReserveStock_UnknownProduct() {
	res, err := s.Service.ReserveStock(s.Ctx, uuid.NewString(), []domain.StockLine{{ProductID: 999, Quantity: 1}})
	s.Require().NoError(err)
	s.Require().False(res.AllReserved)
	s.Require().Equal(int64(0), res.Lines[0].Available)
}

func (s *IntegrationTestSuite) TestReserveStock_ReplayDoesNotDecrementTwice() {
	apple := s.seed("apple", 250, 5)
	id := uuid.NewString()
	lines := []domain.StockLine{{ProductID: apple, Quantity: 2}}

	first, err := s.Service.ReserveStock(s.Ctx, id, lines)
	s.Require().NoError(err)

	second, err := s.Service.ReserveStock(s.Ctx, id, lines)
	s.Require().NoError(err)

	s.Require().Equal(first.AllReserved, second.AllReserved)
	s.Require().Equal(first.Lines, second.Lines)
	s.Require().Equal(int64(3), s.stock(apple))
	s.Require().Len(s.outboxEvents(), 1)
}

func (s *IntegrationTestSuite) TestReserveStock_ConcurrentNeverOversells() {
	apple := s.seed("apple", 250, 5)

	const workers = 8

	var (
		wg       sync.WaitGroup
		reserved atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := s.Service.ReserveStock(s.Ctx, uuid.NewString(), []domain.StockLine{{ProductID: apple, Quantity: 2}})
			if err == nil && res.AllReserved {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Require().Equal(int32(2), reserved.Load())
	s.Require().Equal(int64(1), s.stock(apple))
}

func (s *IntegrationTestSuite) TestReserveStock_InvalidInput() {
	apple := s.seed("apple", 250, 5)

	_, err := s.Service.ReserveStock(s.Ctx, "not-a-uuid", []domain.StockLine{{ProductID: apple, Quantity: 1}})
	s.Require().ErrorIs(err, domain.ErrInvalidReservationID)

	_, err = s.Service.ReserveStock(s.Ctx, uuid.NewString(), nil)
	s.Require().ErrorIs(err, domain.ErrEmptyReservation)

	_, err = s.Service.ReserveStock(s.Ctx, uuid.NewString(), []domain.StockLine{{ProductID: apple, Quantity: 0}})
	s.Require().ErrorIs(err, domain.ErrInvalidLine)

	s.Require().Equal(int64(5), s.stock(apple))
}
