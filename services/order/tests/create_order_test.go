package tests

import (
	"sync"

	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
)

func (s *IntegrationTestSuite) TestCreateOrder_PersistsLinesAndEvent() {
	order, err := s.createOrder("key-1",
		domain.CartLine{ProductID: 1, Quantity: 2},
		domain.CartLine{ProductID: 2, Quantity: 1},
	)
	s.Require().NoError(err)

	stored, err := s.Orders.ReadOrder(s.Ctx, order.ID)
	s.Require().NoError(err)

	s.Equal(domain.OrderStatusConfirmed, stored.Status)
	s.Equal(testUserID, stored.UserID)
	s.Equal(int64(2*250+1000), stored.TotalAmount)
	s.Equal(order.ReservationID, stored.ReservationID)
	s.Require().Len(stored.Lines, 2)

	var sum int64
	for _, l := range stored.Lines {
		s.NotEmpty(l.ID)
		sum += l.UnitPrice * int64(l.Quantity)
	}
	s.Equal(stored.TotalAmount, sum)

	s.Equal("completed", s.claimStatus(domain.OperationCreate, "42", "key-1"))
	s.Equal([]string{"OrderConfirmed"}, s.outboxEvents())
}

func (s *IntegrationTestSuite) TestCreateOrder_SameKeyReturnsSameOrder() {
	line := domain.CartLine{ProductID: 1, Quantity: 1}

	first, err := s.createOrder("key-1", line)
	s.Require().NoError(err)

	second, err := s.createOrder("key-1", line)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Equal(1, s.count("orders"))
	s.Equal(1, s.Inventory.reserveCalls)
	s.Equal(int64(4), s.Inventory.available(1))
}

func (s *IntegrationTestSuite) TestCreateOrder_ConcurrentSameKey() {
	line := domain.CartLine{ProductID: 2, Quantity: 1}

	const workers = 8

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			order, err := s.createOrder("key-1", line)
			if err != nil {
				s.ErrorIs(err, domain.ErrRequestInProgress)
				return
			}

			mu.Lock()
			ids[order.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Len(ids, 1)
	s.Equal(1, s.count("orders"))
	s.Equal(int64(9), s.Inventory.available(2))
}

func (s *IntegrationTestSuite) TestCreateOrder_KeyReuseRejected() {
	_, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 1})
	s.Require().NoError(err)

	_, err = s.createOrder("key-1", domain.CartLine{ProductID: 2, Quantity: 1})
	s.ErrorIs(err, domain.ErrIdempotencyKeyReuse)
	s.Equal(1, s.count("orders"))
}

func (s *IntegrationTestSuite) TestCreateOrder_InsufficientStockWritesNothing() {
	_, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 100})

	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(int64(1), stockErr.ProductID)
	s.Equal(int32(100), stockErr.Requested)
	s.Equal(int64(5), stockErr.Available)

	s.Equal(0, s.count("orders"))
	s.Equal(0, s.count("outbox"))
	s.Empty(s.claimStatus(domain.OperationCreate, "42", "key-1"))
}

func (s *IntegrationTestSuite) TestListOrders_Paging() {
	for _, key := range []string{"a", "b", "c"} {
		_, err := s.createOrder(key, domain.CartLine{ProductID: 2, Quantity: 1})
		s.Require().NoError(err)
	}

	page, total, err := s.Service.ListOrdersForUser(s.Ctx, testUserID, domain.ListFilter{Page: 1, PageSize: 2})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(page, 2)
	s.Len(page[0].Lines, 1)

	page, _, err = s.Service.ListOrdersForUser(s.Ctx, testUserID, domain.ListFilter{Page: 2, PageSize: 2})
	s.Require().NoError(err)
	s.Len(page, 1)

	page, total, err = s.Service.ListOrdersForUser(s.Ctx, testUserID, domain.ListFilter{Status: domain.OrderStatusCancelled})
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(page)
}
