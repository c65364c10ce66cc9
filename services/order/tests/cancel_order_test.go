package tests

import (
	"fmt"

	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
)

func (s *IntegrationTestSuite) TestCancelOrder_ReleasesStockOnce() {
	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 3})
	s.Require().NoError(err)
	s.Equal(int64(2), s.Inventory.available(1))

	cancelled, err := s.Service.CancelOrder(s.Ctx, order.ID, "cancel-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Equal(int64(5), s.Inventory.available(1))

	replayed, err := s.Service.CancelOrder(s.Ctx, order.ID, "cancel-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, replayed.Status)

	_, err = s.Service.CancelOrder(s.Ctx, order.ID, "")
	s.ErrorIs(err, domain.ErrInvalidTransition)

	s.Equal([]string{"OrderConfirmed", "OrderCancelled"}, s.outboxEvents())
}

func (s *IntegrationTestSuite) TestCancelOrder_ReleaseFailureKeepsConfirmed() {
	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 1})
	s.Require().NoError(err)

	s.Inventory.setReleaseErr(fmt.Errorf("%w: down", domain.ErrTransportUnavailable))

	_, err = s.Service.CancelOrder(s.Ctx, order.ID, "")
	s.ErrorIs(err, domain.ErrCancelFailed)

	stored, err := s.Orders.ReadOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusConfirmed, stored.Status)
}

func (s *IntegrationTestSuite) TestUpdateStatus_RejectsIllegalTransition() {
	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 2, Quantity: 1})
	s.Require().NoError(err)

	_, err = s.Orders.UpdateStatus(s.Ctx, order.ID, updateTo(domain.OrderStatusPending))
	s.ErrorIs(err, domain.ErrInvalidTransition)

	_, err = s.Orders.UpdateStatus(s.Ctx, order.ID, updateTo(domain.OrderStatusFailed))
	s.ErrorIs(err, domain.ErrInvalidTransition)

	_, err = s.Orders.ReadOrder(s.Ctx, "9c1f4f0e-8d7b-4a3a-bb2e-1b8d3e1f0c55")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestUpdateShippingAddress() {
	order, err := s.createOrder("key-1", domain.CartLine{ProductID: 1, Quantity: 1})
	s.Require().NoError(err)

	updated, err := s.Service.UpdateShippingAddress(s.Ctx, order.ID, "Elm St 5")
	s.Require().NoError(err)
	s.Equal("Elm St 5", updated.ShippingAddress)

	stored, err := s.Orders.ReadOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("Elm St 5", stored.ShippingAddress)
	s.Equal(domain.OrderStatusConfirmed, stored.Status)
	s.Len(stored.Lines, 1)

	_, err = s.Service.CancelOrder(s.Ctx, order.ID, "")
	s.Require().NoError(err)

	_, err = s.Orders.UpdateShippingAddress(s.Ctx, order.ID, "Oak St 1")
	s.ErrorIs(err, domain.ErrOrderClosed)

	s.Equal([]string{"OrderConfirmed", "OrderAddressChanged", "OrderCancelled"}, s.outboxEvents())
}
