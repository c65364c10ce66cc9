package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusConfirmed, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusPending, false},
		{OrderStatusConfirmed, OrderStatusFailed, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusConfirmed, false},
		{OrderStatusFailed, OrderStatusCancelled, false},
		{OrderStatus("shipped"), OrderStatusCancelled, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			require.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))

			err := ValidateTransition(tc.from, tc.to)
			if tc.allowed {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, OrderStatusCancelled.IsTerminal())
	require.True(t, OrderStatusFailed.IsTerminal())
	require.False(t, OrderStatusPending.IsTerminal())
	require.False(t, OrderStatusConfirmed.IsTerminal())

	_, err := ParseStatus("delivered")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCalculateTotal(t *testing.T) {
	order := &Order{
		Lines: []OrderLine{
			{ProductID: 1, Quantity: 2, UnitPrice: 1250},
			{ProductID: 2, Quantity: 1, UnitPrice: 999},
			{ProductID: 3, Quantity: 3, UnitPrice: 0},
		},
		TotalAmount: 42,
	}

	order.CalculateTotal()

	require.Equal(t, int64(2*1250+999), order.TotalAmount)
}

func TestNormalizeCart(t *testing.T) {
	t.Run("merges duplicates keeping first position", func(t *testing.T) {
		got, err := NormalizeCart([]CartLine{
			{ProductID: 7, Quantity: 1},
			{ProductID: 3, Quantity: 2},
			{ProductID: 7, Quantity: 4},
		})
		require.NoError(t, err)
		require.Equal(t, []CartLine{
			{ProductID: 7, Quantity: 5},
			{ProductID: 3, Quantity: 2},
		}, got)
	})

	t.Run("empty cart", func(t *testing.T) {
		_, err := NormalizeCart(nil)
		require.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("non positive quantity", func(t *testing.T) {
		_, err := NormalizeCart([]CartLine{{ProductID: 1, Quantity: 0}})
		require.ErrorIs(t, err, ErrInvalidQuantity)

		_, err = NormalizeCart([]CartLine{{ProductID: 1, Quantity: -3}})
		require.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("invalid product", func(t *testing.T) {
		_, err := NormalizeCart([]CartLine{{ProductID: 0, Quantity: 1}})
		require.ErrorIs(t, err, ErrInvalidProduct)
	})

	t.Run("merged quantity overflow", func(t *testing.T) {
		_, err := NormalizeCart([]CartLine{
			{ProductID: 1, Quantity: 1 << 30},
			{ProductID: 1, Quantity: 1 << 30},
		})
		require.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

func TestCartHash(t *testing.T) {
	a := []CartLine{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}
	b := []CartLine{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}
	c := []CartLine{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 1}}

	require.Equal(t, CartHash(a, "Main st 1"), CartHash(b, "Main st 1"))
	require.NotEqual(t, CartHash(a, "Main st 1"), CartHash(c, "Main st 1"))
	require.NotEqual(t, CartHash(a, "Main st 1"), CartHash(a, "Main st 2"))
}

func TestCartHash_AddressCannotForgeLines(t *testing.T) {
	short := []CartLine{{ProductID: 1, Quantity: 2}}
	long := []CartLine{{ProductID: 1, Quantity: 2}, {ProductID: 3, Quantity: 4}}

	require.NotEqual(t, CartHash(short, "3:4;Main St"), CartHash(long, "Main St"))
	require.NotEqual(t, CartHash(short, `},{"product_id":3,"quantity":4}`), CartHash(long, ""))
	require.NotEqual(t, CartHash(nil, "1:2;"), CartHash(short, ""))
}

func TestReservationRejection(t *testing.T) {
	r := &Reservation{
		AllReserved: false,
		Lines: []ReservationLine{
			{ProductID: 1, Requested: 2, Reserved: true, UnitPrice: 100},
			{ProductID: 2, Requested: 100, Reserved: false, Available: 5},
			{ProductID: 3, Requested: 4, Reserved: false, Available: 0},
		},
	}

	rejection := r.Rejection()
	require.NotNil(t, rejection)
	require.Equal(t, int64(2), rejection.ProductID)
	require.Equal(t, int32(100), rejection.Requested)
	require.Equal(t, int64(5), rejection.Available)
	require.Len(t, rejection.Lines, 2)

	var err error = rejection
	require.True(t, errors.Is(err, ErrInsufficientStock))

	ok := &Reservation{AllReserved: true, Lines: []ReservationLine{{ProductID: 1, Reserved: true, UnitPrice: 10}}}
	require.Nil(t, ok.Rejection())

	price, found := ok.PriceOf(1)
	require.True(t, found)
	require.Equal(t, int64(10), price)
}

func TestListFilterNormalize(t *testing.T) {
	f := ListFilter{}.Normalize()
	require.Equal(t, int32(1), f.Page)
	require.Equal(t, int32(DefaultPageSize), f.PageSize)
	require.Equal(t, int64(0), f.Offset())

	f = ListFilter{Page: 3, PageSize: 500}.Normalize()
	require.Equal(t, int32(MaxPageSize), f.PageSize)
	require.Equal(t, int64(200), f.Offset())
}

func TestShippingAddress(t *testing.T) {
	address, err := NormalizeShippingAddress("  Elm St 5 ")
	require.NoError(t, err)
	require.Equal(t, "Elm St 5", address)

	_, err = NormalizeShippingAddress(" \t ")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NormalizeShippingAddress(strings.Repeat("a", MaxShippingAddressLen+1))
	require.ErrorIs(t, err, ErrInvalidAddress)

	require.True(t, (&Order{Status: OrderStatusConfirmed}).AcceptsAddressChange())
	require.True(t, (&Order{Status: OrderStatusPending}).AcceptsAddressChange())
	require.False(t, (&Order{Status: OrderStatusCancelled}).AcceptsAddressChange())
	require.False(t, (&Order{Status: OrderStatusFailed}).AcceptsAddressChange())
}
