package domain

import (
	"fmt"
	"strings"
	"time"

	events "github.com/sakashimaa/go-order-saga/pkg/domain"
)

type Order struct {
	ID              string      `db:"id"`
	UserID          int64       `db:"user_id"`
	Status          OrderStatus `db:"status"`
	Lines           []OrderLine `db:"lines"`
	TotalAmount     int64       `db:"total_amount"`
	ReservationID   string      `db:"reservation_id"`
	ShippingAddress string      `db:"shipping_address"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrderLine keeps the unit price captured when the stock was reserved.
type OrderLine struct {
	ID        string `db:"id"`
	OrderID   string `db:"order_id"`
	ProductID int64  `db:"product_id"`
	Quantity  int32  `db:"quantity"`
	UnitPrice int64  `db:"unit_price"`
}

func (o *Order) CalculateTotal() {
	var total int64
	for _, line := range o.Lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	o.TotalAmount = total
}

// CartLines returns the product quantities held by the order.
func (o *Order) CartLines() []CartLine {
	lines := make([]CartLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return lines
}

func (o *Order) EventLines() []events.OrderLine {
	lines := make([]events.OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, events.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return lines
}

const MaxShippingAddressLen = 500

// NormalizeShippingAddress trims the address and rejects an empty or
// oversized one.
func NormalizeShippingAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}
	if len(address) > MaxShippingAddressLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidAddress, MaxShippingAddressLen)
	}
	return address, nil
}

// AcceptsAddressChange reports whether the order has not reached a final
// status yet.
func (o *Order) AcceptsAddressChange() bool {
	return o.Status.IsValid() && !o.Status.IsTerminal()
}

type ListFilter struct {
	Status   OrderStatus
	Page     int32
	PageSize int32
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f ListFilter) Offset() int64 {
	return int64(f.Page-1) * int64(f.PageSize)
}
