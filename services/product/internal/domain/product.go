package domain

import (
	"fmt"
	"sort"
	"time"
)

type Product struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Description   string    `db:"description" json:"description"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int64     `db:"stock_quantity" json:"stock_quantity"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

type StockLine struct {
	ProductID int64
	Quantity  int32
}

// NormalizeLines merges duplicate products and sorts by product id, the order
// rows are locked in.
func NormalizeLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyReservation
	}

	merged := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id %d", ErrInvalidLine, l.ProductID)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for product %d", ErrInvalidLine, l.Quantity, l.ProductID)
		}
		merged[l.ProductID] += int64(l.Quantity)
	}

	out := make([]StockLine, 0, len(merged))
	for id, qty := range merged {
		if qty > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("%w: quantity overflow for product %d", ErrInvalidLine, id)
		}
		out = append(out, StockLine{ProductID: id, Quantity: int32(qty)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })

	return out, nil
}
