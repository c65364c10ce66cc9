package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

// NormalizeCart validates the cart and merges lines for the same product,
// keeping the order in which products first appear.
func NormalizeCart(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	merged := make([]CartLine, 0, len(lines))
	index := make(map[int64]int, len(lines))

	for _, line := range lines {
		if line.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id %d", ErrInvalidProduct, line.ProductID)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d quantity %d", ErrInvalidQuantity, line.ProductID, line.Quantity)
		}

		i, seen := index[line.ProductID]
		if !seen {
			index[line.ProductID] = len(merged)
			merged = append(merged, line)
			continue
		}

		sum := int64(merged[i].Quantity) + int64(line.Quantity)
		if sum > math.MaxInt32 {
			return nil, fmt.Errorf("%w: product %d quantity overflows", ErrInvalidQuantity, line.ProductID)
		}
		merged[i].Quantity = int32(sum)
	}

	return merged, nil
}

// CartHash fingerprints a normalized cart so a reused idempotency key with a
// different cart can be told apart from a genuine retry. Fields are JSON
// encoded so no address text can pass for cart lines.
func CartHash(lines []CartLine, shippingAddress string) string {
	if lines == nil {
		lines = []CartLine{}
	}

	// marshalling plain ints and a string cannot fail
	raw, _ := json.Marshal(struct {
		Lines           []CartLine `json:"lines"`
		ShippingAddress string     `json:"shipping_address"`
	}{lines, shippingAddress})

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
