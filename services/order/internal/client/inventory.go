package client

import (
	"context"
	"fmt"

	productpb "github.com/sakashimaa/go-order-saga/proto/product"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type InventoryClient struct {
	client productpb.ProductServiceClient
	policy Policy
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInventoryClient(client productpb.ProductServiceClient, policy Policy, logger *zap.Logger) *InventoryClient {
	return &InventoryClient{
		client: client,
		policy: policy,
		cb:     newBreaker("ProductService", logger),
		logger: logger,
		tracer: otel.Tracer("inventory_client"),
	}
}

// Reserve asks for the whole cart in one call. A refusal is not an error:
// the returned reservation has AllReserved=false and per-line availability.
// Retrying is safe because the product service deduplicates by reservationID.
func (c *InventoryClient) Reserve(ctx context.Context, reservationID string, lines []domain.CartLine) (*domain.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "InventoryClient.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.Int("lines_count", len(lines)),
	)

	req := &productpb.ReserveStockRequest{
		ReservationID: reservationID,
		Lines:         toStockLines(lines),
	}

	var resp *productpb.ReserveStockResponse

	err := invoke(ctx, c.policy, c.cb, c.logger, "ReserveStock", func(ctx context.Context) error {
		var err error
		resp, err = c.client.ReserveStock(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reservation := &domain.Reservation{
		ID:          reservationID,
		AllReserved: resp.AllReserved,
		Lines:       make([]domain.ReservationLine, 0, len(resp.Lines)),
	}

	for _, l := range resp.Lines {
		if l == nil {
			continue
		}

		reservation.Lines = append(reservation.Lines, domain.ReservationLine{
			ProductID: l.ProductID,
			Requested: l.Requested,
			Reserved:  l.Reserved,
			Available: l.Available,
			UnitPrice: l.UnitPrice,
		})
	}

	span.SetAttributes(attribute.Bool("all_reserved", reservation.AllReserved))

	return reservation, nil
}

// Release returns the stock held by reservationID. A response naming failed
// products is reported as ErrPartialRelease.
func (c *InventoryClient) Release(ctx context.Context, reservationID string, lines []domain.CartLine) error {
	ctx, span := c.tracer.Start(ctx, "InventoryClient.Release")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	req := &productpb.ReleaseStockRequest{
		ReservationID: reservationID,
		Lines:         toStockLines(lines),
	}

	var resp *productpb.ReleaseStockResponse

	err := invoke(ctx, c.policy, c.cb, c.logger, "ReleaseStock", func(ctx context.Context) error {
		var err error
		resp, err = c.client.ReleaseStock(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if !resp.Released || len(resp.FailedProductIDs) > 0 {
		err := fmt.Errorf("%w: products %v", domain.ErrPartialRelease, resp.FailedProductIDs)
		span.RecordError(err)
		return err
	}

	return nil
}

func toStockLines(lines []domain.CartLine) []*productpb.StockLine {
	out := make([]*productpb.StockLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, &productpb.StockLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}
