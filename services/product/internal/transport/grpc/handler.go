package grpc

import (
	"context"

	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	pb "github.com/sakashimaa/go-order-saga/proto/product"
	"github.com/sakashimaa/go-order-saga/services/product/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/product/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ProductHandler struct {
	service service.ProductService
	logger  *zap.Logger
}

func NewProductHandler(service service.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{service: service, logger: logger}
}

func (h *ProductHandler) ReserveStock(ctx context.Context, req *pb.ReserveStockRequest) (*pb.ReserveStockResponse, error) {
	lines := make([]domain.StockLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l == nil {
			continue
		}
		lines = append(lines, domain.StockLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	res, err := h.service.ReserveStock(ctx, req.ReservationID, lines)
	if err != nil {
		return nil, h.fail(ctx, "ReserveStock", err, zap.String("reservation_id", req.ReservationID))
	}

	out := &pb.ReserveStockResponse{
		ReservationID: res.ID,
		AllReserved:   res.AllReserved,
		Lines:         make([]*pb.ReservedLine, 0, len(res.Lines)),
	}
	for _, l := range res.Lines {
		out.Lines = append(out.Lines, &pb.ReservedLine{
			ProductID: l.ProductID,
			Requested: l.Requested,
			Reserved:  l.Reserved,
			Available: l.Available,
			UnitPrice: l.UnitPrice,
		})
	}

	return out, nil
}

// ReleaseStock releases what the reservation actually holds. The lines in the
// request are informational only.
func (h *ProductHandler) ReleaseStock(ctx context.Context, req *pb.ReleaseStockRequest) (*pb.ReleaseStockResponse, error) {
	result, err := h.service.ReleaseStock(ctx, req.ReservationID)
	if err != nil {
		return nil, h.fail(ctx, "ReleaseStock", err, zap.String("reservation_id", req.ReservationID))
	}

	return &pb.ReleaseStockResponse{
		Released:         result.Released,
		FailedProductIDs: result.FailedProductIDs,
	}, nil
}

func (h *ProductHandler) GetProduct(ctx context.Context, req *pb.GetProductRequest) (*pb.Product, error) {
	res, err := h.service.GetProduct(ctx, req.ID)
	if err != nil {
		return nil, h.fail(ctx, "GetProduct", err, zap.Int64("product_id", req.ID))
	}

	return &pb.Product{
		ID:            res.ID,
		Name:          res.Name,
		Description:   res.Description,
		Price:         res.Price,
		StockQuantity: res.StockQuantity,
	}, nil
}

func (h *ProductHandler) fail(ctx context.Context, method string, err error, fields ...zap.Field) error {
	code := mapErrorCode(err)

	fields = append(fields,
		zap.String("method", method),
		zap.String("status_code", code.String()),
		zap.Error(err),
	)

	if code == codes.Internal {
		mylogger.Error(ctx, h.logger, "product call failed", fields...)
		return status.Error(code, code.String())
	}

	mylogger.Warn(ctx, h.logger, "product call rejected", fields...)

	return status.Error(code, err.Error())
}
