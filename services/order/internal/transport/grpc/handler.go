package grpc

import (
	"context"

	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	pb "github.com/sakashimaa/go-order-saga/proto/order"
	"github.com/sakashimaa/go-order-saga/services/order/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/order/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, idempotencyKey string) (*domain.Order, error)
	UpdateShippingAddress(ctx context.Context, orderID, address string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersForUser(ctx context.Context, userID int64, filter domain.ListFilter) ([]*domain.Order, int64, error)
}

type OrderHandler struct {
	service OrderService
	logger  *zap.Logger
}

func NewOrderHandler(service OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{service: service, logger: logger}
}

func (h *OrderHandler) CreateOrder(ctx context.Context, req *pb.CreateOrderRequest) (*pb.Order, error) {
	cart := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l == nil {
			continue
		}
		cart = append(cart, domain.CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	order, err := h.service.CreateOrder(ctx, service.CreateOrderInput{
		Credential:      req.Credential,
		IdempotencyKey:  req.IdempotencyKey,
		Cart:            cart,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		return nil, h.fail(ctx, "CreateOrder", err)
	}

	return toProtoOrder(order), nil
}

func (h *OrderHandler) CancelOrder(ctx context.Context, req *pb.CancelOrderRequest) (*pb.Order, error) {
	order, err := h.service.CancelOrder(ctx, req.OrderID, req.IdempotencyKey)
	if err != nil {
		return nil, h.fail(ctx, "CancelOrder", err)
	}

	return toProtoOrder(order), nil
}

func (h *OrderHandler) UpdateOrder(ctx context.Context, req *pb.UpdateOrderRequest) (*pb.Order, error) {
	order, err := h.service.UpdateShippingAddress(ctx, req.OrderID, req.ShippingAddress)
	if err != nil {
		return nil, h.fail(ctx, "UpdateOrder", err)
	}

	return toProtoOrder(order), nil
}

func (h *OrderHandler) GetOrder(ctx context.Context, req *pb.GetOrderRequest) (*pb.Order, error) {
	order, err := h.service.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.fail(ctx, "GetOrder", err)
	}

	return toProtoOrder(order), nil
}

func (h *OrderHandler) ListOrders(ctx context.Context, req *pb.ListOrdersRequest) (*pb.ListOrdersResponse, error) {
	filter := domain.ListFilter{
		Status:   domain.OrderStatus(req.Status),
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	orders, total, err := h.service.ListOrdersForUser(ctx, req.UserID, filter)
	if err != nil {
		return nil, h.fail(ctx, "ListOrders", err)
	}

	filter = filter.Normalize()

	res := &pb.ListOrdersResponse{
		Orders:     make([]*pb.Order, 0, len(orders)),
		TotalCount: total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}
	for _, o := range orders {
		res.Orders = append(res.Orders, toProtoOrder(o))
	}

	return res, nil
}

func (h *OrderHandler) fail(ctx context.Context, method string, err error) error {
	code := mapErrorCode(err)

	log := mylogger.Warn
	if code == codes.Internal {
		log = mylogger.Error
	}

	log(
		ctx,
		h.logger,
		"order request failed",
		zap.String("method", method),
		zap.String("status_code", code.String()),
		zap.Error(err),
	)

	return status.Error(code, err.Error())
}

func toProtoOrder(o *domain.Order) *pb.Order {
	lines := make([]*pb.OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, &pb.OrderLine{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	return &pb.Order{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		Lines:           lines,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
