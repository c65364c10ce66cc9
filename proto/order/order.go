// Package order is the contract of the order service.
package order

import (
	"context"
	"time"

	"github.com/sakashimaa/go-order-saga/pkg/rpc"
	"google.golang.org/grpc"
)

const ServiceName = "order.OrderService"

type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type CreateOrderRequest struct {
	Credential      string      `json:"credential"`
	IdempotencyKey  string      `json:"idempotency_key"`
	Lines           []*CartLine `json:"lines"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
}

type CancelOrderRequest struct {
	OrderID        string `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type UpdateOrderRequest struct {
	OrderID         string `json:"order_id"`
	ShippingAddress string `json:"shipping_address"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct {
	UserID   int64  `json:"user_id"`
	Status   string `json:"status,omitempty"`
	Page     int32  `json:"page"`
	PageSize int32  `json:"page_size"`
}

type OrderLine struct {
	ID        string `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Order struct {
	ID              string       `json:"id"`
	UserID          int64        `json:"user_id"`
	Status          string       `json:"status"`
	Lines           []*OrderLine `json:"lines"`
	TotalAmount     int64        `json:"total_amount"`
	ShippingAddress string       `json:"shipping_address,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type ListOrdersResponse struct {
	Orders     []*Order `json:"orders"`
	TotalCount int64    `json:"total_count"`
	Page       int32    `json:"page"`
	PageSize   int32    `json:"page_size"`
}

type OrderServiceClient interface {
	CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*Order, error)
	CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*Order, error)
	UpdateOrder(ctx context.Context, in *UpdateOrderRequest, opts ...grpc.CallOption) (*Order, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*Order, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
}

type orderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) OrderServiceClient {
	return &orderServiceClient{cc: cc}
}

func (c *orderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*Order, error) {
	return rpc.Invoke[CreateOrderRequest, Order](ctx, c.cc, ServiceName, "CreateOrder", in, opts...)
}

func (c *orderServiceClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*Order, error) {
	return rpc.Invoke[CancelOrderRequest, Order](ctx, c.cc, ServiceName, "CancelOrder", in, opts...)
}

func (c *orderServiceClient) UpdateOrder(ctx context.Context, in *UpdateOrderRequest, opts ...grpc.CallOption) (*Order, error) {
	return rpc.Invoke[UpdateOrderRequest, Order](ctx, c.cc, ServiceName, "UpdateOrder", in, opts...)
}

func (c *orderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*Order, error) {
	return rpc.Invoke[GetOrderRequest, Order](ctx, c.cc, ServiceName, "GetOrder", in, opts...)
}

func (c *orderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return rpc.Invoke[ListOrdersRequest, ListOrdersResponse](ctx, c.cc, ServiceName, "ListOrders", in, opts...)
}

type OrderServiceServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, req *CancelOrderRequest) (*Order, error)
	UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*Order, error)
	ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "CreateOrder", OrderServiceServer.CreateOrder),
		rpc.Unary(ServiceName, "CancelOrder", OrderServiceServer.CancelOrder),
		rpc.Unary(ServiceName, "UpdateOrder", OrderServiceServer.UpdateOrder),
		rpc.Unary(ServiceName, "GetOrder", OrderServiceServer.GetOrder),
		rpc.Unary(ServiceName, "ListOrders", OrderServiceServer.ListOrders),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "order",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}
