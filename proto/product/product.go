// Package product is the contract of the product (inventory) service.
package product

import (
	"context"

	"github.com/sakashimaa/go-order-saga/pkg/rpc"
	"google.golang.org/grpc"
)

const ServiceName = "product.ProductService"

type StockLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type ReserveStockRequest struct {
	ReservationID string       `json:"reservation_id"`
	Lines         []*StockLine `json:"lines"`
}

// ReservedLine reports the outcome for one requested product. Available is
// only meaningful when Reserved is false.
type ReservedLine struct {
	ProductID int64 `json:"product_id"`
	Requested int32 `json:"requested"`
	Reserved  bool  `json:"reserved"`
	Available int64 `json:"available"`
	UnitPrice int64 `json:"unit_price"`
}

type ReserveStockResponse struct {
	ReservationID string          `json:"reservation_id"`
	AllReserved   bool            `json:"all_reserved"`
	Lines         []*ReservedLine `json:"lines"`
}

type ReleaseStockRequest struct {
	ReservationID string       `json:"reservation_id"`
	Lines         []*StockLine `json:"lines"`
}

type ReleaseStockResponse struct {
	Released         bool    `json:"released"`
	FailedProductIDs []int64 `json:"failed_product_ids,omitempty"`
}

type GetProductRequest struct {
	ID int64 `json:"id"`
}

type Product struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         int64  `json:"price"`
	StockQuantity int64  `json:"stock_quantity"`
}

type ProductServiceClient interface {
	ReserveStock(ctx context.Context, in *ReserveStockRequest, opts ...grpc.CallOption) (*ReserveStockResponse, error)
	ReleaseStock(ctx context.Context, in *ReleaseStockRequest, opts ...grpc.CallOption) (*ReleaseStockResponse, error)
	GetProduct(ctx context.Context, in *GetProductRequest, opts ...grpc.CallOption) (*Product, error)
}

type productServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewProductServiceClient(cc grpc.ClientConnInterface) ProductServiceClient {
	return &productServiceClient{cc: cc}
}

func (c *productServiceClient) ReserveStock(ctx context.Context, in *ReserveStockRequest, opts ...grpc.CallOption) (*ReserveStockResponse, error) {
	return rpc.Invoke[ReserveStockRequest, ReserveStockResponse](ctx, c.cc, ServiceName, "ReserveStock", in, opts...)
}

func (c *productServiceClient) ReleaseStock(ctx context.Context, in *ReleaseStockRequest, opts ...grpc.CallOption) (*ReleaseStockResponse, error) {
	return rpc.Invoke[ReleaseStockRequest, ReleaseStockResponse](ctx, c.cc, ServiceName, "ReleaseStock", in, opts...)
}

func (c *productServiceClient) GetProduct(ctx context.Context, in *GetProductRequest, opts ...grpc.CallOption) (*Product, error) {
	return rpc.Invoke[GetProductRequest, Product](ctx, c.cc, ServiceName, "GetProduct", in, opts...)
}

type ProductServiceServer interface {
	ReserveStock(ctx context.Context, req *ReserveStockRequest) (*ReserveStockResponse, error)
	ReleaseStock(ctx context.Context, req *ReleaseStockRequest) (*ReleaseStockResponse, error)
	GetProduct(ctx context.Context, req *GetProductRequest) (*Product, error)
}

var ProductServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProductServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "ReserveStock", ProductServiceServer.ReserveStock),
		rpc.Unary(ServiceName, "ReleaseStock", ProductServiceServer.ReleaseStock),
		rpc.Unary(ServiceName, "GetProduct", ProductServiceServer.GetProduct),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "product",
}

func RegisterProductServiceServer(s grpc.ServiceRegistrar, srv ProductServiceServer) {
	s.RegisterService(&ProductServiceDesc, srv)
}
