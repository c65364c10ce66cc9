package client

import (
	"fmt"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	authpb "github.com/sakashimaa/go-order-saga/proto/auth"
	orderpb "github.com/sakashimaa/go-order-saga/proto/order"
	productpb "github.com/sakashimaa/go-order-saga/proto/product"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func dial(url string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		url,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating gRPC client for %s: %w", url, err)
	}

	return conn, nil
}

func NewAuthClient(url string) (authpb.AuthServiceClient, *grpc.ClientConn, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, nil, err
	}

	return authpb.NewAuthServiceClient(conn), conn, nil
}

func NewProductClient(url string) (productpb.ProductServiceClient, *grpc.ClientConn, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, nil, err
	}

	return productpb.NewProductServiceClient(conn), conn, nil
}

func NewOrderClient(url string) (orderpb.OrderServiceClient, *grpc.ClientConn, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, nil, err
	}

	return orderpb.NewOrderServiceClient(conn), conn, nil
}
