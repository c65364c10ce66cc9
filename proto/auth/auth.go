// Package auth is the contract of the user service.
package auth

import (
	"context"

	"github.com/sakashimaa/go-order-saga/pkg/rpc"
	"google.golang.org/grpc"
)

const ServiceName = "auth.AuthService"

type VerifyTokenRequest struct {
	Token string `json:"token"`
}

type VerifyTokenResponse struct {
	UserID    int64 `json:"user_id"`
	Valid     bool  `json:"valid"`
	ExpiresAt int64 `json:"expires_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

type AuthServiceClient interface {
	VerifyToken(ctx context.Context, in *VerifyTokenRequest, opts ...grpc.CallOption) (*VerifyTokenResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc: cc}
}

func (c *authServiceClient) VerifyToken(ctx context.Context, in *VerifyTokenRequest, opts ...grpc.CallOption) (*VerifyTokenResponse, error) {
	return rpc.Invoke[VerifyTokenRequest, VerifyTokenResponse](ctx, c.cc, ServiceName, "VerifyToken", in, opts...)
}

func (c *authServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return rpc.Invoke[LoginRequest, LoginResponse](ctx, c.cc, ServiceName, "Login", in, opts...)
}

type AuthServiceServer interface {
	VerifyToken(ctx context.Context, req *VerifyTokenRequest) (*VerifyTokenResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
}

var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "VerifyToken", AuthServiceServer.VerifyToken),
		rpc.Unary(ServiceName, "Login", AuthServiceServer.Login),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth",
}

func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}
