package grpc

import (
	"context"

	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	pb "github.com/sakashimaa/go-order-saga/proto/auth"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type AuthHandler struct {
	service service.AuthService
	logger  *zap.Logger
}

func NewAuthHandler(service service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

func (h *AuthHandler) Login(ctx context.Context, req *pb.LoginRequest) (*pb.LoginResponse, error) {
	token, expiresAt, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		code := mapErrorCode(err)

		mylogger.Warn(
			ctx,
			h.logger,
			"Login failed",
			zap.String("email", req.Email),
			zap.String("status_code", code.String()),
			zap.Error(err),
		)

		if code == codes.Internal {
			return nil, status.Error(code, code.String())
		}

		return nil, status.Error(code, err.Error())
	}

	return &pb.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}

func (h *AuthHandler) VerifyToken(ctx context.Context, req *pb.VerifyTokenRequest) (*pb.VerifyTokenResponse, error) {
	if req.Token == "" {
		return &pb.VerifyTokenResponse{Valid: false}, nil
	}

	res, err := h.service.VerifyToken(ctx, req.Token)
	if err != nil {
		code := mapErrorCode(err)

		mylogger.Error(
			ctx,
			h.logger,
			"Verify token failed",
			zap.String("status_code", code.String()),
			zap.Error(err),
		)

		return nil, status.Error(code, code.String())
	}

	out := &pb.VerifyTokenResponse{
		UserID: res.UserID,
		Valid:  res.Valid,
	}
	if !res.ExpiresAt.IsZero() {
		out.ExpiresAt = res.ExpiresAt.Unix()
	}

	return out, nil
}
