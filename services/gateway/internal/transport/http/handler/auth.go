package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	pb "github.com/sakashimaa/go-order-saga/proto/auth"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type AuthHandler struct {
	client   pb.AuthServiceClient
	validate *validator.Validate
	cb       *gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *zap.Logger
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

func NewAuthHandler(client pb.AuthServiceClient, cb *gobreaker.CircuitBreaker, timeout time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		client:   client,
		validate: validator.New(),
		cb:       cb,
		timeout:  timeout,
		logger:   logger,
	}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Info(ctx, h.logger, "failed to parse login body", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	if err := h.validate.Struct(input); err != nil {
		return validationError(c, err)
	}

	res, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.LoginResponse, error) {
		return h.client.Login(ctx, &pb.LoginRequest{Email: input.Email, Password: input.Password})
	})
	if err != nil {
		return writeError(ctx, c, h.logger, "login failed", err, zap.String("email", input.Email))
	}

	return c.JSON(fiber.Map{
		"access_token": res.AccessToken,
		"expires_at":   res.ExpiresAt,
	})
}
