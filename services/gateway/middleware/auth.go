package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	pb "github.com/sakashimaa/go-order-saga/proto/auth"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	LocalUserID = "userId"
	LocalToken  = "token"
)

var ErrMissingToken = errors.New("missing bearer token")

// BearerToken extracts the credential from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingToken
	}

	return parts[1], nil
}

// NewAuthMiddleware resolves the caller through VerifyToken and stores the
// user id and the raw token in locals.
func NewAuthMiddleware(authClient pb.AuthServiceClient, cb *gobreaker.CircuitBreaker, timeout time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := BearerToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missing bearer token"})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()

		res, err := utils.ExecuteWithBreaker(cb, func() (*pb.VerifyTokenResponse, error) {
			return authClient.VerifyToken(ctx, &pb.VerifyTokenRequest{Token: token})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "auth service temporarily unavailable"})
			}

			if status.Code(err) == codes.Unauthenticated {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: invalid token"})
			}

			mylogger.Warn(ctx, logger, "token verification failed", zap.Error(err))

			return c.Status(utils.GRPCStatusToHTTP(err)).JSON(fiber.Map{"error": "token verification failed"})
		}

		if !res.Valid || res.UserID <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: invalid token"})
		}

		c.Locals(LocalUserID, res.UserID)
		c.Locals(LocalToken, token)

		return c.Next()
	}
}
