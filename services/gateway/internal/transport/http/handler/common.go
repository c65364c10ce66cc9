package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewServiceBreaker counts only infrastructure failures against the
// downstream. Business rejections such as NotFound keep the breaker closed.
func NewServiceBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return utils.NewBreaker(name, logger, func(err error) bool {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
			return false
		default:
			return true
		}
	})
}

func writeError(ctx context.Context, c *fiber.Ctx, logger *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		mylogger.Warn(ctx, logger, "Circuit breaker open", append(fields, zap.Error(err))...)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	}

	httpCode := utils.GRPCStatusToHTTP(err)

	fields = append(fields, zap.Int("http_code", httpCode), zap.Error(err))
	if httpCode >= fiber.StatusInternalServerError {
		mylogger.Error(ctx, logger, msg, fields...)
	} else {
		mylogger.Warn(ctx, logger, msg, fields...)
	}

	message := "internal error"
	if s, ok := status.FromError(err); ok && httpCode < fiber.StatusInternalServerError {
		message = s.Message()
	} else if httpCode == fiber.StatusGatewayTimeout {
		message = "upstream timeout"
	} else if httpCode == fiber.StatusServiceUnavailable {
		message = "service temporarily unavailable"
	}

	return c.Status(httpCode).JSON(fiber.Map{"error": message})
}

func validationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"fields": utils.FormatValidationError(err),
	})
}
