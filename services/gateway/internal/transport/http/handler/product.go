package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	pb "github.com/sakashimaa/go-order-saga/proto/product"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type ProductHandler struct {
	client  pb.ProductServiceClient
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func NewProductHandler(client pb.ProductServiceClient, cb *gobreaker.CircuitBreaker, timeout time.Duration, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		client:  client,
		cb:      cb,
		timeout: timeout,
		logger:  logger,
	}
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		mylogger.Info(ctx, h.logger, "invalid product id", zap.String("id", c.Params("id")))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Id is invalid"})
	}

	res, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.Product, error) {
		return h.client.GetProduct(ctx, &pb.GetProductRequest{ID: int64(id)})
	})
	if err != nil {
		return writeError(ctx, c, h.logger, "get product failed", err, zap.Int("product_id", id))
	}

	return c.JSON(res)
}
