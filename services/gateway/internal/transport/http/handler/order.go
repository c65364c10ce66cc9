package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	pb "github.com/sakashimaa/go-order-saga/proto/order"
	"github.com/sakashimaa/go-order-saga/services/gateway/middleware"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrderHandler struct {
	client   pb.OrderServiceClient
	validate *validator.Validate
	cb       *gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *zap.Logger
}

type CartLineInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderInput struct {
	Lines           []CartLineInput `json:"lines" validate:"required,min=1,max=100,dive"`
	ShippingAddress string          `json:"shipping_address" validate:"max=500"`
}

type UpdateOrderInput struct {
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
}

type idempotencyKeyInput struct {
	Key string `validate:"required,max=255"`
}

func NewOrderHandler(client pb.OrderServiceClient, cb *gobreaker.CircuitBreaker, timeout time.Duration, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		client:   client,
		validate: validator.New(),
		cb:       cb,
		timeout:  timeout,
		logger:   logger,
	}
}

// Create forwards the raw credential. The order service verifies it itself.
func (h *OrderHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	token, err := middleware.BearerToken(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missing bearer token"})
	}

	key := c.Get(HeaderIdempotencyKey)
	if err := h.validate.Struct(idempotencyKeyInput{Key: key}); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Idempotency-Key header is required and must be at most 255 characters",
		})
	}

	input := new(CreateOrderInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Info(ctx, h.logger, "failed to parse body in create", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	if err := h.validate.Struct(input); err != nil {
		return validationError(c, err)
	}

	req := &pb.CreateOrderRequest{
		Credential:      token,
		IdempotencyKey:  key,
		Lines:           make([]*pb.CartLine, 0, len(input.Lines)),
		ShippingAddress: input.ShippingAddress,
	}
	for _, l := range input.Lines {
		req.Lines = append(req.Lines, &pb.CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	res, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.Order, error) {
		return h.client.CreateOrder(ctx, req)
	})
	if err != nil {
		return writeError(ctx, c, h.logger, "create order failed", err, zap.String("idempotency_key", key))
	}

	mylogger.Info(ctx, h.logger, "create order succeeded", zap.String("order_id", res.ID))

	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	orderID := c.Params("id")
	if _, ok, err := h.ownedOrder(ctx, c, orderID); !ok {
		return err
	}

	res, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.Order, error) {
		return h.client.CancelOrder(ctx, &pb.CancelOrderRequest{
			OrderID:        orderID,
			IdempotencyKey: c.Get(HeaderIdempotencyKey),
		})
	})
	if err != nil {
		return writeError(ctx, c, h.logger, "cancel order failed", err, zap.String("order_id", orderID))
	}

	return c.JSON(res)
}

// Update changes the shipping address of one of the caller's orders.
func (h *OrderHandler) Update(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(UpdateOrderInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Info(ctx, h.logger, "failed to parse body in update", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	if err := h.validate.Struct(input); err != nil {
		return validationError(c, err)
	}

	orderID := c.Params("id")
	if _, ok, err := h.ownedOrder(ctx, c, orderID); !ok {
		return err
	}

	res, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.Order, error) {
		return h.client.UpdateOrder(ctx, &pb.UpdateOrderRequest{
			OrderID:         orderID,
			ShippingAddress: input.ShippingAddress,
		})
	})
	if err != nil {
		return writeError(ctx, c, h.logger, "update order failed", err, zap.String("order_id", orderID))
	}

	return c.JSON(res)
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	order, ok, err := h.ownedOrder(ctx, c, c.Params("id"))
	if !ok {
		return err
	}

	return c.JSON(order)
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	userID, ok := c.Locals(middleware.LocalUserID).(int64)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
	}

	req := &pb.ListOrdersRequest{
		UserID:   userID,
		Status:   c.Query("status"),
		Page:     int32(c.QueryInt("page", 1)),
		PageSize: int32(c.QueryInt("page_size", 0)),
	}

	res, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.ListOrdersResponse, error) {
		return h.client.ListOrders(ctx, req)
	})
	if err != nil {
		return writeError(ctx, c, h.logger, "list orders failed", err, zap.Int64("user_id", userID))
	}

	return c.JSON(res)
}

// ownedOrder loads the order and hides orders of other users behind a 404.
// When ok is false the response has already been written.
func (h *OrderHandler) ownedOrder(ctx context.Context, c *fiber.Ctx, orderID string) (*pb.Order, bool, error) {
	userID, ok := c.Locals(middleware.LocalUserID).(int64)
	if !ok {
		return nil, false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
	}

	order, err := utils.ExecuteWithBreaker(h.cb, func() (*pb.Order, error) {
		return h.client.GetOrder(ctx, &pb.GetOrderRequest{OrderID: orderID})
	})
	if err != nil {
		return nil, false, writeError(ctx, c, h.logger, "get order failed", err, zap.String("order_id", orderID))
	}

	if order.UserID != userID {
		mylogger.Warn(ctx, h.logger, "order belongs to another user", zap.String("order_id", orderID), zap.Int64("user_id", userID))
		return nil, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}

	return order, true, nil
}
