package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-saga/services/gateway/internal/transport/http/handler"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Product *handler.ProductHandler
	Order   *handler.OrderHandler
}

// RegisterRoutes mounts the public API. requireUser guards every route that
// needs the caller's identity. Order creation is left out of it because the
// order service checks the credential itself.
func RegisterRoutes(app *fiber.App, h *Handlers, requireUser fiber.Handler) {
	authGroup := app.Group("/auth")
	authGroup.Post("/login", h.Auth.Login)

	api := app.Group("/api")

	product := api.Group("/products", requireUser)
	product.Get("/:id", h.Product.FindByID)

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("", requireUser, h.Order.List)
	order.Get("/:id", requireUser, h.Order.Get)
	order.Patch("/:id", requireUser, h.Order.Update)
	order.Post("/:id/cancel", requireUser, h.Order.Cancel)
}
