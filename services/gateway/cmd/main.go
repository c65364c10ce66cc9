package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/metrics"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	"github.com/sakashimaa/go-order-saga/services/gateway/internal/pkg/client"
	"github.com/sakashimaa/go-order-saga/services/gateway/internal/transport/http"
	"github.com/sakashimaa/go-order-saga/services/gateway/internal/transport/http/handler"
	"github.com/sakashimaa/go-order-saga/services/gateway/middleware"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig("gateway"))
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "gateway-service", cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init trace: %v", err)
	}

	authServiceClient, authConn, err := client.NewAuthClient(cfg.Services.AuthRPC)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer authConn.Close()

	productServiceClient, productConn, err := client.NewProductClient(cfg.Services.ProductRPC)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer productConn.Close()

	orderServiceClient, orderConn, err := client.NewOrderClient(cfg.Services.OrderRPC)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer orderConn.Close()

	reg := metrics.NewRegistry()
	grpc_prometheus.EnableClientHandlingTimeHistogram()
	reg.MustRegister(grpc_prometheus.DefaultClientMetrics)
	go metrics.Serve(ctx, cfg.Metrics.Port, reg, logger)

	authBreaker := handler.NewServiceBreaker("AuthService", logger)

	handlers := &http.Handlers{
		Auth:    handler.NewAuthHandler(authServiceClient, authBreaker, cfg.GRPC.Timeout, logger),
		Product: handler.NewProductHandler(productServiceClient, handler.NewServiceBreaker("ProductService", logger), cfg.GRPC.Timeout, logger),
		Order:   handler.NewOrderHandler(orderServiceClient, handler.NewServiceBreaker("OrderService", logger), cfg.HTTP.Timeout, logger),
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Gateway is alive!")
	})

	requireUser := middleware.NewAuthMiddleware(authServiceClient, authBreaker, cfg.GRPC.Timeout, logger)
	http.RegisterRoutes(app, handlers, requireUser)

	go func() {
		mylogger.Info(ctx, logger, "HTTP gateway listening", zap.String("addr", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP port %v: %v\n", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	shutdownContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownContext, logger, "Shutting down gateway")

	if err := app.ShutdownWithContext(shutdownContext); err != nil {
		mylogger.Warn(shutdownContext, logger, "Error shutting down HTTP app", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownContext); err != nil {
		mylogger.Warn(shutdownContext, logger, "Error shutting down telemetry", zap.Error(err))
	}
}
