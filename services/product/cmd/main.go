package main

import (
	"context"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/db"
	"github.com/sakashimaa/go-order-saga/pkg/kafka"
	"github.com/sakashimaa/go-order-saga/pkg/metrics"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	outbox "github.com/sakashimaa/go-order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/go-order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	pb "github.com/sakashimaa/go-order-saga/proto/product"
	"github.com/sakashimaa/go-order-saga/services/product/internal/repository"
	"github.com/sakashimaa/go-order-saga/services/product/internal/service"
	"github.com/sakashimaa/go-order-saga/services/product/internal/transport/grpc"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	googleGrpc "google.golang.org/grpc"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig("product-service"))
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "product-service", cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, db.WithMaxConns(cfg.Postgres.MaxConns))
	if err != nil {
		log.Fatalf("Error creating new postgres DB: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	defer func() {
		_ = rdb.Close()
	}()

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			mylogger.Warn(ctx, logger, "Failed to close kafka producer", zap.Error(err))
		}
	}()

	outboxRepository := outbox.NewOutboxRepository()
	productRepository := repository.NewProductRepository(pool, logger)
	reservationRepository := repository.NewReservationRepository(pool, outboxRepository, logger)

	productService := service.NewProductService(productRepository, reservationRepository, logger)
	cachedProductService := service.NewCachedProductService(productService, rdb, cfg.Redis.TTL, logger)
	productHandler := grpc.NewProductHandler(cachedProductService, logger)

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepository,
		kafkaProducer,
		logger,
		worker.WithInterval(cfg.Outbox.Interval),
		worker.WithBatchSize(cfg.Outbox.BatchSize),
	)
	go outboxProcessor.Start(ctx)

	reg := metrics.NewRegistry()
	go metrics.Serve(ctx, cfg.Metrics.Port, reg, logger)

	lis, err := net.Listen("tcp", cfg.GRPC.Port)
	if err != nil {
		log.Fatalf("Error listening on %s: %v", cfg.GRPC.Port, err)
	}

	s := googleGrpc.NewServer(
		googleGrpc.StatsHandler(otelgrpc.NewServerHandler()),
		googleGrpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		googleGrpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	pb.RegisterProductServiceServer(s, productHandler)

	grpc_prometheus.Register(s)

	go func() {
		mylogger.Info(ctx, logger, "gRPC server listening", zap.String("addr", cfg.GRPC.Port))
		if err := s.Serve(lis); err != nil {
			log.Fatalf("Error serving gRPC: %v", err)
		}
	}()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("database unavailable")
		}

		return c.SendString("Product Service is alive!")
	})

	go func() {
		mylogger.Info(ctx, logger, "HTTP health endpoint listening", zap.String("addr", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening HTTP on port %v: %v", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownCtx, logger, "Shutting down product server")

	s.GracefulStop()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error shutting down HTTP server", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error stopping telemetry", zap.Error(err))
	}
}
