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
	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/db"
	"github.com/sakashimaa/go-order-saga/pkg/metrics"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	pb "github.com/sakashimaa/go-order-saga/proto/auth"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/repository"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/service"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/transport/grpc"
	jwtUtils "github.com/sakashimaa/go-order-saga/services/auth/pkg/utils"
	myValidator "github.com/sakashimaa/go-order-saga/services/auth/pkg/validator"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	googleGrpc "google.golang.org/grpc"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig("auth-service"))
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "auth-service", cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, db.WithMaxConns(cfg.Postgres.MaxConns))
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}
	defer pool.Close()

	tokens, err := jwtUtils.NewTokenManager(cfg.JWT.AccessSecret, cfg.JWT.AccessTTL)
	if err != nil {
		log.Fatalf("%v", err)
	}

	userRepo := repository.NewUserRepository(pool, logger)
	authService := service.NewAuthService(userRepo, tokens, myValidator.NewValidator(), logger)
	authHandler := grpc.NewAuthHandler(authService, logger)

	reg := metrics.NewRegistry()
	go metrics.Serve(ctx, cfg.Metrics.Port, reg, logger)

	lis, err := net.Listen("tcp", cfg.GRPC.Port)
	if err != nil {
		log.Fatalf("error listening on tcp: %v", err)
	}

	s := googleGrpc.NewServer(
		googleGrpc.StatsHandler(otelgrpc.NewServerHandler()),
		googleGrpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		googleGrpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	pb.RegisterAuthServiceServer(s, authHandler)

	grpc_prometheus.Register(s)

	go func() {
		mylogger.Info(ctx, logger, "gRPC server listening", zap.String("addr", cfg.GRPC.Port))
		if err := s.Serve(lis); err != nil {
			log.Fatalf("Error serving gRPC: %v", err)
		}
	}()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Auth Service is alive!")
	})

	go func() {
		mylogger.Info(ctx, logger, "HTTP health endpoint listening", zap.String("addr", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownCtx, logger, "Shutting down auth server")

	s.GracefulStop()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error shutting down HTTP", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error closing telemetry", zap.Error(err))
	}
}
