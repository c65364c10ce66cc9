package main

import (
	"context"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/db"
	"github.com/sakashimaa/go-order-saga/pkg/kafka"
	"github.com/sakashimaa/go-order-saga/pkg/metrics"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	outboxRepository "github.com/sakashimaa/go-order-saga/pkg/outbox/repository"
	outboxWorker "github.com/sakashimaa/go-order-saga/pkg/outbox/worker"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	authpb "github.com/sakashimaa/go-order-saga/proto/auth"
	pb "github.com/sakashimaa/go-order-saga/proto/order"
	productpb "github.com/sakashimaa/go-order-saga/proto/product"
	"github.com/sakashimaa/go-order-saga/services/order/internal/client"
	orderMetrics "github.com/sakashimaa/go-order-saga/services/order/internal/metrics"
	"github.com/sakashimaa/go-order-saga/services/order/internal/repository"
	"github.com/sakashimaa/go-order-saga/services/order/internal/service"
	"github.com/sakashimaa/go-order-saga/services/order/internal/transport/grpc"
	"github.com/sakashimaa/go-order-saga/services/order/internal/worker"
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

	logger, err := config.NewLogger(cfg.LoggerConfig("order-service"))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "order-service", cfg.Env)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, db.WithMaxConns(cfg.Postgres.MaxConns))
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			mylogger.Warn(ctx, logger, "Failed to close kafka producer", zap.Error(err))
		}
	}()

	authConn, err := client.Dial(cfg.Services.AuthRPC)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer authConn.Close()

	productConn, err := client.Dial(cfg.Services.ProductRPC)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer productConn.Close()

	reg := metrics.NewRegistry()
	m := orderMetrics.New(reg)

	outboxRepo := outboxRepository.NewOutboxRepository()
	orderRepo := repository.NewOrderRepository(pool, outboxRepo, logger)
	keysRepo := repository.NewIdempotencyRepository(pool, logger, cfg.Idempotency.StaleAfter)
	reconRepo := repository.NewReconciliationRepository(pool, outboxRepo, logger)

	verifier := client.NewTokenVerifier(
		authpb.NewAuthServiceClient(authConn),
		client.PolicyFromConfig(cfg.Clients.Auth),
		logger,
	)
	inventory := client.NewInventoryClient(
		productpb.NewProductServiceClient(productConn),
		client.PolicyFromConfig(cfg.Clients.Product),
		logger,
	)

	orderService := service.NewOrderService(service.Deps{
		Ledger:       orderRepo,
		Keys:         keysRepo,
		Queue:        reconRepo,
		Verifier:     verifier,
		Inventory:    inventory,
		Compensation: service.CompensationPolicyFromConfig(cfg.Compensation),
		Metrics:      m,
	}, logger)
	orderHandler := grpc.NewOrderHandler(orderService, logger)

	outboxProcessor := outboxWorker.NewOutboxProcessor(
		pool,
		outboxRepo,
		kafkaProducer,
		logger,
		outboxWorker.WithInterval(cfg.Outbox.Interval),
		outboxWorker.WithBatchSize(cfg.Outbox.BatchSize),
	)
	go outboxProcessor.Start(ctx)

	reconciler := worker.NewReconciler(
		pool,
		reconRepo,
		inventory,
		orderRepo,
		worker.SettingsFromConfig(cfg.Reconciler, cfg.Idempotency),
		m,
		logger,
	)
	go reconciler.Start(ctx)

	go metrics.Serve(ctx, cfg.Metrics.Port, reg, logger)

	lis, err := net.Listen("tcp", cfg.GRPC.Port)
	if err != nil {
		log.Fatalf("error listening on %s: %v", cfg.GRPC.Port, err)
	}

	s := googleGrpc.NewServer(
		googleGrpc.StatsHandler(otelgrpc.NewServerHandler()),
		googleGrpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		googleGrpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	pb.RegisterOrderServiceServer(s, orderHandler)

	grpc_prometheus.Register(s)

	go func() {
		mylogger.Info(ctx, logger, "gRPC server listening", zap.String("addr", cfg.GRPC.Port))
		if err := s.Serve(lis); err != nil {
			log.Fatalf("Error serving gRPC: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.WithoutCancel(ctx), time.Second*5)
	defer exit()

	mylogger.Info(shutdownCtx, logger, "Shutting down order server")

	s.GracefulStop()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	} else {
		mylogger.Info(shutdownCtx, logger, "Successfully down telemetry")
	}
}
