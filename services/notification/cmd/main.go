package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/db"
	"github.com/sakashimaa/go-order-saga/pkg/metrics"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/infrastructure/email"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/service"
	"github.com/sakashimaa/go-order-saga/services/notification/transport/kafka"
	"go.uber.org/zap"
)

const defaultGroupID = "notification-service-group"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "notification-service", cfg.Env)
	if err != nil {
		log.Fatalf("Error starting telemetry: %v", err)
	}

	logger, err := config.NewLogger(cfg.LoggerConfig("notification-service"))
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, db.WithMaxConns(cfg.Postgres.MaxConns))
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}
	defer pool.Close()

	emailSender := email.NewSMTPSender(cfg.SMTP, logger)
	notificationService := service.NewNotificationService(emailSender, logger, pool)
	consumer := kafka.NewConsumer(notificationService, logger)

	reg := metrics.NewRegistry()
	go metrics.Serve(ctx, cfg.Metrics.Port, reg, logger)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = defaultGroupID
	}

	mylogger.Info(ctx, logger, "Consuming operator events", zap.String("group_id", groupID), zap.Strings("topics", cfg.Kafka.Topics))

	if err := consumer.Start(ctx, cfg.Kafka.Brokers, groupID, cfg.Kafka.Topics); err != nil {
		mylogger.Error(ctx, logger, "Consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error closing telemetry", zap.Error(err))
	}
}
