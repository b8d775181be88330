package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/config"
	"order-fulfillment/internal/api"
	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend is what the service needs from a store driver
type backend interface {
	store.TxManager
	worker.EventLedger
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger("order-fulfillment", cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order fulfillment service")

	tp, err := util.InitTracer("order-fulfillment", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	var (
		db    backend
		ready api.ReadinessCheck
	)
	switch cfg.Database.Driver {
	case "memory":
		db = store.NewMemoryStore()
		logger.Warn("Using in-memory store; data is lost on restart")
	default:
		pg, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		db = pg
		ready = func(ctx context.Context) error { return pg.GetDB().PingContext(ctx) }
		logger.Info("Database connected")
	}

	var (
		locker service.Locker
		cache  service.StockCache
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, running without payment lock and stock cache", zap.Error(err))
	} else {
		defer redisClient.Close()
		locker, cache = redisClient, redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	notifier := service.NewAsyncNotifier(
		broker.NewEventPublisher(producer),
		cfg.Business.NotifyTimeout,
		cfg.Business.NotifyMaxAttempts,
	)
	ledger := service.NewInventoryLedger(db, cache, cfg.Business.AllowBackorder, cfg.Business.StockCacheTTL, logger)
	coordinator := service.NewCoordinator(db, locker, ledger, notifier, cfg.Business.IdempotencyLockTTL)

	if err := ledger.WarmCache(ctx); err != nil {
		logger.Warn("Failed to warm stock cache", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, db, worker.NewLogMailer())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(coordinator, ready)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// let in-flight notifications reach Kafka before the producer closes
	notifier.Wait()

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
