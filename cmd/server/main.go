package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/pos-backoffice/internal/adapter/events"
	"github.com/rl1809/pos-backoffice/internal/adapter/handler"
	"github.com/rl1809/pos-backoffice/internal/adapter/handler/rpc"
	"github.com/rl1809/pos-backoffice/internal/adapter/storage"
	"github.com/rl1809/pos-backoffice/internal/config"
	"github.com/rl1809/pos-backoffice/internal/core/service"
	"github.com/rl1809/pos-backoffice/internal/port"
	"github.com/rl1809/pos-backoffice/pkg/logger"
	"github.com/rl1809/pos-backoffice/pkg/middleware"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db, cfg.LockWaitTimeout)
	if cfg.Migrate {
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			log.Fatal("failed to apply schema", zap.Error(err))
		}
		log.Info("schema applied")
	}

	// Initialize Redis
	var (
		rdb   *redis.Client
		cache port.CacheRepository
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		cache = storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		log.Warn("REDIS_ADDR not set; idempotency keys and stock mirror disabled")
	}

	// Initialize event publishing
	var (
		sink  port.EventPublisher
		kafka *events.KafkaPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaClientID, cfg.KafkaTopicSales, log)
		if err != nil {
			log.Fatal("failed to create kafka producer", zap.Error(err))
		}
		sink = kafka
	} else {
		log.Warn("KAFKA_BROKERS not set; events are logged only")
		sink = events.NewNopPublisher(log)
	}
	dispatcher := events.NewDispatcher(sink, cfg.EventWorkers, cfg.EventQueueSize, log)

	// Initialize services
	saleItemService := service.NewSaleItemService(mysqlAdapter, cache, dispatcher, log, cfg.TxTimeout)
	saleService := service.NewSaleService(mysqlAdapter, dispatcher, log, cfg.TxTimeout)
	inventoryService := service.NewInventoryService(mysqlAdapter, cache, log, cfg.LowStockThreshold)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(log)))
	rpc.RegisterSaleServiceServer(grpcServer, handler.NewGRPCHandler(saleItemService, saleService))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	go func() {
		log.Info("gRPC server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(logger.GinMiddleware(log))
	handler.NewHTTPHandler(saleItemService, saleService, inventoryService, log).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Drain queued events before closing the producer
	dispatcher.Close()
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Error("kafka producer close", zap.Error(err))
		}
	}
	log.Info("event dispatcher stopped")

	if rdb != nil {
		_ = rdb.Close()
	}
	_ = db.Close()
	log.Info("shutdown complete")
}
