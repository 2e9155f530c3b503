package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/config"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/db"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/logging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/telemetry"
)

const (
	serviceName = "product-service"
	servicePort = 8081
)

func main() {
	cfg, err := config.Load(servicePort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Service: serviceName, Env: cfg.AppEnv, Level: cfg.LogLevel})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ Product service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	// Connect to PostgreSQL
	database, err := db.NewPostgresDB(ctx, db.Options{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Name:     cfg.DBName,
		MaxConns: cfg.DBMaxConns,
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	// Connect to Redis
	redisClient, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return err
	}
	redisCache := cache.NewRedisCache(redisClient, cfg.CacheTTL)
	defer redisCache.Close()
	logger.Info("✅ Connected to Redis", zap.String("addr", cfg.RedisAddr))

	// Create repositories
	productRepo := db.NewProductRepository(database)
	cachedRepo := db.NewCachedProductRepository(productRepo, redisCache, logger)

	// Start event consumer
	invalidator := consumer.NewCacheInvalidator(cachedRepo, logger)
	consumerDone := make(chan struct{})
	closeConsumer, err := startEventConsumer(ctx, cfg, logger, invalidator, consumerDone)
	if err != nil {
		return err
	}
	defer closeConsumer()

	// Setup router
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	handlers.NewProductHandler(cachedRepo, logger).Register(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 Product Service starting", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	serviceID := cfg.ServiceID
	if serviceID == "" {
		serviceID = serviceName + "-1"
	}
	var consul *discovery.ConsulClient
	if cfg.ConsulEnabled {
		consul, err = discovery.NewConsulClient(cfg.ConsulHost, cfg.ConsulPort, logger)
		if err != nil {
			logger.Warn("⚠️ Consul unavailable, not registering", zap.Error(err))
			consul = nil
		} else if err := consul.Register(ctx, discovery.ServiceConfig{
			Name: serviceName,
			ID:   serviceID,
			Port: cfg.HTTPPort,
			Tags: []string{"api", "products"},
		}); err != nil {
			logger.Warn("⚠️ Failed to register with Consul", zap.Error(err))
		}
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if consul != nil {
		if err := consul.Deregister(shutdownCtx, serviceID); err != nil {
			logger.Warn("⚠️ Failed to deregister", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("⚠️ Graceful shutdown failed", zap.Error(err))
	}
	stop()
	<-consumerDone
	return nil
}

// startEventConsumer runs the cache invalidator against the configured
// broker in the background. done is closed when it stops.
func startEventConsumer(ctx context.Context, cfg *config.Config, logger *zap.Logger, invalidator *consumer.CacheInvalidator, done chan struct{}) (func(), error) {
	switch cfg.EventBroker {
	case config.BrokerKafka:
		k, err := messaging.NewKafka(messaging.ParseBrokers(cfg.KafkaBrokers), logger)
		if err != nil {
			return nil, err
		}
		reader := k.NewReader(cfg.EventTopic, serviceName)
		go func() {
			defer close(done)
			invalidator.ProcessKafka(ctx, reader)
		}()
		return func() {
			reader.Close()
			k.Close()
		}, nil
	default:
		mq, err := messaging.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, err
		}
		if err := mq.DeclareQueue(cfg.EventTopic); err != nil {
			mq.Close()
			return nil, err
		}
		messages, err := mq.Consume(cfg.EventTopic, 20)
		if err != nil {
			mq.Close()
			return nil, err
		}
		go func() {
			defer close(done)
			invalidator.ProcessRabbit(ctx, messages)
		}()
		return mq.Close, nil
	}
}
