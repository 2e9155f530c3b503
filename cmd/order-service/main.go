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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/client"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/config"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/db"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/idempotency"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/logging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/publisher"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/telemetry"
)

const (
	serviceName = "order-service"
	servicePort = 8082
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
		logger.Fatal("❌ Order service stopped", zap.Error(err))
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

	// Connect to Redis for idempotency keys
	redisClient, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("✅ Connected to Redis", zap.String("addr", cfg.RedisAddr))

	broker, closeBroker, err := connectBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	orderPublisher, err := publisher.NewOrderPublisher(broker, cfg.EventTopic)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	var consul *discovery.ConsulClient
	if cfg.ConsulEnabled {
		consul, err = discovery.NewConsulClient(cfg.ConsulHost, cfg.ConsulPort, logger)
		if err != nil {
			logger.Warn("⚠️ Consul unavailable, using configured URLs", zap.Error(err))
			consul = nil
		}
	}

	gatewayURL := cfg.PaymentGatewayURL
	if consul != nil {
		if u, err := consul.ServiceURL(ctx, "payment-gateway"); err == nil {
			gatewayURL = u
		} else {
			logger.Warn("⚠️ Payment gateway not in Consul, using configured URL", zap.Error(err))
		}
	}
	paymentClient := client.NewPaymentClient(gatewayURL)
	logger.Info("💳 Payment gateway", zap.String("url", gatewayURL))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orderMetrics := metrics.NewOrderMetrics(registry)
	serverMetrics := metrics.NewServerMetrics(registry, "order_service")

	productRepo := db.NewProductRepository(database)
	orderRepo := db.NewOrderRepository(database)
	followUpRepo := db.NewFollowUpRepository(database)

	service := orders.NewService(productRepo, orderRepo, paymentClient, orderPublisher, orders.Config{
		Currency:       cfg.PaymentCurrency,
		CatalogTimeout: cfg.CatalogTimeout,
		PaymentTimeout: cfg.PaymentTimeout,
		StoreTimeout:   cfg.StoreTimeout,
		PublishTimeout: cfg.PublishTimeout,
	}, logger, orders.WithMetrics(orderMetrics))

	relay := orders.NewRelay(followUpRepo, orderRepo, productRepo, orderPublisher, orders.RelayConfig{
		Interval:    cfg.FollowUpInterval,
		Lease:       cfg.FollowUpLease,
		Batch:       cfg.FollowUpBatch,
		MaxAttempts: cfg.FollowUpMaxAttempts,
		Timeout:     cfg.PublishTimeout + cfg.CatalogTimeout,
	}, logger, orderMetrics)
	relayDone := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(relayDone)
	}()

	orderHandler := handlers.NewOrderHandler(service, idempotency.NewStore(redisClient, cfg.IdempotencyTTL, cfg.IdempotencyPendingTTL), followUpRepo, logger)

	// Setup router
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger), serverMetrics.Middleware())
	router.GET("/metrics", gin.WrapH(metrics.Handler(registry)))
	orderHandler.Register(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 Order Service starting", zap.String("addr", srv.Addr), zap.String("broker", cfg.EventBroker))
		serveErr <- srv.ListenAndServe()
	}()

	serviceID := cfg.ServiceID
	if serviceID == "" {
		serviceID = serviceName + "-1"
	}
	if consul != nil {
		if err := consul.Register(ctx, discovery.ServiceConfig{
			Name: serviceName,
			ID:   serviceID,
			Port: cfg.HTTPPort,
			Tags: []string{"api", "orders"},
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
	<-relayDone
	return nil
}

func connectBroker(cfg *config.Config, logger *zap.Logger) (publisher.Broker, func(), error) {
	switch cfg.EventBroker {
	case config.BrokerKafka:
		k, err := messaging.NewKafka(messaging.ParseBrokers(cfg.KafkaBrokers), logger)
		if err != nil {
			return nil, nil, err
		}
		return k, func() { k.Close() }, nil
	default:
		mq, err := messaging.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return mq, mq.Close, nil
	}
}
